// Package webhook serves HMAC-SHA256 signed task intake endpoints.
//
// An ALM instance that pushes tasks instead of being polled posts them to a
// configured path. The body is either one task object or a JSON array of
// tasks; every task is validated before any is queued.
//
// # Security Model
//
//   - Signatures are verified with crypto/subtle (constant-time comparison)
//   - Body size limits are enforced before verification
//   - Failures always answer a generic 403 with no signature details
//   - Request logging never includes payloads
//
// # Configuration
//
//	webhooks:
//	  listen: "127.0.0.1:8081"
//	  endpoints:
//	    - path: /intake/alm
//	      secret: ${ALM_WEBHOOK_SECRET}
//	      signature_header: X-Cibridge-Signature
//	      max_body_size: 1MB
//
// # Responses
//
//   - 202 Accepted: tasks queued, body lists queue ids
//   - 400 Bad Request: body is not a task or task array, or a task is invalid
//   - 403 Forbidden: missing or invalid signature
//   - 413 Payload Too Large: body exceeds max_body_size
//   - 500 Internal Server Error: queueing failed
package webhook
