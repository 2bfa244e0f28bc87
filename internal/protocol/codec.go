package protocol

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// EncodeRequest serializes a Request to JSON and writes it to w.
func EncodeRequest(w io.Writer, req *Request) error {
	if req.Protocol != Version {
		return fmt.Errorf("unsupported protocol version: %d", req.Protocol)
	}
	if req.Command == "" {
		return fmt.Errorf("request missing required field: command")
	}

	if err := json.NewEncoder(w).Encode(req); err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	return nil
}

// DecodeResponse reads a Response from r, rejecting unknown fields.
func DecodeResponse(r io.Reader) (*Response, error) {
	var resp Response

	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if err := validateResponse(&resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DecodeResponseLenient is like DecodeResponse but tolerates unknown fields and
// returns the raw bytes so callers can log what the plugin actually printed.
func DecodeResponseLenient(r io.Reader) (*Response, []byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response: %w", err)
	}
	if len(data) == 0 {
		return nil, data, fmt.Errorf("plugin produced no output on stdout")
	}

	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, data, fmt.Errorf("plugin output is not valid JSON: %w", err)
	}
	if err := validateResponse(&resp); err != nil {
		return nil, data, err
	}
	return &resp, data, nil
}

func validateResponse(resp *Response) error {
	if resp.Status == "" {
		return fmt.Errorf("response missing required field: status")
	}
	if resp.Status != "ok" && resp.Status != "error" {
		return fmt.Errorf("invalid status value: %q (must be 'ok' or 'error')", resp.Status)
	}
	if resp.Status == "error" && resp.Error == "" && resp.ErrorKind == "" {
		return fmt.Errorf("response has status=error but no error message")
	}
	switch resp.ErrorKind {
	case "", ErrorKindPermission, ErrorKindConfiguration, ErrorKindNotImplemented:
	default:
		return fmt.Errorf("invalid error_kind value: %q", resp.ErrorKind)
	}
	return nil
}

// EncodeDTO serializes a domain object into the string form carried in task
// and result bodies.
func EncodeDTO(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode %T: %w", v, err)
	}
	return string(data), nil
}

// DecodeDTO parses a task body into a domain object of type T.
func DecodeDTO[T any](body string) (*T, error) {
	if strings.TrimSpace(body) == "" {
		var zero T
		return nil, fmt.Errorf("decode %T: body is empty", zero)
	}
	out := new(T)
	if err := json.Unmarshal([]byte(body), out); err != nil {
		return nil, fmt.Errorf("decode %T: %w", *out, err)
	}
	return out, nil
}
