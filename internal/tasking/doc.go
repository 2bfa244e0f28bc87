// Package tasking routes abridged remote tasks to CI capabilities.
//
// A Task carries an HTTP-style method, a URL containing the API marker
// "nga/api/v1" and an opaque body. The router tokenizes everything after the
// marker into a Route, invokes the matching PluginServices capability and
// fills a Result envelope (status, headers, serviceId, body).
//
// Routes:
//   - status                          provider summary (server, plugin, sdk)
//   - suspend_status                  suspend or resume CI event emission
//   - jobs[?parameters=false]         job list
//   - jobs/<id>                       pipeline definition
//   - jobs/<id>/run, jobs/<id>/stop   pipeline run control
//   - jobs/<id>/builds/<latest|n>     build snapshot
//   - executor/<action> (POST)        init, suite_run, test_conn, credentials_upsert
//   - executor/<id> (DELETE)          delete executor
//
// Job ids may contain slashes (folder-qualified jobs); segments between the
// resource keyword and a trailing control keyword are joined with "/".
//
// Error handling:
//   - Invalid task (nil, empty URL, URL without marker) → ErrInvalidTask from Execute
//   - ClassifiedFailure (permission/configuration) → status=code, body=code
//   - ErrNotImplemented → 501
//   - Absent data → 404
//   - Anything else (including panics) → 500, no body
//
// The run/stop routes always carry a JSON Content-Type header, even without a
// body, and report generic failures as a JSON error body. Other routes only set
// the header when they attach a body. External callers rely on this.
package tasking
