package protocol

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestEncodeRequest(t *testing.T) {
	tests := []struct {
		name    string
		req     *Request
		wantErr bool
		checkFn func(t *testing.T, output string)
	}{
		{
			name: "valid jobs_list request",
			req: &Request{
				Protocol:   Version,
				TaskID:     "task-123",
				Command:    "jobs_list",
				Config:     map[string]any{"url": "http://ci.local"},
				Args:       []byte(`{"include_parameters":true}`),
				DeadlineAt: time.Date(2026, 2, 8, 12, 0, 0, 0, time.UTC),
			},
			checkFn: func(t *testing.T, output string) {
				if !strings.Contains(output, `"protocol":1`) {
					t.Error("missing protocol field")
				}
				if !strings.Contains(output, `"task_id":"task-123"`) {
					t.Error("missing task_id field")
				}
				if !strings.Contains(output, `"command":"jobs_list"`) {
					t.Error("missing command field")
				}
				if !strings.Contains(output, `"args":{"include_parameters":true}`) {
					t.Error("missing args field")
				}
			},
		},
		{
			name:    "unsupported protocol version",
			req:     &Request{Protocol: 2, Command: "server_info"},
			wantErr: true,
		},
		{
			name:    "missing command",
			req:     &Request{Protocol: Version},
			wantErr: true,
		},
		{
			name: "args omitted when empty",
			req:  &Request{Protocol: Version, Command: "server_info", Config: map[string]any{}},
			checkFn: func(t *testing.T, output string) {
				if strings.Contains(output, `"args"`) {
					t.Error("args should be omitted")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := EncodeRequest(&buf, tt.req)
			if (err != nil) != tt.wantErr {
				t.Fatalf("EncodeRequest() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.checkFn != nil {
				tt.checkFn(t, buf.String())
			}
		})
	}
}

func TestDecodeResponse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
		checkFn func(t *testing.T, resp *Response)
	}{
		{
			name:  "ok with result",
			input: `{"status":"ok","result":{"version":"1.2.3"}}`,
			checkFn: func(t *testing.T, resp *Response) {
				if !resp.HasResult() {
					t.Error("expected result")
				}
			},
		},
		{
			name:  "ok with null result",
			input: `{"status":"ok","result":null}`,
			checkFn: func(t *testing.T, resp *Response) {
				if resp.HasResult() {
					t.Error("null result should not count")
				}
			},
		},
		{
			name:  "permission error",
			input: `{"status":"error","error_kind":"permission","error_code":403}`,
			checkFn: func(t *testing.T, resp *Response) {
				if resp.ErrorKind != ErrorKindPermission || resp.ErrorCode != 403 {
					t.Errorf("unexpected error fields: %+v", resp)
				}
			},
		},
		{
			name:  "plain error with logs",
			input: `{"status":"error","error":"boom","logs":[{"level":"warn","message":"retrying"}]}`,
			checkFn: func(t *testing.T, resp *Response) {
				if len(resp.Logs) != 1 {
					t.Errorf("expected 1 log entry, got %d", len(resp.Logs))
				}
			},
		},
		{name: "missing status", input: `{"result":{}}`, wantErr: true},
		{name: "invalid status", input: `{"status":"maybe"}`, wantErr: true},
		{name: "error without message", input: `{"status":"error"}`, wantErr: true},
		{name: "invalid error kind", input: `{"status":"error","error_kind":"other"}`, wantErr: true},
		{name: "unknown field rejected", input: `{"status":"ok","extra":1}`, wantErr: true},
		{name: "invalid json", input: `{not json`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := DecodeResponse(strings.NewReader(tt.input))
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeResponse() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.checkFn != nil {
				tt.checkFn(t, resp)
			}
		})
	}
}

func TestDecodeResponseLenient(t *testing.T) {
	resp, raw, err := DecodeResponseLenient(strings.NewReader(`{"status":"ok","extra":true}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("status = %q", resp.Status)
	}
	if len(raw) == 0 {
		t.Error("raw bytes should be returned")
	}

	_, raw, err = DecodeResponseLenient(strings.NewReader("plain text"))
	if err == nil {
		t.Fatal("expected error for non-JSON output")
	}
	if string(raw) != "plain text" {
		t.Errorf("raw = %q", raw)
	}

	if _, _, err := DecodeResponseLenient(strings.NewReader("")); err == nil {
		t.Fatal("expected error for empty output")
	}
}

func TestDTOCodec(t *testing.T) {
	info, err := DecodeDTO[DiscoveryInfo](`{"executorId":"e1","workspaceId":"1002","forceFullDiscovery":true,"scmRepository":{"type":"git","url":"git@x:y.git"}}`)
	if err != nil {
		t.Fatalf("DecodeDTO: %v", err)
	}
	if info.ExecutorID != "e1" || !info.ForceFullDiscovery || info.SCMRepository.URL != "git@x:y.git" {
		t.Errorf("unexpected discovery info: %+v", info)
	}

	body, err := EncodeDTO(&ErrorBody{ErrorMessage: "nope"})
	if err != nil {
		t.Fatalf("EncodeDTO: %v", err)
	}
	if body != `{"errorMessage":"nope"}` {
		t.Errorf("body = %s", body)
	}

	if _, err := DecodeDTO[CredentialsInfo](""); err == nil {
		t.Error("expected error for empty body")
	}
	if _, err := DecodeDTO[CredentialsInfo]("[1,2"); err == nil {
		t.Error("expected error for malformed body")
	}
}
