package webhook

import (
	"strings"
	"testing"
)

func TestVerifySignature(t *testing.T) {
	secret := "test-secret-key"
	body := []byte(`{"id":"t-1","method":"GET","url":"x/nga/api/v1/status"}`)
	prefixed := Signature(body, secret)
	bare := strings.TrimPrefix(prefixed, "sha256=")

	tests := []struct {
		name      string
		body      []byte
		signature string
		secret    string
		wantErr   bool
	}{
		{"valid prefixed", body, prefixed, secret, false},
		{"valid bare hex", body, bare, secret, false},
		{"valid with whitespace", body, " " + prefixed + " ", secret, false},
		{"wrong signature", body, "sha256=" + strings.Repeat("0", 64), secret, true},
		{"tampered body", []byte(`{"id":"t-2"}`), prefixed, secret, true},
		{"wrong secret", body, prefixed, "other", true},
		{"empty signature", body, "", secret, true},
		{"empty secret", body, prefixed, "", true},
		{"not hex", body, "sha256=zzzz", secret, true},
		{"truncated", body, prefixed[:20], secret, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := verifySignature(tt.body, tt.signature, tt.secret)
			if (err != nil) != tt.wantErr {
				t.Fatalf("verifySignature() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && err.Error() != "webhook verification failed" {
				t.Fatalf("error leaks detail: %q", err)
			}
		})
	}
}

func TestParseMaxBodySize(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"", DefaultMaxBodySize, false},
		{"2048", 2048, false},
		{"512kb", 512 << 10, false},
		{"2MB", 2 << 20, false},
		{"1 GB", 1 << 30, false},
		{"0", 0, true},
		{"-1MB", 0, true},
		{"lots", 0, true},
		{"99999999999GB", 0, true},
	}
	for _, tt := range tests {
		got, err := parseMaxBodySize(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("parseMaxBodySize(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if !tt.wantErr && got != tt.want {
			t.Fatalf("parseMaxBodySize(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
