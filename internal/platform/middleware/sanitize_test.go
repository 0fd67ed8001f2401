package middleware

import (
	"bytes"
	"net/http"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name   string
		target string
		header map[string]string
		want   int
	}{
		{"session view", "/api/v1/sessions/0b7c6c1e-8d2a-4d7e-9f1b-2c3d4e5f6a7b", nil, http.StatusOK},
		{"admin paging", "/api/v1/admin/drafts?limit=20&offset=40", nil, http.StatusOK},
		{"abandon flag", "/api/v1/sessions/abc?abandon=true", nil, http.StatusOK},
		{"dot dot", "/api/v1/sessions/../admin/drafts", nil, http.StatusBadRequest},
		{"encoded dot dot", "/api/v1/sessions/%2e%2e/admin", nil, http.StatusBadRequest},
		{"double encoded", "/api/v1/sessions/%252e%252e/admin", nil, http.StatusBadRequest},
		{"null in path", "/api/v1/sessions/abc%00", nil, http.StatusBadRequest},
		{"null in query", "/api/v1/admin/drafts?formId=a%00b", nil, http.StatusBadRequest},
		{"script in query", "/api/v1/admin/drafts?formId=%3Cscript%3Ealert(1)%3C/script%3E", nil, http.StatusBadRequest},
		{"handler attribute", "/api/v1/admin/drafts?formId=x%20onload%3Dalert(1)", nil, http.StatusBadRequest},
		{"javascript url", "/api/v1/admin/drafts?next=javascript:alert(1)", nil, http.StatusBadRequest},
		{"header newline", "/api/v1/sessions", map[string]string{"X-Tenant-ID": "default\nX-Evil: 1"}, http.StatusBadRequest},
		{"oversized header", "/api/v1/sessions", map[string]string{"X-Trace": strings.Repeat("a", maxHeaderValueSize+1)}, http.StatusBadRequest},
	}

	e := newEcho(okHandler, SanitizeWithLogger(zerolog.Nop()))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(e, http.MethodGet, tt.target, nil, tt.header)
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
			if tt.want == http.StatusBadRequest && !strings.Contains(rec.Body.String(), "message") {
				t.Errorf("expected JSON message body, got %s", rec.Body.String())
			}
		})
	}
}

func TestSanitize_SQLPatternLoggedNotBlocked(t *testing.T) {
	var buf bytes.Buffer
	e := newEcho(okHandler, SanitizeWithLogger(zerolog.New(&buf)))

	rec := do(e, http.MethodGet, "/api/v1/admin/drafts?formId=1%27%20OR%201%3D1", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(buf.String(), "suspicious query parameter") {
		t.Errorf("expected warning logged, got %q", buf.String())
	}
}

func TestSanitizeString(t *testing.T) {
	tests := map[string]string{
		"  1 Main St\u0007 ":     "1 Main St",
		"Apt\x004":               "Apt4",
		"line one\nline two":     "line one\nline two",
		"col\tumn":               "col\tumn",
		"São Paulo":              "São Paulo",
		"\x00\x00":               "",
		"":                       "",
		"\u001b[31mred\u001b[0m": "[31mred[0m",
	}
	for in, want := range tests {
		if got := SanitizeString(in); got != want {
			t.Errorf("SanitizeString(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSanitizeFields(t *testing.T) {
	city, zip := " Austin\x00 ", "78701\u0007"
	SanitizeFields(&city, &zip)
	if city != "Austin" || zip != "78701" {
		t.Errorf("unexpected %q %q", city, zip)
	}
}
