package middleware

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/telecare/intake/internal/platform/auth"
)

type memoryRecorder struct {
	mu      sync.Mutex
	entries []AuditEntry
	err     error
}

func (m *memoryRecorder) RecordAccess(entry AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return m.err
}

func (m *memoryRecorder) all() []AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AuditEntry(nil), m.entries...)
}

// auditedEcho mounts the intake routes the way the server does.
func auditedEcho(logger zerolog.Logger, id auth.Identity, recorders ...AuditRecorder) *echo.Echo {
	e := echo.New()
	e.Use(RequestID(), func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set("tenant_id", "clinic_abc")
			c.SetRequest(c.Request().WithContext(auth.WithIdentity(c.Request().Context(), id)))
			return next(c)
		}
	}, Audit(logger, recorders...))

	e.GET("/api/v1/sessions/:id", okHandler)
	e.POST("/api/v1/sessions/:id/checkout", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusPaymentRequired, "Your card was declined.")
	})
	e.PATCH("/api/v1/sessions/:id/answers", okHandler)
	e.DELETE("/api/v1/admin/drafts/:questionnaireId", func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	})
	e.GET("/health", okHandler)
	return e
}

func TestAudit_Entries(t *testing.T) {
	tests := []struct {
		name   string
		method string
		target string
		want   AuditEntry
	}{
		{"session read", http.MethodGet, "/api/v1/sessions/s-1",
			AuditEntry{Resource: "sessions", SessionID: "s-1", Action: "read", Route: "/api/v1/sessions/:id", StatusCode: 200}},
		{"declined checkout", http.MethodPost, "/api/v1/sessions/s-2/checkout",
			AuditEntry{Resource: "sessions", SessionID: "s-2", Operation: "checkout", Action: "create", Route: "/api/v1/sessions/:id/checkout", StatusCode: 402}},
		{"answers", http.MethodPatch, "/api/v1/sessions/s-3/answers",
			AuditEntry{Resource: "sessions", SessionID: "s-3", Operation: "answers", Action: "update", Route: "/api/v1/sessions/:id/answers", StatusCode: 200}},
		{"admin draft delete", http.MethodDelete, "/api/v1/admin/drafts/q-1",
			AuditEntry{Resource: "drafts", Action: "delete", Route: "/api/v1/admin/drafts/:questionnaireId", StatusCode: 204}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &memoryRecorder{}
			e := auditedEcho(zerolog.Nop(), auth.Identity{UserID: "patient-1", Roles: []string{"patient"}}, rec)
			do(e, tt.method, tt.target, nil, map[string]string{RequestIDHeader: "req-1"})

			entries := rec.all()
			if len(entries) != 1 {
				t.Fatalf("expected 1 entry, got %d", len(entries))
			}
			got := entries[0]
			if got.Resource != tt.want.Resource || got.SessionID != tt.want.SessionID ||
				got.Operation != tt.want.Operation || got.Action != tt.want.Action ||
				got.Route != tt.want.Route || got.StatusCode != tt.want.StatusCode {
				t.Errorf("unexpected entry %+v", got)
			}
			if got.UserID != "patient-1" || got.TenantID != "clinic_abc" || got.RequestID != "req-1" {
				t.Errorf("missing caller fields: %+v", got)
			}
			if got.Path != tt.target || got.Timestamp.IsZero() {
				t.Errorf("missing request fields: %+v", got)
			}
		})
	}
}

func TestAudit_SkipsInfrastructure(t *testing.T) {
	rec := &memoryRecorder{}
	e := auditedEcho(zerolog.Nop(), auth.Identity{}, rec)
	do(e, http.MethodGet, "/health", nil, nil)
	if n := len(rec.all()); n != 0 {
		t.Errorf("expected no entries for /health, got %d", n)
	}
}

func TestAudit_RecorderFailureIsLogged(t *testing.T) {
	var buf bytes.Buffer
	failing := &memoryRecorder{err: errors.New("disk full")}
	second := &memoryRecorder{}
	e := auditedEcho(zerolog.New(&buf), auth.Identity{}, failing, nil, second)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/s-1", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected the request to succeed, got %d", rec.Code)
	}
	if len(second.all()) != 1 {
		t.Error("expected later recorders to still run")
	}
	out := buf.String()
	if !strings.Contains(out, "audit recorder failed") || !strings.Contains(out, "intake_access") {
		t.Errorf("expected failure and access lines, got %s", out)
	}
}

func TestAuditRecorderFunc(t *testing.T) {
	var got AuditEntry
	f := AuditRecorderFunc(func(e AuditEntry) error {
		got = e
		return nil
	})
	if err := f.RecordAccess(AuditEntry{UserID: "u"}); err != nil || got.UserID != "u" {
		t.Errorf("adapter did not forward the entry: %+v %v", got, err)
	}
}

func TestRouteParts(t *testing.T) {
	tests := []struct{ route, resource, operation string }{
		{"/api/v1/sessions", "sessions", ""},
		{"/api/v1/sessions/:id", "sessions", ""},
		{"/api/v1/sessions/:id/sign-in", "sessions", "sign-in"},
		{"/api/v1/admin/drafts", "drafts", ""},
		{"/api/v1/admin/drafts/purge", "drafts", "purge"},
		{"/ws", "", ""},
	}
	for _, tt := range tests {
		r, op := routeParts(tt.route)
		if r != tt.resource || op != tt.operation {
			t.Errorf("routeParts(%q) = %q, %q; want %q, %q", tt.route, r, op, tt.resource, tt.operation)
		}
	}
}
