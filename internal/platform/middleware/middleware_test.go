package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func okHandler(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

// newEcho mounts h on every path behind mws.
func newEcho(h echo.HandlerFunc, mws ...echo.MiddlewareFunc) *echo.Echo {
	e := echo.New()
	e.Use(mws...)
	e.Any("/*", h)
	return e
}

func do(e *echo.Echo, method, target string, body io.Reader, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestRequestID(t *testing.T) {
	var seen string
	e := newEcho(func(c echo.Context) error {
		seen, _ = c.Get("request_id").(string)
		return c.NoContent(http.StatusOK)
	}, RequestID())

	rec := do(e, http.MethodGet, "/api/v1/sessions/abc", nil, nil)
	if got := rec.Header().Get(RequestIDHeader); got == "" || got != seen {
		t.Errorf("expected generated id echoed in header, got header=%q context=%q", got, seen)
	}

	rec = do(e, http.MethodGet, "/", nil, map[string]string{RequestIDHeader: "req-42"})
	if got := rec.Header().Get(RequestIDHeader); got != "req-42" || seen != "req-42" {
		t.Errorf("expected caller id preserved, got header=%q context=%q", got, seen)
	}
}

func TestLogger_LevelFollowsStatus(t *testing.T) {
	tests := []struct {
		name      string
		handler   echo.HandlerFunc
		wantLevel string
		wantCode  float64
	}{
		{"ok", okHandler, "info", 200},
		{"validation", func(c echo.Context) error {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, "validation failed")
		}, "warn", 422},
		{"backend down", func(c echo.Context) error {
			return echo.NewHTTPError(http.StatusBadGateway, "clinic backend unavailable")
		}, "error", 502},
		{"plain error", func(c echo.Context) error { return errors.New("boom") }, "error", 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			e := newEcho(tt.handler, RequestID(), Logger(zerolog.New(&buf)))
			do(e, http.MethodPost, "/api/v1/sessions", nil, nil)

			var line map[string]interface{}
			if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
				t.Fatalf("decode log line %q: %v", buf.String(), err)
			}
			if line["level"] != tt.wantLevel {
				t.Errorf("expected level %s, got %v", tt.wantLevel, line["level"])
			}
			if line["status"] != tt.wantCode {
				t.Errorf("expected status %v, got %v", tt.wantCode, line["status"])
			}
			if line["request_id"] == "" || line["path"] != "/api/v1/sessions" {
				t.Errorf("missing request fields: %v", line)
			}
		})
	}
}

func TestRecovery(t *testing.T) {
	var buf bytes.Buffer
	e := newEcho(func(c echo.Context) error {
		panic("nil answers")
	}, RequestID(), Recovery(zerolog.New(&buf)))

	rec := do(e, http.MethodPost, "/api/v1/sessions/abc/next", nil, nil)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
	if !strings.Contains(buf.String(), "nil answers") || !strings.Contains(buf.String(), "panic recovered") {
		t.Errorf("expected panic logged, got %s", buf.String())
	}

	e = newEcho(okHandler, Recovery(zerolog.Nop()))
	if rec := do(e, http.MethodGet, "/", nil, nil); rec.Code != http.StatusOK {
		t.Errorf("expected 200 without panic, got %d", rec.Code)
	}
}

func TestSecurityHeaders(t *testing.T) {
	e := newEcho(func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}, SecurityHeaders())

	rec := do(e, http.MethodGet, "/api/v1/sessions/missing", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected handler status to pass through, got %d", rec.Code)
	}
	for _, kv := range responseHeaders {
		if got := rec.Header().Get(kv[0]); got != kv[1] {
			t.Errorf("%s = %q, want %q", kv[0], got, kv[1])
		}
	}
}
