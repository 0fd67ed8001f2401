package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/telecare/intake/internal/platform/auth"
)

// AuditEntry records one call touching intake data. Answers are health
// information, so every /api/v1 call is audited after it completes.
type AuditEntry struct {
	Timestamp  time.Time
	RequestID  string
	TenantID   string
	UserID     string
	UserRoles  []string
	Resource   string // sessions, drafts
	SessionID  string
	Operation  string // next, checkout, answers, ...; empty for the resource itself
	Action     string // read, create, update, delete
	Method     string
	Route      string
	Path       string
	StatusCode int
	IPAddress  string
	UserAgent  string
}

// AuditRecorder persists entries beyond the log.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error { return f(entry) }

var methodActions = map[string]string{
	http.MethodPost:   "create",
	http.MethodPut:    "update",
	http.MethodPatch:  "update",
	http.MethodDelete: "delete",
}

func actionFor(method string) string {
	if a, ok := methodActions[method]; ok {
		return a
	}
	return "read"
}

// routeParts splits a matched route such as /api/v1/sessions/:id/next into
// its resource and operation.
func routeParts(route string) (resource, operation string) {
	rest, ok := strings.CutPrefix(route, "/api/v1/")
	if !ok {
		return "", ""
	}
	rest = strings.TrimPrefix(rest, "admin/")
	segs := strings.Split(rest, "/")
	resource = segs[0]
	if last := segs[len(segs)-1]; len(segs) > 1 && !strings.HasPrefix(last, ":") {
		operation = last
	}
	return resource, operation
}

func newAuditEntry(c echo.Context, err error) AuditEntry {
	req := c.Request()
	id := auth.IdentityFromContext(req.Context())
	resource, operation := routeParts(c.Path())

	entry := AuditEntry{
		Timestamp:  time.Now().UTC(),
		UserID:     id.UserID,
		UserRoles:  id.Roles,
		Resource:   resource,
		SessionID:  c.Param("id"),
		Operation:  operation,
		Action:     actionFor(req.Method),
		Method:     req.Method,
		Route:      c.Path(),
		Path:       req.URL.Path,
		StatusCode: c.Response().Status,
		IPAddress:  c.RealIP(),
		UserAgent:  req.UserAgent(),
	}
	if resource != "sessions" {
		entry.SessionID = ""
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		entry.StatusCode = he.Code
	}
	entry.RequestID, _ = c.Get("request_id").(string)
	if tid, ok := c.Get("tenant_id").(string); ok {
		entry.TenantID = tid
	} else {
		entry.TenantID, _ = c.Get("jwt_tenant_id").(string)
	}
	return entry
}

// Audit logs every /api/v1 call with its final status and hands the entry
// to recorders. Recorder failures are logged and never fail the request.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !strings.HasPrefix(c.Request().URL.Path, "/api/v1/") {
				return next(c)
			}
			err := next(c)
			entry := newAuditEntry(c, err)

			for _, r := range recorders {
				if r == nil {
					continue
				}
				if rerr := r.RecordAccess(entry); rerr != nil {
					logger.Error().Err(rerr).Str("request_id", entry.RequestID).Msg("audit recorder failed")
				}
			}

			logger.Info().
				Str("type", "intake_audit").
				Str("request_id", entry.RequestID).
				Str("tenant_id", entry.TenantID).
				Str("user_id", entry.UserID).
				Strs("user_roles", entry.UserRoles).
				Str("resource", entry.Resource).
				Str("session_id", entry.SessionID).
				Str("operation", entry.Operation).
				Str("action", entry.Action).
				Str("route", entry.Route).
				Int("status", entry.StatusCode).
				Str("remote_ip", entry.IPAddress).
				Msg("intake_access")
			return err
		}
	}
}
