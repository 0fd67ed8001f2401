package middleware

import (
	"net/http"
	"regexp"
	"strings"
	"unicode"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

const maxHeaderValueSize = 8 << 10

var (
	// sqlLike is logged, never blocked: answers legitimately contain quotes.
	sqlLike    = regexp.MustCompile(`(?i)('+\s*;\s*DROP\b|UNION\s+SELECT\b|'\s+OR\s+1\s*=\s*1)`)
	scriptLike = regexp.MustCompile(`(?i)(<script|javascript\s*:|\bon\w+\s*=)`)
)

// requestCheck returns a rejection reason, or "" when the request passes.
type requestCheck func(r *http.Request) string

var requestChecks = []requestCheck{checkPath, checkHeaders, checkQuery}

func checkPath(r *http.Request) string {
	for _, p := range []string{r.URL.Path, r.URL.RawPath} {
		lower := strings.ToLower(p)
		switch {
		case strings.Contains(p, ".."), strings.Contains(lower, "%2e%2e"), strings.Contains(lower, "%252e"):
			return "path traversal detected"
		case strings.ContainsRune(p, 0), strings.Contains(lower, "%00"):
			return "null byte in path"
		}
	}
	return ""
}

func checkHeaders(r *http.Request) string {
	for name, values := range r.Header {
		for _, v := range values {
			if len(v) > maxHeaderValueSize {
				return "header too large: " + name
			}
			if strings.ContainsAny(v, "\r\n") {
				return "header injection detected: " + name
			}
		}
	}
	return ""
}

func checkQuery(r *http.Request) string {
	for key, values := range r.URL.Query() {
		if strings.ContainsRune(key, 0) || scriptLike.MatchString(key) {
			return "invalid query parameter"
		}
		for _, v := range values {
			if strings.ContainsRune(v, 0) {
				return "null byte in query parameter"
			}
			if scriptLike.MatchString(v) {
				return "script injection detected in query parameter"
			}
		}
	}
	return ""
}

// SanitizeWithLogger rejects malformed or hostile requests with 400 before
// they reach a handler. Request bodies are left alone; handlers clean the
// free-text fields they forward with SanitizeString.
func SanitizeWithLogger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			for _, check := range requestChecks {
				if reason := check(req); reason != "" {
					logger.Warn().
						Str("path", req.URL.Path).
						Str("remote_ip", c.RealIP()).
						Str("reason", reason).
						Msg("request rejected")
					return c.JSON(http.StatusBadRequest, map[string]string{"message": reason})
				}
			}
			for key, values := range req.URL.Query() {
				for _, v := range values {
					if sqlLike.MatchString(v) {
						logger.Warn().Str("param", key).Str("path", req.URL.Path).Msg("suspicious query parameter")
					}
				}
			}
			return next(c)
		}
	}
}

// SanitizeString drops NUL and control characters other than newline, CR and
// tab, then trims surrounding whitespace.
func SanitizeString(input string) string {
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, input))
}

// SanitizeFields applies SanitizeString in place.
func SanitizeFields(fields ...*string) {
	for _, f := range fields {
		*f = SanitizeString(*f)
	}
}
