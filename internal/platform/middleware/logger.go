package middleware

import (
	"errors"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// statusOf is the status the error handler will write for err.
func statusOf(c echo.Context, err error) int {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	if err != nil && !c.Response().Committed {
		return 500
	}
	return c.Response().Status
}

// Logger writes one line per request: server errors at error level, client
// errors at warn, the rest at info.
func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := statusOf(c, err)
			level := zerolog.InfoLevel
			switch {
			case status >= 500:
				level = zerolog.ErrorLevel
			case status >= 400:
				level = zerolog.WarnLevel
			}

			req := c.Request()
			rid, _ := c.Get("request_id").(string)
			evt := logger.WithLevel(level).
				Str("request_id", rid).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Str("route", c.Path()).
				Int("status", status).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP())
			if tid, ok := c.Get("tenant_id").(string); ok {
				evt = evt.Str("tenant_id", tid)
			}
			if err != nil {
				evt = evt.Err(err)
			}
			evt.Msg("request")
			return err
		}
	}
}
