package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

// BodyLimit caps request bodies at defaultLimit, or uploadLimit for the
// session photo upload which carries a base64 image. Limits use echo's size
// notation ("1M", "512K"). Oversized bodies get 413.
func BodyLimit(defaultLimit, uploadLimit string) echo.MiddlewareFunc {
	regular := echomw.BodyLimitWithConfig(echomw.BodyLimitConfig{
		Limit:   defaultLimit,
		Skipper: isPhotoUpload,
	})
	upload := echomw.BodyLimitWithConfig(echomw.BodyLimitConfig{
		Limit:   uploadLimit,
		Skipper: func(c echo.Context) bool { return !isPhotoUpload(c) },
	})
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return regular(upload(next))
	}
}

func isPhotoUpload(c echo.Context) bool {
	r := c.Request()
	return r.Method == http.MethodPut &&
		strings.HasPrefix(r.URL.Path, "/api/v1/sessions/") &&
		strings.HasSuffix(r.URL.Path, "/photo")
}
