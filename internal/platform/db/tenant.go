package db

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	tenantKey contextKey = "tenant_id"
	connKey   contextKey = "db_conn"
)

var tenantIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_]{1,48}$`)

// ValidTenant reports whether id can name a tenant schema.
func ValidTenant(id string) bool { return tenantIDPattern.MatchString(id) }

// SchemaName returns the Postgres schema holding a tenant's tables.
func SchemaName(tenantID string) string {
	return "tenant_" + tenantID
}

func searchPath(tenantID string) string {
	return fmt.Sprintf("SET search_path TO %s, public", pgx.Identifier{SchemaName(tenantID)}.Sanitize())
}

func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantKey, tenantID)
}

func TenantFromContext(ctx context.Context) string {
	tid, _ := ctx.Value(tenantKey).(string)
	return tid
}

// ConnFromContext returns the tenant-scoped connection set by
// TenantMiddleware or AcquireTenant.
func ConnFromContext(ctx context.Context) *pgxpool.Conn {
	conn, _ := ctx.Value(connKey).(*pgxpool.Conn)
	return conn
}

// requestTenant picks the tenant from the token claim, then the X-Tenant-ID
// header, then the tenant_id query parameter.
func requestTenant(c echo.Context, fallback string) string {
	if tid, _ := c.Get("jwt_tenant_id").(string); tid != "" {
		return tid
	}
	if tid := c.Request().Header.Get("X-Tenant-ID"); tid != "" {
		return tid
	}
	if tid := c.QueryParam("tenant_id"); tid != "" {
		return tid
	}
	return fallback
}

// TenantMiddleware resolves the request's tenant and, when pool is set,
// pins a connection whose search_path selects the tenant schema for the
// rest of the request.
func TenantMiddleware(pool *pgxpool.Pool, defaultTenant string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tenantID := requestTenant(c, defaultTenant)
			if !ValidTenant(tenantID) {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid tenant identifier")
			}
			c.Set("tenant_id", tenantID)

			ctx := c.Request().Context()
			if pool == nil {
				c.SetRequest(c.Request().WithContext(WithTenant(ctx, tenantID)))
				return next(c)
			}

			ctx, release, err := AcquireTenant(ctx, pool, tenantID)
			if err != nil {
				c.Logger().Errorf("tenant %s: %v", tenantID, err)
				return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable")
			}
			defer release()
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// AcquireTenant acquires a connection scoped to the tenant schema and
// returns a context carrying it. Callers must call release.
func AcquireTenant(ctx context.Context, pool *pgxpool.Pool, tenantID string) (context.Context, func(), error) {
	noop := func() {}
	if !ValidTenant(tenantID) {
		return ctx, noop, fmt.Errorf("invalid tenant identifier: %q", tenantID)
	}
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return ctx, noop, fmt.Errorf("acquire connection: %w", err)
	}
	if _, err := conn.Exec(ctx, searchPath(tenantID)); err != nil {
		conn.Release()
		return ctx, noop, fmt.Errorf("select schema for %s: %w", tenantID, err)
	}
	ctx = WithTenant(ctx, tenantID)
	return context.WithValue(ctx, connKey, conn), conn.Release, nil
}

// CreateTenantSchema creates the tenant's schema and applies the migrations
// in source. A nil source only creates the schema.
func CreateTenantSchema(ctx context.Context, pool *pgxpool.Pool, tenantID string, source fs.FS) error {
	if !ValidTenant(tenantID) {
		return fmt.Errorf("invalid tenant identifier: %q", tenantID)
	}
	schema := SchemaName(tenantID)
	if source == nil {
		_, err := pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgx.Identifier{schema}.Sanitize())
		if err != nil {
			return fmt.Errorf("create schema %s: %w", schema, err)
		}
		return nil
	}
	if _, err := NewMigrator(pool, source).Up(ctx, schema); err != nil {
		return fmt.Errorf("migrate %s: %w", schema, err)
	}
	return nil
}
