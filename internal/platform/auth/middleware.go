package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// Claims are the token claims the intake service reads.
type Claims struct {
	jwt.RegisteredClaims
	TenantID string   `json:"tenant_id"`
	Roles    []string `json:"roles"`
}

type JWTConfig struct {
	Issuer   string
	Audience string
	// JWKSURL overrides OpenID discovery on Issuer.
	JWKSURL string
	// SigningKey verifies HS256 tokens. Development and tests only.
	SigningKey []byte
	Skipper    func(c echo.Context) bool
	// Optional lets requests without an Authorization header through as
	// anonymous patients. A header that is present must still be valid.
	Optional bool
	// HTTPClient is used for discovery and key fetches.
	HTTPClient *http.Client
}

// verifier resolves the RSA key set lazily so the server starts even while
// the identity provider is unreachable.
type verifier struct {
	cfg JWTConfig

	mu   sync.Mutex
	keys *KeySet
}

func (v *verifier) keySet(ctx context.Context) (*KeySet, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.keys != nil {
		return v.keys, nil
	}
	url := v.cfg.JWKSURL
	if url == "" {
		if v.cfg.Issuer == "" {
			return nil, errors.New("no key source configured")
		}
		var err error
		url, err = discoverKeySetURL(ctx, v.cfg.HTTPClient, v.cfg.Issuer)
		if err != nil {
			return nil, err
		}
	}
	v.keys = NewKeySet(url, WithKeyHTTPClient(v.cfg.HTTPClient))
	return v.keys, nil
}

func (v *verifier) keyFunc(ctx context.Context) jwt.Keyfunc {
	return func(t *jwt.Token) (interface{}, error) {
		if len(v.cfg.SigningKey) > 0 {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
			}
			return v.cfg.SigningKey, nil
		}
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
		ks, err := v.keySet(ctx)
		if err != nil {
			return nil, err
		}
		kid, _ := t.Header["kid"].(string)
		return ks.Key(ctx, kid)
	}
}

func (v *verifier) parse(ctx context.Context, raw string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256", "HS256"}),
		jwt.WithLeeway(30 * time.Second),
	}
	if v.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.cfg.Issuer))
	}
	if v.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.cfg.Audience))
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, v.keyFunc(ctx), opts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// JWTMiddleware verifies bearer tokens and attaches the caller's Identity to
// the request context. The token's tenant claim is exposed to the tenant
// middleware as "jwt_tenant_id".
func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	v := &verifier{cfg: cfg}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Skipper != nil && cfg.Skipper(c) {
				return next(c)
			}

			header := c.Request().Header.Get(echo.HeaderAuthorization)
			if header == "" {
				if cfg.Optional {
					return next(c)
				}
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}
			raw, ok := bearerToken(header)
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			ctx := c.Request().Context()
			claims, err := v.parse(ctx, raw)
			if err != nil {
				c.Logger().Debugf("rejected token: %v", err)
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			c.Set("jwt_tenant_id", claims.TenantID)
			ctx = WithIdentity(ctx, Identity{UserID: claims.Subject, Roles: claims.Roles, Token: raw})
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// DevAuthMiddleware attaches a fixed development admin to every request
// without an Authorization header.
func DevAuthMiddleware(skipper ...func(echo.Context) bool) echo.MiddlewareFunc {
	dev := Identity{UserID: "dev-user", Roles: []string{RoleAdmin}}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			for _, skip := range skipper {
				if skip != nil && skip(c) {
					return next(c)
				}
			}
			if c.Request().Header.Get(echo.HeaderAuthorization) != "" {
				return next(c)
			}
			c.Set("jwt_tenant_id", "default")
			c.SetRequest(c.Request().WithContext(WithIdentity(c.Request().Context(), dev)))
			return next(c)
		}
	}
}
