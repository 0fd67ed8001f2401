package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func patientClaims(sub string, ttl time.Duration) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		TenantID: "tenant-1",
		Roles:    []string{"patient"},
	}
}

func signHS(t *testing.T, claims Claims, key []byte) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

// run passes a request with the given Authorization header through mw and
// returns the identity the handler saw.
func run(t *testing.T, mw echo.MiddlewareFunc, header string) (Identity, echo.Context, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	c := e.NewContext(req, httptest.NewRecorder())
	var seen Identity
	err := mw(func(c echo.Context) error {
		seen = IdentityFromContext(c.Request().Context())
		return c.String(http.StatusOK, "ok")
	})(c)
	return seen, c, err
}

func expectStatus(t *testing.T, err error, code int) {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected %d, got %v", code, err)
	}
	if he.Code != code {
		t.Errorf("expected %d, got %d", code, he.Code)
	}
}

func TestJWTMiddleware_Rejections(t *testing.T) {
	valid := signHS(t, patientClaims("user-1", time.Hour), testSigningKey)
	noSubject := patientClaims("", time.Hour)
	wrongIssuer := patientClaims("user-1", time.Hour)
	wrongIssuer.Issuer = "https://elsewhere.example"

	tests := []struct {
		name   string
		cfg    JWTConfig
		header string
	}{
		{"missing header", JWTConfig{SigningKey: testSigningKey}, ""},
		{"basic auth", JWTConfig{SigningKey: testSigningKey}, "Basic dXNlcjpwYXNz"},
		{"empty bearer", JWTConfig{SigningKey: testSigningKey}, "Bearer "},
		{"garbage", JWTConfig{SigningKey: testSigningKey, Optional: true}, "Bearer not-a-jwt"},
		{"expired", JWTConfig{SigningKey: testSigningKey}, "Bearer " + signHS(t, patientClaims("user-1", -time.Hour), testSigningKey)},
		{"wrong key", JWTConfig{SigningKey: testSigningKey}, "Bearer " + signHS(t, patientClaims("user-1", time.Hour), []byte("other"))},
		{"no subject", JWTConfig{SigningKey: testSigningKey}, "Bearer " + signHS(t, noSubject, testSigningKey)},
		{"issuer mismatch", JWTConfig{SigningKey: testSigningKey, Issuer: "https://patients.telecare.example"}, "Bearer " + signHS(t, wrongIssuer, testSigningKey)},
		{"audience mismatch", JWTConfig{SigningKey: testSigningKey, Audience: "intake"}, "Bearer " + valid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := run(t, JWTMiddleware(tt.cfg), tt.header)
			expectStatus(t, err, http.StatusUnauthorized)
		})
	}
}

func TestJWTMiddleware_OptionalAllowsAnonymous(t *testing.T) {
	id, _, err := run(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey, Optional: true}), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !id.Anonymous() || id.Token != "" {
		t.Errorf("expected anonymous identity, got %+v", id)
	}
}

func TestJWTMiddleware_AttachesIdentity(t *testing.T) {
	claims := patientClaims("user-456", time.Hour)
	claims.TenantID = "clinic_a"
	claims.Roles = []string{"patient", "support"}
	token := signHS(t, claims, testSigningKey)

	id, c, err := run(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), "bearer "+token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.UserID != "user-456" || id.Token != token {
		t.Errorf("unexpected identity %+v", id)
	}
	if !id.HasRole("support") || id.HasRole(RoleAdmin) {
		t.Errorf("unexpected roles %v", id.Roles)
	}
	if tid, _ := c.Get("jwt_tenant_id").(string); tid != "clinic_a" {
		t.Errorf("expected tenant clinic_a, got %q", tid)
	}
}

func TestJWTMiddleware_Skipper(t *testing.T) {
	mw := JWTMiddleware(JWTConfig{
		SigningKey: testSigningKey,
		Skipper:    func(c echo.Context) bool { return true },
	})
	if _, _, err := run(t, mw, ""); err != nil {
		t.Errorf("expected skipped request to pass, got %v", err)
	}
}

// keyServer publishes an RSA key the way an OpenID provider does.
func keyServer(t *testing.T, kid string, pub *rsa.PublicKey) (*httptest.Server, *int32) {
	t.Helper()
	var fetches int32
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"issuer":   srv.URL,
			"jwks_uri": srv.URL + "/keys",
		})
	})
	mux.HandleFunc("/keys", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&fetches, 1)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"keys": []map[string]string{{
				"kty": "RSA",
				"kid": kid,
				"use": "sig",
				"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			}},
		})
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &fetches
}

func signRS(t *testing.T, key *rsa.PrivateKey, kid string, claims Claims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	s, err := tok.SignedString(key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func TestJWTMiddleware_DiscoversIssuerKeys(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	srv, fetches := keyServer(t, "k1", &key.PublicKey)

	claims := patientClaims("patient-9", time.Hour)
	claims.Issuer = srv.URL
	mw := JWTMiddleware(JWTConfig{Issuer: srv.URL})

	for i := 0; i < 3; i++ {
		id, _, err := run(t, mw, "Bearer "+signRS(t, key, "k1", claims))
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		if id.UserID != "patient-9" {
			t.Errorf("expected patient-9, got %q", id.UserID)
		}
	}
	if n := atomic.LoadInt32(fetches); n != 1 {
		t.Errorf("expected keys fetched once, got %d", n)
	}

	_, _, err = run(t, mw, "Bearer "+signRS(t, key, "unknown", claims))
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_RejectsHMACWithoutSigningKey(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	srv, _ := keyServer(t, "k1", &key.PublicKey)

	// An HS256 token keyed with the public modulus must not verify.
	forged := signHS(t, patientClaims("attacker", time.Hour), key.PublicKey.N.Bytes())
	_, _, err = run(t, JWTMiddleware(JWTConfig{JWKSURL: srv.URL + "/keys"}), "Bearer "+forged)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestKeySet_SingleKeyMatchesEmptyKid(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	srv, _ := keyServer(t, "only", &key.PublicKey)

	ks := NewKeySet(srv.URL + "/keys")
	got, err := ks.Key(httptest.NewRequest(http.MethodGet, "/", nil).Context(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.N.Cmp(key.PublicKey.N) != 0 {
		t.Error("returned key does not match")
	}
}

func TestDevAuthMiddleware(t *testing.T) {
	id, c, err := run(t, DevAuthMiddleware(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.UserID != "dev-user" || !id.HasRole(RoleAdmin) {
		t.Errorf("unexpected identity %+v", id)
	}
	if tid, _ := c.Get("jwt_tenant_id").(string); tid != "default" {
		t.Errorf("expected default tenant, got %q", tid)
	}

	id, _, err = run(t, DevAuthMiddleware(), "Bearer something")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !id.Anonymous() {
		t.Errorf("expected no development identity when a header is sent, got %+v", id)
	}
}
