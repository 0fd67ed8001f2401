package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"
)

const (
	defaultKeyTTL = 5 * time.Minute
	// minRefresh bounds how often an unknown kid can force a refetch.
	minRefresh = 30 * time.Second
)

var errUnknownKey = errors.New("signing key not found")

type jsonWebKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// KeySet holds the RSA verification keys published by the patient identity
// provider. Keys are refetched after the TTL and, at most every minRefresh,
// when a token names a kid the set does not know yet.
type KeySet struct {
	url    string
	ttl    time.Duration
	client *http.Client
	now    func() time.Time

	mu        sync.Mutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

type KeySetOption func(*KeySet)

func WithKeyTTL(ttl time.Duration) KeySetOption {
	return func(k *KeySet) { k.ttl = ttl }
}

func WithKeyHTTPClient(c *http.Client) KeySetOption {
	return func(k *KeySet) { k.client = c }
}

func NewKeySet(url string, opts ...KeySetOption) *KeySet {
	k := &KeySet{
		url:    url,
		ttl:    defaultKeyTTL,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
	}
	for _, o := range opts {
		o(k)
	}
	return k
}

// Key returns the key for kid. An empty kid matches when the set holds a
// single key.
func (k *KeySet) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	age := k.now().Sub(k.fetchedAt)
	key, ok := k.lookup(kid)
	if ok && age < k.ttl {
		return key, nil
	}
	if k.fetchedAt.IsZero() || age >= k.ttl || age >= minRefresh {
		if err := k.refresh(ctx); err != nil {
			if ok {
				// Serve the stale key rather than failing every request.
				return key, nil
			}
			return nil, err
		}
		key, ok = k.lookup(kid)
	}
	if !ok {
		return nil, fmt.Errorf("%w: kid %q", errUnknownKey, kid)
	}
	return key, nil
}

func (k *KeySet) lookup(kid string) (*rsa.PublicKey, bool) {
	if kid == "" && len(k.keys) == 1 {
		for _, key := range k.keys {
			return key, true
		}
	}
	key, ok := k.keys[kid]
	return key, ok
}

// refresh must be called with mu held.
func (k *KeySet) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.url, nil)
	if err != nil {
		return fmt.Errorf("build key set request: %w", err)
	}
	resp, err := k.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch key set: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch key set: status %d", resp.StatusCode)
	}

	var doc struct {
		Keys []jsonWebKey `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fmt.Errorf("decode key set: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, jwk := range doc.Keys {
		if jwk.Kty != "RSA" || (jwk.Use != "" && jwk.Use != "sig") {
			continue
		}
		pub, err := jwk.rsaKey()
		if err != nil {
			continue
		}
		keys[jwk.Kid] = pub
	}
	k.keys = keys
	k.fetchedAt = k.now()
	return nil
}

func (j jsonWebKey) rsaKey() (*rsa.PublicKey, error) {
	n, err := base64.RawURLEncoding.DecodeString(j.N)
	if err != nil {
		return nil, fmt.Errorf("modulus: %w", err)
	}
	e, err := base64.RawURLEncoding.DecodeString(j.E)
	if err != nil {
		return nil, fmt.Errorf("exponent: %w", err)
	}
	exp := new(big.Int).SetBytes(e)
	if !exp.IsInt64() || exp.Int64() < 3 {
		return nil, fmt.Errorf("exponent out of range")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(exp.Int64())}, nil
}
