package hipaa

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
	"sync"
)

// PayloadSealer encrypts PHI payloads at rest with AES-256-GCM. A sealed
// payload is laid out as one key-version byte, the nonce, then the
// ciphertext. Older key versions stay readable after rotation.
type PayloadSealer struct {
	mu      sync.RWMutex
	current byte
	keys    map[byte]cipher.AEAD
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return aead, nil
}

// NewPayloadSealer creates a sealer writing with the given 32-byte key under
// version.
func NewPayloadSealer(key []byte, version byte) (*PayloadSealer, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, fmt.Errorf("payload sealer: current key: %w", err)
	}
	return &PayloadSealer{
		current: version,
		keys:    map[byte]cipher.AEAD{version: aead},
	}, nil
}

// AddPreviousKey registers a retired key so payloads sealed with it can
// still be opened.
func (s *PayloadSealer) AddPreviousKey(key []byte, version byte) error {
	aead, err := newAEAD(key)
	if err != nil {
		return fmt.Errorf("payload sealer: previous key v%d: %w", version, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if version == s.current {
		return fmt.Errorf("payload sealer: version %d is the current key", version)
	}
	s.keys[version] = aead
	return nil
}

// Seal encrypts plaintext with the current key. associated is authenticated
// but not stored; Open must be given the same bytes.
func (s *PayloadSealer) Seal(plaintext, associated []byte) ([]byte, error) {
	s.mu.RLock()
	aead := s.keys[s.current]
	version := s.current
	s.mu.RUnlock()

	out := make([]byte, 1+aead.NonceSize(), 1+aead.NonceSize()+len(plaintext)+aead.Overhead())
	out[0] = version
	if _, err := io.ReadFull(rand.Reader, out[1:]); err != nil {
		return nil, fmt.Errorf("phi seal: generate nonce: %w", err)
	}
	return aead.Seal(out, out[1:], plaintext, associated), nil
}

// Open decrypts a payload produced by Seal with any registered key version.
func (s *PayloadSealer) Open(sealed, associated []byte) ([]byte, error) {
	if len(sealed) < 1 {
		return nil, fmt.Errorf("phi open: payload too short")
	}
	s.mu.RLock()
	aead, ok := s.keys[sealed[0]]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("phi open: no key for version %d", sealed[0])
	}

	body := sealed[1:]
	if len(body) < aead.NonceSize() {
		return nil, fmt.Errorf("phi open: payload too short")
	}
	nonce, ciphertext := body[:aead.NonceSize()], body[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, associated)
	if err != nil {
		return nil, fmt.Errorf("phi open: %w", err)
	}
	return plaintext, nil
}

// NeedsResealing reports whether sealed was written with a retired key.
func (s *PayloadSealer) NeedsResealing(sealed []byte) bool {
	if len(sealed) == 0 {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sealed[0] != s.current
}

// CurrentVersion returns the key version new payloads are sealed with.
func (s *PayloadSealer) CurrentVersion() byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}
