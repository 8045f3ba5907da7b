package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/zeebo/blake3"

	"jobmail-hq/governor/pkg/config"
)

// KeyPrefix starts every generated operator key.
const KeyPrefix = "gov_"

var (
	// ErrMissingCredentials means the request carried neither a key nor a
	// verified client certificate.
	ErrMissingCredentials = errors.New("no API key or client certificate")

	// ErrUnknownKey means the key matches no configured digest.
	ErrUnknownKey = errors.New("invalid API key")

	// ErrKeyDisabled means the key is configured but disabled.
	ErrKeyDisabled = errors.New("API key disabled")
)

// OperatorKey is one accepted key, identified by its digest.
type OperatorKey struct {
	Actor    string
	Hash     [32]byte
	Disabled bool
}

// Keyring validates operator API keys.
type Keyring struct {
	mu   sync.RWMutex
	keys []*OperatorKey
}

// HashKey returns the hex blake3 digest of key, as configured in
// server.auth.keys.
func HashKey(key string) string {
	sum := blake3.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// GenerateKey returns a new random operator key.
func GenerateKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return KeyPrefix + base64.RawURLEncoding.EncodeToString(b), nil
}

// NewKeyring builds a keyring from configuration.
func NewKeyring(keys []config.OperatorKeyConfig) (*Keyring, error) {
	kr := &Keyring{}
	for i, k := range keys {
		if k.Actor == "" {
			return nil, fmt.Errorf("auth key %d: actor is required", i)
		}
		raw, err := hex.DecodeString(k.Hash)
		if err != nil || len(raw) != 32 {
			return nil, fmt.Errorf("auth key %d (%s): hash must be 32 hex-encoded bytes", i, k.Actor)
		}
		ok := &OperatorKey{Actor: k.Actor, Disabled: k.Disabled}
		copy(ok.Hash[:], raw)
		kr.keys = append(kr.keys, ok)
	}
	return kr, nil
}

// Validate returns the key matching key. Every configured digest is
// compared so the time taken does not depend on which key matched.
func (kr *Keyring) Validate(key string) (*OperatorKey, error) {
	sum := blake3.Sum256([]byte(key))

	kr.mu.RLock()
	defer kr.mu.RUnlock()

	var found *OperatorKey
	for _, k := range kr.keys {
		if subtle.ConstantTimeCompare(sum[:], k.Hash[:]) == 1 {
			found = k
		}
	}
	switch {
	case found == nil:
		return nil, ErrUnknownKey
	case found.Disabled:
		return nil, ErrKeyDisabled
	}
	return found, nil
}

// Len returns the number of configured keys.
func (kr *Keyring) Len() int {
	kr.mu.RLock()
	defer kr.mu.RUnlock()
	return len(kr.keys)
}

// Add trusts another key.
func (kr *Keyring) Add(k *OperatorKey) {
	kr.mu.Lock()
	defer kr.mu.Unlock()
	kr.keys = append(kr.keys, k)
}

// Disable turns off every key of actor and reports how many were found.
func (kr *Keyring) Disable(actor string) int {
	kr.mu.Lock()
	defer kr.mu.Unlock()
	n := 0
	for _, k := range kr.keys {
		if k.Actor == actor {
			k.Disabled = true
			n++
		}
	}
	return n
}
