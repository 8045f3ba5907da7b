package signing

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
)

var ErrInvalidSeedSize = errors.New("invalid ed25519 seed size")

// KeyPairFromSeed derives an ed25519 key pair from a 32-byte seed.
func KeyPairFromSeed(seed []byte) (ed25519.PrivateKey, ed25519.PublicKey, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, nil, ErrInvalidSeedSize
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return priv, priv.Public().(ed25519.PublicKey), nil
}

// LoadSeed reads a hex-encoded 32-byte seed. A raw 32-byte file is also
// accepted.
func LoadSeed(path string) ([]byte, error) {
	raw, err := os.ReadFile(path) // #nosec G304 -- operator-configured path
	if err != nil {
		return nil, err
	}
	if len(raw) == ed25519.SeedSize {
		return raw, nil
	}
	trimmed := strings.TrimPrefix(strings.TrimSpace(string(raw)), "hex:")
	seed, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("seed file %s: %w", path, err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed file %s: %w: %d bytes", path, ErrInvalidSeedSize, len(seed))
	}
	return seed, nil
}

// WriteSeed writes seed hex-encoded to path with owner-only permissions.
func WriteSeed(path string, seed []byte) error {
	if len(seed) != ed25519.SeedSize {
		return ErrInvalidSeedSize
	}
	return os.WriteFile(path, []byte(hex.EncodeToString(seed)+"\n"), 0o600)
}

// Keyring maps key IDs to trusted public keys.
type Keyring map[string]ed25519.PublicKey

// ParseKeyring decodes hex-encoded public keys by key ID.
func ParseKeyring(keys map[string]string) (Keyring, error) {
	out := make(Keyring, len(keys))
	for id, h := range keys {
		b, err := hex.DecodeString(strings.TrimSpace(h))
		if err != nil {
			return nil, fmt.Errorf("trusted key %s: %w", id, err)
		}
		if len(b) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("trusted key %s: want %d bytes, got %d", id, ed25519.PublicKeySize, len(b))
		}
		out[id] = ed25519.PublicKey(b)
	}
	return out, nil
}

// Add trusts pub under keyID.
func (k Keyring) Add(keyID string, pub ed25519.PublicKey) {
	k[keyID] = pub
}
