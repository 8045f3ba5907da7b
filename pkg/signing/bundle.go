package signing

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"

	"jobmail-hq/governor/pkg/clock"
	"jobmail-hq/governor/pkg/policy"
)

// Encoding selects the wire format of a signed bundle.
type Encoding string

const (
	EncodingJSON Encoding = "json"
	EncodingCBOR Encoding = "cbor"
)

// ParseEncoding accepts "json", "cbor" or empty (JSON).
func ParseEncoding(s string) (Encoding, error) {
	switch Encoding(strings.ToLower(s)) {
	case "", EncodingJSON:
		return EncodingJSON, nil
	case EncodingCBOR:
		return EncodingCBOR, nil
	}
	return "", fmt.Errorf("unknown encoding %q", s)
}

// Ext is the file extension for the encoding, with the dot.
func (e Encoding) Ext() string {
	if e == EncodingCBOR {
		return ".cbor"
	}
	return ".json"
}

// ContentType is the media type for the encoding.
func (e Encoding) ContentType() string {
	if e == EncodingCBOR {
		return "application/cbor"
	}
	return "application/json"
}

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error
	// Core deterministic encoding: same payload, same bytes.
	if cborEnc, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic("signing: CBOR encoder: " + err.Error())
	}
	cborDec, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("signing: CBOR decoder: " + err.Error())
	}
}

// Payload is the signed content of an export. Only the authoring form of
// the bundle travels; lifecycle state belongs to the receiving registry.
type Payload struct {
	Bundle     policy.Document `json:"bundle"`
	ExportedAt time.Time       `json:"exported_at"`
}

// SignedBundle is the wire form of an export. Payload is kept as the
// generic tree that was signed so verification never depends on how the
// typed form re-encodes.
type SignedBundle struct {
	Payload   map[string]any `json:"payload" cbor:"payload"`
	KeyID     string         `json:"key_id" cbor:"key_id"`
	Signature []byte         `json:"signature" cbor:"signature"`
}

// Digest is the SHA-256 of the canonical JSON of the payload.
func (s *SignedBundle) Digest() ([]byte, error) {
	canonical, err := Canonicalize(s.Payload)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(canonical)
	return sum[:], nil
}

// Verify checks the signature against pub.
func (s *SignedBundle) Verify(pub ed25519.PublicKey) error {
	digest, err := s.Digest()
	if err != nil {
		return err
	}
	if len(s.Signature) != ed25519.SignatureSize || !ed25519.Verify(pub, digest, s.Signature) {
		return errors.New("signature does not match payload")
	}
	return nil
}

// Open decodes the payload into its typed form. The signature is not
// checked; use Verify first.
func (s *SignedBundle) Open() (*Payload, error) {
	data, err := json.Marshal(s.Payload)
	if err != nil {
		return nil, err
	}
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Encode renders s in the given encoding.
func (s *SignedBundle) Encode(enc Encoding) ([]byte, error) {
	if enc == EncodingCBOR {
		return cborEnc.Marshal(s)
	}
	return json.MarshalIndent(s, "", "  ")
}

// Decode parses a signed bundle, detecting JSON or CBOR from the first
// byte.
func Decode(data []byte) (*SignedBundle, Encoding, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, "", errors.New("empty export")
	}

	if trimmed[0] == '{' {
		var raw struct {
			Payload   json.RawMessage `json:"payload"`
			KeyID     string          `json:"key_id"`
			Signature []byte          `json:"signature"`
		}
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, EncodingJSON, err
		}
		if len(raw.Payload) == 0 {
			return nil, EncodingJSON, errors.New("missing payload")
		}
		tree, err := decodeTree(raw.Payload)
		if err != nil {
			return nil, EncodingJSON, fmt.Errorf("payload: %w", err)
		}
		return &SignedBundle{Payload: tree, KeyID: raw.KeyID, Signature: raw.Signature}, EncodingJSON, nil
	}

	var s SignedBundle
	if err := cborDec.Unmarshal(data, &s); err != nil {
		return nil, EncodingCBOR, err
	}
	if s.Payload == nil {
		return nil, EncodingCBOR, errors.New("missing payload")
	}
	return &s, EncodingCBOR, nil
}

// Signer exports bundles under one key.
type Signer struct {
	keyID string
	priv  ed25519.PrivateKey
	pub   ed25519.PublicKey
	clock clock.Clock
}

// NewSigner creates a signer from a 32-byte seed.
func NewSigner(keyID string, seed []byte, clk clock.Clock) (*Signer, error) {
	if keyID == "" {
		return nil, errors.New("signing: key id is required")
	}
	priv, pub, err := KeyPairFromSeed(seed)
	if err != nil {
		return nil, err
	}
	return &Signer{keyID: keyID, priv: priv, pub: pub, clock: clock.OrReal(clk)}, nil
}

// KeyID returns the key ID stamped on exports.
func (s *Signer) KeyID() string { return s.keyID }

// PublicKey returns the verification key.
func (s *Signer) PublicKey() ed25519.PublicKey { return s.pub }

// Export signs the authoring form of b.
func (s *Signer) Export(b *policy.Bundle) (*SignedBundle, error) {
	if b == nil {
		return nil, errors.New("signing: nil bundle")
	}
	payload := Payload{
		Bundle:     policy.Document{Version: b.Version, Policies: b.Policies},
		ExportedAt: s.clock.Now().UTC(),
	}
	tree, err := canonicalTree(payload)
	if err != nil {
		return nil, fmt.Errorf("export %s: %w", b.Version, err)
	}
	sb := &SignedBundle{Payload: tree, KeyID: s.keyID}
	digest, err := sb.Digest()
	if err != nil {
		return nil, fmt.Errorf("export %s: %w", b.Version, err)
	}
	sb.Signature = ed25519.Sign(s.priv, digest)
	return sb, nil
}
