package evidence

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"filippo.io/age"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"
)

// RefPrefix prefixes every evidence content address.
const RefPrefix = "blake3:"

const blobBackend = "blob"

// Blob encoding flags, stored as the first byte of every stored blob.
const (
	flagZstd byte = 1 << iota
	flagAge
)

// Ref returns the content address of data: "blake3:" followed by the hex
// BLAKE3-256 digest of the plaintext.
func Ref(data []byte) string {
	sum := blake3.Sum256(data)
	return RefPrefix + hex.EncodeToString(sum[:])
}

// ValidRef reports whether ref is a well-formed content address.
func ValidRef(ref string) bool {
	digest, ok := strings.CutPrefix(ref, RefPrefix)
	if !ok || len(digest) != 64 {
		return false
	}
	_, err := hex.DecodeString(digest)
	return err == nil
}

// BlobBackend persists encoded blobs by reference. PutBlob of an existing
// reference must succeed without changing the stored bytes.
type BlobBackend interface {
	PutBlob(ctx context.Context, ref string, data []byte) error
	GetBlob(ctx context.Context, ref string) ([]byte, error)
}

// MemoryBlobBackend keeps blobs in a map.
type MemoryBlobBackend struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryBlobBackend creates an empty in-memory blob backend.
func NewMemoryBlobBackend() *MemoryBlobBackend {
	return &MemoryBlobBackend{blobs: make(map[string][]byte)}
}

// PutBlob stores data under ref unless ref already exists.
func (m *MemoryBlobBackend) PutBlob(_ context.Context, ref string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blobs[ref]; !ok {
		m.blobs[ref] = bytes.Clone(data)
	}
	return nil
}

// GetBlob returns the bytes stored under ref.
func (m *MemoryBlobBackend) GetBlob(_ context.Context, ref string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[ref]
	if !ok {
		return nil, fmt.Errorf("%s: %w", ref, ErrBlobNotFound)
	}
	return bytes.Clone(data), nil
}

// BlobOptions controls how blobs are encoded at rest.
type BlobOptions struct {
	// Compress stores blobs zstd-compressed.
	Compress bool

	// Recipients, when set, encrypt blobs with age.
	Recipients []age.Recipient

	// Identities decrypt blobs written with Recipients.
	Identities []age.Identity
}

// BlobStore stores evidence content-addressed by the BLAKE3 digest of its
// plaintext, so identical evidence is stored once and references can be
// verified on read.
type BlobStore struct {
	backend BlobBackend
	opts    BlobOptions
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewBlobStore creates a blob store over backend.
func NewBlobStore(backend BlobBackend, opts BlobOptions) (*BlobStore, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &BlobStore{
		backend: backend,
		opts:    opts,
		encoder: encoder,
		decoder: decoder,
	}, nil
}

// Put stores data and returns its reference.
func (s *BlobStore) Put(ctx context.Context, data []byte) (string, error) {
	ref := Ref(data)

	var flags byte
	payload := data
	if s.opts.Compress {
		payload = s.encoder.EncodeAll(payload, nil)
		flags |= flagZstd
	}
	if len(s.opts.Recipients) > 0 {
		var buf bytes.Buffer
		w, err := age.Encrypt(&buf, s.opts.Recipients...)
		if err != nil {
			return "", NewStorageError(blobBackend, "encrypt", err)
		}
		if _, err := w.Write(payload); err != nil {
			return "", NewStorageError(blobBackend, "encrypt", err)
		}
		if err := w.Close(); err != nil {
			return "", NewStorageError(blobBackend, "encrypt", err)
		}
		payload = buf.Bytes()
		flags |= flagAge
	}

	encoded := make([]byte, 0, len(payload)+1)
	encoded = append(encoded, flags)
	encoded = append(encoded, payload...)

	if err := s.backend.PutBlob(ctx, ref, encoded); err != nil {
		return "", NewStorageError(blobBackend, "put_blob", err)
	}
	return ref, nil
}

// Get loads the blob for ref, decoding and verifying it against the
// reference.
func (s *BlobStore) Get(ctx context.Context, ref string) ([]byte, error) {
	if !ValidRef(ref) {
		return nil, fmt.Errorf("invalid evidence reference %q", ref)
	}
	encoded, err := s.backend.GetBlob(ctx, ref)
	if err != nil {
		if errors.Is(err, ErrBlobNotFound) {
			return nil, err
		}
		return nil, NewStorageError(blobBackend, "get_blob", err)
	}
	if len(encoded) == 0 {
		return nil, fmt.Errorf("%s: empty blob: %w", ref, ErrBlobCorrupt)
	}

	flags, payload := encoded[0], encoded[1:]
	if flags&flagAge != 0 {
		if len(s.opts.Identities) == 0 {
			return nil, fmt.Errorf("%s: blob is encrypted and no age identity is configured", ref)
		}
		r, err := age.Decrypt(bytes.NewReader(payload), s.opts.Identities...)
		if err != nil {
			return nil, fmt.Errorf("%s: decrypt: %w", ref, err)
		}
		if payload, err = io.ReadAll(r); err != nil {
			return nil, fmt.Errorf("%s: decrypt: %w", ref, err)
		}
	}
	if flags&flagZstd != 0 {
		if payload, err = s.decoder.DecodeAll(payload, nil); err != nil {
			return nil, fmt.Errorf("%s: decompress: %w", ref, err)
		}
	}

	if Ref(payload) != ref {
		return nil, fmt.Errorf("%s: %w", ref, ErrBlobCorrupt)
	}
	return payload, nil
}

// ParseRecipients parses age public keys (age1...).
func ParseRecipients(keys []string) ([]age.Recipient, error) {
	recipients := make([]age.Recipient, 0, len(keys))
	for _, key := range keys {
		r, err := age.ParseX25519Recipient(key)
		if err != nil {
			return nil, fmt.Errorf("parsing age recipient %q: %w", key, err)
		}
		recipients = append(recipients, r)
	}
	return recipients, nil
}

// LoadIdentities reads an age identity file.
func LoadIdentities(path string) ([]age.Identity, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open age identity file: %w", err)
	}
	defer f.Close()

	ids, err := age.ParseIdentities(f)
	if err != nil {
		return nil, fmt.Errorf("parse age identity file %s: %w", path, err)
	}
	return ids, nil
}
