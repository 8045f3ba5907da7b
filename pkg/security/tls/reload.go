package tls

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"jobmail-hq/governor/pkg/clock"
)

// Reloader holds the server certificate and reloads it when its files
// change.
type Reloader struct {
	certFile string
	keyFile  string
	clock    clock.Clock
	logger   *slog.Logger

	mu   sync.RWMutex
	cert *tls.Certificate
}

// NewReloader loads the pair once. The files must hold a currently valid
// certificate.
func NewReloader(certFile, keyFile string, clk clock.Clock, logger *slog.Logger) (*Reloader, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reloader{
		certFile: certFile,
		keyFile:  keyFile,
		clock:    clock.OrReal(clk),
		logger:   logger.With("component", "tls"),
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload reads the pair from disk. On failure the current certificate is
// kept.
func (r *Reloader) Reload() error {
	cert, err := tls.LoadX509KeyPair(r.certFile, r.keyFile)
	if err != nil {
		return fmt.Errorf("tls: load %s: %w", r.certFile, err)
	}
	if err := ValidateCertificate(&cert, r.clock.Now()); err != nil {
		return fmt.Errorf("tls: %s: %w", r.certFile, err)
	}
	leaf, _ := Leaf(&cert)
	cert.Leaf = leaf

	r.mu.Lock()
	r.cert = &cert
	r.mu.Unlock()

	left := leaf.NotAfter.Sub(r.clock.Now())
	attrs := []any{
		"subject", leaf.Subject.CommonName,
		"expires_at", leaf.NotAfter.Format(time.RFC3339),
	}
	if left < ExpiryWarning {
		r.logger.Warn("certificate expiring soon", append(attrs, "expires_in_days", int(left.Hours()/24))...)
	} else {
		r.logger.Info("certificate loaded", attrs...)
	}
	return nil
}

// Certificate returns the current certificate.
func (r *Reloader) Certificate() *tls.Certificate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cert
}

// GetCertificate implements tls.Config.GetCertificate.
func (r *Reloader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return r.Certificate(), nil
}

// concerns reports whether a change to name can affect the pair. Kubernetes
// secret volumes swap a "..data" symlink instead of writing the files.
func (r *Reloader) concerns(name string) bool {
	name = filepath.Clean(name)
	return name == filepath.Clean(r.certFile) ||
		name == filepath.Clean(r.keyFile) ||
		strings.HasPrefix(filepath.Base(name), "..")
}

// Watch reloads the pair whenever a file in the certificate or key
// directory changes, until ctx is cancelled. Directories are watched
// rather than files so atomic replacements and symlink swaps are seen.
func (r *Reloader) Watch(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("tls: create watcher: %w", err)
	}
	defer fsw.Close()

	dirs := map[string]bool{filepath.Dir(r.certFile): true, filepath.Dir(r.keyFile): true}
	for dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			return fmt.Errorf("tls: watch %s: %w", dir, err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return errors.New("tls: watcher closed")
			}
			if ev.Has(fsnotify.Chmod) || !r.concerns(ev.Name) {
				continue
			}
			if err := r.Reload(); err != nil {
				// Writers often replace the two files one at a time; the
				// second event completes the pair.
				r.logger.Debug("certificate reload failed", "event", ev.String(), "error", err)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return errors.New("tls: watcher closed")
			}
			r.logger.Warn("certificate watcher error", "error", err)
		}
	}
}
