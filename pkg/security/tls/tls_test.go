package tls

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"jobmail-hq/governor/pkg/clock"
	"jobmail-hq/governor/pkg/config"
	"jobmail-hq/governor/pkg/telemetry/logging"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// writePair writes a self-signed certificate for cn valid for validFor
// from now, and returns the certificate and key paths.
func writePair(t *testing.T, dir, cn string, validFor time.Duration) (string, string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(now.UnixNano()),
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(validFor),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}
	certPath := filepath.Join(dir, "tls.crt")
	keyPath := filepath.Join(dir, "tls.key")
	if err := os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600); err != nil {
		t.Fatal(err)
	}
	return certPath, keyPath
}

func subject(t *testing.T, r *Reloader) string {
	t.Helper()
	leaf, err := Leaf(r.Certificate())
	if err != nil {
		t.Fatal(err)
	}
	return leaf.Subject.CommonName
}

func TestValidateCertificate(t *testing.T) {
	certPath, keyPath := writePair(t, t.TempDir(), "governor", 24*time.Hour)
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name    string
		cert    *tls.Certificate
		at      time.Time
		wantErr bool
	}{
		{"valid", &cert, now, false},
		{"not yet valid", &cert, now.Add(-2 * time.Hour), true},
		{"expired", &cert, now.Add(48 * time.Hour), true},
		{"nil", nil, now, true},
		{"empty chain", &tls.Certificate{}, now, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateCertificate(tt.cert, tt.at); (err != nil) != tt.wantErr {
				t.Errorf("ValidateCertificate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestReloader(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath := writePair(t, dir, "first", 90*24*time.Hour)
	clk := clock.Fake(now)

	r, err := NewReloader(certPath, keyPath, clk, logging.Discard())
	if err != nil {
		t.Fatalf("NewReloader() error = %v", err)
	}
	if got := subject(t, r); got != "first" {
		t.Errorf("subject = %s", got)
	}

	writePair(t, dir, "second", 90*24*time.Hour)
	if err := r.Reload(); err != nil {
		t.Fatal(err)
	}
	if got := subject(t, r); got != "second" {
		t.Errorf("subject after reload = %s", got)
	}

	// A broken pair keeps the previous certificate.
	if err := os.WriteFile(keyPath, []byte("garbage"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := r.Reload(); err == nil {
		t.Fatal("Reload() accepted a broken key")
	}
	if got := subject(t, r); got != "second" {
		t.Errorf("subject after failed reload = %s", got)
	}

	cert, _ := r.GetCertificate(nil)
	if cert != r.Certificate() {
		t.Error("GetCertificate() differs from Certificate()")
	}
}

func TestNewReloader_Expired(t *testing.T) {
	certPath, keyPath := writePair(t, t.TempDir(), "old", time.Hour)
	if _, err := NewReloader(certPath, keyPath, clock.Fake(now.Add(2*time.Hour)), logging.Discard()); err == nil {
		t.Fatal("NewReloader() accepted an expired certificate")
	}
}

func TestReloader_Watch(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath := writePair(t, dir, "first", 90*24*time.Hour)
	r, err := NewReloader(certPath, keyPath, clock.Fake(now), logging.Discard())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Watch(ctx) }()
	defer func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Watch() error = %v", err)
		}
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	writePair(t, dir, "renewed", 90*24*time.Hour)

	deadline := time.Now().Add(5 * time.Second)
	for subject(t, r) != "renewed" {
		if time.Now().After(deadline) {
			t.Fatal("certificate was not reloaded")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestServerConfig(t *testing.T) {
	dir := t.TempDir()
	certPath, keyPath := writePair(t, dir, "governor", 90*24*time.Hour)
	r, err := NewReloader(certPath, keyPath, clock.Fake(now), logging.Discard())
	if err != nil {
		t.Fatal(err)
	}

	tc, err := ServerConfig(config.TLSConfig{}, r)
	if err != nil || tc != nil {
		t.Fatalf("disabled: config=%v err=%v", tc, err)
	}

	tc, err = ServerConfig(config.TLSConfig{Enabled: true, MinVersion: "1.2"}, r)
	if err != nil {
		t.Fatal(err)
	}
	if tc.MinVersion != tls.VersionTLS12 || tc.ClientAuth != tls.NoClientCert {
		t.Errorf("config = min %x auth %v", tc.MinVersion, tc.ClientAuth)
	}

	// The self-signed certificate doubles as a client CA.
	tc, err = ServerConfig(config.TLSConfig{Enabled: true, ClientCAFile: certPath}, r)
	if err != nil {
		t.Fatal(err)
	}
	if tc.MinVersion != tls.VersionTLS13 || tc.ClientAuth != tls.RequireAndVerifyClientCert || tc.ClientCAs == nil {
		t.Errorf("mTLS config = min %x auth %v", tc.MinVersion, tc.ClientAuth)
	}

	if _, err := ServerConfig(config.TLSConfig{Enabled: true, ClientCAFile: keyPath}, r); err == nil {
		t.Error("ServerConfig() accepted a CA file without certificates")
	}
	if _, err := ServerConfig(config.TLSConfig{Enabled: true, MinVersion: "1.0"}, r); err == nil {
		t.Error("ServerConfig() accepted TLS 1.0")
	}
	if _, err := ServerConfig(config.TLSConfig{Enabled: true}, nil); err == nil {
		t.Error("ServerConfig() accepted a nil reloader")
	}
}
