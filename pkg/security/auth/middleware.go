package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
)

// Credential sources.
const (
	MethodAPIKey     = "api_key"
	MethodClientCert = "client_cert"
)

// APIKeyHeader carries a key for clients that cannot set Authorization.
const APIKeyHeader = "X-API-Key"

// Identity is an authenticated caller.
type Identity struct {
	Actor  string
	Method string
}

// Authenticator checks the credentials of operator API requests.
type Authenticator struct {
	keys        *Keyring
	clientCerts bool
	logger      *slog.Logger
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithClientCertificates accepts verified TLS client certificates; the
// subject common name is the actor.
func WithClientCertificates() Option {
	return func(a *Authenticator) { a.clientCerts = true }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Authenticator) { a.logger = l }
}

// New creates an authenticator over keys. keys may be empty when only
// client certificates are accepted.
func New(keys *Keyring, opts ...Option) *Authenticator {
	if keys == nil {
		keys = &Keyring{}
	}
	a := &Authenticator{keys: keys, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("component", "auth")
	return a
}

// Authenticate identifies the caller of r.
func (a *Authenticator) Authenticate(r *http.Request) (*Identity, error) {
	if key := extractKey(r); key != "" {
		k, err := a.keys.Validate(key)
		if err != nil {
			return nil, err
		}
		return &Identity{Actor: k.Actor, Method: MethodAPIKey}, nil
	}
	if a.clientCerts && r.TLS != nil && len(r.TLS.VerifiedChains) > 0 && len(r.TLS.VerifiedChains[0]) > 0 {
		if cn := r.TLS.VerifiedChains[0][0].Subject.CommonName; cn != "" {
			return &Identity{Actor: cn, Method: MethodClientCert}, nil
		}
	}
	return nil, ErrMissingCredentials
}

// Middleware rejects unauthenticated requests through deny and stores the
// identity of the others on the request context.
func (a *Authenticator) Middleware(deny func(http.ResponseWriter, *http.Request, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := a.Authenticate(r)
			if err != nil {
				a.logger.WarnContext(r.Context(), "authentication failed",
					"error", err,
					"remote_addr", r.RemoteAddr,
					"path", r.URL.Path,
				)
				deny(w, r, err)
				return
			}
			a.logger.DebugContext(r.Context(), "authenticated", "actor", id.Actor, "method", id.Method)
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

func extractKey(r *http.Request) string {
	if v := r.Header.Get("Authorization"); v != "" {
		if scheme, token, ok := strings.Cut(v, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.Header.Get(APIKeyHeader))
}

type contextKey struct{}

// WithIdentity returns ctx carrying id.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the identity stored by Middleware.
func FromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(*Identity)
	return id, ok
}
