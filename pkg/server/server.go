package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"jobmail-hq/governor/pkg/actions"
	"jobmail-hq/governor/pkg/config"
	"jobmail-hq/governor/pkg/evidence"
	"jobmail-hq/governor/pkg/policy"
	"jobmail-hq/governor/pkg/policy/engine"
	"jobmail-hq/governor/pkg/policy/gitsource"
	"jobmail-hq/governor/pkg/policy/registry"
	"jobmail-hq/governor/pkg/security/auth"
	"jobmail-hq/governor/pkg/signing"
	"jobmail-hq/governor/pkg/telemetry/health"
	"jobmail-hq/governor/pkg/telemetry/metrics"
	"jobmail-hq/governor/pkg/telemetry/tracing"
)

// BundleRegistry is the part of the bundle registry the API drives.
type BundleRegistry interface {
	List() []*policy.Bundle
	Get(version string) (*policy.Bundle, error)
	Current() string
	CreateDraft(ctx context.Context, req registry.DraftRequest) (*policy.Bundle, error)
	AddPolicy(ctx context.Context, version string, p policy.Policy, actor string) (*policy.Bundle, error)
	UpdatePolicy(ctx context.Context, version string, p policy.Policy, actor string) (*policy.Bundle, error)
	RemovePolicy(ctx context.Context, version, id, actor string) (*policy.Bundle, error)
	CreateCanary(ctx context.Context, version, expected, actor string) (*policy.Bundle, error)
	Promote(ctx context.Context, version, expected, actor string) (*policy.Bundle, error)
	Activate(ctx context.Context, version, expected, actor string) (*policy.Bundle, error)
	Rollback(ctx context.Context, req registry.RollbackRequest) (*registry.RollbackResult, error)
}

// ActionService is the proposed action workflow.
type ActionService interface {
	Propose(ctx context.Context, req actions.ProposeRequest) (*actions.ProposeResult, error)
	Approve(ctx context.Context, id, actor string) (*actions.ExecutionResult, error)
	Reject(ctx context.Context, id, actor, reason string) (*actions.ProposedAction, error)
	Test(ctx context.Context, version string, contexts []engine.Context) ([]actions.TestResult, error)
	Get(ctx context.Context, id string) (*actions.ProposedAction, error)
	List(ctx context.Context, filter actions.ListFilter) ([]*actions.ProposedAction, error)
}

// Exporter signs bundles for export.
type Exporter interface {
	Export(b *policy.Bundle) (*signing.SignedBundle, error)
}

// Importer verifies and imports signed exports.
type Importer interface {
	ImportBytes(ctx context.Context, data []byte, opts signing.ImportOptions) (*policy.Bundle, error)
}

// GitSyncer creates drafts from the configured git repository.
type GitSyncer interface {
	Sync(ctx context.Context, actor string) (*gitsource.SyncResult, error)
}

// Corrector appends correction records to the audit trail.
type Corrector interface {
	Correct(ctx context.Context, supersedes, actor, reason string) (*evidence.AuditRecord, error)
}

// Deps are the components the API serves. Registry, Actions and Audit are
// required; routes backed by a nil optional component answer 501.
type Deps struct {
	Registry BundleRegistry
	Actions  ActionService
	Audit    evidence.Storage

	Exporter Exporter
	Importer Importer
	// ExportEncoding is used when an export request names none.
	ExportEncoding signing.Encoding

	Git GitSyncer

	// Corrector serves POST /v1/audit/{id}/correct.
	Corrector Corrector

	// Auth, when set, authenticates every /v1 request.
	Auth *auth.Authenticator
	// TLS, when set, serves HTTPS.
	TLS *tls.Config

	Health  *health.Checker
	Metrics *metrics.Collector
	Tracer  *tracing.Tracer
	Logger  *slog.Logger

	// Sources resolves queries for POST /v1/actions/propose. Nil disables
	// query proposals; explicit resources still work.
	Sources actions.ResourceSource

	// AuditLimit is the page size of audit queries without a limit.
	AuditLimit int

	Version   string
	Commit    string
	BuildTime string
}

// Server is the operator HTTP API.
type Server struct {
	cfg        config.ServerConfig
	deps       Deps
	logger     *slog.Logger
	handler    http.Handler
	httpServer *http.Server

	mu        sync.Mutex
	isRunning bool
}

// New creates a server. The router is built once and shared by Handler and
// Start.
func New(cfg config.ServerConfig, deps Deps) (*Server, error) {
	if deps.Registry == nil || deps.Actions == nil || deps.Audit == nil {
		return nil, errors.New("server: registry, actions and audit storage are required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = config.DefaultMaxBodyBytes
	}
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger.With("component", "server"),
	}
	s.handler = s.routes()
	return s, nil
}

// Handler returns the configured HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return errors.New("server is already running")
	}
	s.isRunning = true
	s.httpServer = &http.Server{
		Addr:         s.cfg.ListenAddress,
		Handler:      s.handler,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
		TLSConfig:    s.deps.TLS,
	}
	srv := s.httpServer
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting operator API", "address", s.cfg.ListenAddress, "tls", srv.TLSConfig != nil)
		var err error
		if srv.TLSConfig != nil {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err := <-errChan:
		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
		return err
	}
}

// Shutdown stops accepting connections and waits for in-flight requests up
// to the shutdown timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isRunning {
		return nil
	}
	s.isRunning = false

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = config.DefaultShutdownTimeout
	}
	s.logger.Info("initiating graceful shutdown", "timeout", timeout.String())
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("error during server shutdown", "error", err)
		return fmt.Errorf("server shutdown error: %w", err)
	}
	s.logger.Info("operator API stopped")
	return nil
}

// IsRunning reports whether the server is serving.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	// Outermost first.
	r.Use(s.recovery)
	r.Use(requestID)
	r.Use(s.deps.Tracer.HTTPMiddleware)
	r.Use(s.logging)
	r.Use(s.limitBody)

	if s.deps.Health != nil {
		r.Get("/healthz", s.deps.Health.LivenessHandler())
		r.Get("/readyz", s.deps.Health.ReadinessHandler())
	}
	if s.deps.Metrics != nil {
		r.Handle("/metrics", s.deps.Metrics.Handler())
	}
	r.Get("/version", health.VersionHandler(s.deps.Version, s.deps.Commit, s.deps.BuildTime))

	r.Route("/v1", func(api chi.Router) {
		if s.deps.Auth != nil {
			api.Use(s.deps.Auth.Middleware(unauthorized))
		}
		api.Route("/bundles", func(b chi.Router) {
			b.Get("/", s.listBundles)
			b.With(requireActor).Post("/", s.createDraft)
			b.With(requireActor).Post("/import", s.importBundle)
			b.With(requireActor).Post("/sync", s.syncGit)

			b.Route("/{version}", func(v chi.Router) {
				v.Get("/", s.getBundle)
				v.Get("/export", s.exportBundle)
				v.Post("/test", s.testBundle)

				v.Group(func(m chi.Router) {
					m.Use(requireActor)
					m.Post("/policies", s.addPolicy)
					m.Put("/policies/{id}", s.updatePolicy)
					m.Delete("/policies/{id}", s.removePolicy)
					m.Post("/canary", s.transition(s.deps.Registry.CreateCanary))
					m.Post("/promote", s.transition(s.deps.Registry.Promote))
					m.Post("/activate", s.transition(s.deps.Registry.Activate))
					m.Post("/rollback", s.rollback)
				})
			})
		})

		api.Route("/actions", func(a chi.Router) {
			a.Get("/", s.listActions)
			a.Get("/{id}", s.getAction)
			a.Group(func(m chi.Router) {
				m.Use(requireActor)
				m.Post("/propose", s.propose)
				m.Post("/{id}/approve", s.approve)
				m.Post("/{id}/reject", s.reject)
			})
		})

		api.Get("/audit", s.queryAudit)
		api.With(requireActor).Post("/audit/{id}/correct", s.correctAudit)
	})

	return r
}
