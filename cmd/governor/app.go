package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"jobmail-hq/governor/pkg/actions"
	"jobmail-hq/governor/pkg/clock"
	"jobmail-hq/governor/pkg/config"
	"jobmail-hq/governor/pkg/evidence"
	"jobmail-hq/governor/pkg/executor"
	"jobmail-hq/governor/pkg/inbox"
	"jobmail-hq/governor/pkg/limits/ratelimit"
	"jobmail-hq/governor/pkg/policy/engine"
	"jobmail-hq/governor/pkg/policy/gitsource"
	"jobmail-hq/governor/pkg/policy/registry"
	"jobmail-hq/governor/pkg/policy/rollout"
	"jobmail-hq/governor/pkg/security/auth"
	"jobmail-hq/governor/pkg/security/secrets"
	govtls "jobmail-hq/governor/pkg/security/tls"
	"jobmail-hq/governor/pkg/server"
	"jobmail-hq/governor/pkg/signing"
	"jobmail-hq/governor/pkg/storage"
	"jobmail-hq/governor/pkg/telemetry/health"
	"jobmail-hq/governor/pkg/telemetry/metrics"
	"jobmail-hq/governor/pkg/telemetry/tracing"
)

// app is a fully wired governor. Background jobs run between start and
// close.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	db       *storage.DB
	tracer   *tracing.Tracer
	registry *registry.Registry
	monitor  *rollout.Monitor
	pruner   *executor.Pruner
	inbox    *inbox.Watcher
	git      *gitsource.Source
	certs    *govtls.Reloader
	server   *server.Server

	executors []string
	signer    *signing.Signer
	importer  *signing.Importer
}

// newApp builds every component from cfg. The returned app owns the
// database and tracer; call close when done.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	built := false
	defer func() {
		if !built {
			a.close()
		}
	}()
	clk := clock.Real()

	resolver, err := secrets.NewResolverFromConfig(cfg.Secrets, logger)
	if err != nil {
		return nil, err
	}
	if err := secrets.ResolveConfig(ctx, resolver, cfg); err != nil {
		return nil, fmt.Errorf("resolve secrets: %w", err)
	}

	a.tracer, err = tracing.New(&cfg.Telemetry.Tracing, Version)
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}
	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)

	if cfg.Storage.Backend == "memory" {
		a.db, err = storage.OpenMemory(ctx)
	} else {
		if dir := filepath.Dir(cfg.Storage.SQLite.Path); cfg.Storage.SQLite.Path != storage.MemoryPath && dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
		a.db, err = storage.Open(ctx, cfg.Storage.SQLite, logger)
	}
	if err != nil {
		return nil, err
	}

	recorder, err := newRecorder(cfg.Evidence, a.db, clk, logger)
	if err != nil {
		return nil, err
	}

	execs := executor.NewRegistry()
	// Mailbox executors need a provider integration; only the HTTP-posting
	// executors are available from configuration.
	if err := executor.RegisterBuiltins(execs, cfg.Executor, nil, &http.Client{}); err != nil {
		return nil, fmt.Errorf("executors: %w", err)
	}
	a.executors = execs.Types()
	for actionType := range cfg.Executor.RateLimits {
		if !execs.Has(actionType) {
			logger.Warn("rate limit configured for an action type without an executor", "action_type", actionType)
		}
	}
	ledger := storage.NewIdempotencyLedger(a.db)
	dispatcher := executor.NewDispatcher(execs, ledger, executor.DispatcherConfig{
		Timeout: cfg.Executor.Timeout,
		Limiter: ratelimit.New(cfg.Executor.RateLimits, ratelimit.WithClock(clk)),
		Clock:   clk,
		Logger:  logger,
		Metrics: collector,
		Tracer:  a.tracer,
	})
	a.pruner, err = executor.NewPruner(ledger, cfg.Executor.IdempotencyRetention, cfg.Executor.PruneSchedule, clk, logger)
	if err != nil {
		return nil, fmt.Errorf("idempotency pruner: %w", err)
	}

	eng, err := engine.New(&engine.EngineConfig{
		Clock:         clk,
		DefaultScorer: cfg.Engine.DefaultScorer,
		Logger:        logger,
		Metrics:       collector,
	})
	if err != nil {
		return nil, err
	}

	a.registry, err = registry.New(ctx, registry.Config{
		Store:             storage.NewBundleStore(a.db),
		Recorder:          recorder,
		Clock:             clk,
		Logger:            logger,
		Metrics:           collector,
		SoakTime:          cfg.Rollout.SoakTime,
		MaxConditionDepth: cfg.Engine.MaxConditionDepth,
		KnownActionType:   execs.Has,
		KnownScorer:       eng.HasScorer,
	})
	if err != nil {
		return nil, fmt.Errorf("bundle registry: %w", err)
	}

	samples := rollout.NewSamples(cfg.Rollout.Window, clk)
	a.monitor, err = rollout.NewMonitor(a.registry, samples, cfg.Rollout, logger)
	if err != nil {
		return nil, fmt.Errorf("rollout monitor: %w", err)
	}
	a.registry.SetGateChecker(a.monitor)

	svc, err := actions.NewService(actions.ServiceConfig{
		Store:      storage.NewActionStore(a.db),
		Router:     a.registry,
		Evaluator:  eng,
		Dispatcher: dispatcher,
		Recorder:   recorder,
		Samples:    samples,
		Clock:      clk,
		Logger:     logger,
		Metrics:    collector,
		Tracer:     a.tracer,
	})
	if err != nil {
		return nil, err
	}

	if err := a.setupSigning(clk, recorder, collector); err != nil {
		return nil, err
	}

	if cfg.Inbox.Enabled {
		if a.importer == nil {
			return nil, errors.New("inbox: signing.trusted_keys or signing.seed_path is required to verify imports")
		}
		if err := os.MkdirAll(cfg.Inbox.Directory, 0o750); err != nil {
			return nil, fmt.Errorf("create inbox directory: %w", err)
		}
		a.inbox, err = inbox.New(inbox.Config{
			Directory:    cfg.Inbox.Directory,
			AsNewVersion: cfg.Inbox.AsNewVersion,
			Clock:        clk,
			Logger:       logger,
		}, a.importer)
		if err != nil {
			return nil, err
		}
	}

	if cfg.Git.Repository != "" {
		repo, err := gitsource.NewRepository(cfg.Git)
		if err != nil {
			return nil, fmt.Errorf("git source: %w", err)
		}
		a.git = gitsource.NewSource(repo, a.registry, cfg.Git.Path, logger)
	}

	checker := health.New(cfg.Telemetry.Health.CheckTimeout, clk)
	checker.RegisterCheck("database", health.PingCheck(a.db))
	checker.RegisterCheck("active_bundle", health.ActiveBundleCheck(a.registry.HasActive))

	deps := server.Deps{
		Registry:   a.registry,
		Actions:    svc,
		Audit:      recorder.Storage(),
		Corrector:  recorder,
		Health:     checker,
		Metrics:    collector,
		Tracer:     a.tracer,
		Logger:     logger,
		AuditLimit: cfg.Evidence.DefaultLimit,
		Version:    Version,
		Commit:     GitCommit,
		BuildTime:  BuildDate,
	}
	if a.signer != nil {
		deps.Exporter = a.signer
		deps.ExportEncoding, err = signing.ParseEncoding(cfg.Signing.Encoding)
		if err != nil {
			return nil, err
		}
	}
	if a.importer != nil {
		deps.Importer = a.importer
	}
	if a.git != nil {
		deps.Git = a.git
	}
	if err := a.setupTransport(&deps, clk); err != nil {
		return nil, err
	}
	a.server, err = server.New(cfg.Server, deps)
	if err != nil {
		return nil, err
	}
	built = true
	return a, nil
}

// newRecorder creates the audit recorder with its evidence blob store.
func newRecorder(cfg config.EvidenceConfig, db *storage.DB, clk clock.Clock, logger *slog.Logger) (*evidence.Recorder, error) {
	opts := evidence.BlobOptions{Compress: config.BoolValue(cfg.Compress, true)}
	if len(cfg.AgeRecipients) > 0 {
		recipients, err := evidence.ParseRecipients(cfg.AgeRecipients)
		if err != nil {
			return nil, err
		}
		opts.Recipients = recipients
	}
	if cfg.AgeIdentityPath != "" {
		ids, err := evidence.LoadIdentities(cfg.AgeIdentityPath)
		if err != nil {
			return nil, err
		}
		opts.Identities = ids
	}
	blobs, err := evidence.NewBlobStore(storage.NewBlobBackend(db), opts)
	if err != nil {
		return nil, err
	}
	return evidence.NewRecorder(storage.NewAuditStore(db), clk, logger).WithBlobs(blobs), nil
}

// setupSigning creates the export signer when a seed is configured and the
// importer when any key is trusted. The local key is always trusted.
func (a *app) setupSigning(clk clock.Clock, recorder *evidence.Recorder, collector *metrics.Collector) error {
	cfg := a.cfg.Signing
	keys, err := signing.ParseKeyring(cfg.TrustedKeys)
	if err != nil {
		return err
	}
	if cfg.SeedPath != "" {
		seed, err := signing.LoadSeed(cfg.SeedPath)
		if err != nil {
			return err
		}
		a.signer, err = signing.NewSigner(cfg.KeyID, seed, clk)
		if err != nil {
			return err
		}
		keys.Add(a.signer.KeyID(), a.signer.PublicKey())
	}
	if len(keys) == 0 {
		return nil
	}
	a.importer, err = signing.NewImporter(signing.ImporterConfig{
		Registry: a.registry,
		Keys:     keys,
		MaxAge:   cfg.MaxAge,
		Recorder: recorder,
		Clock:    clk,
		Logger:   a.logger,
		Metrics:  collector,
	})
	return err
}

// setupTransport loads the server certificate and operator keys.
func (a *app) setupTransport(deps *server.Deps, clk clock.Clock) error {
	cfg := a.cfg.Server
	if cfg.TLS.Enabled {
		var err error
		a.certs, err = govtls.NewReloader(cfg.TLS.CertFile, cfg.TLS.KeyFile, clk, a.logger)
		if err != nil {
			return err
		}
		if deps.TLS, err = govtls.ServerConfig(cfg.TLS, a.certs); err != nil {
			return err
		}
	}
	if cfg.Auth.Enabled {
		keys, err := auth.NewKeyring(cfg.Auth.Keys)
		if err != nil {
			return err
		}
		opts := []auth.Option{auth.WithLogger(a.logger)}
		if cfg.TLS.ClientCAFile != "" {
			opts = append(opts, auth.WithClientCertificates())
		}
		deps.Auth = auth.New(keys, opts...)
	}
	return nil
}

// start launches the background jobs: rollout monitor, idempotency pruner,
// inbox watcher, certificate reloading and git polling.
func (a *app) start(ctx context.Context) error {
	if err := a.monitor.Start(ctx); err != nil {
		return fmt.Errorf("rollout monitor: %w", err)
	}
	if err := a.pruner.Start(ctx); err != nil {
		return fmt.Errorf("idempotency pruner: %w", err)
	}
	if a.inbox != nil {
		go func() {
			if err := a.inbox.Watch(ctx); err != nil {
				a.logger.Error("inbox watcher stopped", "error", err)
			}
		}()
	}
	if a.certs != nil {
		go func() {
			if err := a.certs.Watch(ctx); err != nil {
				a.logger.Error("certificate watcher stopped", "error", err)
			}
		}()
	}
	if a.git != nil && a.cfg.Git.PollSchedule != "" {
		if err := a.git.Poll(ctx, a.cfg.Git.PollSchedule); err != nil {
			return fmt.Errorf("git polling: %w", err)
		}
	}
	return nil
}

// close stops background jobs and releases the database and tracer.
func (a *app) close() {
	if a.git != nil {
		a.git.Stop()
	}
	if a.pruner != nil {
		a.pruner.Stop()
	}
	if a.monitor != nil {
		a.monitor.Stop()
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(context.Background()); err != nil {
			a.logger.Warn("tracer shutdown failed", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("database close failed", "error", err)
		}
	}
}
