package registry

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"jobmail-hq/governor/pkg/clock"
	"jobmail-hq/governor/pkg/dsl/validator"
	"jobmail-hq/governor/pkg/evidence"
	"jobmail-hq/governor/pkg/policy"
	"jobmail-hq/governor/pkg/telemetry/metrics"
)

// DefaultSoakTime is the minimum time a bundle spends in a stage before it
// can be promoted.
const DefaultSoakTime = 24 * time.Hour

// buckets is the size of the routing hash space.
const buckets = 100

// GateChecker reports whether a canary bundle passes the quality gates of
// its current stage. A nil error means the gates pass.
type GateChecker interface {
	CheckGates(ctx context.Context, version string) error
}

// Config configures a Registry.
type Config struct {
	Store    Store // required
	Recorder *evidence.Recorder
	Clock    clock.Clock
	Logger   *slog.Logger
	Metrics  *metrics.Collector

	// SoakTime defaults to DefaultSoakTime. A negative value disables the
	// soak check.
	SoakTime time.Duration

	// MaxConditionDepth bounds condition nesting; zero keeps the validator
	// default.
	MaxConditionDepth int

	// KnownActionType reports whether an executor is registered for an
	// action type. Nil accepts any non-empty type.
	KnownActionType func(string) bool

	// KnownScorer reports whether a confidence scorer exists. Nil accepts
	// any name.
	KnownScorer func(string) bool
}

// routingState is an immutable snapshot of the registry. It is replaced
// wholesale on every write.
type routingState struct {
	active  *policy.Bundle
	canary  *policy.Bundle
	bundles map[string]*policy.Bundle
	ordered []*policy.Bundle // by ascending version
}

func newRoutingState(bundles []*policy.Bundle) (*routingState, error) {
	st := &routingState{
		bundles: make(map[string]*policy.Bundle, len(bundles)),
		ordered: slices.Clone(bundles),
	}
	sortBundles(st.ordered)
	for _, b := range st.ordered {
		st.bundles[b.Version] = b
		switch {
		case b.Status == policy.StatusActive:
			if st.active != nil {
				return nil, fmt.Errorf("bundles %s and %s are both active", st.active.Version, b.Version)
			}
			st.active = b
		case b.Status.IsCanary():
			if st.canary != nil {
				return nil, fmt.Errorf("bundles %s and %s are both in canary", st.canary.Version, b.Version)
			}
			st.canary = b
		}
	}
	return st, nil
}

// with returns a copy of st with the given bundles replaced.
func (st *routingState) with(changed ...*policy.Bundle) (*routingState, error) {
	merged := make(map[string]*policy.Bundle, len(st.bundles)+len(changed))
	for v, b := range st.bundles {
		merged[v] = b
	}
	for _, b := range changed {
		merged[b.Version] = b
	}
	all := make([]*policy.Bundle, 0, len(merged))
	for _, b := range merged {
		all = append(all, b)
	}
	return newRoutingState(all)
}

func (st *routingState) activeVersion() string {
	if st.active == nil {
		return ""
	}
	return st.active.Version
}

// Registry holds every bundle and routes traffic between the active bundle
// and an optional canary. Reads load an atomic snapshot and never block;
// writes are serialized, persisted through the Store and then published.
//
// Bundles returned by the registry are shared snapshots and must not be
// modified.
type Registry struct {
	state atomic.Pointer[routingState]

	mu    sync.Mutex // serializes writers
	gates GateChecker

	store     Store
	recorder  *evidence.Recorder
	clock     clock.Clock
	logger    *slog.Logger
	metrics   *metrics.Collector
	soakTime  time.Duration
	validator *validator.Validator
	knownType func(string) bool
	knownScr  func(string) bool
}

// New creates a registry and loads its bundles from cfg.Store.
func New(ctx context.Context, cfg Config) (*Registry, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("registry: store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	soak := cfg.SoakTime
	if soak == 0 {
		soak = DefaultSoakTime
	}

	r := &Registry{
		store:     cfg.Store,
		recorder:  cfg.Recorder,
		clock:     clock.OrReal(cfg.Clock),
		logger:    logger.With("component", "policy.registry"),
		metrics:   cfg.Metrics,
		soakTime:  soak,
		validator: validator.NewValidator().WithMaxDepth(cfg.MaxConditionDepth),
		knownType: cfg.KnownActionType,
		knownScr:  cfg.KnownScorer,
	}
	if err := r.Load(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Load replaces the in-memory snapshot with the store's contents.
func (r *Registry) Load(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	bundles, err := r.store.LoadBundles(ctx)
	if err != nil {
		return fmt.Errorf("load bundles: %w", err)
	}
	st, err := newRoutingState(bundles)
	if err != nil {
		return fmt.Errorf("load bundles: %w", err)
	}
	r.state.Store(st)

	r.logger.Info("bundles loaded",
		"count", len(st.ordered),
		"active", st.activeVersion(),
		"canary", versionOf(st.canary),
	)
	return nil
}

// SetGateChecker installs the checker consulted by Promote. The rollout
// monitor is created after the registry, so this is set during wiring.
func (r *Registry) SetGateChecker(g GateChecker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gates = g
}

func (r *Registry) snapshot() *routingState {
	return r.state.Load()
}

// Bucket returns the routing bucket of resourceID in [0,100).
func Bucket(resourceID string) int {
	return int(xxhash.Sum64String(resourceID) % buckets)
}

// SelectBundle returns the bundle that handles resourceID: the canary when
// the resource's bucket falls below the canary percentage, otherwise the
// active bundle. The choice depends only on resourceID and the current
// canary configuration. Nil means no bundle is active.
func (r *Registry) SelectBundle(resourceID string) *policy.Bundle {
	st := r.snapshot()
	if st.active == nil {
		return nil
	}
	if st.canary != nil && Bucket(resourceID) < st.canary.CanaryPct {
		return st.canary
	}
	return st.active
}

// Get returns the bundle with the given version.
func (r *Registry) Get(version string) (*policy.Bundle, error) {
	b, ok := r.snapshot().bundles[version]
	if !ok {
		return nil, &policy.NotFoundError{Kind: "bundle", ID: version}
	}
	return b, nil
}

// List returns all bundles by ascending version.
func (r *Registry) List() []*policy.Bundle {
	return slices.Clone(r.snapshot().ordered)
}

// Active returns the active bundle, or nil.
func (r *Registry) Active() *policy.Bundle {
	return r.snapshot().active
}

// Canary returns the bundle in canary, or nil.
func (r *Registry) Canary() *policy.Bundle {
	return r.snapshot().canary
}

// HasActive reports whether a bundle is active.
func (r *Registry) HasActive() bool {
	return r.snapshot().active != nil
}

// Current returns the active version, or "" when none is active. Writers
// pass it back as the expected version.
func (r *Registry) Current() string {
	return r.snapshot().activeVersion()
}

// MaxVersion returns the highest bundle version, or "" when there are no
// bundles.
func (r *Registry) MaxVersion() string {
	ordered := r.snapshot().ordered
	if len(ordered) == 0 {
		return ""
	}
	return ordered[len(ordered)-1].Version
}

// checkExpected fails with a ConflictError when the caller's view of the
// active version is stale. Must be called with r.mu held.
func (r *Registry) checkExpected(st *routingState, version, expected string) error {
	if actual := st.activeVersion(); actual != expected {
		return &policy.ConflictError{Version: version, Expected: expected, Actual: actual}
	}
	return nil
}

// commit persists changed bundles and publishes the new snapshot. Must be
// called with r.mu held.
func (r *Registry) commit(ctx context.Context, st *routingState, changed ...*policy.Bundle) (*routingState, error) {
	next, err := st.with(changed...)
	if err != nil {
		return nil, err
	}
	if err := r.store.SaveBundles(ctx, changed...); err != nil {
		return nil, err
	}
	r.state.Store(next)
	return next, nil
}

func (r *Registry) audit(ctx context.Context, rec evidence.AuditRecord) error {
	if r.recorder == nil {
		return nil
	}
	if _, err := r.recorder.Record(ctx, rec); err != nil {
		return fmt.Errorf("audit %s of bundle %s: %w", rec.Event, rec.BundleVersion, err)
	}
	return nil
}

func sortBundles(bs []*policy.Bundle) {
	slices.SortFunc(bs, func(a, b *policy.Bundle) int {
		return policy.CompareVersions(a.Version, b.Version)
	})
}

func versionOf(b *policy.Bundle) string {
	if b == nil {
		return ""
	}
	return b.Version
}
