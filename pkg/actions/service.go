package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strconv"
	"time"

	"github.com/google/uuid"

	"jobmail-hq/governor/pkg/clock"
	"jobmail-hq/governor/pkg/evidence"
	"jobmail-hq/governor/pkg/executor"
	"jobmail-hq/governor/pkg/policy"
	"jobmail-hq/governor/pkg/policy/engine"
	"jobmail-hq/governor/pkg/telemetry/metrics"
	"jobmail-hq/governor/pkg/telemetry/tracing"
)

// DefaultListLimit caps ListPending when no limit is given.
const DefaultListLimit = 100

// Router picks the bundle for a resource and looks bundles up by version.
// The bundle registry implements it.
type Router interface {
	SelectBundle(resourceID string) *policy.Bundle
	Get(version string) (*policy.Bundle, error)
}

// Evaluator evaluates bundles. EvaluateBundle is used for live traffic,
// DryRun for tests of draft bundles.
type Evaluator interface {
	EvaluateBundle(b *policy.Bundle, ctx engine.Context) (engine.Match, bool)
	DryRun(b *policy.Bundle, ctx engine.Context) (engine.Match, bool)
}

// Dispatcher runs executors by action type.
type Dispatcher interface {
	Has(actionType string) bool
	Execute(ctx context.Context, actionType string, params map[string]any, idempotencyKey string) error
}

// SampleSink receives per-bundle outcomes for the rollout monitor.
type SampleSink interface {
	RecordEvaluation(version string, matched bool)
	RecordDecision(version string, approved bool)
	RecordExecution(version string, success bool, cost float64)
}

// ServiceConfig wires a Service.
type ServiceConfig struct {
	Store      Store // required
	Router     Router
	Evaluator  Evaluator
	Dispatcher Dispatcher
	Recorder   *evidence.Recorder // required

	Samples SampleSink
	Clock   clock.Clock
	Logger  *slog.Logger
	Metrics *metrics.Collector
	Tracer  *tracing.Tracer
}

// Service implements the proposed action workflow: propose, approve or
// reject, execute, and audit every step.
type Service struct {
	store      Store
	router     Router
	evaluator  Evaluator
	dispatcher Dispatcher
	recorder   *evidence.Recorder
	samples    SampleSink
	clock      clock.Clock
	logger     *slog.Logger
	metrics    *metrics.Collector
	tracer     *tracing.Tracer
}

// NewService creates a workflow service.
func NewService(cfg ServiceConfig) (*Service, error) {
	switch {
	case cfg.Store == nil:
		return nil, errors.New("actions: store is required")
	case cfg.Router == nil:
		return nil, errors.New("actions: router is required")
	case cfg.Evaluator == nil:
		return nil, errors.New("actions: evaluator is required")
	case cfg.Dispatcher == nil:
		return nil, errors.New("actions: dispatcher is required")
	case cfg.Recorder == nil:
		return nil, errors.New("actions: audit recorder is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:      cfg.Store,
		router:     cfg.Router,
		evaluator:  cfg.Evaluator,
		dispatcher: cfg.Dispatcher,
		recorder:   cfg.Recorder,
		samples:    cfg.Samples,
		clock:      clock.OrReal(cfg.Clock),
		logger:     logger.With("component", "actions"),
		metrics:    cfg.Metrics,
		tracer:     cfg.Tracer,
	}, nil
}

// ProposeRequest asks for resources to be evaluated.
type ProposeRequest struct {
	Resources []Resource
	Actor     string

	// Bundle pins evaluation to one version instead of canary routing.
	Bundle string
}

type evaluated struct {
	resource Resource
	match    engine.Match
}

// Propose routes and evaluates every resource and creates one pending
// action per match. A resource without a match creates nothing. Matches
// whose action type has no executor fail the whole call with a
// ValidationError before any action is created.
func (s *Service) Propose(ctx context.Context, req ProposeRequest) (res *ProposeResult, err error) {
	ctx, span := s.tracer.Start(ctx, "actions.propose")
	defer func() { tracing.End(span, err) }()

	if req.Actor == "" {
		return nil, policy.NewValidationError("propose", "actor is required", nil)
	}
	var pinned *policy.Bundle
	if req.Bundle != "" {
		if pinned, err = s.router.Get(req.Bundle); err != nil {
			return nil, err
		}
		if !pinned.Status.IsLive() {
			return nil, policy.NewValidationError(pinned.Version,
				fmt.Sprintf("bundle is %s; only active or canary bundles propose actions, use test for a dry run", pinned.Status), nil)
		}
	}

	res = &ProposeResult{Proposed: []*ProposedAction{}, NoMatch: []string{}}
	var matches []evaluated
	for _, r := range req.Resources {
		if r.ID == "" {
			return nil, policy.NewValidationError("propose", "resource id is required", nil)
		}
		b := pinned
		if b == nil {
			if b = s.router.SelectBundle(r.ID); b == nil {
				return nil, policy.NewValidationError("propose", "no active bundle", nil)
			}
		}

		m, ok := s.evaluator.EvaluateBundle(b, r.Context)
		res.Evaluated++
		if s.samples != nil {
			s.samples.RecordEvaluation(b.Version, ok)
		}
		if !ok {
			res.NoMatch = append(res.NoMatch, r.ID)
			continue
		}
		if !s.dispatcher.Has(m.Policy.ActionType) {
			return nil, policy.NewValidationError(m.Policy.ID,
				fmt.Sprintf("no executor registered for action type %q", m.Policy.ActionType), executor.ErrUnknownActionType)
		}
		matches = append(matches, evaluated{resource: r, match: m})
	}

	for _, e := range matches {
		a, err := s.create(ctx, e, req.Actor)
		if err != nil {
			return res, err
		}
		res.Proposed = append(res.Proposed, a)
	}

	s.logger.InfoContext(ctx, "resources evaluated",
		"evaluated", res.Evaluated,
		"proposed", len(res.Proposed),
		"actor", req.Actor,
	)
	return res, nil
}

func (s *Service) create(ctx context.Context, e evaluated, actor string) (*ProposedAction, error) {
	params := maps.Clone(e.match.Policy.ActionParams)
	if params == nil {
		params = make(map[string]any, 1)
	}
	params[executor.ResourceIDParam] = e.resource.ID

	a := &ProposedAction{
		ID:            uuid.NewString(),
		ResourceID:    e.resource.ID,
		PolicyID:      e.match.Policy.ID,
		BundleVersion: e.match.BundleVersion,
		ActionType:    e.match.Policy.ActionType,
		ActionParams:  params,
		Confidence:    e.match.Confidence,
		Rationale:     e.match.Rationale,
		Status:        StatusPending,
		CreatedAt:     s.clock.Now().UTC(),
	}
	snapshot, err := json.Marshal(evaluationSnapshot{
		ResourceID:    a.ResourceID,
		BundleVersion: a.BundleVersion,
		PolicyID:      a.PolicyID,
		Context:       e.resource.Context,
	})
	if err != nil {
		return nil, fmt.Errorf("encode evaluation snapshot for %s: %w", a.ID, err)
	}
	if err := s.store.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("create action for %s: %w", e.resource.ID, err)
	}
	s.metrics.RecordProposed(a.ActionType)

	if _, err := s.record(ctx, evidence.AuditRecord{
		Actor:         actor,
		ActionID:      a.ID,
		BundleVersion: a.BundleVersion,
		Event:         evidence.EventProposed,
		Outcome:       evidence.OutcomeSuccess,
		Metadata: map[string]string{
			"resource_id": a.ResourceID,
			"policy_id":   a.PolicyID,
			"action_type": a.ActionType,
			"confidence":  strconv.FormatFloat(a.Confidence, 'f', 4, 64),
		},
	}, snapshot); err != nil {
		return nil, err
	}
	return a, nil
}

// evaluationSnapshot is the evidence stored with a proposed record: the
// attributes the policy matched against.
type evaluationSnapshot struct {
	ResourceID    string         `json:"resource_id"`
	BundleVersion string         `json:"bundle_version"`
	PolicyID      string         `json:"policy_id"`
	Context       engine.Context `json:"context"`
}

// record appends rec, storing payload as content-addressed evidence when
// the recorder has a blob store.
func (s *Service) record(ctx context.Context, rec evidence.AuditRecord, payload []byte) (*evidence.AuditRecord, error) {
	if len(payload) == 0 || s.recorder.Blobs() == nil {
		return s.recorder.Record(ctx, rec)
	}
	return s.recorder.RecordWithEvidence(ctx, rec, payload)
}

// ProposeQuery resolves query through source and proposes the results.
func (s *Service) ProposeQuery(ctx context.Context, source ResourceSource, query, actor string) (*ProposeResult, error) {
	resources, err := source.Resolve(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", query, err)
	}
	return s.Propose(ctx, ProposeRequest{Resources: resources, Actor: actor})
}

// ExecutionResult is the outcome of an approval.
type ExecutionResult struct {
	Action    *ProposedAction `json:"action"`
	Executed  bool            `json:"executed"`
	ErrorKind string          `json:"error_kind,omitempty"`
	Attempts  int             `json:"attempts,omitempty"`
}

// Approve moves a pending action to approved, runs its executor with the
// action ID as idempotency key and records the outcome. Only one of several
// concurrent approvals wins; the others get *NotPendingError. An executor
// failure is not returned as an error: the action ends in failed and the
// result says why.
//
// Once the approval is stored, the rest of the call no longer follows ctx
// cancellation: execution is bounded by the dispatcher's attempt timeout and
// the action always reaches executed or failed.
func (s *Service) Approve(ctx context.Context, id, actor string) (res *ExecutionResult, err error) {
	ctx, span := s.tracer.Start(ctx, "actions.approve")
	defer func() { tracing.End(span, err) }()

	if actor == "" {
		return nil, policy.NewValidationError(id, "actor is required", nil)
	}
	a, err := s.store.Transition(ctx, id, Transition{
		From: StatusPending, To: StatusApproved, At: s.clock.Now().UTC(), Actor: actor,
	})
	if err != nil {
		return nil, err
	}
	tracing.SetActionAttributes(span, a.ID, a.ActionType, actor)
	ctx = context.WithoutCancel(ctx)

	s.metrics.RecordApproved(a.ActionType)
	if s.samples != nil {
		s.samples.RecordDecision(a.BundleVersion, true)
	}
	if _, err := s.recorder.Record(ctx, evidence.AuditRecord{
		Actor:         actor,
		ActionID:      a.ID,
		BundleVersion: a.BundleVersion,
		Event:         evidence.EventApproved,
		Outcome:       evidence.OutcomeSuccess,
	}); err != nil {
		s.abandon(ctx, a, actor, err)
		return nil, err
	}

	return s.execute(ctx, a, actor)
}

// abandon moves an approved action that will not be executed to failed,
// so it does not stay approved forever.
func (s *Service) abandon(ctx context.Context, a *ProposedAction, actor string, cause error) {
	msg := fmt.Sprintf("not executed: %v", cause)
	if _, err := s.store.Transition(ctx, a.ID, Transition{
		From: StatusApproved, To: StatusFailed, At: s.clock.Now().UTC(), Actor: actor, Error: msg,
	}); err != nil {
		s.logger.ErrorContext(ctx, "failed to abandon approved action",
			"action_id", a.ID,
			"error", err,
		)
		return
	}
	if _, err := s.recorder.Record(ctx, evidence.AuditRecord{
		Actor:         actor,
		ActionID:      a.ID,
		BundleVersion: a.BundleVersion,
		Event:         evidence.EventFailed,
		Outcome:       evidence.OutcomeFailure,
		Error:         msg,
	}); err != nil {
		s.logger.ErrorContext(ctx, "failed to audit abandoned action",
			"action_id", a.ID,
			"error", err,
		)
	}
}

func (s *Service) execute(ctx context.Context, a *ProposedAction, actor string) (*ExecutionResult, error) {
	start := time.Now()
	execErr := s.dispatcher.Execute(ctx, a.ActionType, a.ActionParams, a.ID)
	cost := time.Since(start).Seconds()

	res := &ExecutionResult{Executed: execErr == nil}
	var detail []byte
	t := Transition{From: StatusApproved, To: StatusExecuted, At: s.clock.Now().UTC(), Actor: actor}
	rec := evidence.AuditRecord{
		Actor:         actor,
		ActionID:      a.ID,
		BundleVersion: a.BundleVersion,
		Event:         evidence.EventExecuted,
		Outcome:       evidence.OutcomeSuccess,
	}
	if execErr != nil {
		t.To = StatusFailed
		t.Error = execErr.Error()
		rec.Event = evidence.EventFailed
		rec.Outcome = evidence.OutcomeFailure
		rec.Error = execErr.Error()

		kind := executor.Classify(execErr)
		res.ErrorKind = string(kind)
		rec.Metadata = map[string]string{"error_kind": string(kind)}
		var ee *executor.ExecutionError
		if errors.As(execErr, &ee) {
			res.Attempts = ee.Attempts
			rec.Metadata["attempts"] = strconv.Itoa(ee.Attempts)
		}
		var se *executor.StatusError
		if errors.As(execErr, &se) && se.Body != "" {
			rec.Metadata["status_code"] = strconv.Itoa(se.StatusCode)
			detail = []byte(se.Body)
		}
	}
	if s.samples != nil {
		s.samples.RecordExecution(a.BundleVersion, execErr == nil, cost)
	}

	updated, err := s.store.Transition(ctx, a.ID, t)
	if err != nil {
		return nil, fmt.Errorf("record execution of %s: %w", a.ID, err)
	}
	res.Action = updated
	if _, err := s.record(ctx, rec, detail); err != nil {
		return nil, err
	}

	if execErr != nil {
		s.logger.WarnContext(ctx, "action failed",
			"action_id", a.ID,
			"action_type", a.ActionType,
			"error_kind", res.ErrorKind,
			"error", execErr,
		)
	} else {
		s.logger.InfoContext(ctx, "action executed",
			"action_id", a.ID,
			"action_type", a.ActionType,
			"actor", actor,
		)
	}
	return res, nil
}

// Reject moves a pending action to rejected. No executor runs.
func (s *Service) Reject(ctx context.Context, id, actor, reason string) (a *ProposedAction, err error) {
	ctx, span := s.tracer.Start(ctx, "actions.reject")
	defer func() { tracing.End(span, err) }()

	if actor == "" {
		return nil, policy.NewValidationError(id, "actor is required", nil)
	}
	a, err = s.store.Transition(ctx, id, Transition{
		From: StatusPending, To: StatusRejected, At: s.clock.Now().UTC(), Actor: actor,
	})
	if err != nil {
		return nil, err
	}
	tracing.SetActionAttributes(span, a.ID, a.ActionType, actor)

	s.metrics.RecordRejected(a.ActionType)
	if s.samples != nil {
		s.samples.RecordDecision(a.BundleVersion, false)
	}
	rec := evidence.AuditRecord{
		Actor:         actor,
		ActionID:      a.ID,
		BundleVersion: a.BundleVersion,
		Event:         evidence.EventRejected,
		Outcome:       evidence.OutcomeNoop,
	}
	if reason != "" {
		rec.Metadata = map[string]string{"reason": reason}
	}
	if _, err := s.recorder.Record(ctx, rec); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "action rejected", "action_id", a.ID, "actor", actor)
	return a, nil
}

// Test evaluates contexts against the bundle with the given version,
// including drafts, without creating actions or recording samples.
func (s *Service) Test(ctx context.Context, version string, contexts []engine.Context) ([]TestResult, error) {
	b, err := s.router.Get(version)
	if err != nil {
		return nil, err
	}
	out := make([]TestResult, len(contexts))
	for i, c := range contexts {
		out[i] = TestResult{Index: i}
		m, ok := s.evaluator.DryRun(b, c)
		if !ok {
			continue
		}
		out[i].Matched = true
		out[i].PolicyID = m.Policy.ID
		out[i].ActionType = m.Policy.ActionType
		out[i].Confidence = m.Confidence
		out[i].Rationale = m.Rationale
	}
	return out, nil
}

// Get returns one action.
func (s *Service) Get(ctx context.Context, id string) (*ProposedAction, error) {
	return s.store.Get(ctx, id)
}

// List returns actions matching filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]*ProposedAction, error) {
	return s.store.List(ctx, filter)
}

// ListPending returns the approval tray, oldest first.
func (s *Service) ListPending(ctx context.Context, limit, offset int) ([]*ProposedAction, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return s.store.List(ctx, ListFilter{Status: StatusPending, Limit: limit, Offset: offset})
}
