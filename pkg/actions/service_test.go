package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"jobmail-hq/governor/pkg/clock"
	"jobmail-hq/governor/pkg/dsl/ast"
	"jobmail-hq/governor/pkg/evidence"
	"jobmail-hq/governor/pkg/executor"
	"jobmail-hq/governor/pkg/policy"
	"jobmail-hq/governor/pkg/policy/engine"
	"jobmail-hq/governor/pkg/policy/registry"
	"jobmail-hq/governor/pkg/policy/rollout"
)

var epoch = time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)

type fixture struct {
	svc     *Service
	reg     *registry.Registry
	audit   *evidence.MemoryStorage
	samples *rollout.Samples
	blobs   *evidence.BlobStore
	clock   *clock.FakeClock

	calls   atomic.Int64
	failing atomic.Bool
	failErr error
}

func expiredPromotions() policy.Policy {
	return policy.Policy{
		ID: "archive-expired-promos", Name: "archive expired promotions", Enabled: true, Priority: 10,
		Condition: ast.All(
			ast.Compare(ast.OpEq, "category", ast.String("promotions")),
			ast.Compare(ast.OpLt, "expires_at", ast.Now()),
		),
		ActionType:          "archive",
		ConfidenceThreshold: 0.8,
		Reasoning:           "expired promotions are noise",
	}
}

func newFixture(t *testing.T, policies ...policy.Policy) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		audit: evidence.NewMemoryStorage(),
		clock: clock.Fake(epoch),
	}
	var err error
	f.blobs, err = evidence.NewBlobStore(evidence.NewMemoryBlobBackend(), evidence.BlobOptions{Compress: true})
	if err != nil {
		t.Fatal(err)
	}
	recorder := evidence.NewRecorder(f.audit, f.clock, nil).WithBlobs(f.blobs)

	execs := executor.NewRegistry()
	err = execs.Register("archive", executor.Func(func(ctx context.Context, params map[string]any, key string) error {
		f.calls.Add(1)
		if f.failErr != nil {
			return f.failErr
		}
		if f.failing.Load() {
			return executor.Permanent(errors.New("mailbox refused"))
		}
		return nil
	}))
	if err != nil {
		t.Fatal(err)
	}
	dispatcher := executor.NewDispatcher(execs, executor.NewMemoryLedger(), executor.DispatcherConfig{Clock: f.clock})

	eng := engine.NewDefault(f.clock)
	f.reg, err = registry.New(ctx, registry.Config{
		Store:           registry.NewMemoryStore(),
		Recorder:        recorder,
		Clock:           f.clock,
		KnownActionType: func(string) bool { return true },
		KnownScorer:     eng.HasScorer,
	})
	if err != nil {
		t.Fatalf("registry.New() error = %v", err)
	}
	if len(policies) == 0 {
		policies = []policy.Policy{expiredPromotions()}
	}
	if _, err := f.reg.CreateDraft(ctx, registry.DraftRequest{Version: "1.0.0", Policies: policies, Actor: "alice"}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.reg.Activate(ctx, "1.0.0", "", "alice"); err != nil {
		t.Fatal(err)
	}

	f.samples = rollout.NewSamples(time.Hour, f.clock)
	f.svc, err = NewService(ServiceConfig{
		Store:      NewMemoryStore(),
		Router:     f.reg,
		Evaluator:  eng,
		Dispatcher: dispatcher,
		Recorder:   recorder,
		Samples:    f.samples,
		Clock:      f.clock,
	})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return f
}

func expiredPromo(id string) Resource {
	return Resource{ID: id, Context: engine.ContextFromMap(map[string]any{
		"category":   "promotions",
		"expires_at": "2025-01-01T00:00:00Z",
	})}
}

func (f *fixture) propose(t *testing.T, resources ...Resource) *ProposeResult {
	t.Helper()
	res, err := f.svc.Propose(context.Background(), ProposeRequest{Resources: resources, Actor: "system:sync"})
	if err != nil {
		t.Fatalf("Propose() error = %v", err)
	}
	return res
}

func (f *fixture) records(t *testing.T, q evidence.Query) []*evidence.AuditRecord {
	t.Helper()
	recs, err := f.audit.Query(context.Background(), &q)
	if err != nil {
		t.Fatal(err)
	}
	return recs
}

func TestService_ProposeExpiredPromotion(t *testing.T) {
	f := newFixture(t)
	res := f.propose(t, expiredPromo("msg-1"), Resource{
		ID:      "msg-2",
		Context: engine.ContextFromMap(map[string]any{"category": "promotions", "expires_at": "2025-03-01T00:00:00Z"}),
	})

	if res.Evaluated != 2 || len(res.Proposed) != 1 {
		t.Fatalf("Propose() evaluated=%d proposed=%d, want 2 and 1", res.Evaluated, len(res.Proposed))
	}
	if len(res.NoMatch) != 1 || res.NoMatch[0] != "msg-2" {
		t.Errorf("NoMatch = %v, want [msg-2]", res.NoMatch)
	}

	a := res.Proposed[0]
	if a.Status != StatusPending || a.ResourceID != "msg-1" || a.ActionType != "archive" {
		t.Errorf("proposed action = %+v", a)
	}
	if a.Confidence < 0.8 {
		t.Errorf("Confidence = %v, want >= 0.8", a.Confidence)
	}
	if a.BundleVersion != "1.0.0" || a.PolicyID != "archive-expired-promos" {
		t.Errorf("action provenance = %s/%s", a.BundleVersion, a.PolicyID)
	}
	if a.ActionParams[executor.ResourceIDParam] != "msg-1" {
		t.Errorf("ActionParams = %v, want resource_id", a.ActionParams)
	}
	if a.Rationale == "" {
		t.Error("Rationale is empty")
	}

	recs := f.records(t, evidence.Query{Event: evidence.EventProposed})
	if len(recs) != 1 || recs[0].ActionID != a.ID || recs[0].Metadata["policy_id"] != a.PolicyID {
		t.Errorf("proposed audit records = %+v", recs)
	}
	if c := f.samples.Counts("1.0.0"); c.Evaluations != 2 || c.Matches != 1 {
		t.Errorf("samples = %+v, want 2 evaluations with 1 match", c)
	}
}

func TestService_ProposeStoresContextEvidence(t *testing.T) {
	f := newFixture(t)
	a := f.propose(t, expiredPromo("msg-1")).Proposed[0]

	recs := f.records(t, evidence.Query{ActionID: a.ID, Event: evidence.EventProposed})
	if len(recs) != 1 || !evidence.ValidRef(recs[0].EvidenceRef) {
		t.Fatalf("proposed audit records = %+v, want one with an evidence reference", recs)
	}
	data, err := f.blobs.Get(context.Background(), recs[0].EvidenceRef)
	if err != nil {
		t.Fatalf("Get(%s) error = %v", recs[0].EvidenceRef, err)
	}
	if got := evidence.Ref(data); got != recs[0].EvidenceRef {
		t.Errorf("Ref(evidence) = %s, want %s", got, recs[0].EvidenceRef)
	}

	var snap struct {
		ResourceID    string         `json:"resource_id"`
		BundleVersion string         `json:"bundle_version"`
		PolicyID      string         `json:"policy_id"`
		Context       map[string]any `json:"context"`
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("evidence is not JSON: %v", err)
	}
	if snap.ResourceID != "msg-1" || snap.BundleVersion != "1.0.0" || snap.PolicyID != "archive-expired-promos" {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.Context["category"] != "promotions" {
		t.Errorf("snapshot context = %v, want category promotions", snap.Context)
	}
}

func TestService_ProposeRejectsUnknownActionType(t *testing.T) {
	p := expiredPromotions()
	p.ActionType = "shred"
	f := newFixture(t, p)

	_, err := f.svc.Propose(context.Background(), ProposeRequest{Resources: []Resource{expiredPromo("msg-1")}, Actor: "alice"})
	var verr *policy.ValidationError
	if !errors.As(err, &verr) || !errors.Is(err, executor.ErrUnknownActionType) {
		t.Fatalf("Propose() error = %v, want ValidationError for unknown action type", err)
	}
	pending, _ := f.svc.ListPending(context.Background(), 0, 0)
	if len(pending) != 0 {
		t.Errorf("pending = %d, want none created", len(pending))
	}
}

func TestService_ProposeValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, v := range []string{"1.1.0", "2.0.0"} {
		if _, err := f.reg.CreateDraft(ctx, registry.DraftRequest{Version: v, Policies: []policy.Policy{expiredPromotions()}, Actor: "alice"}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := f.reg.CreateCanary(ctx, "1.1.0", "1.0.0", "alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.reg.Rollback(ctx, registry.RollbackRequest{Version: "1.1.0", Expected: "1.0.0", Actor: "alice", Reason: "bad canary"}); err != nil {
		t.Fatal(err)
	}

	promo := []Resource{expiredPromo("msg-1")}
	tests := []struct {
		name       string
		req        ProposeRequest
		validation bool
	}{
		{"no actor", ProposeRequest{Resources: promo}, true},
		{"no resource id", ProposeRequest{Resources: []Resource{{}}, Actor: "alice"}, true},
		{"unknown bundle", ProposeRequest{Resources: promo, Actor: "alice", Bundle: "9.9.9"}, false},
		{"draft bundle", ProposeRequest{Resources: promo, Actor: "alice", Bundle: "2.0.0"}, true},
		{"archived bundle", ProposeRequest{Resources: promo, Actor: "alice", Bundle: "1.1.0"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Propose(ctx, tt.req)
			if err == nil {
				t.Fatal("Propose() error = nil")
			}
			var verr *policy.ValidationError
			if tt.validation && !errors.As(err, &verr) {
				t.Errorf("Propose() error = %v, want ValidationError", err)
			}
		})
	}

	pending, _ := f.svc.ListPending(ctx, 0, 0)
	if len(pending) != 0 {
		t.Errorf("pending = %d, want none created", len(pending))
	}
	for _, v := range []string{"1.1.0", "2.0.0"} {
		if c := f.samples.Counts(v); c.Evaluations != 0 {
			t.Errorf("samples for %s = %+v, want none", v, c)
		}
	}

	res, err := f.svc.Propose(ctx, ProposeRequest{Resources: promo, Actor: "alice", Bundle: "1.0.0"})
	if err != nil || len(res.Proposed) != 1 {
		t.Fatalf("Propose() pinned to the active bundle = %v, %v", res, err)
	}
}

func TestService_ApproveExecutesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.propose(t, expiredPromo("msg-1")).Proposed[0].ID

	res, err := f.svc.Approve(ctx, id, "alice")
	if err != nil {
		t.Fatalf("Approve() error = %v", err)
	}
	if !res.Executed || res.Action.Status != StatusExecuted {
		t.Errorf("Approve() = %+v, want executed", res)
	}
	if res.Action.DecidedBy != "alice" || res.Action.ExecutedAt == nil {
		t.Errorf("action decision fields = %+v", res.Action)
	}
	if got := f.calls.Load(); got != 1 {
		t.Errorf("executor calls = %d, want 1", got)
	}

	recs := f.records(t, evidence.Query{ActionID: id, Event: evidence.EventExecuted})
	if len(recs) != 1 || recs[0].Outcome != evidence.OutcomeSuccess || recs[0].Actor != "alice" {
		t.Errorf("executed audit records = %+v", recs)
	}

	_, err = f.svc.Approve(ctx, id, "alice")
	var npe *NotPendingError
	if !errors.As(err, &npe) || npe.Status != StatusExecuted {
		t.Fatalf("second Approve() error = %v, want NotPendingError", err)
	}
	if got := f.calls.Load(); got != 1 {
		t.Errorf("executor calls after second approve = %d, want 1", got)
	}
}

func TestService_ConcurrentApprove(t *testing.T) {
	f := newFixture(t)
	id := f.propose(t, expiredPromo("msg-1")).Proposed[0].ID

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int64
		conflicts atomic.Int64
	)
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Approve(context.Background(), id, fmt.Sprintf("operator-%d", i))
			var npe *NotPendingError
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.As(err, &npe):
				conflicts.Add(1)
			default:
				t.Errorf("Approve() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded.Load() != 1 || conflicts.Load() != 7 {
		t.Errorf("succeeded=%d conflicts=%d, want 1 and 7", succeeded.Load(), conflicts.Load())
	}
	if got := f.calls.Load(); got != 1 {
		t.Errorf("executor calls = %d, want 1", got)
	}
}

func TestService_ApproveRecordsFailure(t *testing.T) {
	f := newFixture(t)
	f.failing.Store(true)
	id := f.propose(t, expiredPromo("msg-1")).Proposed[0].ID

	res, err := f.svc.Approve(context.Background(), id, "alice")
	if err != nil {
		t.Fatalf("Approve() error = %v", err)
	}
	if res.Executed || res.Action.Status != StatusFailed || res.Action.Error == "" {
		t.Errorf("Approve() = %+v, want failed with error", res.Action)
	}
	if res.ErrorKind != string(executor.KindPermanent) || res.Attempts != 1 {
		t.Errorf("error kind=%s attempts=%d, want permanent after 1 attempt", res.ErrorKind, res.Attempts)
	}

	recs := f.records(t, evidence.Query{ActionID: id, Event: evidence.EventFailed})
	if len(recs) != 1 || recs[0].Outcome != evidence.OutcomeFailure || recs[0].Error == "" {
		t.Errorf("failed audit records = %+v", recs)
	}
	if c := f.samples.Counts("1.0.0"); c.Executions != 1 || c.Failures != 1 || c.Approved != 1 {
		t.Errorf("samples = %+v", c)
	}
}

func TestService_ApproveStoresFailureDetail(t *testing.T) {
	f := newFixture(t)
	f.failErr = &executor.StatusError{URL: "https://mail.internal/archive", StatusCode: 404, Body: `{"error":"message not found"}`}
	id := f.propose(t, expiredPromo("msg-1")).Proposed[0].ID

	res, err := f.svc.Approve(context.Background(), id, "alice")
	if err != nil {
		t.Fatalf("Approve() error = %v", err)
	}
	if res.Action.Status != StatusFailed || res.ErrorKind != string(executor.KindPermanent) {
		t.Errorf("Approve() = %+v, want permanent failure", res)
	}

	recs := f.records(t, evidence.Query{ActionID: id, Event: evidence.EventFailed})
	if len(recs) != 1 || recs[0].Metadata["status_code"] != "404" {
		t.Fatalf("failed audit records = %+v", recs)
	}
	data, err := f.blobs.Get(context.Background(), recs[0].EvidenceRef)
	if err != nil {
		t.Fatalf("Get(%q) error = %v", recs[0].EvidenceRef, err)
	}
	if string(data) != `{"error":"message not found"}` {
		t.Errorf("failure evidence = %q", data)
	}
}

func TestService_Reject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.propose(t, expiredPromo("msg-1")).Proposed[0].ID

	a, err := f.svc.Reject(ctx, id, "bob", "keep it")
	if err != nil {
		t.Fatalf("Reject() error = %v", err)
	}
	if a.Status != StatusRejected || a.DecidedBy != "bob" {
		t.Errorf("Reject() = %+v", a)
	}
	if got := f.calls.Load(); got != 0 {
		t.Errorf("executor calls = %d, want 0", got)
	}

	recs := f.records(t, evidence.Query{ActionID: id, Event: evidence.EventRejected})
	if len(recs) != 1 || recs[0].Outcome != evidence.OutcomeNoop || recs[0].Metadata["reason"] != "keep it" {
		t.Errorf("rejected audit records = %+v", recs)
	}

	if _, err := f.svc.Approve(ctx, id, "alice"); err == nil {
		t.Error("Approve() of a rejected action succeeded")
	}
	if c := f.samples.Counts("1.0.0"); c.Rejected != 1 {
		t.Errorf("rejections = %d, want 1", c.Rejected)
	}
}

func TestService_TestDraftBundle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := expiredPromotions()
	p.ID = "archive-all-promos"
	p.Condition = ast.Compare(ast.OpEq, "category", ast.String("promotions"))
	if _, err := f.reg.CreateDraft(ctx, registry.DraftRequest{Version: "1.1.0", Policies: []policy.Policy{p}, Actor: "alice"}); err != nil {
		t.Fatal(err)
	}

	contexts := []engine.Context{
		expiredPromo("x").Context,
		engine.ContextFromMap(map[string]any{"category": "updates"}),
	}
	got, err := f.svc.Test(ctx, "1.1.0", contexts)
	if err != nil {
		t.Fatalf("Test() error = %v", err)
	}
	if len(got) != 2 || !got[0].Matched || got[0].PolicyID != "archive-all-promos" || got[1].Matched {
		t.Errorf("Test() = %+v", got)
	}
	if c := f.samples.Counts("1.1.0"); c.Evaluations != 0 {
		t.Errorf("Test() recorded %d samples", c.Evaluations)
	}
	pending, _ := f.svc.ListPending(ctx, 0, 0)
	if len(pending) != 0 {
		t.Errorf("Test() created %d actions", len(pending))
	}

	if _, err := f.svc.Test(ctx, "7.0.0", contexts); !policy.IsNotFound(err) {
		t.Errorf("Test() of unknown bundle error = %v, want not found", err)
	}
}

func TestService_ListPendingPages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := range 5 {
		f.propose(t, expiredPromo(fmt.Sprintf("msg-%d", i)))
		f.clock.Advance(time.Second)
	}
	page, err := f.svc.ListPending(ctx, 2, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || page[0].ResourceID != "msg-1" || page[1].ResourceID != "msg-2" {
		t.Errorf("ListPending(2, 1) = %v", page)
	}
}

func TestService_ProposeQuery(t *testing.T) {
	f := newFixture(t)
	src := ResourceSourceFunc(func(_ context.Context, query string) ([]Resource, error) {
		if query != "in:inbox" {
			return nil, fmt.Errorf("unsupported query %q", query)
		}
		return []Resource{expiredPromo("msg-7")}, nil
	})
	res, err := f.svc.ProposeQuery(context.Background(), src, "in:inbox", "alice")
	if err != nil || len(res.Proposed) != 1 {
		t.Fatalf("ProposeQuery() = %v, %v", res, err)
	}
	if _, err := f.svc.ProposeQuery(context.Background(), src, "bogus", "alice"); err == nil {
		t.Error("ProposeQuery() error = nil for a failing source")
	}
}
