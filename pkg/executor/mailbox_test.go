package executor

import (
	"context"
	"errors"
	"slices"
	"testing"
)

type mailboxCall struct {
	op     string
	id     string
	labels []string
	reason string
	key    string
}

type recordingMailbox struct {
	calls []mailboxCall
}

func (m *recordingMailbox) Archive(_ context.Context, id, key string) error {
	m.calls = append(m.calls, mailboxCall{op: "archive", id: id, key: key})
	return nil
}

func (m *recordingMailbox) Label(_ context.Context, id string, labels []string, key string) error {
	m.calls = append(m.calls, mailboxCall{op: "label", id: id, labels: labels, key: key})
	return nil
}

func (m *recordingMailbox) Quarantine(_ context.Context, id, reason, key string) error {
	m.calls = append(m.calls, mailboxCall{op: "quarantine", id: id, reason: reason, key: key})
	return nil
}

func (m *recordingMailbox) Unsubscribe(_ context.Context, id, key string) error {
	m.calls = append(m.calls, mailboxCall{op: "unsubscribe", id: id, key: key})
	return nil
}

func TestMailboxExecutors(t *testing.T) {
	mb := &recordingMailbox{}
	r := NewRegistry()
	if err := RegisterMailbox(r, mb); err != nil {
		t.Fatalf("RegisterMailbox() error = %v", err)
	}
	want := []string{ActionArchive, ActionLabel, ActionQuarantine, ActionUnsubscribe}
	if got := r.Types(); !slices.Equal(got, want) {
		t.Errorf("Types() = %v, want %v", got, want)
	}

	ctx := context.Background()
	run := func(actionType string, params map[string]any) error {
		e, _ := r.Get(actionType)
		return e.Execute(ctx, params, "key-"+actionType)
	}

	if err := run(ActionArchive, map[string]any{ResourceIDParam: "msg-1"}); err != nil {
		t.Fatal(err)
	}
	if err := run(ActionLabel, map[string]any{"message_id": "msg-2", "labels": []any{"jobs", "recruiter"}}); err != nil {
		t.Fatal(err)
	}
	if err := run(ActionQuarantine, map[string]any{ResourceIDParam: "msg-3", "reason": "phishing"}); err != nil {
		t.Fatal(err)
	}
	if err := run(ActionUnsubscribe, map[string]any{ResourceIDParam: "msg-4"}); err != nil {
		t.Fatal(err)
	}

	if len(mb.calls) != 4 {
		t.Fatalf("mailbox calls = %d, want 4", len(mb.calls))
	}
	if c := mb.calls[0]; c.op != "archive" || c.id != "msg-1" || c.key != "key-archive" {
		t.Errorf("archive call = %+v", c)
	}
	if c := mb.calls[1]; c.id != "msg-2" || !slices.Equal(c.labels, []string{"jobs", "recruiter"}) {
		t.Errorf("label call = %+v", c)
	}
	if c := mb.calls[2]; c.reason != "phishing" {
		t.Errorf("quarantine call = %+v", c)
	}
}

func TestMailboxExecutors_BadParams(t *testing.T) {
	r := NewRegistry()
	if err := RegisterMailbox(r, &recordingMailbox{}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name       string
		actionType string
		params     map[string]any
	}{
		{"archive without id", ActionArchive, map[string]any{}},
		{"label without labels", ActionLabel, map[string]any{"message_id": "m"}},
		{"label with numbers", ActionLabel, map[string]any{"message_id": "m", "labels": []any{1, 2}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := r.Get(tt.actionType)
			err := e.Execute(context.Background(), tt.params, "k")
			if err == nil {
				t.Fatal("Execute() should fail")
			}
			if Classify(err) != KindPermanent {
				t.Errorf("Classify() = %q, want permanent", Classify(err))
			}
			if errors.Is(err, context.DeadlineExceeded) {
				t.Error("unexpected deadline error")
			}
		})
	}
}
