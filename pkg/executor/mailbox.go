package executor

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// Built-in action types.
const (
	ActionArchive     = "archive"
	ActionLabel       = "label"
	ActionQuarantine  = "quarantine"
	ActionUnsubscribe = "unsubscribe"
	ActionNotify      = "notify"
	ActionWebhook     = "webhook"
)

// Mailbox is the mail provider the built-in executors act on. It is
// implemented outside the governor; every method receives the idempotency
// key so the provider can deduplicate.
type Mailbox interface {
	Archive(ctx context.Context, messageID, idempotencyKey string) error
	Label(ctx context.Context, messageID string, labels []string, idempotencyKey string) error
	Quarantine(ctx context.Context, messageID, reason, idempotencyKey string) error
	Unsubscribe(ctx context.Context, messageID, idempotencyKey string) error
}

// HTTPMailbox is a Mailbox that forwards each operation to a mail provider
// bridge as a webhook call to <base>/<action type>.
type HTTPMailbox struct {
	ops map[string]*WebhookExecutor
}

// NewHTTPMailbox creates a mailbox posting to base.
func NewHTTPMailbox(base string, headers map[string]string, client *http.Client) *HTTPMailbox {
	base = strings.TrimRight(base, "/")
	m := &HTTPMailbox{ops: make(map[string]*WebhookExecutor, 4)}
	for _, op := range []string{ActionArchive, ActionLabel, ActionQuarantine, ActionUnsubscribe} {
		m.ops[op] = NewWebhookExecutor(op, base+"/"+op, headers, client)
	}
	return m
}

func (m *HTTPMailbox) Archive(ctx context.Context, messageID, idempotencyKey string) error {
	return m.ops[ActionArchive].Execute(ctx, map[string]any{"message_id": messageID}, idempotencyKey)
}

func (m *HTTPMailbox) Label(ctx context.Context, messageID string, labels []string, idempotencyKey string) error {
	return m.ops[ActionLabel].Execute(ctx, map[string]any{"message_id": messageID, "labels": labels}, idempotencyKey)
}

func (m *HTTPMailbox) Quarantine(ctx context.Context, messageID, reason, idempotencyKey string) error {
	return m.ops[ActionQuarantine].Execute(ctx, map[string]any{"message_id": messageID, "reason": reason}, idempotencyKey)
}

func (m *HTTPMailbox) Unsubscribe(ctx context.Context, messageID, idempotencyKey string) error {
	return m.ops[ActionUnsubscribe].Execute(ctx, map[string]any{"message_id": messageID}, idempotencyKey)
}

// RegisterMailbox registers the archive, label, quarantine and unsubscribe
// executors over mb.
func RegisterMailbox(r *Registry, mb Mailbox) error {
	executors := map[string]Executor{
		ActionArchive: Func(func(ctx context.Context, params map[string]any, key string) error {
			id, err := messageID(params)
			if err != nil {
				return err
			}
			return mb.Archive(ctx, id, key)
		}),
		ActionLabel: Func(func(ctx context.Context, params map[string]any, key string) error {
			id, err := messageID(params)
			if err != nil {
				return err
			}
			labels, err := stringList(params, "labels", "label")
			if err != nil {
				return err
			}
			return mb.Label(ctx, id, labels, key)
		}),
		ActionQuarantine: Func(func(ctx context.Context, params map[string]any, key string) error {
			id, err := messageID(params)
			if err != nil {
				return err
			}
			reason, _ := params["reason"].(string)
			return mb.Quarantine(ctx, id, reason, key)
		}),
		ActionUnsubscribe: Func(func(ctx context.Context, params map[string]any, key string) error {
			id, err := messageID(params)
			if err != nil {
				return err
			}
			return mb.Unsubscribe(ctx, id, key)
		}),
	}
	for _, t := range []string{ActionArchive, ActionLabel, ActionQuarantine, ActionUnsubscribe} {
		if err := r.Register(t, executors[t]); err != nil {
			return err
		}
	}
	return nil
}

// ResourceIDParam is the action parameter carrying the resource the action
// was proposed for. The actions service sets it before dispatch.
const ResourceIDParam = "resource_id"

func messageID(params map[string]any) (string, error) {
	for _, k := range []string{"message_id", ResourceIDParam} {
		if v, ok := params[k].(string); ok && v != "" {
			return v, nil
		}
	}
	return "", Permanent(fmt.Errorf("missing message_id parameter"))
}

// stringList reads a list of strings from params under the first present
// key. A single string is accepted as a one-element list.
func stringList(params map[string]any, keys ...string) ([]string, error) {
	for _, k := range keys {
		switch v := params[k].(type) {
		case nil:
			continue
		case string:
			return []string{v}, nil
		case []string:
			return v, nil
		case []any:
			out := make([]string, 0, len(v))
			for _, item := range v {
				s, ok := item.(string)
				if !ok {
					return nil, Permanent(fmt.Errorf("%s: expected strings, got %T", k, item))
				}
				out = append(out, s)
			}
			return out, nil
		default:
			return nil, Permanent(fmt.Errorf("%s: expected list of strings, got %T", k, v))
		}
	}
	return nil, Permanent(fmt.Errorf("missing %s parameter", strings.Join(keys, " or ")))
}
