package executor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"jobmail-hq/governor/pkg/config"
)

func TestWebhookExecutor_Success(t *testing.T) {
	var (
		mu      sync.Mutex
		gotKey  string
		gotAuth string
		payload webhookPayload
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotKey = r.Header.Get(IdempotencyKeyHeader)
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	exec := NewWebhookExecutor(ActionNotify, srv.URL, map[string]string{"Authorization": "Bearer t"}, srv.Client())
	err := exec.Execute(context.Background(), map[string]any{"channel": "#jobs"}, "act-42")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if gotKey != "act-42" {
		t.Errorf("Idempotency-Key = %q, want act-42", gotKey)
	}
	if gotAuth != "Bearer t" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if payload.ActionType != ActionNotify || payload.IdempotencyKey != "act-42" {
		t.Errorf("payload = %+v", payload)
	}
	if payload.Params["channel"] != "#jobs" {
		t.Errorf("payload params = %v", payload.Params)
	}
}

func TestWebhookExecutor_StatusClassification(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorKind
	}{
		{http.StatusBadRequest, KindPermanent},
		{http.StatusUnauthorized, KindPermanent},
		{http.StatusTooManyRequests, KindTransient},
		{http.StatusInternalServerError, KindTransient},
		{http.StatusServiceUnavailable, KindTransient},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			err := NewWebhookExecutor(ActionWebhook, srv.URL, nil, srv.Client()).
				Execute(context.Background(), nil, "k")
			var se *StatusError
			if !errors.As(err, &se) || se.StatusCode != tt.status {
				t.Fatalf("error = %v, want StatusError %d", err, tt.status)
			}
			if se.Body != "nope" {
				t.Errorf("Body = %q, want nope", se.Body)
			}
			if got := Classify(err); got != tt.want {
				t.Errorf("Classify() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWebhookExecutor_ConnectionRefusedIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := NewWebhookExecutor(ActionWebhook, url, nil, nil).Execute(context.Background(), nil, "k")
	if err == nil {
		t.Fatal("Execute() should fail against a closed server")
	}
	if Classify(err) != KindTransient {
		t.Errorf("Classify() = %q, want transient", Classify(err))
	}
}

func TestDispatcher_WebhookRetriedOnce(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := NewRegistry()
	if err := RegisterBuiltins(r, config.ExecutorConfig{Webhook: config.WebhookConfig{URL: srv.URL}}, nil, srv.Client()); err != nil {
		t.Fatalf("RegisterBuiltins() error = %v", err)
	}
	r.Freeze()
	d := NewDispatcher(r, nil, DispatcherConfig{Timeout: 5 * time.Second})

	if err := d.Execute(context.Background(), ActionWebhook, map[string]any{"k": "v"}, "act-1"); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("server calls = %d, want 2", got)
	}
}

func TestRegisterBuiltins_SkipsUnconfigured(t *testing.T) {
	r := NewRegistry()
	if err := RegisterBuiltins(r, config.ExecutorConfig{}, nil, nil); err != nil {
		t.Fatal(err)
	}
	if len(r.Types()) != 0 {
		t.Errorf("Types() = %v, want none", r.Types())
	}
}

func TestRegisterBuiltins_HTTPMailbox(t *testing.T) {
	type call struct {
		path, key string
		payload   webhookPayload
	}
	var (
		mu    sync.Mutex
		calls []call
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var c call
		c.path = r.URL.Path
		c.key = r.Header.Get(IdempotencyKeyHeader)
		if err := json.NewDecoder(r.Body).Decode(&c.payload); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		calls = append(calls, c)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	r := NewRegistry()
	cfg := config.ExecutorConfig{Mailbox: config.WebhookConfig{URL: srv.URL + "/mail/"}}
	if err := RegisterBuiltins(r, cfg, nil, srv.Client()); err != nil {
		t.Fatalf("RegisterBuiltins() error = %v", err)
	}
	for _, typ := range []string{ActionArchive, ActionLabel, ActionQuarantine, ActionUnsubscribe} {
		if !r.Has(typ) {
			t.Errorf("%s not registered", typ)
		}
	}

	label, _ := r.Get(ActionLabel)
	if err := label.Execute(context.Background(), map[string]any{ResourceIDParam: "msg-7", "labels": []any{"jobs"}}, "act-7"); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(calls))
	}
	c := calls[0]
	if c.path != "/mail/label" || c.key != "act-7" {
		t.Errorf("request path=%s key=%s", c.path, c.key)
	}
	if c.payload.ActionType != ActionLabel || c.payload.Params["message_id"] != "msg-7" {
		t.Errorf("payload = %+v", c.payload)
	}
	if labels, _ := c.payload.Params["labels"].([]any); len(labels) != 1 || labels[0] != "jobs" {
		t.Errorf("labels = %v", c.payload.Params["labels"])
	}
}
