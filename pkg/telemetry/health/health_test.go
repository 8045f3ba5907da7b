package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"jobmail-hq/governor/pkg/clock"
)

var testTime = time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)

func TestCheckLiveness(t *testing.T) {
	checker := New(0, clock.Fake(testTime))

	status := checker.CheckLiveness(context.Background())
	if status.Status != StatusOK {
		t.Errorf("status = %q", status.Status)
	}
	if !status.Timestamp.Equal(testTime) {
		t.Errorf("timestamp = %v, want %v", status.Timestamp, testTime)
	}
	if checker.checkTimeout != 5*time.Second {
		t.Errorf("default timeout = %v", checker.checkTimeout)
	}
}

func TestCheckReadiness(t *testing.T) {
	tests := []struct {
		name   string
		checks map[string]CheckFunc
		want   string
	}{
		{"no checks", nil, StatusReady},
		{
			name: "all healthy",
			checks: map[string]CheckFunc{
				"database":      func(context.Context) error { return nil },
				"active_bundle": ActiveBundleCheck(func() bool { return true }),
			},
			want: StatusReady,
		},
		{
			name: "no active bundle",
			checks: map[string]CheckFunc{
				"database":      func(context.Context) error { return nil },
				"active_bundle": ActiveBundleCheck(func() bool { return false }),
			},
			want: StatusDegraded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := New(time.Second, nil)
			for name, check := range tt.checks {
				checker.RegisterCheck(name, check)
			}

			status := checker.CheckReadiness(context.Background())
			if status.Status != tt.want {
				t.Errorf("status = %q, want %q", status.Status, tt.want)
			}
			if len(status.Checks) != len(tt.checks) {
				t.Errorf("got %d results, want %d", len(status.Checks), len(tt.checks))
			}
		})
	}
}

func TestCheckReadiness_Timeout(t *testing.T) {
	checker := New(20*time.Millisecond, nil)
	checker.RegisterCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		return nil
	})

	status := checker.CheckReadiness(context.Background())
	result := status.Checks["slow"]
	if result.Status != StatusUnhealthy || result.Message != ErrCheckTimeout.Error() {
		t.Errorf("result = %+v", result)
	}
}

type fakePinger struct{ err error }

func (p fakePinger) PingContext(context.Context) error { return p.err }

func TestPingCheck(t *testing.T) {
	if err := PingCheck(fakePinger{})(context.Background()); err != nil {
		t.Errorf("healthy ping returned %v", err)
	}
	want := errors.New("database is locked")
	if err := PingCheck(fakePinger{err: want})(context.Background()); !errors.Is(err, want) {
		t.Errorf("PingCheck() = %v, want %v", err, want)
	}
}

func TestRegisterAndListChecks(t *testing.T) {
	checker := New(0, nil)
	checker.RegisterCheck("b", func(context.Context) error { return nil })
	checker.RegisterCheck("a", func(context.Context) error { return nil })

	names := checker.ListChecks()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("ListChecks() = %v", names)
	}

	checker.UnregisterCheck("a")
	if len(checker.ListChecks()) != 1 {
		t.Error("UnregisterCheck did not remove the check")
	}
}

func TestReadinessHandler(t *testing.T) {
	checker := New(time.Second, nil)
	checker.RegisterCheck("active_bundle", ActiveBundleCheck(func() bool { return false }))

	rec := httptest.NewRecorder()
	checker.ReadinessHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status code = %d, want 503", rec.Code)
	}

	var body HealthStatus
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Checks["active_bundle"].Message != ErrNoActiveBundle.Error() {
		t.Errorf("body = %+v", body)
	}
}

func TestHandlers_MethodNotAllowed(t *testing.T) {
	checker := New(0, nil)

	handlers := []http.HandlerFunc{
		checker.LivenessHandler(),
		checker.ReadinessHandler(),
		VersionHandler("1.0.0", "abc", "now"),
	}
	for _, h := range handlers {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("POST status = %d", rec.Code)
		}
	}
}

func TestVersionHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	VersionHandler("1.2.3", "abc123", "2025-01-01").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/version", nil))

	var info VersionInfo
	if err := json.NewDecoder(rec.Body).Decode(&info); err != nil {
		t.Fatal(err)
	}
	if info.Version != "1.2.3" || info.Commit != "abc123" || info.GoVersion == "" {
		t.Errorf("info = %+v", info)
	}
}
