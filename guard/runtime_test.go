package guard

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonwraymond/callguard/config"
	"github.com/jonwraymond/callguard/failure"
	"github.com/jonwraymond/callguard/health"
	"github.com/jonwraymond/callguard/resilience"
	"github.com/jonwraymond/callguard/secret"
)

var errBoom = errors.New("boom")

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.env"))
	if err != nil {
		t.Fatal(err)
	}
	cfg.Log.Enabled = false
	cfg.Cache.Dir = t.TempDir()
	cfg.Errors.LogDir = t.TempDir()
	cfg.Errors.RetryUnit = time.Millisecond
	cfg.Breaker.FailureThreshold = 2
	cfg.Breaker.OpenTimeout = time.Hour
	return cfg
}

func newTestRuntime(t *testing.T, cfg config.Config) *Runtime {
	t.Helper()
	rt, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = rt.Stop(context.Background()) })
	return rt
}

func TestNew_InstallsDefaultHandler(t *testing.T) {
	rt := newTestRuntime(t, testConfig(t))
	if failure.Default() != rt.Handler() {
		t.Fatal("runtime handler is not the process default")
	}
	if err := rt.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	if failure.Default() == rt.Handler() {
		t.Error("Stop did not reset the process default")
	}
	failure.ResetDefault()
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.Strategy = "redis"
	if _, err := New(context.Background(), cfg); err == nil {
		t.Fatal("New() accepted an invalid config")
	}
}

func TestRuntime_Cache(t *testing.T) {
	cfg := testConfig(t)
	rt := newTestRuntime(t, cfg)

	a, err := rt.Cache("github")
	if err != nil {
		t.Fatalf("Cache() error = %v", err)
	}
	b, _ := rt.Cache("github")
	if a != b {
		t.Error("same name returned different caches")
	}
	if _, err := os.Stat(filepath.Join(cfg.Cache.Dir, "github")); err != nil {
		t.Errorf("cache dir not created: %v", err)
	}

	for _, name := range []string{"", "../up", "a/b", ".hidden"} {
		if _, err := rt.Cache(name); !errors.Is(err, ErrInvalidCacheName) {
			t.Errorf("Cache(%q) error = %v, want ErrInvalidCacheName", name, err)
		}
	}

	ctx := context.Background()
	if err := a.Set(ctx, "repo:a/b", []byte("data"), 0); err != nil {
		t.Fatal(err)
	}
	if v, ok := a.Get(ctx, "repo:a/b"); !ok || string(v) != "data" {
		t.Errorf("Get() = %q, %v", v, ok)
	}
}

func TestRuntime_StartStop(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.SweepInterval = time.Millisecond
	rt := newTestRuntime(t, cfg)
	ctx := context.Background()

	if _, err := rt.Cache("before"); err != nil {
		t.Fatal(err)
	}
	rt.Start(ctx)
	rt.Start(ctx)
	if _, err := rt.Cache("after"); err != nil {
		t.Fatal(err)
	}

	if err := rt.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := rt.Stop(ctx); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
	if _, err := rt.Cache("late"); !errors.Is(err, ErrStopped) {
		t.Errorf("Cache() after Stop error = %v, want ErrStopped", err)
	}
}

func TestProtect_Success(t *testing.T) {
	rt := newTestRuntime(t, testConfig(t))
	got, err := Protect(context.Background(), rt, Call{Service: "github", Category: failure.CategoryNetwork},
		func(context.Context) (string, error) { return "ok", nil })
	if err != nil || got != "ok" {
		t.Fatalf("Protect() = %q, %v", got, err)
	}
	if n := len(rt.Handler().History()); n != 0 {
		t.Errorf("history = %d records, want 0", n)
	}
}

func TestProtect_BreakerStopsRetries(t *testing.T) {
	rt := newTestRuntime(t, testConfig(t))
	ctx := context.Background()
	call := Call{Service: "github", Name: "FetchRepo", Category: failure.CategoryNetwork, Severity: failure.SeverityMedium}

	calls := 0
	op := func(context.Context) (int, error) {
		calls++
		return 0, errBoom
	}

	_, err := Protect(ctx, rt, call, op)
	if !resilience.IsCircuitOpen(err) {
		t.Fatalf("Protect() error = %v, want circuit open", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2 before the breaker opened", calls)
	}

	_, err = Protect(ctx, rt, call, op)
	if !resilience.IsCircuitOpen(err) || calls != 2 {
		t.Errorf("second Protect() = %v after %d calls, want short-circuit", err, calls)
	}

	history := rt.Handler().History()
	if len(history) != 2 {
		t.Fatalf("history = %d records, want 2", len(history))
	}
	if history[0].Module != "github" || history[0].Function != "FetchRepo" {
		t.Errorf("record = %+v", history[0])
	}

	if got := rt.Health(ctx); got.Status != health.StatusUnhealthy {
		t.Errorf("Health() = %v, want unhealthy with the only breaker open", got.Status)
	}
}

func TestProtect_NoService(t *testing.T) {
	rt := newTestRuntime(t, testConfig(t))
	calls := 0
	err := func() error {
		_, err := Protect(context.Background(), rt, Call{Category: failure.CategoryBusinessLogic},
			func(context.Context) (struct{}, error) {
				calls++
				return struct{}{}, errBoom
			})
		return err
	}()
	if !errors.Is(err, errBoom) || calls != 1 {
		t.Fatalf("Protect() = %v after %d calls", err, calls)
	}
	if len(rt.Breakers().Names()) != 0 {
		t.Error("a breaker was created without a service")
	}
}

func TestProtect_AttemptTimeout(t *testing.T) {
	rt := newTestRuntime(t, testConfig(t))
	call := Call{Service: "slow", Timeout: 10 * time.Millisecond, Category: failure.CategoryBusinessLogic}

	_, err := Protect(context.Background(), rt, call, func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})

	var te *resilience.TimeoutError
	if !errors.As(err, &te) || !errors.Is(err, resilience.ErrTimeout) {
		t.Fatalf("Protect() error = %v, want *resilience.TimeoutError", err)
	}
	if got := rt.Breakers().Get("slow").Metrics().Failures; got != 1 {
		t.Errorf("breaker failures = %d, want the timeout counted once", got)
	}
	if history := rt.Handler().History(); len(history) != 1 {
		t.Errorf("history = %d records, want 1", len(history))
	}
}

func TestProtect_RateLimited(t *testing.T) {
	rt := newTestRuntime(t, testConfig(t))
	call := Call{
		Name:        "Search",
		Category:    failure.CategoryBusinessLogic,
		RateLimiter: resilience.NewRateLimiter(resilience.RateLimiterConfig{Rate: 0.001, Burst: 1}),
	}

	calls := 0
	op := func(context.Context) (int, error) {
		calls++
		return calls, nil
	}
	if got, err := Protect(context.Background(), rt, call, op); err != nil || got != 1 {
		t.Fatalf("first Protect() = %d, %v", got, err)
	}
	if _, err := Protect(context.Background(), rt, call, op); !errors.Is(err, resilience.ErrRateLimitExceeded) {
		t.Fatalf("second Protect() error = %v, want ErrRateLimitExceeded", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestProtect_Bulkhead(t *testing.T) {
	rt := newTestRuntime(t, testConfig(t))
	call := Call{
		Service:  "db",
		Category: failure.CategoryBusinessLogic,
		Bulkhead: resilience.NewBulkhead(resilience.BulkheadConfig{MaxConcurrent: 1}),
	}

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := Protect(context.Background(), rt, call, func(context.Context) (string, error) {
			close(started)
			<-release
			return "rows", nil
		})
		done <- err
	}()
	<-started

	_, err := Protect(context.Background(), rt, call, func(context.Context) (string, error) {
		return "", nil
	})
	if !errors.Is(err, resilience.ErrBulkheadFull) {
		t.Errorf("concurrent Protect() error = %v, want ErrBulkheadFull", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first Protect() error = %v", err)
	}
	if got := call.Bulkhead.Metrics(); got.Rejected != 1 {
		t.Errorf("bulkhead metrics = %+v, want one rejection", got)
	}
}

func TestRuntime_Health(t *testing.T) {
	rt := newTestRuntime(t, testConfig(t))
	if _, err := rt.Cache("github"); err != nil {
		t.Fatal(err)
	}
	rt.Breakers().Get("github")

	report := rt.Health(context.Background())
	if report.Status != health.StatusHealthy {
		t.Errorf("Status = %v, want healthy", report.Status)
	}
	for _, name := range []string{"circuit_breakers", "cache.github"} {
		if _, ok := report.Checks[name]; !ok {
			t.Errorf("missing check %q", name)
		}
	}
}

func TestRuntime_AlertWebhook(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	t.Setenv("CALLGUARD_TEST_WEBHOOK", srv.URL)
	cfg := testConfig(t)
	cfg.Errors.AlertWebhookURL = "secretref:env:CALLGUARD_TEST_WEBHOOK"
	rt := newTestRuntime(t, cfg)

	_ = rt.Handler().Execute(context.Background(), func(context.Context) error { return errBoom },
		failure.CategoryBusinessLogic, failure.SeverityHigh, failure.ErrorInfo{})
	if got := hits.Load(); got != 1 {
		t.Errorf("webhook hits = %d, want 1", got)
	}
}

func TestNew_UnresolvableWebhook(t *testing.T) {
	cfg := testConfig(t)
	cfg.Errors.AlertWebhookURL = "secretref:env:CALLGUARD_TEST_NOT_SET"
	if _, err := New(context.Background(), cfg); !errors.Is(err, secret.ErrNotFound) {
		t.Fatalf("New() error = %v, want secret.ErrNotFound", err)
	}
}
