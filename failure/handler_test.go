package failure

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonwraymond/callguard/observe"
	"github.com/jonwraymond/callguard/resilience"
)

var errBoom = errors.New("boom")

type alertRecorder struct {
	mu      sync.Mutex
	records []Record
	err     error
}

func (a *alertRecorder) alert(_ context.Context, rec Record) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, rec)
	return a.err
}

func (a *alertRecorder) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.records)
}

func newTestHandler(t *testing.T, opts Options) *Handler {
	t.Helper()
	if opts.LogDir == "" {
		opts.LogDir = t.TempDir()
	}
	if opts.RetryUnit == 0 {
		opts.RetryUnit = time.Millisecond
	}
	return New(opts)
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("invalid log line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestHandleError_Persists(t *testing.T) {
	h := newTestHandler(t, Options{})
	ctx := context.Background()

	rec := h.HandleError(ctx, errBoom, ErrorInfo{Function: "Sync"}, SeverityMedium, CategoryNetwork)

	day, err := h.Store().Load(rec.Timestamp)
	if err != nil {
		t.Fatal(err)
	}
	if len(day) != 1 || day[0].ErrorID != rec.ErrorID {
		t.Fatalf("day file = %+v, want record %s", day, rec.ErrorID)
	}
	if got := h.History(); len(got) != 1 || got[0].ErrorID != rec.ErrorID {
		t.Fatalf("History() = %+v", got)
	}
}

func TestHandleError_LogLevelBySeverity(t *testing.T) {
	tests := []struct {
		severity Severity
		level    string
	}{
		{SeverityLow, "info"},
		{SeverityMedium, "warn"},
		{SeverityHigh, "error"},
		{SeverityCritical, "critical"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.severity.String(), func(t *testing.T) {
			var buf bytes.Buffer
			h := newTestHandler(t, Options{Logger: observe.NewLoggerWithWriter("debug", &buf)})
			h.HandleError(context.Background(), errBoom, ErrorInfo{}, tt.severity, CategorySystem)

			lines := decodeLines(t, &buf)
			if len(lines) != 2 {
				t.Fatalf("got %d log lines, want 2: %s", len(lines), buf.String())
			}
			if lines[0]["level"] != tt.level {
				t.Errorf("level = %v, want %s", lines[0]["level"], tt.level)
			}
			if lines[1]["level"] != "debug" || lines[1]["record"] == nil {
				t.Errorf("full record not logged at debug: %v", lines[1])
			}
		})
	}
}

func TestHandleError_AlertsOnlyHighAndCritical(t *testing.T) {
	rec := &alertRecorder{}
	h := newTestHandler(t, Options{Alert: rec.alert})
	ctx := context.Background()

	for _, s := range []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical} {
		h.HandleError(ctx, errBoom, ErrorInfo{}, s, CategorySystem)
	}
	if got := rec.count(); got != 2 {
		t.Fatalf("alerts = %d, want 2", got)
	}
	if rec.records[0].Severity != SeverityHigh || rec.records[1].Severity != SeverityCritical {
		t.Errorf("alerted severities = %v, %v", rec.records[0].Severity, rec.records[1].Severity)
	}
}

func TestHandleError_AlertFailureSwallowed(t *testing.T) {
	var buf bytes.Buffer
	rec := &alertRecorder{err: errors.New("slack down")}
	h := newTestHandler(t, Options{
		Alert:  rec.alert,
		Logger: observe.NewLoggerWithWriter("warn", &buf),
	})

	got := h.HandleError(context.Background(), errBoom, ErrorInfo{}, SeverityCritical, CategorySystem)
	if got.ErrorID == "" {
		t.Fatal("no record returned")
	}
	if !strings.Contains(buf.String(), "failed to deliver alert") {
		t.Errorf("alert failure not logged: %s", buf.String())
	}
}

func TestHandleError_PersistFailureLogged(t *testing.T) {
	var buf bytes.Buffer
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	h := New(Options{LogDir: blocker, Logger: observe.NewLoggerWithWriter("error", &buf)})

	h.HandleError(context.Background(), errBoom, ErrorInfo{}, SeverityLow, CategorySystem)
	if len(h.History()) != 1 {
		t.Error("record not kept in history")
	}
	if !strings.Contains(buf.String(), "failed to persist error record") {
		t.Errorf("persist failure not logged: %s", buf.String())
	}
}

func TestExecute_RetriesByCategory(t *testing.T) {
	tests := []struct {
		category Category
		calls    int
	}{
		{CategoryNetwork, 4},
		{CategoryExternalService, 3},
		{CategoryResource, 2},
		{CategoryAuthentication, 2},
		{CategoryBusinessLogic, 1},
		{CategoryDataValidation, 1},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.category.String(), func(t *testing.T) {
			h := newTestHandler(t, Options{RetryUnit: time.Microsecond})
			calls := 0
			err := h.Execute(context.Background(), func(context.Context) error {
				calls++
				return errBoom
			}, tt.category, SeverityMedium, ErrorInfo{})

			if !errors.Is(err, errBoom) {
				t.Fatalf("Execute() error = %v, want errBoom", err)
			}
			if calls != tt.calls {
				t.Errorf("calls = %d, want %d", calls, tt.calls)
			}
			if got := len(h.History()); got != 1 {
				t.Errorf("records = %d, want exactly one per terminal failure", got)
			}
		})
	}
}

func TestExecute_ReturnsLastError(t *testing.T) {
	h := newTestHandler(t, Options{})
	calls := 0
	err := h.Execute(context.Background(), func(context.Context) error {
		calls++
		if calls < 4 {
			return errors.New("transient")
		}
		return errBoom
	}, CategoryNetwork, SeverityHigh, ErrorInfo{})

	if err != errBoom {
		t.Fatalf("Execute() error = %v, want the last attempt's error unchanged", err)
	}
	if h.History()[0].Message != "boom" {
		t.Errorf("recorded message = %q", h.History()[0].Message)
	}
}

func TestExecuteWithErrorHandling_Success(t *testing.T) {
	h := newTestHandler(t, Options{})
	calls := 0
	got, err := ExecuteWithErrorHandling(context.Background(), h, func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, errBoom
		}
		return 42, nil
	}, CategoryNetwork, SeverityHigh, ErrorInfo{})

	if err != nil || got != 42 {
		t.Fatalf("ExecuteWithErrorHandling() = %d, %v", got, err)
	}
	if len(h.History()) != 0 {
		t.Error("recovered failure was recorded")
	}
}

func TestRegisterRetry(t *testing.T) {
	h := newTestHandler(t, Options{})

	h.RegisterRetry(CategoryBusinessLogic, resilience.NewRetry(resilience.RetryConfig{MaxRetries: 1, Unit: time.Millisecond}))
	h.RegisterRetry(CategoryNetwork, nil)

	count := func(c Category) int {
		calls := 0
		_ = h.Execute(context.Background(), func(context.Context) error {
			calls++
			return errBoom
		}, c, SeverityLow, ErrorInfo{})
		return calls
	}
	if got := count(CategoryBusinessLogic); got != 2 {
		t.Errorf("business_logic calls = %d, want 2", got)
	}
	if got := count(CategoryNetwork); got != 1 {
		t.Errorf("network calls = %d, want 1", got)
	}
}

func TestSummary(t *testing.T) {
	h := newTestHandler(t, Options{})
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		h.HandleError(ctx, errBoom, ErrorInfo{}, SeverityLow, CategoryNetwork)
	}
	last := h.HandleError(ctx, errBoom, ErrorInfo{}, SeverityCritical, CategorySystem)
	h.CircuitBreaker("github")

	s := h.Summary()
	if s.TotalErrors != 13 {
		t.Errorf("TotalErrors = %d, want 13", s.TotalErrors)
	}
	if s.BySeverity[SeverityLow] != 12 || s.BySeverity[SeverityCritical] != 1 {
		t.Errorf("BySeverity = %v", s.BySeverity)
	}
	if s.ByCategory[CategoryNetwork] != 12 || s.ByCategory[CategorySystem] != 1 {
		t.Errorf("ByCategory = %v", s.ByCategory)
	}
	if len(s.RecentErrors) != RecentLimit || s.RecentErrors[RecentLimit-1].ErrorID != last.ErrorID {
		t.Errorf("RecentErrors has %d entries, want the last %d", len(s.RecentErrors), RecentLimit)
	}
	if s.CircuitBreakers["github"] != resilience.StateClosed {
		t.Errorf("CircuitBreakers = %v", s.CircuitBreakers)
	}
}

func TestExportReport_ClearsHistory(t *testing.T) {
	h := newTestHandler(t, Options{})
	ctx := context.Background()
	h.HandleError(ctx, errBoom, ErrorInfo{}, SeverityHigh, CategoryNetwork)
	h.HandleError(ctx, errBoom, ErrorInfo{}, SeverityLow, CategoryResource)
	cb := h.CircuitBreaker("slack")
	_ = cb.Execute(ctx, func(context.Context) error { return errBoom })

	path := filepath.Join(t.TempDir(), "reports", "report.json")
	if err := h.ExportReport(ctx, path); err != nil {
		t.Fatalf("ExportReport() error = %v", err)
	}
	if got := h.Summary().TotalErrors; got != 0 {
		t.Errorf("TotalErrors after export = %d, want 0", got)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var doc struct {
		ExportTimestamp    string                     `json:"export_timestamp"`
		Summary            map[string]any             `json:"summary"`
		AllErrors          []Record                   `json:"all_errors"`
		RecoveryStrategies map[string]RetryStrategy   `json:"recovery_strategies"`
		CircuitBreakers    map[string]json.RawMessage `json:"circuit_breakers"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	if doc.ExportTimestamp == "" || doc.Summary["total_errors"] != float64(2) || len(doc.AllErrors) != 2 {
		t.Errorf("report = %s", data)
	}
	if got := doc.RecoveryStrategies["network"]; got != (RetryStrategy{MaxRetries: 3, BackoffFactor: 2}) {
		t.Errorf("network strategy = %+v", got)
	}
	if got := doc.RecoveryStrategies["external_service"]; got != (RetryStrategy{MaxRetries: 2, BackoffFactor: 3}) {
		t.Errorf("external_service strategy = %+v", got)
	}

	var slack map[string]any
	if err := json.Unmarshal(doc.CircuitBreakers["slack"], &slack); err != nil {
		t.Fatal(err)
	}
	if slack["failure_threshold"] != float64(5) || slack["timeout_seconds"] != float64(60) ||
		slack["state"] != "closed" || slack["failure_count"] != float64(1) {
		t.Errorf("slack breaker = %v", slack)
	}
}

func TestHandleError_NaNMetadataPersistsAndExports(t *testing.T) {
	h := newTestHandler(t, Options{})
	ctx := context.Background()

	rec := h.HandleError(ctx, errBoom, ErrorInfo{Metadata: map[string]any{"ratio": math.NaN()}}, SeverityLow, CategorySystem)

	day, err := h.Store().Load(rec.Timestamp)
	if err != nil {
		t.Fatal(err)
	}
	if len(day) != 1 || day[0].Metadata["ratio"] != "NaN" {
		t.Fatalf("day file = %+v, want one record with ratio NaN", day)
	}

	if err := h.ExportReport(ctx, filepath.Join(t.TempDir(), "report.json")); err != nil {
		t.Fatalf("ExportReport() error = %v", err)
	}
	if got := h.Summary().TotalErrors; got != 0 {
		t.Errorf("TotalErrors after export = %d, want 0", got)
	}
}

func TestExportReport_FailureKeepsHistory(t *testing.T) {
	h := newTestHandler(t, Options{})
	ctx := context.Background()
	h.HandleError(ctx, errBoom, ErrorInfo{}, SeverityHigh, CategoryNetwork)

	dir := t.TempDir()
	if err := h.ExportReport(ctx, dir); err == nil {
		t.Fatal("ExportReport() onto a directory succeeded")
	}
	if got := h.Summary().TotalErrors; got != 1 {
		t.Errorf("TotalErrors = %d, want 1", got)
	}
	if err := h.ExportReport(ctx, ""); !errors.Is(err, ErrMissingPath) {
		t.Errorf("ExportReport(\"\") error = %v", err)
	}
}

func TestCircuitBreaker_Singleton(t *testing.T) {
	h := newTestHandler(t, Options{})
	if h.CircuitBreaker("github") != h.CircuitBreaker("github") {
		t.Error("same name returned different breakers")
	}
	if h.CircuitBreaker("github") == h.CircuitBreaker("slack") {
		t.Error("different names returned the same breaker")
	}
}

func TestCircuitBreaker_TransitionsLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := observe.NewLoggerWithWriter("info", &buf)
	defaults := BreakerDefaults(logger, observe.NopInstruments())
	defaults.FailureThreshold = 1
	h := newTestHandler(t, Options{
		Logger:   logger,
		Breakers: resilience.NewBreakerRegistry(defaults),
	})

	cb := h.CircuitBreaker("github")
	_ = cb.Execute(context.Background(), func(context.Context) error { return errBoom })
	if !strings.Contains(buf.String(), "circuit breaker opened") {
		t.Errorf("open transition not logged: %s", buf.String())
	}
}

func TestDefault(t *testing.T) {
	t.Cleanup(ResetDefault)

	ResetDefault()
	a := Default()
	if a != Default() {
		t.Fatal("Default() is not stable")
	}

	custom := newTestHandler(t, Options{})
	SetDefault(custom)
	if Default() != custom {
		t.Error("SetDefault not honored")
	}

	ResetDefault()
	if Default() == custom {
		t.Error("ResetDefault did not discard the handler")
	}
}

func TestExecute_CircuitOpenNotRetried(t *testing.T) {
	h := newTestHandler(t, Options{})
	calls := 0
	err := h.Execute(context.Background(), func(context.Context) error {
		calls++
		return &resilience.OpenError{Breaker: "github"}
	}, CategoryNetwork, SeverityMedium, ErrorInfo{})

	if !resilience.IsCircuitOpen(err) || calls != 1 {
		t.Fatalf("Execute() = %v after %d calls, want one short-circuited call", err, calls)
	}
}
