package failure

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jonwraymond/callguard/observe"
	"github.com/jonwraymond/callguard/resilience"
)

// Report is the document written by ExportReport.
type Report struct {
	ExportTimestamp    time.Time                  `json:"export_timestamp"`
	Summary            Summary                    `json:"summary"`
	AllErrors          []Record                   `json:"all_errors"`
	RecoveryStrategies map[Category]RetryStrategy `json:"recovery_strategies"`
	CircuitBreakers    map[string]BreakerReport   `json:"circuit_breakers"`
}

// RetryStrategy describes a registered retry policy.
type RetryStrategy struct {
	MaxRetries    int     `json:"max_retries"`
	BackoffFactor float64 `json:"backoff_factor"`
}

// BreakerReport describes one circuit breaker.
type BreakerReport struct {
	FailureThreshold int              `json:"failure_threshold"`
	TimeoutSeconds   float64          `json:"timeout_seconds"`
	State            resilience.State `json:"state"`
	FailureCount     int              `json:"failure_count"`
}

// Report builds a report of the current history without flushing it.
func (h *Handler) Report() Report {
	return h.report(h.History())
}

func (h *Handler) report(history []Record) Report {
	r := Report{
		ExportTimestamp:    h.now().UTC(),
		Summary:            summarize(history, h.breakers),
		AllErrors:          history,
		RecoveryStrategies: make(map[Category]RetryStrategy),
		CircuitBreakers:    make(map[string]BreakerReport),
	}

	h.retryMu.RLock()
	for category, retry := range h.retries {
		cfg := retry.Config()
		r.RecoveryStrategies[category] = RetryStrategy{
			MaxRetries:    cfg.MaxRetries,
			BackoffFactor: cfg.BackoffFactor,
		}
	}
	h.retryMu.RUnlock()

	for name, m := range h.breakers.Snapshot() {
		r.CircuitBreakers[name] = BreakerReport{
			FailureThreshold: m.FailureThreshold,
			TimeoutSeconds:   m.OpenTimeout.Seconds(),
			State:            m.State,
			FailureCount:     m.Failures,
		}
	}
	return r
}

// ExportReport writes a full report to path and, once the file is written,
// drops the exported records from the history. On failure the history is
// left intact and the error is returned.
func (h *Handler) ExportReport(ctx context.Context, path string) error {
	if path == "" {
		return ErrMissingPath
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	h.exportMu.Lock()
	defer h.exportMu.Unlock()

	history := h.History()
	data, err := json.MarshalIndent(h.report(history), "", "  ")
	if err != nil {
		return fmt.Errorf("failure: encode report: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failure: create report dir: %w", err)
		}
	}
	if err := writeFileAtomic(path, data); err != nil {
		return err
	}

	// Records handled while the report was being written stay in history.
	h.mu.Lock()
	h.history = append([]Record(nil), h.history[len(history):]...)
	h.mu.Unlock()

	h.logger.Info(ctx, "exported error report",
		observe.Field{Key: "path", Value: path},
		observe.Field{Key: "errors", Value: len(history)},
	)
	return nil
}
