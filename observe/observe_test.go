package observe

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{"missing service", Config{}, ErrMissingServiceName},
		{"bad tracing exporter", Config{ServiceName: "svc", Tracing: TracingConfig{Enabled: true, Exporter: "zipkin"}}, ErrInvalidTracingExporter},
		{"bad sample pct", Config{ServiceName: "svc", Tracing: TracingConfig{Enabled: true, Exporter: "none", SamplePct: 1.5}}, ErrInvalidSamplePct},
		{"bad metrics exporter", Config{ServiceName: "svc", Metrics: MetricsConfig{Enabled: true, Exporter: "statsd"}}, ErrInvalidMetricsExporter},
		{"bad log level", Config{ServiceName: "svc", Logging: LoggingConfig{Enabled: true, Level: "trace"}}, ErrInvalidLogLevel},
		{"disabled sections ignore values", Config{ServiceName: "svc", Tracing: TracingConfig{Exporter: "zipkin"}}, nil},
		{"valid", Config{
			ServiceName: "svc",
			Tracing:     TracingConfig{Enabled: true, Exporter: "none", SamplePct: 0.5},
			Metrics:     MetricsConfig{Enabled: true, Exporter: "none"},
			Logging:     LoggingConfig{Enabled: true, Level: "critical"},
		}, nil},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewObserver_Disabled(t *testing.T) {
	obs, err := NewObserver(context.Background(), Config{ServiceName: "svc"})
	if err != nil {
		t.Fatalf("NewObserver() error = %v", err)
	}
	if obs.Tracer() == nil || obs.Meter() == nil || obs.Logger() == nil || obs.Instruments() == nil {
		t.Fatal("observer components must be non-nil")
	}
	if err := obs.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
}

func TestNewObserver_LoggerCarriesServiceName(t *testing.T) {
	var buf bytes.Buffer
	obs, err := NewObserver(context.Background(), Config{
		ServiceName: "orders",
		Tracing:     TracingConfig{Enabled: true, Exporter: "none", SamplePct: 1},
		Metrics:     MetricsConfig{Enabled: true, Exporter: "none"},
		Logging:     LoggingConfig{Enabled: true, Level: "info", Output: &buf},
	})
	if err != nil {
		t.Fatalf("NewObserver() error = %v", err)
	}
	defer func() { _ = obs.Shutdown(context.Background()) }()

	obs.Logger().Info(context.Background(), "ready")
	lines := decodeLines(t, &buf)
	if len(lines) != 1 || lines[0]["service"] != "orders" {
		t.Fatalf("log lines = %v, want service=orders", lines)
	}

	mw, err := MiddlewareFromObserver(obs)
	if err != nil {
		t.Fatalf("MiddlewareFromObserver() error = %v", err)
	}
	if err := mw.Wrap(OpMeta{Name: "ping"}, func(context.Context) error { return nil })(context.Background()); err != nil {
		t.Fatalf("wrapped op error = %v", err)
	}
}

func TestNewObserver_InvalidConfig(t *testing.T) {
	if _, err := NewObserver(context.Background(), Config{}); !errors.Is(err, ErrMissingServiceName) {
		t.Fatalf("NewObserver() error = %v, want ErrMissingServiceName", err)
	}
}
