package telemetry

import (
	"context"
	"testing"
	"time"

	"ionmandns/pkg/config"
	"ionmandns/pkg/logging"

	"go.opentelemetry.io/otel/metric"
)

func TestNew(t *testing.T) {
	logger := logging.NewDefault()

	tests := []struct {
		cfg     *config.TelemetryConfig
		name    string
		wantErr bool
	}{
		{
			name: "disabled telemetry",
			cfg: &config.TelemetryConfig{
				Enabled: false,
			},
			wantErr: false,
		},
		{
			name: "prometheus enabled",
			cfg: &config.TelemetryConfig{
				Enabled:           true,
				ServiceName:       "test-service",
				ServiceVersion:    "1.0.0",
				PrometheusEnabled: true,
				PrometheusPort:    9091, // Use different port to avoid conflicts
			},
			wantErr: false,
		},
		{
			name: "only metrics",
			cfg: &config.TelemetryConfig{
				Enabled:           true,
				ServiceName:       "test-service",
				ServiceVersion:    "1.0.0",
				PrometheusEnabled: false,
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			tel, err := New(ctx, tt.cfg, logger)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && tel == nil {
				t.Error("New() returned nil telemetry")
			}

			// Cleanup
			if tel != nil && tel.prometheusServer != nil {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tel.Shutdown(ctx)
			}
		})
	}
}

func TestInitMetrics(t *testing.T) {
	logger := logging.NewDefault()
	cfg := &config.TelemetryConfig{
		Enabled:     true,
		ServiceName: "test-service",
	}

	ctx := context.Background()
	tel, err := New(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Failed to create telemetry: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(ctx)
	}()

	metrics, err := tel.InitMetrics()
	if err != nil {
		t.Fatalf("InitMetrics() failed: %v", err)
	}

	if metrics.ProxyQueriesTotal == nil {
		t.Error("ProxyQueriesTotal not initialized")
	}
	if metrics.ProxyQueriesBlocked == nil {
		t.Error("ProxyQueriesBlocked not initialized")
	}
	if metrics.ProxyQueryDuration == nil {
		t.Error("ProxyQueryDuration not initialized")
	}
	if metrics.ResolverQueriesTotal == nil {
		t.Error("ResolverQueriesTotal not initialized")
	}
	if metrics.ResolverCacheHits == nil {
		t.Error("ResolverCacheHits not initialized")
	}
	if metrics.ResolverCacheMisses == nil {
		t.Error("ResolverCacheMisses not initialized")
	}
	if metrics.ResolverForwarded == nil {
		t.Error("ResolverForwarded not initialized")
	}
	if metrics.ResolverErrors == nil {
		t.Error("ResolverErrors not initialized")
	}
	if metrics.ResolverNXDomain == nil {
		t.Error("ResolverNXDomain not initialized")
	}
	if metrics.ResolverUpstreamMs == nil {
		t.Error("ResolverUpstreamMs not initialized")
	}
	if metrics.ResolverCacheSize == nil {
		t.Error("ResolverCacheSize not initialized")
	}
	if metrics.QueryLogDropped == nil {
		t.Error("QueryLogDropped not initialized")
	}
	if metrics.QueryLogFlushed == nil {
		t.Error("QueryLogFlushed not initialized")
	}
	if metrics.CompilerRulesInstalled == nil {
		t.Error("CompilerRulesInstalled not initialized")
	}
	if metrics.CompilerSyncFailures == nil {
		t.Error("CompilerSyncFailures not initialized")
	}
	if metrics.CompilerSyncDuration == nil {
		t.Error("CompilerSyncDuration not initialized")
	}
}

func TestMetricsRecording(t *testing.T) {
	logger := logging.NewDefault()
	cfg := &config.TelemetryConfig{
		Enabled:     true,
		ServiceName: "test-service",
	}

	ctx := context.Background()
	tel, err := New(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Failed to create telemetry: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(ctx)
	}()

	metrics, err := tel.InitMetrics()
	if err != nil {
		t.Fatalf("InitMetrics() failed: %v", err)
	}

	// Test recording metrics across every component - if we got here without
	// panicking, the instruments are wired correctly.
	metrics.ProxyQueriesTotal.Add(ctx, 1, metric.WithAttributes())
	metrics.ProxyQueriesBlocked.Add(ctx, 1, metric.WithAttributes())
	metrics.ProxyQueryDuration.Record(ctx, 5.5, metric.WithAttributes())

	metrics.ResolverQueriesTotal.Add(ctx, 1, metric.WithAttributes())
	metrics.ResolverCacheHits.Add(ctx, 1, metric.WithAttributes())
	metrics.ResolverCacheMisses.Add(ctx, 1, metric.WithAttributes())
	metrics.ResolverForwarded.Add(ctx, 1, metric.WithAttributes())
	metrics.ResolverErrors.Add(ctx, 1, metric.WithAttributes())
	metrics.ResolverNXDomain.Add(ctx, 1, metric.WithAttributes())
	metrics.ResolverUpstreamMs.Record(ctx, 12.3, metric.WithAttributes())
	metrics.ResolverCacheSize.Add(ctx, 1, metric.WithAttributes())

	metrics.QueryLogDropped.Add(ctx, 1, metric.WithAttributes())
	metrics.QueryLogFlushed.Add(ctx, 1, metric.WithAttributes())

	metrics.CompilerRulesInstalled.Add(ctx, 1, metric.WithAttributes())
	metrics.CompilerSyncFailures.Add(ctx, 1, metric.WithAttributes())
	metrics.CompilerSyncDuration.Record(ctx, 42.0, metric.WithAttributes())
}

func TestMeterProvider(t *testing.T) {
	logger := logging.NewDefault()
	cfg := &config.TelemetryConfig{
		Enabled:     true,
		ServiceName: "test-service",
	}

	ctx := context.Background()
	tel, err := New(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Failed to create telemetry: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(ctx)
	}()

	provider := tel.MeterProvider()
	if provider == nil {
		t.Error("MeterProvider() returned nil")
	}
}

func TestTracerProvider(t *testing.T) {
	logger := logging.NewDefault()
	cfg := &config.TelemetryConfig{
		Enabled:     true,
		ServiceName: "test-service",
	}

	ctx := context.Background()
	tel, err := New(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Failed to create telemetry: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(ctx)
	}()

	provider := tel.TracerProvider()
	if provider == nil {
		t.Error("TracerProvider() returned nil")
	}

	// Verify we can get a tracer
	tracer := provider.Tracer("test-tracer")
	if tracer == nil {
		t.Error("Tracer() returned nil")
	}
}

func TestShutdown(t *testing.T) {
	logger := logging.NewDefault()
	cfg := &config.TelemetryConfig{
		Enabled:           true,
		ServiceName:       "test-service",
		PrometheusEnabled: true,
		PrometheusPort:    9092, // Use different port
	}

	ctx := context.Background()
	tel, err := New(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Failed to create telemetry: %v", err)
	}

	// Test shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = tel.Shutdown(shutdownCtx)
	if err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestDisabledTelemetry(t *testing.T) {
	logger := logging.NewDefault()
	cfg := &config.TelemetryConfig{
		Enabled: false,
	}

	ctx := context.Background()
	tel, err := New(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Failed to create telemetry: %v", err)
	}

	// Even with disabled telemetry, we should get valid providers
	if tel.MeterProvider() == nil {
		t.Error("Disabled telemetry should still return a noop meter provider")
	}
	if tel.TracerProvider() == nil {
		t.Error("Disabled telemetry should still return a noop tracer provider")
	}

	// Should be able to init metrics without error
	metrics, err := tel.InitMetrics()
	if err != nil {
		t.Errorf("InitMetrics() with disabled telemetry failed: %v", err)
	}
	if metrics == nil {
		t.Error("InitMetrics() returned nil metrics")
	}
}
