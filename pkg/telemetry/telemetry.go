// Package telemetry wires up Prometheus + OpenTelemetry exporters used across
// the project.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"ionmandns/pkg/config"
	"ionmandns/pkg/logging"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Telemetry holds telemetry providers and exporters.
type Telemetry struct {
	cfg                *config.TelemetryConfig
	meterProvider      metric.MeterProvider
	tracerProvider     trace.TracerProvider
	prometheusExporter *prometheus.Exporter
	prometheusServer   *http.Server
	logger             *logging.Logger
}

// Metrics holds every counter/histogram/gauge the control plane exports.
type Metrics struct {
	// Front Proxy
	ProxyQueriesTotal   metric.Int64Counter
	ProxyQueriesBlocked metric.Int64Counter
	ProxyQueryDuration  metric.Float64Histogram

	// Recursive Resolver
	ResolverQueriesTotal metric.Int64Counter
	ResolverCacheHits    metric.Int64Counter
	ResolverCacheMisses  metric.Int64Counter
	ResolverForwarded    metric.Int64Counter
	ResolverErrors       metric.Int64Counter
	ResolverNXDomain     metric.Int64Counter
	ResolverUpstreamMs   metric.Float64Histogram
	ResolverCacheSize    metric.Int64UpDownCounter

	// Query Logger
	QueryLogDropped metric.Int64Counter
	QueryLogFlushed metric.Int64Counter

	// Port Rule Compiler / firewall
	CompilerRulesInstalled metric.Int64UpDownCounter
	CompilerSyncFailures   metric.Int64Counter
	CompilerSyncDuration   metric.Float64Histogram
}

// New creates a Telemetry instance. When cfg.Enabled is false, every
// provider is a no-op - calling InitMetrics still returns usable,
// side-effect-free instruments.
func New(ctx context.Context, cfg *config.TelemetryConfig, logger *logging.Logger) (*Telemetry, error) {
	if !cfg.Enabled {
		logger.Info("telemetry disabled")
		return &Telemetry{
			cfg:            cfg,
			meterProvider:  noop.NewMeterProvider(),
			tracerProvider: tracenoop.NewTracerProvider(),
			logger:         logger,
		}, nil
	}

	t := &Telemetry{cfg: cfg, logger: logger}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if err := t.setupMetrics(res); err != nil {
		return nil, fmt.Errorf("failed to setup metrics: %w", err)
	}

	t.tracerProvider = tracenoop.NewTracerProvider()
	otel.SetTracerProvider(t.tracerProvider)

	logger.Info("telemetry initialized",
		"service", cfg.ServiceName,
		"version", cfg.ServiceVersion,
		"prometheus", cfg.PrometheusEnabled,
	)

	return t, nil
}

// setupMetrics initializes the metrics provider.
func (t *Telemetry) setupMetrics(res *resource.Resource) error {
	if t.cfg.PrometheusEnabled {
		exporter, err := prometheus.New()
		if err != nil {
			return fmt.Errorf("failed to create prometheus exporter: %w", err)
		}
		t.prometheusExporter = exporter

		provider := sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(exporter),
		)
		t.meterProvider = provider
		otel.SetMeterProvider(provider)

		if err := t.startPrometheusServer(); err != nil {
			return fmt.Errorf("failed to start prometheus server: %w", err)
		}

		t.logger.Info("prometheus metrics enabled", "port", t.cfg.PrometheusPort)
	} else {
		t.meterProvider = noop.NewMeterProvider()
	}

	return nil
}

// startPrometheusServer starts the Prometheus metrics HTTP server.
func (t *Telemetry) startPrometheusServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	t.prometheusServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", t.cfg.PrometheusPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := t.prometheusServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.logger.Error("prometheus server failed", "error", err)
		}
	}()

	return nil
}

// InitMetrics creates and returns every instrument the control plane uses.
func (t *Telemetry) InitMetrics() (*Metrics, error) {
	meter := t.meterProvider.Meter("ionmandns")

	proxyTotal, err := meter.Int64Counter("proxy.queries.total", metric.WithDescription("Total queries seen by the front proxy"))
	if err != nil {
		return nil, err
	}
	proxyBlocked, err := meter.Int64Counter("proxy.queries.blocked", metric.WithDescription("Queries the front proxy answered with a block reply"))
	if err != nil {
		return nil, err
	}
	proxyDuration, err := meter.Float64Histogram("proxy.query.duration", metric.WithDescription("Front proxy handling latency"), metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	resolverTotal, err := meter.Int64Counter("resolver.queries.total", metric.WithDescription("Total queries seen by the recursive resolver"))
	if err != nil {
		return nil, err
	}
	resolverHits, err := meter.Int64Counter("resolver.cache.hits", metric.WithDescription("Resolver cache hits"))
	if err != nil {
		return nil, err
	}
	resolverMisses, err := meter.Int64Counter("resolver.cache.misses", metric.WithDescription("Resolver cache misses"))
	if err != nil {
		return nil, err
	}
	resolverForwarded, err := meter.Int64Counter("resolver.queries.forwarded", metric.WithDescription("Queries forwarded upstream"))
	if err != nil {
		return nil, err
	}
	resolverErrors, err := meter.Int64Counter("resolver.queries.errors", metric.WithDescription("Queries where every upstream failed"))
	if err != nil {
		return nil, err
	}
	resolverNXDomain, err := meter.Int64Counter("resolver.queries.nxdomain", metric.WithDescription("Queries answered NXDOMAIN"))
	if err != nil {
		return nil, err
	}
	resolverUpstreamMs, err := meter.Float64Histogram("resolver.upstream.duration", metric.WithDescription("Upstream round-trip latency"), metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	resolverCacheSize, err := meter.Int64UpDownCounter("resolver.cache.size", metric.WithDescription("Entries currently in the resolver cache"))
	if err != nil {
		return nil, err
	}

	queryLogDropped, err := meter.Int64Counter("querylog.dropped", metric.WithDescription("Query log events dropped due to a full buffer"))
	if err != nil {
		return nil, err
	}
	queryLogFlushed, err := meter.Int64Counter("querylog.flushed", metric.WithDescription("Query log events persisted"))
	if err != nil {
		return nil, err
	}

	compilerRules, err := meter.Int64UpDownCounter("compiler.rules.installed", metric.WithDescription("Firewall rules currently installed by the port rule compiler"))
	if err != nil {
		return nil, err
	}
	compilerFailures, err := meter.Int64Counter("compiler.sync.failures", metric.WithDescription("Firewall sync cycles that failed"))
	if err != nil {
		return nil, err
	}
	compilerDuration, err := meter.Float64Histogram("compiler.sync.duration", metric.WithDescription("Port rule compile-and-install duration"), metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		ProxyQueriesTotal:      proxyTotal,
		ProxyQueriesBlocked:    proxyBlocked,
		ProxyQueryDuration:     proxyDuration,
		ResolverQueriesTotal:   resolverTotal,
		ResolverCacheHits:      resolverHits,
		ResolverCacheMisses:    resolverMisses,
		ResolverForwarded:      resolverForwarded,
		ResolverErrors:         resolverErrors,
		ResolverNXDomain:       resolverNXDomain,
		ResolverUpstreamMs:     resolverUpstreamMs,
		ResolverCacheSize:      resolverCacheSize,
		QueryLogDropped:        queryLogDropped,
		QueryLogFlushed:        queryLogFlushed,
		CompilerRulesInstalled: compilerRules,
		CompilerSyncFailures:   compilerFailures,
		CompilerSyncDuration:   compilerDuration,
	}, nil
}

// MeterProvider returns the meter provider.
func (t *Telemetry) MeterProvider() metric.MeterProvider {
	return t.meterProvider
}

// TracerProvider returns the tracer provider.
func (t *Telemetry) TracerProvider() trace.TracerProvider {
	return t.tracerProvider
}

// Shutdown gracefully shuts down telemetry.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error

	if t.prometheusServer != nil {
		if err := t.prometheusServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("prometheus server shutdown: %w", err))
		}
	}

	if provider, ok := t.meterProvider.(*sdkmetric.MeterProvider); ok {
		if err := provider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("telemetry shutdown errors: %v", errs)
	}

	if t.logger != nil {
		t.logger.Info("telemetry shut down")
	}
	return nil
}
