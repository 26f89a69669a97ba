package resolver

import (
	"context"
	"encoding/json"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// CacheStatus mirrors the cache fields of the status document.
type CacheStatus struct {
	Size    int     `json:"size"`
	MaxSize int     `json:"maxsize"`
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// SystemStatus carries non-authoritative process figures, folded into the
// status document alongside the resolver's own counters.
type SystemStatus struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemRSS     uint64  `json:"mem_rss_bytes"`
	MemPercent float64 `json:"mem_percent"`
}

// ConfigStatus echoes the resolver's effective configuration.
type ConfigStatus struct {
	Upstreams      int     `json:"upstreams"`
	AttemptTimeout float64 `json:"attempt_timeout_seconds"`
	CacheMaxTTL    float64 `json:"cache_max_ttl_seconds"`
	CacheMinTTL    float64 `json:"cache_min_ttl_seconds"`
}

// Status is the JSON document written to the status sink every
// statusInterval.
type Status struct {
	Running          bool         `json:"running"`
	UptimeSeconds    float64      `json:"uptime_seconds"`
	Listen           string       `json:"listen"`
	TotalQueries     uint64       `json:"total_queries"`
	CachedQueries    uint64       `json:"cached_queries"`
	ForwardedQueries uint64       `json:"forwarded_queries"`
	ErrorQueries     uint64       `json:"error_queries"`
	NXDomainQueries  uint64       `json:"nxdomain_queries"`
	AvgUpstreamMs    float64      `json:"avg_upstream_ms"`
	Cache            CacheStatus  `json:"cache"`
	Config           ConfigStatus `json:"config"`
	System           SystemStatus `json:"system"`
}

// Snapshot builds the current status document.
func (r *Resolver) Snapshot() Status {
	r.mu.Lock()
	total, cachedN, forwarded, errorsN, nxdomainN := r.total, r.cachedN, r.forwarded, r.errorsN, r.nxdomainN
	avg := r.avgLatencyMs()
	r.mu.Unlock()

	cs := r.cache.Stats()

	return Status{
		Running:          r.conn != nil,
		UptimeSeconds:    time.Since(r.startedAt).Seconds(),
		Listen:           r.ListenAddress,
		TotalQueries:     total,
		CachedQueries:    cachedN,
		ForwardedQueries: forwarded,
		ErrorQueries:     errorsN,
		NXDomainQueries:  nxdomainN,
		AvgUpstreamMs:    avg,
		Cache: CacheStatus{
			Size:    cs.Size,
			MaxSize: cs.MaxSize,
			Hits:    cs.Hits,
			Misses:  cs.Misses,
			HitRate: cs.HitRate,
		},
		Config: ConfigStatus{
			Upstreams:      len(r.Upstreams),
			AttemptTimeout: r.AttemptTimeout.Seconds(),
			CacheMaxTTL:    r.MaxTTL.Seconds(),
			CacheMinTTL:    r.MinTTL.Seconds(),
		},
		System: collectSystemStatus(),
	}
}

// collectSystemStatus samples this process's CPU and memory figures. These
// are non-authoritative extras folded into the status document; failures to
// sample are silently ignored and leave the zero value.
func collectSystemStatus() SystemStatus {
	var s SystemStatus

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err == nil {
		if pct, err := proc.PercentWithContext(ctx, 0); err == nil {
			if n := runtime.NumCPU(); n > 0 {
				s.CPUPercent = pct / float64(n)
			} else {
				s.CPUPercent = pct
			}
		}
		if mi, err := proc.MemoryInfoWithContext(ctx); err == nil {
			s.MemRSS = mi.RSS
		}
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil && vm.Total > 0 && s.MemRSS > 0 {
		s.MemPercent = (float64(s.MemRSS) / float64(vm.Total)) * 100
	}

	return s
}

// RunStatusWriter writes the JSON status document to path every interval
// until ctx is canceled.
func (r *Resolver) RunStatusWriter(ctx context.Context, path string, interval time.Duration) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			data, err := json.Marshal(r.Snapshot())
			if err != nil {
				continue
			}
			tmp := path + ".tmp"
			if err := os.WriteFile(tmp, data, 0644); err != nil {
				r.logger.Warn("status sink write failed", "error", err)
				continue
			}
			if err := os.Rename(tmp, path); err != nil {
				r.logger.Warn("status sink rename failed", "error", err)
			}
		}
	}
}
