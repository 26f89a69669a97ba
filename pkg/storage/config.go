package storage

import "time"

// Config configures the SQLite-backed store.
type Config struct {
	Path          string        `yaml:"path"`
	BusyTimeout   int           `yaml:"busy_timeout"`
	CacheSize     int           `yaml:"cache_size"`
	MMapSize      int64         `yaml:"mmap_size"`
	WALMode       bool          `yaml:"wal_mode"`
	QueryBatch    int           `yaml:"query_batch"`
	RetentionDays int           `yaml:"retention_days"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// DefaultConfig returns sane defaults for a single-node household deployment.
func DefaultConfig() Config {
	return Config{
		Path:          "./ionmandns.db",
		BusyTimeout:   5000,
		CacheSize:     4096,
		MMapSize:      268435456,
		WALMode:       true,
		QueryBatch:    500,
		RetentionDays: 7,
		FlushInterval: 5 * time.Second,
	}
}
