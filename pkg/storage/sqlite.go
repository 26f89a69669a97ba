// Package storage contains the pluggable persistence layer; this file
// provides the SQLite implementation of the Rule Store Adapter, the query
// logger and the resolver logger.
package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

//go:embed migrations/001_initial.sql
var initialSchema string

// SQLiteStore implements Store on top of a pure-Go SQLite driver.
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// NewSQLiteStore opens (creating if needed) the SQLite database at
// cfg.Path, applies pending migrations and tunes the connection the way
// a single-writer household deployment wants it.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, ErrInvalidConfig
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	// SQLite has one writer; a single connection avoids SQLITE_BUSY storms
	// under concurrent access from the resolver, proxy and compiler.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout),
		fmt.Sprintf("PRAGMA cache_size = %d", -cfg.CacheSize),
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	if cfg.MMapSize > 0 {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA mmap_size = %d", cfg.MMapSize))
	}
	if cfg.WALMode {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", p, err)
		}
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	return &SQLiteStore{db: db, cfg: cfg}, nil
}

// Snapshot reads every rule-relevant entity in a single transaction so the
// Rule Engine never sees a partially-updated rule set.
func (s *SQLiteStore) Snapshot(ctx context.Context) (*Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	snap := &Snapshot{}

	peerRows, err := tx.QueryContext(ctx, `SELECT id, name, tunnel_address, group_id FROM peers`)
	if err != nil {
		return nil, fmt.Errorf("query peers: %w", err)
	}
	for peerRows.Next() {
		var p Peer
		var groupID sql.NullInt64
		if err := peerRows.Scan(&p.ID, &p.Name, &p.TunnelAddress, &groupID); err != nil {
			peerRows.Close()
			return nil, fmt.Errorf("scan peer: %w", err)
		}
		if groupID.Valid {
			p.GroupID = groupID.Int64
			p.HasGroup = true
		}
		snap.Peers = append(snap.Peers, p)
	}
	peerRows.Close()
	if err := peerRows.Err(); err != nil {
		return nil, err
	}

	groupRows, err := tx.QueryContext(ctx, `SELECT id, name FROM groups`)
	if err != nil {
		return nil, fmt.Errorf("query groups: %w", err)
	}
	for groupRows.Next() {
		var g Group
		if err := groupRows.Scan(&g.ID, &g.Name); err != nil {
			groupRows.Close()
			return nil, fmt.Errorf("scan group: %w", err)
		}
		snap.Groups = append(snap.Groups, g)
	}
	groupRows.Close()
	if err := groupRows.Err(); err != nil {
		return nil, err
	}

	ruleRows, err := tx.QueryContext(ctx, `SELECT scope, scope_id, type, category, domain, block FROM blocking_rules`)
	if err != nil {
		return nil, fmt.Errorf("query blocking_rules: %w", err)
	}
	for ruleRows.Next() {
		var r Rule
		if err := ruleRows.Scan(&r.Scope, &r.ScopeID, &r.Type, &r.Category, &r.Domain, &r.Block); err != nil {
			ruleRows.Close()
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		snap.Rules = append(snap.Rules, r)
	}
	ruleRows.Close()
	if err := ruleRows.Err(); err != nil {
		return nil, err
	}

	portRows, err := tx.QueryContext(ctx, `SELECT scope_id, game, blocked FROM port_blocking_rules`)
	if err != nil {
		return nil, fmt.Errorf("query port_blocking_rules: %w", err)
	}
	for portRows.Next() {
		var pr PortRule
		if err := portRows.Scan(&pr.ScopeID, &pr.Game, &pr.Blocked); err != nil {
			portRows.Close()
			return nil, fmt.Errorf("scan port rule: %w", err)
		}
		snap.PortRules = append(snap.PortRules, pr)
	}
	portRows.Close()
	if err := portRows.Err(); err != nil {
		return nil, err
	}

	settingRows, err := tx.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("query settings: %w", err)
	}
	for settingRows.Next() {
		var st Setting
		if err := settingRows.Scan(&st.Key, &st.Value); err != nil {
			settingRows.Close()
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		snap.Settings = append(snap.Settings, st)
	}
	settingRows.Close()
	if err := settingRows.Err(); err != nil {
		return nil, err
	}

	wlRows, err := tx.QueryContext(ctx, `SELECT domain, scope, scope_id, is_global FROM whitelist`)
	if err != nil {
		return nil, fmt.Errorf("query whitelist: %w", err)
	}
	for wlRows.Next() {
		var w WhitelistEntry
		if err := wlRows.Scan(&w.Domain, &w.Scope, &w.ScopeID, &w.Global); err != nil {
			wlRows.Close()
			return nil, fmt.Errorf("scan whitelist: %w", err)
		}
		snap.Whitelist = append(snap.Whitelist, w)
	}
	wlRows.Close()
	if err := wlRows.Err(); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit snapshot tx: %w", err)
	}

	return snap, nil
}

// LogQueries bulk-inserts Front Proxy decisions in one statement, as the
// Query Logger's single consumer batches them.
func (s *SQLiteStore) LogQueries(ctx context.Context, events []QueryEvent) error {
	if len(events) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO query_log (timestamp, client_ip, domain, qtype, category, blocked) VALUES `)
	args := make([]any, 0, len(events)*6)
	for i, e := range events {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("(?,?,?,?,?,?)")
		args = append(args, e.Timestamp, e.ClientIP, e.Domain, e.QType, e.Category, e.Blocked)
	}

	_, err := s.db.ExecContext(ctx, sb.String(), args...)
	return err
}

// LogResolverEvents bulk-inserts Recursive Resolver decisions in one
// statement.
func (s *SQLiteStore) LogResolverEvents(ctx context.Context, events []ResolverEvent) error {
	if len(events) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO resolver_log (timestamp, client_ip, domain, qtype, result, upstream, duration_ms) VALUES `)
	args := make([]any, 0, len(events)*7)
	for i, e := range events {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString("(?,?,?,?,?,?,?)")
		args = append(args, e.Timestamp, e.ClientIP, e.Domain, e.QType, e.Result, e.Upstream, e.DurationMs)
	}

	_, err := s.db.ExecContext(ctx, sb.String(), args...)
	return err
}

// PersistPortRules inserts (or, on conflict, updates) per-peer game port
// rules. Nothing outside the tests calls it.
func (s *SQLiteStore) PersistPortRules(ctx context.Context, rules []PortRule) error {
	if len(rules) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin persist port rules tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO port_blocking_rules (scope_id, game, blocked) VALUES (?, ?, ?)
		ON CONFLICT (scope_id, game) DO UPDATE SET blocked = excluded.blocked
	`)
	if err != nil {
		return fmt.Errorf("prepare port rule upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rules {
		if _, err := stmt.ExecContext(ctx, r.ScopeID, r.Game, r.Blocked); err != nil {
			return fmt.Errorf("upsert port rule %s/%d: %w", r.Game, r.ScopeID, err)
		}
	}

	return tx.Commit()
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
