package storage

import "context"

// Store is the Rule Store Adapter's view of the persistent repository. It
// is deliberately narrow: the core never issues ad-hoc SQL, and the schema
// itself (table/column names beyond what §6 names) is an external
// collaborator's concern, not the core's.
//
// Implementations must be safe for concurrent use; Snapshot is called from
// the Hot-reload Supervisor's ticker goroutine while LogQueries/
// LogResolverEvents are called from the Query Logger and Recursive
// Resolver's own consumer goroutines.
type Store interface {
	// Snapshot reads every entity the Rule Engine and Port Rule Compiler
	// need in one consistent pass. Callers that get an error must keep
	// serving whatever snapshot they last received successfully - Snapshot
	// itself holds no memory of prior reads.
	Snapshot(ctx context.Context) (*Snapshot, error)

	// LogQueries bulk-inserts Front Proxy decisions in a single statement.
	LogQueries(ctx context.Context, events []QueryEvent) error

	// LogResolverEvents bulk-inserts Recursive Resolver decisions in a
	// single statement.
	LogResolverEvents(ctx context.Context, events []ResolverEvent) error

	// PersistPortRules upserts per-peer game port rules. No component
	// outside the tests calls it.
	PersistPortRules(ctx context.Context, rules []PortRule) error

	Close() error
}
