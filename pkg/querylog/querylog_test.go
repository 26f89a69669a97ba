package querylog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ionmandns/pkg/storage"
)

type fakeStore struct {
	mu            sync.Mutex
	calls         [][]storage.QueryEvent
	resolverCalls [][]storage.ResolverEvent
	err           error
}

func (f *fakeStore) Snapshot(context.Context) (*storage.Snapshot, error) { return nil, nil }
func (f *fakeStore) LogQueries(_ context.Context, events []storage.QueryEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	cp := make([]storage.QueryEvent, len(events))
	copy(cp, events)
	f.calls = append(f.calls, cp)
	return nil
}
func (f *fakeStore) LogResolverEvents(_ context.Context, events []storage.ResolverEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	cp := make([]storage.ResolverEvent, len(events))
	copy(cp, events)
	f.resolverCalls = append(f.resolverCalls, cp)
	return nil
}
func (f *fakeStore) PersistPortRules(context.Context, []storage.PortRule) error { return nil }
func (f *fakeStore) Close() error                                              { return nil }

func (f *fakeStore) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += len(c)
	}
	return n
}

func (f *fakeStore) resolverTotal() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.resolverCalls {
		n += len(c)
	}
	return n
}

func TestLogThenCloseFlushesBufferedEvents(t *testing.T) {
	store := &fakeStore{}
	l := New(store, nil, 100, 10)

	for i := 0; i < 25; i++ {
		l.Log(storage.QueryEvent{ClientIP: "10.0.0.1", Domain: "example.com"})
	}
	l.Close()

	require.Equal(t, 25, store.total())
}

func TestLogDropsOnFullBuffer(t *testing.T) {
	store := &fakeStore{}
	l := New(store, nil, 1, 1)
	defer l.Close()

	for i := 0; i < 50; i++ {
		l.Log(storage.QueryEvent{ClientIP: "10.0.0.1"})
	}

	require.Eventually(t, func() bool {
		return l.Dropped() > 0
	}, time.Second, 10*time.Millisecond)
}
