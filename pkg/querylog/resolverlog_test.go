package querylog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ionmandns/pkg/storage"
)

func TestResolverLogThenCloseFlushesBufferedEvents(t *testing.T) {
	store := &fakeStore{}
	l := NewResolverLogger(store, nil, 100, 10)

	for i := 0; i < 25; i++ {
		l.Log(storage.ResolverEvent{ClientIP: "10.0.0.1", Domain: "example.com", Result: "cached"})
	}
	l.Close()

	require.Equal(t, 25, store.resolverTotal())
}

func TestResolverLogDropsOnFullBuffer(t *testing.T) {
	store := &fakeStore{}
	l := NewResolverLogger(store, nil, 1, 1)
	defer l.Close()

	for i := 0; i < 50; i++ {
		l.Log(storage.ResolverEvent{ClientIP: "10.0.0.1", Result: "error"})
	}

	require.Eventually(t, func() bool {
		return l.Dropped() > 0
	}, time.Second, 10*time.Millisecond)
}
