package querylog

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"ionmandns/pkg/logging"
	"ionmandns/pkg/storage"
)

// ResolverLogger is the single-consumer Recursive Resolver event writer,
// persisting cached/answered/nxdomain/error decisions to resolver_log. Its
// shape mirrors Logger: a bounded channel absorbs the resolver's hot path,
// one goroutine batches writes.
type ResolverLogger struct {
	events    chan storage.ResolverEvent
	store     storage.Store
	logger    *logging.Logger
	batchSize int

	dropped   atomic.Uint64
	wg        sync.WaitGroup
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewResolverLogger starts the consumer goroutine. bufferSize bounds the
// in-flight queue (default 50000 when zero); batchSize bounds how many
// events are flushed per write (default 500 when zero).
func NewResolverLogger(store storage.Store, logger *logging.Logger, bufferSize, batchSize int) *ResolverLogger {
	if bufferSize <= 0 {
		bufferSize = 50000
	}
	if batchSize <= 0 {
		batchSize = 500
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &ResolverLogger{
		events:    make(chan storage.ResolverEvent, bufferSize),
		store:     store,
		logger:    logger,
		batchSize: batchSize,
		cancel:    cancel,
	}

	l.wg.Add(1)
	go l.run(ctx)

	return l
}

// Log enqueues a resolver event without blocking. If the queue is full the
// event is dropped and the drop counter is incremented - the resolver's hot
// path never waits on the logger.
func (l *ResolverLogger) Log(ev storage.ResolverEvent) {
	select {
	case l.events <- ev:
	default:
		n := l.dropped.Add(1)
		if l.logger != nil && n%1000 == 1 {
			l.logger.Warn("resolver log buffer full, dropping entries", "dropped_total", n)
		}
	}
}

// Dropped returns the number of events dropped due to a full queue.
func (l *ResolverLogger) Dropped() uint64 {
	return l.dropped.Load()
}

func (l *ResolverLogger) run(ctx context.Context) {
	defer l.wg.Done()

	batch := make([]storage.ResolverEvent, 0, l.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		writeCtx, cancel := context.WithTimeout(context.Background(), defaultDrainDeadline)
		if err := l.store.LogResolverEvents(writeCtx, batch); err != nil && l.logger != nil {
			l.logger.Error("failed to flush resolver log batch", "size", len(batch), "error", err)
		}
		cancel()
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			l.drain(batch)
			return
		case ev := <-l.events:
			batch = append(batch, ev)
			if len(batch) >= l.batchSize {
				flush()
			}
		case <-time.After(time.Second):
			flush()
		}
	}
}

// drain flushes any buffered batch plus whatever remains queued, bounded by
// defaultDrainDeadline, then returns - it does not wait indefinitely for
// slow writers during shutdown.
func (l *ResolverLogger) drain(batch []storage.ResolverEvent) {
	deadline := time.Now().Add(defaultDrainDeadline)
	for {
		select {
		case ev := <-l.events:
			batch = append(batch, ev)
			if len(batch) >= l.batchSize || time.Now().After(deadline) {
				l.flushNow(batch)
				batch = batch[:0]
			}
		default:
			l.flushNow(batch)
			return
		}
		if time.Now().After(deadline) {
			l.flushNow(batch)
			return
		}
	}
}

func (l *ResolverLogger) flushNow(batch []storage.ResolverEvent) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultDrainDeadline)
	defer cancel()
	if err := l.store.LogResolverEvents(ctx, batch); err != nil && l.logger != nil {
		l.logger.Error("failed to flush resolver log batch on shutdown", "size", len(batch), "error", err)
	}
}

// Close stops the consumer goroutine, draining the buffer first (bounded by
// defaultDrainDeadline). Safe to call multiple times.
func (l *ResolverLogger) Close() {
	l.closeOnce.Do(func() {
		l.cancel()
		l.wg.Wait()
		if l.logger != nil {
			l.logger.Info("resolver logger closed", "dropped_total", l.dropped.Load())
		}
	})
}
