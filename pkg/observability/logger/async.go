package logger

import (
	"context"
	"sync"
	"sync/atomic"
)

// AsyncConfig configures WrapAsync.
type AsyncConfig struct {
	Enabled      bool
	QueueSize    int
	WorkerCount  int
	DropWhenFull bool
}

type entry func()

// queue is shared by an AsyncLogger and every child derived from it.
type queue struct {
	mu      sync.RWMutex
	closed  bool
	ch      chan entry
	drop    bool
	dropped atomic.Uint64
	workers sync.WaitGroup
}

func (q *queue) run() {
	defer q.workers.Done()
	for e := range q.ch {
		e()
	}
}

// push runs e inline once the queue is closed.
func (q *queue) push(e entry) {
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		e()
		return
	}
	defer q.mu.RUnlock()
	if !q.drop {
		q.ch <- e
		return
	}
	select {
	case q.ch <- e:
	default:
		q.dropped.Add(1)
	}
}

func (q *queue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()
	q.workers.Wait()
}

// AsyncLogger hands entries to background workers. Call Close before exit
// so queued entries are written.
type AsyncLogger struct {
	next Logger
	q    *queue
}

// WrapAsync returns base unchanged unless cfg.Enabled.
func WrapAsync(base Logger, cfg AsyncConfig) Logger {
	if !cfg.Enabled {
		return base
	}
	size, workers := cfg.QueueSize, cfg.WorkerCount
	if size <= 0 {
		size = 1024
	}
	if workers <= 0 {
		workers = 1
	}
	q := &queue{ch: make(chan entry, size), drop: cfg.DropWhenFull}
	q.workers.Add(workers)
	for range workers {
		go q.run()
	}
	return &AsyncLogger{next: base, q: q}
}

func (l *AsyncLogger) Debug(msg string, args ...any) {
	next := l.next
	l.q.push(func() { next.Debug(msg, args...) })
}

func (l *AsyncLogger) Info(msg string, args ...any) {
	next := l.next
	l.q.push(func() { next.Info(msg, args...) })
}

func (l *AsyncLogger) Warn(msg string, args ...any) {
	next := l.next
	l.q.push(func() { next.Warn(msg, args...) })
}

func (l *AsyncLogger) Error(msg string, args ...any) {
	next := l.next
	l.q.push(func() { next.Error(msg, args...) })
}

// With implements Logger. The child shares the parent's queue.
func (l *AsyncLogger) With(args ...any) Logger {
	return &AsyncLogger{next: l.next.With(args...), q: l.q}
}

// WithContext implements Logger.
func (l *AsyncLogger) WithContext(ctx context.Context) Logger {
	return &AsyncLogger{next: l.next.WithContext(ctx), q: l.q}
}

// Dropped counts entries discarded because the queue was full.
func (l *AsyncLogger) Dropped() uint64 {
	return l.q.dropped.Load()
}

// Close drains the queue and stops the workers. Entries logged afterwards
// are written synchronously.
func (l *AsyncLogger) Close() {
	l.q.close()
}

// Sync flushes the wrapped logger when it supports it.
func (l *AsyncLogger) Sync() error {
	if s, ok := l.next.(interface{ Sync() error }); ok {
		return s.Sync()
	}
	return nil
}
