package backend

import (
	"context"
	"sync"
	"time"

	"prompter/log"
)

// LogQueue runs usage-logging calls off the hot path. Enqueue never
// blocks the caller; when the queue is full the entry is dropped with a
// warning rather than stalling the answer pipeline. Failures are logged
// and not retried.
type LogQueue struct {
	jobs    chan func(ctx context.Context)
	wg      sync.WaitGroup
	timeout time.Duration

	mu     sync.Mutex
	closed bool
}

func NewLogQueue(size int) *LogQueue {
	if size <= 0 {
		size = 64
	}
	q := &LogQueue{
		jobs:    make(chan func(ctx context.Context), size),
		timeout: 10 * time.Second,
	}
	q.wg.Add(1)
	go q.run()
	return q
}

func (q *LogQueue) run() {
	defer q.wg.Done()
	for job := range q.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
		job(ctx)
		cancel()
	}
}

// Enqueue schedules a logging call. Returns false when the entry was
// dropped because the queue is full or closed.
func (q *LogQueue) Enqueue(job func(ctx context.Context)) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	select {
	case q.jobs <- job:
		return true
	default:
		log.Warn("log queue full, dropping entry")
		return false
	}
}

// Flush blocks until every entry enqueued before the call has run.
func (q *LogQueue) Flush() {
	done := make(chan struct{})
	if !q.Enqueue(func(ctx context.Context) { close(done) }) {
		return
	}
	<-done
}

// Close stops accepting new entries and drains the ones already queued.
func (q *LogQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()
	q.wg.Wait()
}
