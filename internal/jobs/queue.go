package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MimeLyc/book-translator/pkg/log"
)

const (
	DefaultMaxAttempts = 3
	defaultBackoff     = 500 * time.Millisecond
	defaultBufferSize  = 1024
)

var ErrQueueStopped = errors.New("queue stopped")

type Handler func(ctx context.Context, msg Message) error

type envelope struct {
	msg     Message
	attempt int
}

// Queue is an in-process Dispatcher backed by a worker pool. Failed
// handlers are redelivered up to maxAttempts times with linear backoff.
// Messages with a dedupe key collapse while an identical one is waiting.
type Queue struct {
	workerCount int
	maxAttempts atomic.Int64
	backoff     time.Duration
	handler     Handler

	mu      sync.Mutex
	waiting map[string]struct{}
	started bool
	stopped bool

	pending  chan envelope
	shrink   chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc

	workers   atomic.Int64
	running   atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
}

type QueueOption func(*Queue)

func WithMaxAttempts(n int) QueueOption {
	return func(q *Queue) {
		q.SetMaxAttempts(n)
	}
}

func WithBackoff(d time.Duration) QueueOption {
	return func(q *Queue) {
		if d >= 0 {
			q.backoff = d
		}
	}
}

func NewQueue(workerCount int, opts ...QueueOption) *Queue {
	if workerCount <= 0 {
		workerCount = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		workerCount: workerCount,
		backoff:     defaultBackoff,
		waiting:     make(map[string]struct{}),
		pending:     make(chan envelope, defaultBufferSize),
		shrink:      make(chan struct{}),
		stopCh:      make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}
	q.maxAttempts.Store(DefaultMaxAttempts)
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Dispatch enqueues msg. Messages dispatched before Start wait in the
// buffer until workers run.
func (q *Queue) Dispatch(_ context.Context, msg Message) error {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return ErrQueueStopped
	}
	if key := msg.DedupeKey(); key != "" {
		if _, ok := q.waiting[key]; ok {
			q.mu.Unlock()
			return nil
		}
		q.waiting[key] = struct{}{}
	}
	q.mu.Unlock()

	q.push(envelope{msg: msg, attempt: 1})
	return nil
}

func (q *Queue) Start(h Handler) {
	q.mu.Lock()
	if q.started || q.stopped {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.handler = h
	q.spawn(q.workerCount)
	q.mu.Unlock()
}

// SetMaxAttempts changes the delivery limit for failures from now on.
func (q *Queue) SetMaxAttempts(n int) {
	if n > 0 {
		q.maxAttempts.Store(int64(n))
	}
}

// Resize changes the number of workers. Extra workers exit once they
// finish their current message.
func (q *Queue) Resize(n int) {
	if n <= 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return
	}
	delta := n - q.workerCount
	q.workerCount = n
	if !q.started {
		return
	}
	switch {
	case delta > 0:
		q.spawn(delta)
	case delta < 0:
		for range -delta {
			go func() {
				select {
				case q.shrink <- struct{}{}:
				case <-q.stopCh:
				}
			}()
		}
	}
	log.Info("Queue resized to %d worker(s)", n)
}

// spawn must be called with q.mu held.
func (q *Queue) spawn(n int) {
	for range n {
		q.wg.Add(1)
		q.workers.Add(1)
		go q.worker(q.handler)
	}
}

// Stop cancels in-flight handlers and waits for workers to exit. Waiting
// messages are dropped; the reconciler re-dispatches them from the store.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		q.mu.Lock()
		q.stopped = true
		q.mu.Unlock()
		close(q.stopCh)
		q.cancel()
		q.wg.Wait()
	})
}

type QueueStats struct {
	Workers   int64 `json:"workers"`
	Waiting   int   `json:"waiting"`
	Running   int64 `json:"running"`
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
}

func (q *Queue) Stats() QueueStats {
	return QueueStats{
		Workers:   q.workers.Load(),
		Waiting:   len(q.pending),
		Running:   q.running.Load(),
		Processed: q.processed.Load(),
		Failed:    q.failed.Load(),
	}
}

func (q *Queue) worker(h Handler) {
	defer q.wg.Done()
	defer q.workers.Add(-1)

	for {
		select {
		case <-q.stopCh:
			return
		case <-q.shrink:
			return
		case env := <-q.pending:
			q.release(env.msg)

			q.running.Add(1)
			err := h(q.ctx, env.msg)
			q.running.Add(-1)
			if err == nil {
				q.processed.Add(1)
				continue
			}
			q.retry(env, err)
		}
	}
}

func (q *Queue) retry(env envelope, err error) {
	maxAttempts := int(q.maxAttempts.Load())
	if env.attempt >= maxAttempts || q.ctx.Err() != nil {
		q.failed.Add(1)
		log.Error("Giving up on %s after %d attempt(s): %v", env.msg, env.attempt, err)
		return
	}
	log.Warn("Handler for %s failed (attempt %d/%d): %v", env.msg, env.attempt, maxAttempts, err)

	next := envelope{msg: env.msg, attempt: env.attempt + 1}
	time.AfterFunc(q.backoff*time.Duration(env.attempt), func() {
		q.push(next)
	})
}

func (q *Queue) push(env envelope) {
	select {
	case q.pending <- env:
	default:
		go func() {
			select {
			case q.pending <- env:
			case <-q.stopCh:
			}
		}()
	}
}

func (q *Queue) release(msg Message) {
	key := msg.DedupeKey()
	if key == "" {
		return
	}
	q.mu.Lock()
	delete(q.waiting, key)
	q.mu.Unlock()
}
