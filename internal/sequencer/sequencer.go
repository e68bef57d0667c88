// Package sequencer runs tasks one at a time per key, in submission order,
// while tasks for different keys run in parallel on a bounded pool.
package sequencer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"

	"parking-service/internal/domain/parking"
)

type Task[R any] func(ctx context.Context) (R, error)

// Future is the pending result of one submitted task.
type Future[R any] struct {
	done chan struct{}
	val  R
	err  error
}

func newFuture[R any]() *Future[R] {
	return &Future[R]{done: make(chan struct{})}
}

func (f *Future[R]) resolve(val R, err error) {
	f.val = val
	f.err = err
	close(f.done)
}

// Done is closed once the task has finished.
func (f *Future[R]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the task finishes or ctx ends. Giving up on the wait
// does not cancel the task.
func (f *Future[R]) Wait(ctx context.Context) (R, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}

type Options struct {
	// Workers bounds how many tasks run at once across all keys.
	Workers int
	// QueueDepth bounds how many tasks may wait behind the running one for
	// a single key. Submissions beyond it are rejected.
	QueueDepth int
	// TaskTimeout, when positive, bounds each task's context.
	TaskTimeout time.Duration
}

type job[R any] struct {
	ctx  context.Context
	task Task[R]
	fut  *Future[R]
}

type queue[R any] struct {
	pending []job[R]
}

type Sequencer[K comparable, R any] struct {
	opts Options
	log  zerolog.Logger
	sem  chan struct{}

	mu      sync.Mutex
	queues  map[K]*queue[R]
	closing bool
	wg      sync.WaitGroup
}

func New[K comparable, R any](opts Options, log zerolog.Logger) *Sequencer[K, R] {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = 1
	}
	return &Sequencer[K, R]{
		opts:   opts,
		log:    log,
		sem:    make(chan struct{}, opts.Workers),
		queues: map[K]*queue[R]{},
	}
}

// Submit enqueues task behind every earlier task for key. It fails with
// parking.ErrOverloaded when the key's queue is full and with
// parking.ErrShuttingDown once Drain has been called. The task runs with
// ctx's values but not its cancellation.
func (s *Sequencer[K, R]) Submit(ctx context.Context, key K, task Task[R]) (*Future[R], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closing {
		return nil, parking.ErrShuttingDown
	}

	q, ok := s.queues[key]
	if !ok {
		q = &queue[R]{}
		s.queues[key] = q
		s.wg.Add(1)
		go s.run(key, q)
	}
	if len(q.pending) >= s.opts.QueueDepth {
		s.log.Warn().
			Str("key", fmt.Sprint(key)).
			Int("queue_depth", len(q.pending)).
			Msg("per-key queue full; rejecting task")
		return nil, fmt.Errorf("%w: %v has %d queued", parking.ErrOverloaded, key, len(q.pending))
	}

	fut := newFuture[R]()
	q.pending = append(q.pending, job[R]{ctx: context.WithoutCancel(ctx), task: task, fut: fut})
	return fut, nil
}

// run is the key's worker. It exits, and forgets the key, as soon as the
// queue is empty; the next Submit starts a fresh worker.
func (s *Sequencer[K, R]) run(key K, q *queue[R]) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		if len(q.pending) == 0 {
			delete(s.queues, key)
			s.mu.Unlock()
			return
		}
		j := q.pending[0]
		q.pending[0] = job[R]{}
		q.pending = q.pending[1:]
		s.mu.Unlock()

		s.sem <- struct{}{}
		val, err := s.execute(j)
		<-s.sem

		if err != nil {
			s.log.Debug().Err(err).Str("key", fmt.Sprint(key)).Msg("sequenced task failed")
		}
		j.fut.resolve(val, err)
	}
}

func (s *Sequencer[K, R]) execute(j job[R]) (val R, err error) {
	ctx := j.ctx
	if s.opts.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.TaskTimeout)
		defer cancel()
	}

	var pc panics.Catcher
	pc.Try(func() {
		val, err = j.task(ctx)
	})
	if r := pc.Recovered(); r != nil {
		var zero R
		return zero, fmt.Errorf("task panicked: %w", r.AsError())
	}
	return val, err
}

// Pending reports how many tasks are waiting for key, excluding a running one.
func (s *Sequencer[K, R]) Pending(key K) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q, ok := s.queues[key]; ok {
		return len(q.pending)
	}
	return 0
}

// ActiveKeys reports how many keys currently have a worker.
func (s *Sequencer[K, R]) ActiveKeys() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queues)
}

// Drain stops accepting new tasks and waits for every queued task to
// finish, or for ctx to end.
func (s *Sequencer[K, R]) Drain(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain sequencer: %w", ctx.Err())
	}
}
