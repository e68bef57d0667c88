// Package tasks tracks background work started outside the request path so
// shutdown can wait for it.
package tasks

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"parking-service/internal/domain/parking"
)

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    zerolog.Logger

	mu      sync.Mutex
	closed  bool
	wg      conc.WaitGroup
	running atomic.Int64
	failed  atomic.Int64
}

func NewSupervisor(log zerolog.Logger) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		ctx:    ctx,
		cancel: cancel,
		log:    log.With().Str("component", "tasks").Logger(),
	}
}

// Go runs fn in the background. The context handed to fn is cancelled only
// when Shutdown gives up waiting. Errors and panics are logged, never
// propagated. It fails with parking.ErrShuttingDown once Shutdown began.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return parking.ErrShuttingDown
	}

	s.running.Add(1)
	s.wg.Go(func() {
		defer s.running.Add(-1)

		var err error
		var pc panics.Catcher
		pc.Try(func() { err = fn(s.ctx) })
		if r := pc.Recovered(); r != nil {
			err = fmt.Errorf("task panicked: %w", r.AsError())
		}
		if err != nil {
			s.failed.Add(1)
			s.log.Error().Err(err).Str("task", name).Msg("background task failed")
			return
		}
		s.log.Debug().Str("task", name).Msg("background task finished")
	})
	return nil
}

// Running reports how many tasks have not finished yet.
func (s *Supervisor) Running() int64 {
	return s.running.Load()
}

// Failed reports how many tasks ended with an error or panic.
func (s *Supervisor) Failed() int64 {
	return s.failed.Load()
}

// Shutdown refuses new tasks and waits for running ones. If ctx ends first
// the remaining tasks are cancelled and ctx's error is returned.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		s.log.Warn().Int64("running", s.Running()).Msg("cancelling background tasks at shutdown")
		return fmt.Errorf("shutdown tasks: %w", ctx.Err())
	}
}
