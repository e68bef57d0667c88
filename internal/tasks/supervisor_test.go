package tasks

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parking-service/internal/domain/parking"
)

func TestShutdownWaitsForTasks(t *testing.T) {
	s := NewSupervisor(zerolog.Nop())
	var done atomic.Bool
	require.NoError(t, s.Go("slow", func(context.Context) error {
		time.Sleep(20 * time.Millisecond)
		done.Store(true)
		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	assert.True(t, done.Load())
	assert.Zero(t, s.Running())

	err := s.Go("late", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, parking.ErrShuttingDown)
}

func TestFailuresAndPanicsAreContained(t *testing.T) {
	s := NewSupervisor(zerolog.Nop())
	require.NoError(t, s.Go("fails", func(context.Context) error { return errors.New("camera offline") }))
	require.NoError(t, s.Go("panics", func(context.Context) error { panic("nil frame") }))
	require.NoError(t, s.Go("ok", func(context.Context) error { return nil }))

	require.NoError(t, s.Shutdown(context.Background()))
	assert.EqualValues(t, 2, s.Failed())
}

func TestShutdownCancelsStragglers(t *testing.T) {
	s := NewSupervisor(zerolog.Nop())
	cancelled := make(chan struct{})
	require.NoError(t, s.Go("stuck", func(ctx context.Context) error {
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := s.Shutdown(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("task context was not cancelled")
	}
}
