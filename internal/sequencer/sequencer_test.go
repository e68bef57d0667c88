package sequencer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parking-service/internal/domain/parking"
)

func newTestSequencer(workers, depth int) *Sequencer[string, int] {
	return New[string, int](Options{Workers: workers, QueueDepth: depth, TaskTimeout: time.Second}, zerolog.Nop())
}

func TestSameKeyRunsInSubmissionOrder(t *testing.T) {
	seq := newTestSequencer(8, 100)
	ctx := context.Background()

	var (
		submitMu  sync.Mutex
		submitted []int
		runMu     sync.Mutex
		ran       []int
		futures   []*Future[int]
		wg        sync.WaitGroup
	)
	for i := 0; i < 50; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			submitMu.Lock()
			defer submitMu.Unlock()
			fut, err := seq.Submit(ctx, "cam5/spot2", func(context.Context) (int, error) {
				runMu.Lock()
				ran = append(ran, i)
				runMu.Unlock()
				return i, nil
			})
			require.NoError(t, err)
			submitted = append(submitted, i)
			futures = append(futures, fut)
		}()
	}
	wg.Wait()

	for _, fut := range futures {
		_, err := fut.Wait(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, submitted, ran)
}

func TestDifferentKeysRunInParallel(t *testing.T) {
	seq := newTestSequencer(4, 4)
	ctx := context.Background()

	// Both tasks block until the other has started, which only succeeds if
	// they run at the same time.
	var started sync.WaitGroup
	started.Add(2)
	task := func(context.Context) (int, error) {
		started.Done()
		done := make(chan struct{})
		go func() {
			started.Wait()
			close(done)
		}()
		select {
		case <-done:
			return 1, nil
		case <-time.After(2 * time.Second):
			return 0, errors.New("peer never started")
		}
	}

	a, err := seq.Submit(ctx, "a", task)
	require.NoError(t, err)
	b, err := seq.Submit(ctx, "b", task)
	require.NoError(t, err)

	_, err = a.Wait(ctx)
	require.NoError(t, err)
	_, err = b.Wait(ctx)
	require.NoError(t, err)
}

func TestSubmitRejectsNewTaskWhenQueueFull(t *testing.T) {
	seq := newTestSequencer(1, 2)
	ctx := context.Background()

	release := make(chan struct{})
	running := make(chan struct{})
	first, err := seq.Submit(ctx, "k", func(context.Context) (int, error) {
		close(running)
		<-release
		return 1, nil
	})
	require.NoError(t, err)
	<-running

	queued := make([]*Future[int], 0, 2)
	for i := 0; i < 2; i++ {
		fut, err := seq.Submit(ctx, "k", func(context.Context) (int, error) { return 2, nil })
		require.NoError(t, err)
		queued = append(queued, fut)
	}

	_, err = seq.Submit(ctx, "k", func(context.Context) (int, error) { return 3, nil })
	require.ErrorIs(t, err, parking.ErrOverloaded)

	// Another key is unaffected by k's backlog.
	other, err := seq.Submit(ctx, "other", func(context.Context) (int, error) { return 4, nil })
	require.NoError(t, err)

	close(release)
	_, err = first.Wait(ctx)
	require.NoError(t, err)
	for _, fut := range queued {
		_, err := fut.Wait(ctx)
		require.NoError(t, err)
	}
	v, err := other.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, v)
}

func TestTaskFailureDoesNotStopQueue(t *testing.T) {
	seq := newTestSequencer(2, 10)
	ctx := context.Background()
	boom := errors.New("boom")

	failing, err := seq.Submit(ctx, "k", func(context.Context) (int, error) { return 0, boom })
	require.NoError(t, err)
	panicking, err := seq.Submit(ctx, "k", func(context.Context) (int, error) { panic("bad frame") })
	require.NoError(t, err)
	healthy, err := seq.Submit(ctx, "k", func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)

	_, err = failing.Wait(ctx)
	assert.ErrorIs(t, err, boom)

	_, err = panicking.Wait(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad frame")

	v, err := healthy.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestTaskSurvivesCallerCancellation(t *testing.T) {
	seq := newTestSequencer(1, 1)
	ctx, cancel := context.WithCancel(context.Background())

	fut, err := seq.Submit(ctx, "k", func(taskCtx context.Context) (int, error) {
		time.Sleep(20 * time.Millisecond)
		return 1, taskCtx.Err()
	})
	require.NoError(t, err)
	cancel()

	_, err = fut.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	v, err := fut.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestDrainFinishesQueuedWorkAndRejectsNewTasks(t *testing.T) {
	seq := newTestSequencer(2, 10)
	ctx := context.Background()

	var (
		mu    sync.Mutex
		count int
	)
	for i := 0; i < 5; i++ {
		_, err := seq.Submit(ctx, "k", func(context.Context) (int, error) {
			time.Sleep(5 * time.Millisecond)
			mu.Lock()
			count++
			mu.Unlock()
			return 0, nil
		})
		require.NoError(t, err)
	}

	drainCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, seq.Drain(drainCtx))

	mu.Lock()
	assert.Equal(t, 5, count)
	mu.Unlock()
	assert.Zero(t, seq.ActiveKeys())

	_, err := seq.Submit(ctx, "k", func(context.Context) (int, error) { return 0, nil })
	assert.ErrorIs(t, err, parking.ErrShuttingDown)
}

func TestWorkersRetireWhenIdle(t *testing.T) {
	seq := newTestSequencer(2, 2)
	ctx := context.Background()

	fut, err := seq.Submit(ctx, "k", func(context.Context) (int, error) { return 1, nil })
	require.NoError(t, err)
	_, err = fut.Wait(ctx)
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return seq.ActiveKeys() == 0 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, seq.Pending("k"))
}
