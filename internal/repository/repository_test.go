package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parking-service/internal/config"
	"parking-service/internal/db"
	"parking-service/internal/domain/parking"
)

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"bad conn", fmt.Errorf("exec: %w", driver.ErrBadConn), true},
		{"connection exception", &pgconn.PgError{Code: "08006"}, true},
		{"admin shutdown", &pgconn.PgError{Code: "57P01"}, true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"canceled", context.Canceled, false},
		{"not found", parking.ErrNotFound, false},
		{"marked transient", parking.ErrTransientStore, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsTransient(tc.err))
		})
	}
}

func TestWithRetryRetriesOnceOnTransientError(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), zerolog.Nop(), "op", func(context.Context) error {
		calls++
		if calls == 1 {
			return driver.ErrBadConn
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestWithRetrySurfacesTransientStoreErrorAfterSecondFailure(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), zerolog.Nop(), "op", func(context.Context) error {
		calls++
		return driver.ErrBadConn
	})
	require.ErrorIs(t, err, parking.ErrTransientStore)
	assert.Equal(t, 2, calls)
}

func TestWithRetryDoesNotRetryPermanentErrors(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), zerolog.Nop(), "op", func(context.Context) error {
		calls++
		return parking.ErrSpotOccupied
	})
	require.ErrorIs(t, err, parking.ErrSpotOccupied)
	assert.Equal(t, 1, calls)
}

func TestMemoryStoreSingleOpenTicketPerSpot(t *testing.T) {
	store := NewMemoryStore(zerolog.Nop())
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.InsertTicket(ctx, &parking.Ticket{CameraID: 1, SpotNumber: 1, EntryTime: time.Now()})
			if err == nil {
				mu.Lock()
				created++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, parking.ErrSpotOccupied)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, created)
}

func TestMemoryStoreUpdateTicketCompareAndSwap(t *testing.T) {
	store := NewMemoryStore(zerolog.Nop())
	ctx := context.Background()

	ticket := &parking.Ticket{CameraID: 1, SpotNumber: 2, EntryTime: time.Now()}
	id, err := store.InsertTicket(ctx, ticket)
	require.NoError(t, err)

	exit := time.Now()
	updated, err := store.UpdateTicket(ctx, id, 1, parking.TicketPatch{ExitTime: &exit})
	require.NoError(t, err)
	assert.EqualValues(t, 2, updated.Version)
	assert.False(t, updated.IsOpen())

	_, err = store.UpdateTicket(ctx, id, 1, parking.TicketPatch{ExitTime: &exit})
	assert.ErrorIs(t, err, parking.ErrVersionConflict)
}

func TestMemoryStoreInjectedFaultIsRetried(t *testing.T) {
	store := NewMemoryStore(zerolog.Nop())
	store.InjectFault("InsertTicket", driver.ErrBadConn)
	ctx := context.Background()

	var id int64
	err := store.WithRetry(ctx, "insert ticket", func(ctx context.Context) error {
		var err error
		id, err = store.InsertTicket(ctx, &parking.Ticket{CameraID: 3, SpotNumber: 1, EntryTime: time.Now()})
		return err
	})
	require.NoError(t, err)
	assert.NotZero(t, id)
}

func TestTicketRepositoryIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	gdb, err := db.Open(config.DatabaseConfig{DSN: dsn, MaxOpenConns: 5, MaxIdleConns: 2, ConnMaxLife: time.Minute}, zerolog.Nop())
	require.NoError(t, err)

	cam := Camera{PoleID: 586, LocationCode: "IT", APICode: fmt.Sprint(time.Now().UnixNano()), IP: "127.0.0.1"}
	require.NoError(t, gdb.Create(&cam).Error)
	require.NoError(t, gdb.Create(&Spot{CameraID: cam.ID, SpotNumber: 1, BBoxX2: 10, BBoxY2: 10}).Error)

	repo := NewTicketRepository(gdb, zerolog.Nop())
	ctx := context.Background()
	key := parking.SpotKey{CameraID: cam.ID, SpotNumber: 1}

	spot, err := repo.GetSpot(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 10, spot.BoundingBox.Dx())

	first := &parking.Ticket{CameraID: cam.ID, SpotNumber: 1, EntryTime: time.Now().UTC()}
	_, err = repo.InsertTicket(ctx, first)
	require.NoError(t, err)

	_, err = repo.InsertTicket(ctx, &parking.Ticket{CameraID: cam.ID, SpotNumber: 1, EntryTime: time.Now().UTC()})
	assert.True(t, errors.Is(err, parking.ErrSpotOccupied))

	open, err := repo.GetOpenTicket(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, first.ID, open.ID)

	exit := time.Now().UTC()
	closed, err := repo.UpdateTicket(ctx, open.ID, open.Version, parking.TicketPatch{ExitTime: &exit})
	require.NoError(t, err)
	assert.False(t, closed.IsOpen())

	_, err = repo.UpdateTicket(ctx, open.ID, open.Version, parking.TicketPatch{ExitTime: &exit})
	assert.ErrorIs(t, err, parking.ErrVersionConflict)
}
