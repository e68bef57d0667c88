package service

import (
	"context"
	"time"

	"parking-service/internal/domain/parking"
	"parking-service/internal/repository"
)

// FrameFetcher grabs a live frame from a camera.
type FrameFetcher interface {
	FetchFrame(ctx context.Context, cam parking.Camera) ([]byte, error)
}

// ClipFetcher downloads the recording around an event and returns where it
// was stored.
type ClipFetcher interface {
	FetchClip(ctx context.Context, cam parking.Camera, eventTime time.Time) (string, error)
}

// ImageStore persists crops and hands back a reference usable as imageRef.
type ImageStore interface {
	Save(key parking.SpotKey, jpeg []byte) (string, error)
	Load(ref string) ([]byte, error)
}

// TaskRunner runs supervised background work.
type TaskRunner interface {
	Go(name string, fn func(ctx context.Context) error) error
}

// retrying runs fn through the store's reconnect-once wrapper and returns
// its value.
func retrying[T any](ctx context.Context, store repository.Store, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := store.WithRetry(ctx, op, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		return err
	})
	return out, err
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
