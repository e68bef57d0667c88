package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"parking-service/internal/domain/parking"
	"parking-service/internal/repository"
	"parking-service/internal/sequencer"
)

// IngestService is the entry point for occupancy events. It validates each
// event and runs it through the reconciler on the spot's sequencer lane.
type IngestService struct {
	store      repository.Store
	reconciler *Reconciler
	lanes      *sequencer.Sequencer[parking.SpotKey, parking.Outcome]
	validate   *validator.Validate
	log        zerolog.Logger
}

func NewIngestService(
	store repository.Store,
	reconciler *Reconciler,
	lanes *sequencer.Sequencer[parking.SpotKey, parking.Outcome],
	log zerolog.Logger,
) *IngestService {
	return &IngestService{
		store:      store,
		reconciler: reconciler,
		lanes:      lanes,
		validate:   newValidator(),
		log:        log.With().Str("component", "ingest").Logger(),
	}
}

// Process handles one event and waits for its outcome. If ctx ends first the
// event still runs to completion on its lane.
func (s *IngestService) Process(ctx context.Context, ev parking.OccupancyEvent) (parking.Outcome, error) {
	if err := checkStruct(s.validate, ev); err != nil {
		return parking.Outcome{}, err
	}
	ev.EventTime = ev.EventTime.UTC()

	key := ev.Key()
	future, err := s.lanes.Submit(ctx, key, func(ctx context.Context) (parking.Outcome, error) {
		out, err := s.reconciler.Handle(ctx, ev)
		if err != nil {
			s.log.Error().
				Err(err).
				Int64("camera_id", key.CameraID).
				Int("spot_number", key.SpotNumber).
				Time("event_time", ev.EventTime).
				Bool("occupied", ev.IsOccupied()).
				Msg("occupancy event failed")
			return parking.Outcome{}, err
		}
		s.log.Info().
			Int64("camera_id", key.CameraID).
			Int("spot_number", key.SpotNumber).
			Time("event_time", ev.EventTime).
			Str("classification", string(out.Class)).
			Int64("ticket_id", out.TicketID).
			Msg("occupancy event processed")
		return out, nil
	})
	if err != nil {
		s.log.Warn().
			Err(err).
			Int64("camera_id", key.CameraID).
			Int("spot_number", key.SpotNumber).
			Msg("occupancy event rejected")
		return parking.Outcome{}, err
	}
	return future.Wait(ctx)
}

// ResolveCamera finds the camera a legacy sensor payload refers to.
func (s *IngestService) ResolveCamera(ctx context.Context, locationCode, apiCode string) (*parking.Camera, error) {
	cam, err := retrying(ctx, s.store, "find camera", func(ctx context.Context) (*parking.Camera, error) {
		return s.store.FindCameraByCode(ctx, locationCode, apiCode)
	})
	if errors.Is(err, parking.ErrNotFound) {
		return nil, fmt.Errorf("%w: No camera found for that parking_area", parking.ErrInvalidInput)
	}
	return cam, err
}
