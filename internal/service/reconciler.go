package service

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/rs/zerolog"

	"parking-service/internal/cache"
	"parking-service/internal/domain/parking"
	"parking-service/internal/repository"
	"parking-service/internal/snapshot"
	"parking-service/internal/vision"
)

// observation holds the crops taken from an event frame: jpeg is the plate
// crop for OCR, img the region the vehicle check compares.
type observation struct {
	jpeg        []byte
	img         image.Image
	fingerprint string
}

// Reconciler classifies each occupancy event against the spot's open
// ticket and hands genuine transitions to the Lifecycle. It expects to be
// called one event at a time per spot.
type Reconciler struct {
	store     repository.Store
	detector  vision.VehicleDetector
	frames    FrameFetcher
	lastSeen  *cache.LastSeen
	lifecycle *Lifecycle
	log       zerolog.Logger
}

func NewReconciler(
	store repository.Store,
	detector vision.VehicleDetector,
	frames FrameFetcher,
	lastSeen *cache.LastSeen,
	lifecycle *Lifecycle,
	log zerolog.Logger,
) *Reconciler {
	return &Reconciler{
		store:     store,
		detector:  detector,
		frames:    frames,
		lastSeen:  lastSeen,
		lifecycle: lifecycle,
		log:       log.With().Str("component", "reconciler").Logger(),
	}
}

// Handle produces exactly one outcome per event. Store failures are
// returned; vision failures never are.
func (r *Reconciler) Handle(ctx context.Context, ev parking.OccupancyEvent) (parking.Outcome, error) {
	key := ev.Key()
	log := r.log.With().
		Int64("camera_id", key.CameraID).
		Int("spot_number", key.SpotNumber).
		Time("event_time", ev.EventTime).
		Bool("occupied", ev.IsOccupied()).
		Logger()

	cam, err := retrying(ctx, r.store, "get camera", func(ctx context.Context) (*parking.Camera, error) {
		return r.store.GetCamera(ctx, key.CameraID)
	})
	if errors.Is(err, parking.ErrNotFound) {
		return parking.Outcome{}, fmt.Errorf("%w: unknown camera %d", parking.ErrInvalidInput, key.CameraID)
	}
	if err != nil {
		return parking.Outcome{}, err
	}

	spot, err := retrying(ctx, r.store, "get spot", func(ctx context.Context) (*parking.Spot, error) {
		return r.store.GetSpot(ctx, key)
	})
	if errors.Is(err, parking.ErrNotFound) {
		log.Debug().Msg("spot not calibrated; using event region or full frame")
		spot = nil
	} else if err != nil {
		return parking.Outcome{}, err
	}

	open, err := retrying(ctx, r.store, "get open ticket", func(ctx context.Context) (*parking.Ticket, error) {
		return r.store.GetOpenTicket(ctx, key)
	})
	if err != nil {
		return parking.Outcome{}, err
	}

	if ev.IsOccupied() {
		return r.occupied(ctx, log, cam, spot, ev, open)
	}
	return r.cleared(ctx, log, cam, spot, ev, open)
}

func (r *Reconciler) occupied(ctx context.Context, log zerolog.Logger, cam *parking.Camera, spot *parking.Spot, ev parking.OccupancyEvent, open *parking.Ticket) (parking.Outcome, error) {
	obs := r.observe(log, spot, ev)

	if open != nil {
		r.remember(ev.Key(), obs)
		log.Debug().
			Int64("ticket_id", open.ID).
			Str("state", string(parking.StateOf(open))).
			Msg("spot already occupied")
		return parking.NewOutcome(parking.ClassDuplicateEntry, open.ID), nil
	}

	ticket, err := r.lifecycle.Enter(ctx, cam, spot, ev, obs)
	if errors.Is(err, parking.ErrSpotOccupied) {
		log.Debug().Msg("lost race for spot; treating as duplicate entry")
		return parking.NewOutcome(parking.ClassDuplicateEntry, 0), nil
	}
	if err != nil {
		return parking.Outcome{}, err
	}

	r.remember(ev.Key(), obs)
	return parking.NewOutcome(parking.ClassEntry, ticket.ID), nil
}

func (r *Reconciler) cleared(ctx context.Context, log zerolog.Logger, cam *parking.Camera, spot *parking.Spot, ev parking.OccupancyEvent, open *parking.Ticket) (parking.Outcome, error) {
	if open == nil {
		log.Debug().Msg("no open ticket to close")
		return parking.NewOutcome(parking.ClassNoTicket, 0), nil
	}
	log = log.With().Int64("ticket_id", open.ID).Logger()

	if r.stillOccupied(ctx, log, cam, spot, ev) {
		log.Info().Msg("false clear; vehicle still in spot")
		return parking.NewOutcome(parking.ClassFalseClear, open.ID), nil
	}

	closed, err := r.lifecycle.Exit(ctx, cam, open, ev.EventTime)
	if err != nil {
		return parking.Outcome{}, err
	}
	r.lastSeen.Delete(ev.Key())
	return parking.NewOutcome(parking.ClassExit, closed.ID), nil
}

// stillOccupied asks the detector whether the spot still holds a vehicle.
// Any failure along the way, from a missing frame to a detector error,
// answers false so the exit goes through.
func (r *Reconciler) stillOccupied(ctx context.Context, log zerolog.Logger, cam *parking.Camera, spot *parking.Spot, ev parking.OccupancyEvent) bool {
	frame := ev.FrameImage
	if len(frame) == 0 {
		fetched, err := r.frames.FetchFrame(ctx, *cam)
		if err != nil {
			log.Warn().Err(err).Msg("no frame to verify clear; treating as exit")
			return false
		}
		frame = fetched
	}

	img, err := vision.Decode(frame)
	if err != nil {
		log.Warn().Err(err).Msg("undecodable frame; treating clear as exit")
		return false
	}

	present, err := r.detector.DetectVehicle(ctx, ev.Key(), img, vision.Region(spot, ev.RegionOfInterest))
	if err != nil {
		log.Warn().Err(err).Msg("vehicle check failed; treating clear as exit")
		return false
	}
	return present
}

// observe crops the event frame to the spot. It returns nil when the event
// carries no usable frame.
func (r *Reconciler) observe(log zerolog.Logger, spot *parking.Spot, ev parking.OccupancyEvent) *observation {
	if len(ev.FrameImage) == 0 {
		return nil
	}
	frame, err := vision.Decode(ev.FrameImage)
	if err != nil {
		log.Warn().Err(err).Msg("could not decode event frame")
		return nil
	}

	checkBox := vision.Region(spot, ev.RegionOfInterest)
	check, err := vision.Crop(frame, checkBox)
	if err != nil {
		log.Warn().Err(err).Msg("could not crop event frame")
		return nil
	}
	plate := check
	if plateBox := vision.PlateRegion(spot, ev.RegionOfInterest); plateBox != checkBox {
		if plate, err = vision.Crop(frame, plateBox); err != nil {
			log.Warn().Err(err).Msg("could not crop plate region")
			return nil
		}
	}
	data, err := vision.EncodeJPEG(plate)
	if err != nil {
		log.Warn().Err(err).Msg("could not encode plate crop")
		return nil
	}

	return &observation{
		jpeg:        data,
		img:         check,
		fingerprint: snapshot.Fingerprint(ev.FrameImage, []byte(checkBox.String())),
	}
}

// remember stores the check crop as the spot's reference image. A frame
// resent byte for byte, as cameras do for a parked car, skips re-hashing.
func (r *Reconciler) remember(key parking.SpotKey, obs *observation) {
	if obs == nil {
		return
	}
	if prev, ok := r.lastSeen.Get(key); ok && prev.Fingerprint == obs.fingerprint {
		return
	}
	r.lastSeen.Put(key, cache.Entry{
		Hash:        vision.AverageHash(obs.img),
		Fingerprint: obs.fingerprint,
	})
}
