package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"parking-service/internal/billing"
	"parking-service/internal/domain/parking"
)

// Correction is a plate typed in by a reviewer.
type Correction struct {
	PlateNumber string `json:"plate_number" validate:"required"`
	PlateCode   string `json:"plate_code"`
	PlateCity   string `json:"plate_city"`
	Confidence  int    `json:"confidence" validate:"gte=0"`
}

// CorrectReview applies a reviewer's plate to the review's ticket, resolves
// the review and opens the trip. A billing failure leaves the ticket
// without a trip id but still resolves the review.
func (l *Lifecycle) CorrectReview(ctx context.Context, reviewID int64, c Correction) (*parking.Ticket, error) {
	c.PlateNumber = strings.TrimSpace(c.PlateNumber)
	c.PlateCode = strings.TrimSpace(c.PlateCode)
	c.PlateCity = strings.TrimSpace(c.PlateCity)
	if err := checkStruct(l.validate, c); err != nil {
		return nil, err
	}

	review, ticket, cam, err := l.loadReview(ctx, reviewID)
	if err != nil {
		return nil, err
	}
	log := l.log.With().
		Int64("review_id", review.ID).
		Int64("ticket_id", ticket.ID).
		Int64("camera_id", ticket.CameraID).
		Int("spot_number", ticket.SpotNumber).
		Logger()

	updated, err := l.patchTicket(ctx, ticket, func(*parking.Ticket) (parking.TicketPatch, bool) {
		return parking.TicketPatch{
			PlateNumber: &c.PlateNumber,
			PlateCode:   &c.PlateCode,
			PlateRegion: &c.PlateCity,
			Confidence:  &c.Confidence,
		}, true
	})
	if err != nil {
		return nil, fmt.Errorf("correct ticket %d: %w", ticket.ID, err)
	}

	if err := l.resolveReview(ctx, review.ID); err != nil {
		return nil, err
	}
	log.Info().Str("plate_number", c.PlateNumber).Msg("manual review corrected")

	if updated.ExternalTripID != nil {
		return updated, nil
	}
	updated, _, err = l.openTrip(ctx, log, cam, updated, l.reviewImages(log, review))
	return updated, err
}

// DismissReview resolves a review without a plate. If the ticket is still
// open it is closed with a zero-length stay.
func (l *Lifecycle) DismissReview(ctx context.Context, reviewID int64) (*parking.Ticket, error) {
	review, ticket, _, err := l.loadReview(ctx, reviewID)
	if err != nil {
		return nil, err
	}

	closed, err := l.patchTicket(ctx, ticket, func(cur *parking.Ticket) (parking.TicketPatch, bool) {
		if !cur.IsOpen() {
			return parking.TicketPatch{}, false
		}
		entry := cur.EntryTime
		return parking.TicketPatch{ExitTime: &entry}, true
	})
	if err != nil {
		return nil, fmt.Errorf("dismiss ticket %d: %w", ticket.ID, err)
	}
	if err := l.resolveReview(ctx, review.ID); err != nil {
		return nil, err
	}

	l.log.Info().
		Int64("review_id", review.ID).
		Int64("ticket_id", closed.ID).
		Msg("manual review dismissed")
	return closed, nil
}

// ReconcileTrip retries billing for a READ ticket that never got a trip
// id. A trip billing already holds for the spot is adopted rather than
// opened twice. Unlike the entry path, gateway failures are returned.
func (l *Lifecycle) ReconcileTrip(ctx context.Context, ticketID int64) (*parking.Ticket, error) {
	ticket, err := retrying(ctx, l.store, "get ticket", func(ctx context.Context) (*parking.Ticket, error) {
		return l.store.GetTicket(ctx, ticketID)
	})
	if err != nil {
		return nil, err
	}
	if ticket.ExternalTripID != nil {
		return ticket, nil
	}
	if ticket.PlateNumber == nil {
		return nil, fmt.Errorf("%w: ticket %d has no confirmed plate", parking.ErrInvalidInput, ticketID)
	}

	cam, err := l.camera(ctx, ticket.CameraID)
	if err != nil {
		return nil, err
	}
	log := l.log.With().
		Int64("ticket_id", ticket.ID).
		Int64("camera_id", ticket.CameraID).
		Int("spot_number", ticket.SpotNumber).
		Logger()

	if ticket.IsOpen() {
		existing, err := l.billing.FetchTrip(ctx, billing.FetchTripRequest{SpotNumber: ticket.SpotNumber, PoleID: cam.PoleID})
		if err != nil {
			log.Warn().Err(err).Msg("could not look up existing trip; opening a new one")
		} else if existing.HasTrip() {
			log.Info().Int64("trip_id", *existing.TripID).Msg("adopting trip already open in billing")
			return l.attachTrip(ctx, log, cam, ticket, *existing.TripID)
		}
	}

	var images [][]byte
	if ticket.ImageRef != nil && l.images != nil {
		if data, err := l.images.Load(*ticket.ImageRef); err == nil {
			images = [][]byte{data}
		}
	}
	updated, gatewayErr, err := l.openTrip(ctx, log, cam, ticket, images)
	if err != nil {
		return nil, err
	}
	if gatewayErr != nil {
		return nil, fmt.Errorf("reconcile ticket %d: %w", ticketID, gatewayErr)
	}
	return updated, nil
}

func (l *Lifecycle) loadReview(ctx context.Context, reviewID int64) (*parking.ManualReview, *parking.Ticket, *parking.Camera, error) {
	review, err := retrying(ctx, l.store, "get manual review", func(ctx context.Context) (*parking.ManualReview, error) {
		return l.store.GetManualReview(ctx, reviewID)
	})
	if err != nil {
		return nil, nil, nil, err
	}
	if review.Status == parking.ReviewResolved {
		return nil, nil, nil, fmt.Errorf("%w: review %d is already resolved", parking.ErrInvalidInput, reviewID)
	}

	ticket, err := retrying(ctx, l.store, "get ticket", func(ctx context.Context) (*parking.Ticket, error) {
		return l.store.GetTicket(ctx, review.TicketID)
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("ticket %d for review %d: %w", review.TicketID, reviewID, err)
	}

	cam, err := l.camera(ctx, ticket.CameraID)
	if err != nil {
		return nil, nil, nil, err
	}
	return review, ticket, cam, nil
}

func (l *Lifecycle) camera(ctx context.Context, id int64) (*parking.Camera, error) {
	cam, err := retrying(ctx, l.store, "get camera", func(ctx context.Context) (*parking.Camera, error) {
		return l.store.GetCamera(ctx, id)
	})
	if errors.Is(err, parking.ErrNotFound) {
		return nil, fmt.Errorf("camera %d: %w", id, err)
	}
	return cam, err
}

func (l *Lifecycle) resolveReview(ctx context.Context, id int64) error {
	resolved := parking.ReviewResolved
	err := l.store.WithRetry(ctx, "resolve manual review", func(ctx context.Context) error {
		return l.store.UpdateManualReview(ctx, id, parking.ReviewPatch{Status: &resolved})
	})
	if err != nil {
		return fmt.Errorf("resolve review %d: %w", id, err)
	}
	return nil
}

func (l *Lifecycle) reviewImages(log zerolog.Logger, review *parking.ManualReview) [][]byte {
	if review.ImageRef == "" || l.images == nil {
		return nil
	}
	data, err := l.images.Load(review.ImageRef)
	if err != nil {
		log.Warn().Err(err).Str("image_ref", review.ImageRef).Msg("review image unavailable")
		return nil
	}
	return [][]byte{data}
}
