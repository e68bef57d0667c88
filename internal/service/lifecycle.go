package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"parking-service/internal/billing"
	"parking-service/internal/domain/parking"
	"parking-service/internal/repository"
	"parking-service/internal/vision"
)

// Lifecycle owns ticket creation, plate confirmation, manual review
// escalation and closing. It is the only writer of trip ids and review rows.
type Lifecycle struct {
	store     repository.Store
	billing   billing.Gateway
	plates    vision.PlateReader
	frames    FrameFetcher
	clips     ClipFetcher
	images    ImageStore
	tasks     TaskRunner
	threshold int
	writeWait time.Duration
	validate  *validator.Validate
	log       zerolog.Logger
}

type LifecycleDeps struct {
	Store   repository.Store
	Billing billing.Gateway
	Plates  vision.PlateReader
	Frames  FrameFetcher
	Clips   ClipFetcher
	Images  ImageStore
	Tasks   TaskRunner
	// ConfidenceThreshold is the lowest OCR confidence counted as READ.
	ConfidenceThreshold int
	// WriteTimeout bounds each ledger write. Ledger writes do not inherit
	// the event's deadline, so a slow camera or OCR cannot strand a ticket
	// without its review.
	WriteTimeout time.Duration
}

const defaultWriteTimeout = 10 * time.Second

func NewLifecycle(deps LifecycleDeps, log zerolog.Logger) *Lifecycle {
	writeWait := deps.WriteTimeout
	if writeWait <= 0 {
		writeWait = defaultWriteTimeout
	}
	return &Lifecycle{
		store:     deps.Store,
		billing:   deps.Billing,
		plates:    deps.Plates,
		frames:    deps.Frames,
		clips:     deps.Clips,
		images:    deps.Images,
		tasks:     deps.Tasks,
		threshold: deps.ConfidenceThreshold,
		writeWait: writeWait,
		validate:  newValidator(),
		log:       log.With().Str("component", "lifecycle").Logger(),
	}
}

// plateAttempt is one OCR pass over one crop.
type plateAttempt struct {
	reading parking.PlateReading
	status  parking.PlateStatus
	jpeg    []byte
	ref     *string
}

// Enter opens a ticket for a newly occupied spot, then tries to read the
// plate. A READ plate is sent to billing; an UNREAD one goes to manual
// review. It fails with parking.ErrSpotOccupied if the spot already has an
// open ticket.
func (l *Lifecycle) Enter(ctx context.Context, cam *parking.Camera, spot *parking.Spot, ev parking.OccupancyEvent, obs *observation) (*parking.Ticket, error) {
	key := ev.Key()
	log := l.log.With().
		Int64("camera_id", key.CameraID).
		Int("spot_number", key.SpotNumber).
		Time("event_time", ev.EventTime).
		Logger()

	var first *plateAttempt
	if obs != nil {
		first = &plateAttempt{jpeg: obs.jpeg, ref: l.saveImage(log, key, obs.jpeg)}
	}

	ticket := &parking.Ticket{
		CameraID:   key.CameraID,
		SpotNumber: key.SpotNumber,
		EntryTime:  ev.EventTime.UTC(),
	}
	if first != nil {
		ticket.ImageRef = first.ref
	}
	err := l.store.WithRetry(ctx, "insert ticket", func(ctx context.Context) error {
		_, err := l.store.InsertTicket(ctx, ticket)
		return err
	})
	if err != nil {
		return nil, err
	}
	log = log.With().Int64("ticket_id", ticket.ID).Logger()
	log.Info().Msg("ticket opened")

	l.recordReport(ctx, log, ev)

	attempt := l.recognise(ctx, log, cam, spot, ev, ticket.ID, first)
	if attempt.status == parking.PlateRead {
		return l.confirm(ctx, log, cam, ticket, attempt)
	}
	if err := l.escalate(ctx, log, cam, ticket, ev.EventTime, attempt.ref); err != nil {
		return nil, err
	}
	return ticket, nil
}

// recognise reads the plate from first, and if that is missing or UNREAD,
// once more from a fresh camera frame.
func (l *Lifecycle) recognise(ctx context.Context, log zerolog.Logger, cam *parking.Camera, spot *parking.Spot, ev parking.OccupancyEvent, ticketID int64, first *plateAttempt) plateAttempt {
	key := ev.Key()
	best := plateAttempt{status: parking.PlateUnread}
	if first != nil {
		best = l.readPlate(ctx, log, cam, key, ticketID, *first)
		if best.status == parking.PlateRead {
			return best
		}
	}

	frame, err := l.frames.FetchFrame(ctx, *cam)
	if err != nil {
		log.Warn().Err(err).Msg("no fresh frame for plate retry")
		return best
	}
	data, _, err := vision.CropJPEG(frame, vision.PlateRegion(spot, ev.RegionOfInterest))
	if err != nil {
		log.Warn().Err(err).Msg("could not crop fresh frame for plate retry")
		return best
	}

	retry := l.readPlate(ctx, log, cam, key, ticketID, plateAttempt{jpeg: data, ref: l.saveImage(log, key, data)})
	if retry.status == parking.PlateRead || best.ref == nil {
		return retry
	}
	return best
}

func (l *Lifecycle) readPlate(ctx context.Context, log zerolog.Logger, cam *parking.Camera, key parking.SpotKey, ticketID int64, a plateAttempt) plateAttempt {
	reading, err := l.plates.ReadPlate(ctx, vision.PlateRequest{Crop: a.jpeg, PoleID: cam.PoleID})
	if err != nil {
		log.Warn().Err(err).Msg("plate recognition failed")
		reading = parking.PlateReading{}
	}
	a.reading = reading
	a.status = parking.PlateUnread
	if reading.Found && reading.Confidence >= l.threshold {
		a.status = parking.PlateRead
	}

	log.Debug().
		Str("plate_status", string(a.status)).
		Str("plate_number", reading.Text).
		Int("confidence", reading.Confidence).
		Int("threshold", l.threshold).
		Msg("plate attempt")

	entry := &parking.PlateLog{
		CameraID:   key.CameraID,
		SpotNumber: key.SpotNumber,
		TicketID:   &ticketID,
		Status:     a.status,
		Reading:    reading,
		ImageRef:   deref(a.ref),
		AttemptAt:  time.Now().UTC(),
	}
	wctx, cancel := l.ledgerContext(ctx)
	defer cancel()
	if err := l.store.WithRetry(wctx, "insert plate log", func(ctx context.Context) error {
		return l.store.InsertPlateLog(ctx, entry)
	}); err != nil {
		log.Warn().Err(err).Msg("failed to record plate attempt")
	}
	return a
}

// confirm stores the plate on the ticket and opens a trip for it.
func (l *Lifecycle) confirm(ctx context.Context, log zerolog.Logger, cam *parking.Camera, ticket *parking.Ticket, a plateAttempt) (*parking.Ticket, error) {
	r := a.reading
	updated, err := l.patchTicket(ctx, ticket, func(*parking.Ticket) (parking.TicketPatch, bool) {
		return parking.TicketPatch{
			PlateNumber: &r.Text,
			PlateCode:   &r.Category,
			PlateRegion: &r.Region,
			Confidence:  &r.Confidence,
			ImageRef:    a.ref,
		}, true
	})
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("plate_number", r.Text).
		Str("plate_region", r.Region).
		Int("confidence", r.Confidence).
		Msg("plate read")

	var images [][]byte
	if len(a.jpeg) > 0 {
		images = [][]byte{a.jpeg}
	}
	updated, _, err = l.openTrip(ctx, log, cam, updated, images)
	return updated, err
}

// openTrip asks billing for a trip and stores the id it returns. The
// gateway error is informational: the ticket stays valid without a trip id
// and the gap shows up in the reconciliation listing. err reports store
// failures only.
func (l *Lifecycle) openTrip(ctx context.Context, log zerolog.Logger, cam *parking.Camera, t *parking.Ticket, images [][]byte) (ticket *parking.Ticket, gatewayErr error, err error) {
	res, gatewayErr := l.billing.OpenTrip(ctx, billing.OpenTripRequest{
		EntryTime:   t.EntryTime,
		PlateNumber: deref(t.PlateNumber),
		PlateCode:   deref(t.PlateCode),
		Region:      deref(t.PlateRegion),
		Confidence:  deref(t.Confidence),
		SpotNumber:  t.SpotNumber,
		PoleID:      cam.PoleID,
		Images:      images,
	})
	if gatewayErr != nil {
		log.Error().Err(gatewayErr).Msg("open trip failed; ticket has no trip id")
		return t, gatewayErr, nil
	}
	if !res.HasTrip() {
		log.Warn().Msg("billing accepted entry without a trip id")
		return t, nil, nil
	}
	ticket, err = l.attachTrip(ctx, log, cam, t, *res.TripID)
	return ticket, nil, err
}

// attachTrip records tripID on the ticket. If the ticket was closed in the
// meantime the trip is closed straight away.
func (l *Lifecycle) attachTrip(ctx context.Context, log zerolog.Logger, cam *parking.Camera, t *parking.Ticket, tripID int64) (*parking.Ticket, error) {
	updated, err := l.patchTicket(ctx, t, func(cur *parking.Ticket) (parking.TicketPatch, bool) {
		if cur.ExternalTripID != nil && *cur.ExternalTripID == tripID {
			return parking.TicketPatch{}, false
		}
		return parking.TicketPatch{ExternalTripID: &tripID}, true
	})
	if err != nil {
		return nil, fmt.Errorf("store trip id %d: %w", tripID, err)
	}
	log.Info().Int64("trip_id", tripID).Msg("trip opened")

	if !updated.IsOpen() {
		l.closeTrip(ctx, log, cam, updated)
	}
	return updated, nil
}

// escalate files a manual review for an unreadable plate and schedules the
// clip download that goes with it.
func (l *Lifecycle) escalate(ctx context.Context, log zerolog.Logger, cam *parking.Camera, ticket *parking.Ticket, eventTime time.Time, imageRef *string) error {
	review := &parking.ManualReview{
		TicketID:   ticket.ID,
		CameraID:   ticket.CameraID,
		SpotNumber: ticket.SpotNumber,
		EventTime:  eventTime.UTC(),
		Status:     parking.ReviewPending,
		ImageRef:   deref(imageRef),
	}
	wctx, cancel := l.ledgerContext(ctx)
	defer cancel()
	err := l.store.WithRetry(wctx, "insert manual review", func(ctx context.Context) error {
		_, err := l.store.InsertManualReview(ctx, review)
		return err
	})
	if err != nil {
		return fmt.Errorf("create manual review: %w", err)
	}
	log.Info().Int64("review_id", review.ID).Msg("plate unread; manual review created")

	if l.clips == nil || l.tasks == nil {
		return nil
	}
	camera := *cam
	reviewID := review.ID
	name := fmt.Sprintf("review-clip/%d", reviewID)
	if err := l.tasks.Go(name, func(ctx context.Context) error {
		return l.attachClip(ctx, camera, reviewID, eventTime)
	}); err != nil {
		log.Warn().Err(err).Int64("review_id", reviewID).Msg("review clip not scheduled")
	}
	return nil
}

func (l *Lifecycle) attachClip(ctx context.Context, cam parking.Camera, reviewID int64, eventTime time.Time) error {
	path, err := l.clips.FetchClip(ctx, cam, eventTime)
	if err != nil {
		return fmt.Errorf("review %d clip: %w", reviewID, err)
	}
	return l.store.WithRetry(ctx, "attach review clip", func(ctx context.Context) error {
		return l.store.UpdateManualReview(ctx, reviewID, parking.ReviewPatch{ClipRef: &path})
	})
}

// Exit closes the open ticket at exitTime and closes its trip when it has
// one. Billing failures are logged; the local closure stands.
func (l *Lifecycle) Exit(ctx context.Context, cam *parking.Camera, open *parking.Ticket, exitTime time.Time) (*parking.Ticket, error) {
	log := l.log.With().
		Int64("camera_id", open.CameraID).
		Int("spot_number", open.SpotNumber).
		Int64("ticket_id", open.ID).
		Logger()

	exitAt := exitTime.UTC()
	if exitAt.Before(open.EntryTime) {
		log.Warn().
			Time("exit_time", exitAt).
			Time("entry_time", open.EntryTime).
			Msg("exit precedes entry; clamping to entry time")
		exitAt = open.EntryTime
	}

	closedHere := false
	closed, err := l.patchTicket(ctx, open, func(cur *parking.Ticket) (parking.TicketPatch, bool) {
		if !cur.IsOpen() {
			return parking.TicketPatch{}, false
		}
		closedHere = true
		return parking.TicketPatch{ExitTime: &exitAt}, true
	})
	if err != nil {
		return nil, fmt.Errorf("close ticket %d: %w", open.ID, err)
	}
	if !closedHere {
		log.Info().Msg("ticket was already closed")
		return closed, nil
	}
	log.Info().Time("exit_time", exitAt).Msg("ticket closed")

	if closed.ExternalTripID == nil {
		log.Debug().Msg("ticket never confirmed with billing; nothing to close upstream")
		return closed, nil
	}
	l.closeTrip(ctx, log, cam, closed)
	return closed, nil
}

func (l *Lifecycle) closeTrip(ctx context.Context, log zerolog.Logger, cam *parking.Camera, t *parking.Ticket) {
	tripID := *t.ExternalTripID
	err := l.billing.CloseTrip(ctx, billing.CloseTripRequest{
		TripID:     tripID,
		ExitTime:   *t.ExitTime,
		SpotNumber: t.SpotNumber,
		PoleID:     cam.PoleID,
	})
	if err != nil {
		log.Error().Err(err).Int64("trip_id", tripID).Msg("close trip failed; local closure stands")
		return
	}
	log.Info().Int64("trip_id", tripID).Msg("trip closed")
}

// patchTicket applies the patch built from the current row. On a version
// conflict it reloads the row and builds again, once. build returning false
// leaves the row as it is.
func (l *Lifecycle) patchTicket(ctx context.Context, t *parking.Ticket, build func(cur *parking.Ticket) (parking.TicketPatch, bool)) (*parking.Ticket, error) {
	ctx, cancel := l.ledgerContext(ctx)
	defer cancel()

	cur := t
	for attempt := 0; ; attempt++ {
		patch, ok := build(cur)
		if !ok {
			return cur, nil
		}
		id, version := cur.ID, cur.Version
		updated, err := retrying(ctx, l.store, "update ticket", func(ctx context.Context) (*parking.Ticket, error) {
			return l.store.UpdateTicket(ctx, id, version, patch)
		})
		if err == nil {
			return updated, nil
		}
		if !errors.Is(err, parking.ErrVersionConflict) || attempt > 0 {
			return nil, err
		}

		cur, err = retrying(ctx, l.store, "reload ticket", func(ctx context.Context) (*parking.Ticket, error) {
			return l.store.GetTicket(ctx, id)
		})
		if err != nil {
			return nil, err
		}
	}
}

// ledgerContext keeps ctx's values but swaps its deadline for the write
// timeout.
func (l *Lifecycle) ledgerContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), l.writeWait)
}

func (l *Lifecycle) saveImage(log zerolog.Logger, key parking.SpotKey, jpeg []byte) *string {
	if l.images == nil || len(jpeg) == 0 {
		return nil
	}
	ref, err := l.images.Save(key, jpeg)
	if err != nil {
		log.Warn().Err(err).Msg("failed to store crop")
		return nil
	}
	return &ref
}

func (l *Lifecycle) recordReport(ctx context.Context, log zerolog.Logger, ev parking.OccupancyEvent) {
	payload := ev.Source
	if payload == nil {
		payload = map[string]any{
			"camera_id":   ev.CameraID,
			"spot_number": ev.SpotNumber,
			"occupied":    ev.IsOccupied(),
			"event_time":  ev.EventTime,
		}
	}
	report := &parking.Report{
		CameraID:   ev.CameraID,
		SpotNumber: ev.SpotNumber,
		Event:      stringField(payload, "event", "occupancy"),
		ReportType: stringField(payload, "report_type", "entry"),
		Timestamp:  ev.EventTime.UTC(),
		Payload:    payload,
	}
	wctx, cancel := l.ledgerContext(ctx)
	defer cancel()
	if err := l.store.WithRetry(wctx, "insert report", func(ctx context.Context) error {
		return l.store.InsertReport(ctx, report)
	}); err != nil {
		log.Warn().Err(err).Msg("failed to record entry report")
	}
}

func stringField(m map[string]any, key, fallback string) string {
	if s, ok := m[key].(string); ok && s != "" {
		return s
	}
	return fallback
}
