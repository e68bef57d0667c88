package repository

import (
	"context"

	"parking-service/internal/domain/parking"
)

// Store is the persistence boundary of the occupancy engine. Lookups that
// find nothing return parking.ErrNotFound, except GetOpenTicket which returns
// a nil ticket for a vacant spot.
type Store interface {
	GetCamera(ctx context.Context, id int64) (*parking.Camera, error)
	FindCameraByCode(ctx context.Context, locationCode, apiCode string) (*parking.Camera, error)
	GetSpot(ctx context.Context, key parking.SpotKey) (*parking.Spot, error)

	GetOpenTicket(ctx context.Context, key parking.SpotKey) (*parking.Ticket, error)
	GetTicket(ctx context.Context, id int64) (*parking.Ticket, error)
	ListTickets(ctx context.Context, filter parking.TicketFilter) ([]parking.Ticket, error)
	// InsertTicket fails with parking.ErrSpotOccupied when the spot already
	// has an open ticket.
	InsertTicket(ctx context.Context, t *parking.Ticket) (int64, error)
	// UpdateTicket applies patch only if the stored version still equals
	// version, and fails with parking.ErrVersionConflict otherwise.
	UpdateTicket(ctx context.Context, id, version int64, patch parking.TicketPatch) (*parking.Ticket, error)

	InsertManualReview(ctx context.Context, r *parking.ManualReview) (int64, error)
	GetManualReview(ctx context.Context, id int64) (*parking.ManualReview, error)
	ListManualReviews(ctx context.Context, status parking.ReviewStatus, limit, offset int) ([]parking.ManualReview, error)
	UpdateManualReview(ctx context.Context, id int64, patch parking.ReviewPatch) error

	InsertPlateLog(ctx context.Context, l *parking.PlateLog) error
	InsertReport(ctx context.Context, r *parking.Report) error

	// WithRetry runs fn and, if it failed on a recoverable connectivity
	// error, runs it once more.
	WithRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error
	Ping(ctx context.Context) error
}
