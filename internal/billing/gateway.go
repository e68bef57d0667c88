// Package billing talks to the external trip ledger. Each operation is
// retried by the shared upstream caller and never blocks ticket lifecycle
// correctness: callers log failures and carry on.
package billing

//go:generate mockgen -source=gateway.go -destination=mock_gateway.go -package=billing

import (
	"context"
	"time"
)

// Gateway opens, closes and looks up trips for parked vehicles.
type Gateway interface {
	// OpenTrip registers a parked vehicle. A nil TripID in the result means
	// the ledger accepted the request but has not issued a trip yet.
	OpenTrip(ctx context.Context, req OpenTripRequest) (TripResult, error)
	CloseTrip(ctx context.Context, req CloseTripRequest) error
	// FetchTrip returns the trip currently open on a spot, if any.
	FetchTrip(ctx context.Context, req FetchTripRequest) (TripResult, error)
}

type OpenTripRequest struct {
	EntryTime   time.Time
	PlateNumber string
	PlateCode   string
	Region      string
	Confidence  int
	SpotNumber  int
	PoleID      int64
	// Images are JPEG crops attached as evidence.
	Images [][]byte
}

type CloseTripRequest struct {
	TripID     int64
	ExitTime   time.Time
	SpotNumber int
	PoleID     int64
}

type FetchTripRequest struct {
	SpotNumber int
	PoleID     int64
}

type TripResult struct {
	TripID *int64
}

func (r TripResult) HasTrip() bool {
	return r.TripID != nil
}
