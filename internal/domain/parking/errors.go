package parking

import "errors"

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrNotFound           = errors.New("not found")
	ErrTransientStore     = errors.New("ticket store unavailable")
	ErrGatewayUnavailable = errors.New("gateway unavailable")
	ErrVisionFailure      = errors.New("vision failure")
	ErrOverloaded         = errors.New("spot queue overloaded")
	ErrShuttingDown       = errors.New("shutting down")
	ErrSpotOccupied       = errors.New("spot already has an open ticket")
	ErrVersionConflict    = errors.New("ticket version conflict")
)
