package vision

import (
	"context"
	"image"
	"sync"

	"parking-service/internal/domain/parking"
)

// StaticDetector always gives the same answer. It stands in for a detector
// in tests and when none is configured.
type StaticDetector struct {
	Present bool
	Err     error
}

func (d StaticDetector) DetectVehicle(context.Context, parking.SpotKey, image.Image, image.Rectangle) (bool, error) {
	return d.Present, d.Err
}

// NoPlateReader never finds a plate, so every entry goes to manual review.
type NoPlateReader struct{}

func (NoPlateReader) ReadPlate(context.Context, PlateRequest) (parking.PlateReading, error) {
	return parking.PlateReading{}, nil
}

type ScriptedResult struct {
	Reading parking.PlateReading
	Err     error
}

// ScriptedReader returns its results in order and repeats the last one
// once they run out.
type ScriptedReader struct {
	mu      sync.Mutex
	results []ScriptedResult
	calls   int
}

func NewScriptedReader(results ...ScriptedResult) *ScriptedReader {
	return &ScriptedReader{results: results}
}

func (r *ScriptedReader) ReadPlate(context.Context, PlateRequest) (parking.PlateReading, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if len(r.results) == 0 {
		return parking.PlateReading{}, nil
	}
	i := min(r.calls, len(r.results)) - 1
	return r.results[i].Reading, r.results[i].Err
}

func (r *ScriptedReader) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}
