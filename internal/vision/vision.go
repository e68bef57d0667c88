// Package vision answers the two questions the occupancy engine asks of an
// image: is there still a vehicle in this spot, and what plate does this
// crop show.
package vision

import (
	"context"
	"image"

	"parking-service/internal/domain/parking"
)

// VehicleDetector decides whether box within frame still holds a vehicle.
// Implementations must not keep state derived from the frame.
type VehicleDetector interface {
	DetectVehicle(ctx context.Context, key parking.SpotKey, frame image.Image, box image.Rectangle) (bool, error)
}

// PlateReader returns the best plate candidate in a JPEG crop. A crop with
// no plate yields a reading with Found unset, not an error.
type PlateReader interface {
	ReadPlate(ctx context.Context, req PlateRequest) (parking.PlateReading, error)
}

type PlateRequest struct {
	Crop   []byte
	PoleID int64
}

var regionNames = map[string]string{
	"AE-AZ": "Abu Dhabi",
	"AE-DU": "Dubai",
	"AE-SH": "Sharjah",
	"AE-AJ": "Ajman",
	"AE-RK": "RAK",
	"AE-FU": "Fujairah",
	"AE-UQ": "UAQ",
}

// RegionName maps an OCR city code such as AE-DU to the name the ledger
// expects.
func RegionName(code string) string {
	if name, ok := regionNames[code]; ok {
		return name
	}
	return "Unknown"
}
