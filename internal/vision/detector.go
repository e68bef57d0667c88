package vision

import (
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"parking-service/internal/config"
	"parking-service/internal/domain/parking"
	"parking-service/internal/upstream"
)

type detectRequest struct {
	Image      string `json:"image"`
	CameraID   int64  `json:"camera_id"`
	SpotNumber int    `json:"spot_number"`
}

type detection struct {
	Label      string  `json:"label"`
	Class      *int    `json:"class"`
	Confidence float64 `json:"confidence"`
}

type detectResponse struct {
	Detections []detection `json:"detections"`
}

var vehicleLabels = map[string]bool{
	"car":        true,
	"truck":      true,
	"bus":        true,
	"motorcycle": true,
	"vehicle":    true,
}

// COCO class ids for car, motorcycle, bus and truck.
var vehicleClasses = map[int]bool{2: true, 3: true, 5: true, 7: true}

func (d detection) isVehicle() bool {
	if d.Label != "" {
		return vehicleLabels[strings.ToLower(d.Label)]
	}
	return d.Class != nil && vehicleClasses[*d.Class]
}

// HTTPDetector posts the spot crop to an object detection service and
// reports whether any vehicle-class box came back.
type HTTPDetector struct {
	url    string
	caller *upstream.Caller
	log    zerolog.Logger
}

var _ VehicleDetector = (*HTTPDetector)(nil)

func NewHTTPDetector(cfg config.DetectorConfig, client upstream.Doer, log zerolog.Logger) *HTTPDetector {
	log = log.With().Str("component", "vehicle_detector").Logger()
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPDetector{
		url:    cfg.URL,
		caller: upstream.NewCaller(client, upstream.Options{Name: "detector", Timeout: timeout}, log),
		log:    log,
	}
}

func (d *HTTPDetector) DetectVehicle(ctx context.Context, key parking.SpotKey, frame image.Image, box image.Rectangle) (bool, error) {
	crop, err := Crop(frame, box)
	if err != nil {
		return false, err
	}
	data, err := EncodeJPEG(crop)
	if err != nil {
		return false, err
	}

	body, err := d.caller.PostJSON(ctx, d.url, detectRequest{
		Image:      base64.StdEncoding.EncodeToString(data),
		CameraID:   key.CameraID,
		SpotNumber: key.SpotNumber,
	})
	if err != nil {
		return false, fmt.Errorf("%w: vehicle detector: %w", parking.ErrVisionFailure, err)
	}

	var resp detectResponse
	if err := upstream.Decode(body, &resp); err != nil {
		return false, fmt.Errorf("%w: decode detector response: %v", parking.ErrVisionFailure, err)
	}
	for _, det := range resp.Detections {
		if det.isVehicle() {
			d.log.Debug().
				Int64("camera_id", key.CameraID).
				Int("spot_number", key.SpotNumber).
				Str("label", det.Label).
				Float64("confidence", det.Confidence).
				Msg("vehicle detected in spot")
			return true, nil
		}
	}
	return false, nil
}
