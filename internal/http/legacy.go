package http

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"parking-service/internal/domain/parking"
)

// Fields every sensor report must carry. The vehicle frame and resolution
// are not used but their absence marks a malformed report.
var legacyRequiredFields = []string{
	"event", "device", "time", "report_type",
	"resolution_w", "resolution_y", "parking_area",
	"index_number", "occupancy", "duration",
	"coordinate_x1", "coordinate_y1",
	"coordinate_x2", "coordinate_y2",
	"coordinate_x3", "coordinate_y3",
	"coordinate_x4", "coordinate_y4",
	"vehicle_frame_x1", "vehicle_frame_y1",
	"vehicle_frame_x2", "vehicle_frame_y2",
	"snapshot",
}

var parkingAreaPattern = regexp.MustCompile(`^([A-Za-z]+)(\d+)$`)

var legacyTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// legacyOccupancy accepts the flat report the deployed sensors post and
// answers with {"message": ...} as they expect.
func (h *Handler) legacyOccupancy(c *gin.Context) {
	var payload map[string]any
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(fmt.Sprintf("Invalid JSON: %v", err)))
		return
	}

	ev, err := h.legacyEvent(c, payload)
	if err != nil {
		h.handleError(c, err)
		return
	}

	out, err := h.ingest.Process(c.Request.Context(), ev)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": out.Message})
}

func (h *Handler) legacyEvent(c *gin.Context, payload map[string]any) (parking.OccupancyEvent, error) {
	var missing []string
	for _, f := range legacyRequiredFields {
		if payload[f] == nil {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return parking.OccupancyEvent{}, fmt.Errorf("%w: Missing fields: %s", parking.ErrInvalidInput, strings.Join(missing, ", "))
	}

	area, _ := payload["parking_area"].(string)
	m := parkingAreaPattern.FindStringSubmatch(area)
	if m == nil {
		return parking.OccupancyEvent{}, fmt.Errorf("%w: Invalid parking_area format (expected letters+digits, e.g. 'NAD95')", parking.ErrInvalidInput)
	}

	spot, ok := intField(payload["index_number"])
	if !ok {
		return parking.OccupancyEvent{}, fmt.Errorf("%w: index_number must be an integer", parking.ErrInvalidInput)
	}
	occupancy, ok := intField(payload["occupancy"])
	if !ok || (occupancy != 0 && occupancy != 1) {
		return parking.OccupancyEvent{}, fmt.Errorf("%w: occupancy must be 0 or 1", parking.ErrInvalidInput)
	}
	eventTime, err := parseLegacyTime(payload["time"])
	if err != nil {
		return parking.OccupancyEvent{}, err
	}
	snapshot, _ := payload["snapshot"].(string)
	frame, err := base64.StdEncoding.DecodeString(snapshot)
	if err != nil {
		return parking.OccupancyEvent{}, fmt.Errorf("%w: snapshot is not valid base64", parking.ErrInvalidInput)
	}

	var roi parking.Quad
	for i := range roi {
		x, okX := intField(payload[fmt.Sprintf("coordinate_x%d", i+1)])
		y, okY := intField(payload[fmt.Sprintf("coordinate_y%d", i+1)])
		if !okX || !okY {
			return parking.OccupancyEvent{}, fmt.Errorf("%w: coordinate_%d is not numeric", parking.ErrInvalidInput, i+1)
		}
		roi[i] = parking.Point{X: x, Y: y}
	}

	cam, err := h.ingest.ResolveCamera(c.Request.Context(), m[1], m[2])
	if err != nil {
		return parking.OccupancyEvent{}, err
	}

	source := make(map[string]any, len(payload))
	for k, v := range payload {
		if k != "snapshot" {
			source[k] = v
		}
	}

	occupied := occupancy == 1
	return parking.OccupancyEvent{
		CameraID:         cam.ID,
		SpotNumber:       spot,
		Occupied:         &occupied,
		EventTime:        eventTime,
		FrameImage:       frame,
		RegionOfInterest: roi,
		Source:           source,
	}, nil
}

func intField(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		return i, err == nil
	default:
		return 0, false
	}
}

// parseLegacyTime reads ISO-8601 timestamps; ones without a zone are UTC.
func parseLegacyTime(v any) (time.Time, error) {
	s, _ := v.(string)
	s = strings.TrimSpace(s)
	for _, layout := range legacyTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: time %q is not ISO-8601", parking.ErrInvalidInput, s)
}
