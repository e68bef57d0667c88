package parking

import (
	"fmt"
	"image"
	"time"
)

// SpotKey identifies a single parking spot as seen by one camera. All
// occupancy processing is serialized per SpotKey.
type SpotKey struct {
	CameraID   int64 `json:"camera_id"`
	SpotNumber int   `json:"spot_number"`
}

func (k SpotKey) String() string {
	return fmt.Sprintf("cam%d/spot%d", k.CameraID, k.SpotNumber)
}

type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Quad is a region of interest reported by the sensor, in image coordinates.
type Quad [4]Point

// Bounds returns the axis-aligned rectangle enclosing the quad.
func (q Quad) Bounds() image.Rectangle {
	minX, minY := q[0].X, q[0].Y
	maxX, maxY := q[0].X, q[0].Y
	for _, p := range q[1:] {
		minX = min(minX, p.X)
		minY = min(minY, p.Y)
		maxX = max(maxX, p.X)
		maxY = max(maxY, p.Y)
	}
	return image.Rect(minX, minY, maxX, maxY)
}

// IsZero reports whether every corner is the origin, which is how an omitted
// region arrives after JSON decoding.
func (q Quad) IsZero() bool {
	return q == Quad{}
}

type Camera struct {
	ID           int64  `json:"id"`
	PoleID       int64  `json:"pole_id"`
	LocationCode string `json:"location_code"`
	APICode      string `json:"api_code"`
	IP           string `json:"ip"`
}

type Spot struct {
	CameraID    int64           `json:"camera_id"`
	SpotNumber  int             `json:"spot_number"`
	BoundingBox image.Rectangle `json:"bounding_box"`
}

func (s Spot) Key() SpotKey {
	return SpotKey{CameraID: s.CameraID, SpotNumber: s.SpotNumber}
}

// OccupancyEvent is the normalized sensor signal handed to the engine.
type OccupancyEvent struct {
	CameraID         int64     `json:"camera_id" validate:"required,gt=0"`
	SpotNumber       int       `json:"spot_number" validate:"required,gt=0"`
	Occupied         *bool     `json:"occupied" validate:"required"`
	EventTime        time.Time `json:"event_time" validate:"required"`
	FrameImage       []byte    `json:"frame_image,omitempty"`
	RegionOfInterest Quad      `json:"region_of_interest"`

	// Source carries the original ingress payload for the report log.
	Source map[string]any `json:"-"`
}

func (e OccupancyEvent) Key() SpotKey {
	return SpotKey{CameraID: e.CameraID, SpotNumber: e.SpotNumber}
}

// IsOccupied reports the sensor state. A missing value reads as not occupied;
// ingest rejects such events before they reach the engine.
func (e OccupancyEvent) IsOccupied() bool {
	return e.Occupied != nil && *e.Occupied
}

type Ticket struct {
	ID             int64      `json:"id"`
	CameraID       int64      `json:"camera_id"`
	SpotNumber     int        `json:"spot_number"`
	PlateNumber    *string    `json:"plate_number,omitempty"`
	PlateCode      *string    `json:"plate_code,omitempty"`
	PlateRegion    *string    `json:"plate_region,omitempty"`
	Confidence     *int       `json:"confidence,omitempty"`
	EntryTime      time.Time  `json:"entry_time"`
	ExitTime       *time.Time `json:"exit_time,omitempty"`
	ExternalTripID *int64     `json:"external_trip_id,omitempty"`
	ImageRef       *string    `json:"image_ref,omitempty"`
	Version        int64      `json:"version"`
	CreatedAt      time.Time  `json:"created_at"`
}

func (t Ticket) Key() SpotKey {
	return SpotKey{CameraID: t.CameraID, SpotNumber: t.SpotNumber}
}

func (t Ticket) IsOpen() bool {
	return t.ExitTime == nil
}

// TicketPatch lists the columns an update may touch; nil fields are left alone.
type TicketPatch struct {
	PlateNumber    *string
	PlateCode      *string
	PlateRegion    *string
	Confidence     *int
	ExitTime       *time.Time
	ExternalTripID *int64
	ImageRef       *string
}

type TicketFilter struct {
	CameraID    *int64
	SpotNumber  *int
	OpenOnly    bool
	MissingTrip bool
	Limit       int
	Offset      int
}

type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "PENDING"
	ReviewResolved ReviewStatus = "RESOLVED"
)

func (s ReviewStatus) Valid() bool {
	return s == ReviewPending || s == ReviewResolved
}

type ManualReview struct {
	ID         int64        `json:"id"`
	TicketID   int64        `json:"ticket_id"`
	CameraID   int64        `json:"camera_id"`
	SpotNumber int          `json:"spot_number"`
	EventTime  time.Time    `json:"event_time"`
	Status     ReviewStatus `json:"status"`
	ImageRef   string       `json:"image_ref"`
	ClipRef    *string      `json:"clip_ref,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}

type ReviewPatch struct {
	Status  *ReviewStatus
	ClipRef *string
}

type PlateStatus string

const (
	PlateRead   PlateStatus = "READ"
	PlateUnread PlateStatus = "UNREAD"
)

// PlateReading is the best OCR candidate for a crop. Found is false when no
// plate region was detected at all.
type PlateReading struct {
	Found      bool   `json:"found"`
	Text       string `json:"text"`
	Category   string `json:"category"`
	Region     string `json:"region"`
	Confidence int    `json:"confidence"`
	Raw        []byte `json:"-"`
}

type PlateLog struct {
	ID         int64       `json:"id"`
	CameraID   int64       `json:"camera_id"`
	SpotNumber int         `json:"spot_number"`
	TicketID   *int64      `json:"ticket_id,omitempty"`
	Status     PlateStatus `json:"status"`
	Reading    PlateReading
	ImageRef   string    `json:"image_ref"`
	AttemptAt  time.Time `json:"attempt_at"`
}

// Report is the raw record of an accepted entry-path event.
type Report struct {
	ID         int64          `json:"id"`
	CameraID   int64          `json:"camera_id"`
	SpotNumber int            `json:"spot_number"`
	Event      string         `json:"event"`
	ReportType string         `json:"report_type"`
	Timestamp  time.Time      `json:"timestamp"`
	Payload    map[string]any `json:"payload"`
}
