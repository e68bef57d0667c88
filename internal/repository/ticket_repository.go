package repository

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"parking-service/internal/domain/parking"
)

type TicketRepository struct {
	db  *gorm.DB
	log zerolog.Logger
}

func NewTicketRepository(db *gorm.DB, log zerolog.Logger) *TicketRepository {
	return &TicketRepository{db: db, log: log}
}

var _ Store = (*TicketRepository)(nil)

type Camera struct {
	ID           int64  `gorm:"primaryKey"`
	PoleID       int64  `gorm:"not null"`
	LocationCode string `gorm:"not null"`
	APICode      string `gorm:"column:api_code;not null"`
	IP           string `gorm:"column:ip;not null"`
	CreatedAt    time.Time
}

type Spot struct {
	CameraID   int64 `gorm:"primaryKey"`
	SpotNumber int   `gorm:"primaryKey"`
	BBoxX1     int   `gorm:"column:bbox_x1"`
	BBoxY1     int   `gorm:"column:bbox_y1"`
	BBoxX2     int   `gorm:"column:bbox_x2"`
	BBoxY2     int   `gorm:"column:bbox_y2"`
}

type Ticket struct {
	ID             int64 `gorm:"primaryKey"`
	CameraID       int64 `gorm:"not null"`
	SpotNumber     int   `gorm:"not null"`
	PlateNumber    *string
	PlateCode      *string
	PlateRegion    *string
	Confidence     *int
	EntryTime      time.Time `gorm:"not null"`
	ExitTime       *time.Time
	ExternalTripID *int64
	ImageRef       *string
	Version        int64 `gorm:"not null;default:1"`
	CreatedAt      time.Time
}

type ManualReview struct {
	ID         int64 `gorm:"primaryKey"`
	TicketID   *int64
	CameraID   int64     `gorm:"not null"`
	SpotNumber int       `gorm:"not null"`
	EventTime  time.Time `gorm:"not null"`
	Status     string    `gorm:"column:review_status;not null"`
	ImageRef   string    `gorm:"not null"`
	ClipRef    *string
	CreatedAt  time.Time
}

type PlateLog struct {
	ID          int64 `gorm:"primaryKey"`
	CameraID    int64 `gorm:"not null"`
	SpotNumber  int   `gorm:"not null"`
	TicketID    *int64
	Status      string `gorm:"not null"`
	PlateNumber *string
	PlateCode   *string
	PlateRegion *string
	Confidence  *int
	ImageRef    string         `gorm:"not null"`
	RawResponse datatypes.JSON `gorm:"type:jsonb"`
	AttemptAt   time.Time
}

type Report struct {
	ID         int64          `gorm:"primaryKey"`
	CameraID   int64          `gorm:"not null"`
	SpotNumber int            `gorm:"not null"`
	Event      string         `gorm:"not null"`
	ReportType string         `gorm:"not null"`
	Timestamp  time.Time      `gorm:"not null"`
	Payload    datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt  time.Time
}

func (r *TicketRepository) GetCamera(ctx context.Context, id int64) (*parking.Camera, error) {
	var cam Camera
	if err := r.db.WithContext(ctx).First(&cam, id).Error; err != nil {
		return nil, notFound(err)
	}
	return cam.toDomain(), nil
}

func (r *TicketRepository) FindCameraByCode(ctx context.Context, locationCode, apiCode string) (*parking.Camera, error) {
	var cam Camera
	err := r.db.WithContext(ctx).
		Where("location_code = ? AND api_code = ?", locationCode, apiCode).
		First(&cam).Error
	if err != nil {
		return nil, notFound(err)
	}
	return cam.toDomain(), nil
}

func (r *TicketRepository) GetSpot(ctx context.Context, key parking.SpotKey) (*parking.Spot, error) {
	var spot Spot
	err := r.db.WithContext(ctx).
		Where("camera_id = ? AND spot_number = ?", key.CameraID, key.SpotNumber).
		First(&spot).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &parking.Spot{
		CameraID:    spot.CameraID,
		SpotNumber:  spot.SpotNumber,
		BoundingBox: image.Rect(spot.BBoxX1, spot.BBoxY1, spot.BBoxX2, spot.BBoxY2),
	}, nil
}

func (r *TicketRepository) GetOpenTicket(ctx context.Context, key parking.SpotKey) (*parking.Ticket, error) {
	var t Ticket
	err := r.db.WithContext(ctx).
		Where("camera_id = ? AND spot_number = ? AND exit_time IS NULL", key.CameraID, key.SpotNumber).
		Order("entry_time DESC").
		First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t.toDomain(), nil
}

func (r *TicketRepository) GetTicket(ctx context.Context, id int64) (*parking.Ticket, error) {
	var t Ticket
	if err := r.db.WithContext(ctx).First(&t, id).Error; err != nil {
		return nil, notFound(err)
	}
	return t.toDomain(), nil
}

func (r *TicketRepository) ListTickets(ctx context.Context, filter parking.TicketFilter) ([]parking.Ticket, error) {
	query := r.db.WithContext(ctx).Model(&Ticket{})

	if filter.CameraID != nil {
		query = query.Where("camera_id = ?", *filter.CameraID)
	}
	if filter.SpotNumber != nil {
		query = query.Where("spot_number = ?", *filter.SpotNumber)
	}
	if filter.OpenOnly {
		query = query.Where("exit_time IS NULL")
	}
	if filter.MissingTrip {
		query = query.Where("external_trip_id IS NULL AND plate_number IS NOT NULL")
	}

	query = query.Order("entry_time DESC")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var rows []Ticket
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	result := make([]parking.Ticket, 0, len(rows))
	for _, row := range rows {
		result = append(result, *row.toDomain())
	}
	return result, nil
}

// InsertTicket checks for an open ticket and inserts under a transaction
// scoped advisory lock on the spot. The partial unique index on open tickets
// backs this up if another writer bypasses the lock.
func (r *TicketRepository) InsertTicket(ctx context.Context, t *parking.Ticket) (int64, error) {
	row := ticketFromDomain(t)
	row.Version = 1

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(?::int, ?::int)", t.CameraID, t.SpotNumber).Error; err != nil {
			return err
		}

		var count int64
		err := tx.Model(&Ticket{}).
			Where("camera_id = ? AND spot_number = ? AND exit_time IS NULL", t.CameraID, t.SpotNumber).
			Count(&count).Error
		if err != nil {
			return err
		}
		if count > 0 {
			return parking.ErrSpotOccupied
		}
		return tx.Create(&row).Error
	})
	if isUniqueViolation(err) {
		return 0, parking.ErrSpotOccupied
	}
	if err != nil {
		return 0, err
	}

	t.ID = row.ID
	t.Version = row.Version
	t.CreatedAt = row.CreatedAt
	return row.ID, nil
}

func (r *TicketRepository) UpdateTicket(ctx context.Context, id, version int64, patch parking.TicketPatch) (*parking.Ticket, error) {
	updates := map[string]any{"version": gorm.Expr("version + 1")}
	if patch.PlateNumber != nil {
		updates["plate_number"] = *patch.PlateNumber
	}
	if patch.PlateCode != nil {
		updates["plate_code"] = *patch.PlateCode
	}
	if patch.PlateRegion != nil {
		updates["plate_region"] = *patch.PlateRegion
	}
	if patch.Confidence != nil {
		updates["confidence"] = *patch.Confidence
	}
	if patch.ExitTime != nil {
		updates["exit_time"] = *patch.ExitTime
	}
	if patch.ExternalTripID != nil {
		updates["external_trip_id"] = *patch.ExternalTripID
	}
	if patch.ImageRef != nil {
		updates["image_ref"] = *patch.ImageRef
	}

	res := r.db.WithContext(ctx).
		Model(&Ticket{}).
		Where("id = ? AND version = ?", id, version).
		Updates(updates)
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			return nil, parking.ErrSpotOccupied
		}
		return nil, res.Error
	}

	current, err := r.GetTicket(ctx, id)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 {
		return current, parking.ErrVersionConflict
	}
	return current, nil
}

func (r *TicketRepository) InsertManualReview(ctx context.Context, mr *parking.ManualReview) (int64, error) {
	row := ManualReview{
		TicketID:   &mr.TicketID,
		CameraID:   mr.CameraID,
		SpotNumber: mr.SpotNumber,
		EventTime:  mr.EventTime,
		Status:     string(mr.Status),
		ImageRef:   mr.ImageRef,
		ClipRef:    mr.ClipRef,
	}
	if row.Status == "" {
		row.Status = string(parking.ReviewPending)
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return 0, err
	}
	mr.ID = row.ID
	mr.Status = parking.ReviewStatus(row.Status)
	mr.CreatedAt = row.CreatedAt
	return row.ID, nil
}

func (r *TicketRepository) GetManualReview(ctx context.Context, id int64) (*parking.ManualReview, error) {
	var row ManualReview
	if err := r.db.WithContext(ctx).First(&row, id).Error; err != nil {
		return nil, notFound(err)
	}
	return row.toDomain(), nil
}

func (r *TicketRepository) ListManualReviews(ctx context.Context, status parking.ReviewStatus, limit, offset int) ([]parking.ManualReview, error) {
	query := r.db.WithContext(ctx).Model(&ManualReview{})
	if status != "" {
		query = query.Where("review_status = ?", string(status))
	}
	query = query.Order("event_time DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var rows []ManualReview
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	result := make([]parking.ManualReview, 0, len(rows))
	for _, row := range rows {
		result = append(result, *row.toDomain())
	}
	return result, nil
}

func (r *TicketRepository) UpdateManualReview(ctx context.Context, id int64, patch parking.ReviewPatch) error {
	updates := map[string]any{}
	if patch.Status != nil {
		updates["review_status"] = string(*patch.Status)
	}
	if patch.ClipRef != nil {
		updates["clip_ref"] = *patch.ClipRef
	}
	if len(updates) == 0 {
		return nil
	}

	res := r.db.WithContext(ctx).Model(&ManualReview{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return parking.ErrNotFound
	}
	return nil
}

func (r *TicketRepository) InsertPlateLog(ctx context.Context, l *parking.PlateLog) error {
	row := PlateLog{
		CameraID:   l.CameraID,
		SpotNumber: l.SpotNumber,
		TicketID:   l.TicketID,
		Status:     string(l.Status),
		ImageRef:   l.ImageRef,
		AttemptAt:  l.AttemptAt,
	}
	if l.Reading.Found {
		row.PlateNumber = &l.Reading.Text
		row.PlateCode = &l.Reading.Category
		row.PlateRegion = &l.Reading.Region
		row.Confidence = &l.Reading.Confidence
	}
	if json.Valid(l.Reading.Raw) {
		row.RawResponse = datatypes.JSON(l.Reading.Raw)
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return err
	}
	l.ID = row.ID
	return nil
}

func (r *TicketRepository) InsertReport(ctx context.Context, rep *parking.Report) error {
	row := Report{
		CameraID:   rep.CameraID,
		SpotNumber: rep.SpotNumber,
		Event:      rep.Event,
		ReportType: rep.ReportType,
		Timestamp:  rep.Timestamp,
	}
	if len(rep.Payload) > 0 {
		payload, err := json.Marshal(rep.Payload)
		if err != nil {
			return err
		}
		row.Payload = datatypes.JSON(payload)
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return err
	}
	rep.ID = row.ID
	return nil
}

func (r *TicketRepository) WithRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return withRetry(ctx, r.log, op, fn)
}

func (r *TicketRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return parking.ErrNotFound
	}
	return err
}

func (c Camera) toDomain() *parking.Camera {
	return &parking.Camera{
		ID:           c.ID,
		PoleID:       c.PoleID,
		LocationCode: c.LocationCode,
		APICode:      c.APICode,
		IP:           c.IP,
	}
}

func (t Ticket) toDomain() *parking.Ticket {
	return &parking.Ticket{
		ID:             t.ID,
		CameraID:       t.CameraID,
		SpotNumber:     t.SpotNumber,
		PlateNumber:    t.PlateNumber,
		PlateCode:      t.PlateCode,
		PlateRegion:    t.PlateRegion,
		Confidence:     t.Confidence,
		EntryTime:      t.EntryTime,
		ExitTime:       t.ExitTime,
		ExternalTripID: t.ExternalTripID,
		ImageRef:       t.ImageRef,
		Version:        t.Version,
		CreatedAt:      t.CreatedAt,
	}
}

func ticketFromDomain(t *parking.Ticket) Ticket {
	return Ticket{
		CameraID:       t.CameraID,
		SpotNumber:     t.SpotNumber,
		PlateNumber:    t.PlateNumber,
		PlateCode:      t.PlateCode,
		PlateRegion:    t.PlateRegion,
		Confidence:     t.Confidence,
		EntryTime:      t.EntryTime,
		ExitTime:       t.ExitTime,
		ExternalTripID: t.ExternalTripID,
		ImageRef:       t.ImageRef,
	}
}

func (m ManualReview) toDomain() *parking.ManualReview {
	mr := &parking.ManualReview{
		ID:         m.ID,
		CameraID:   m.CameraID,
		SpotNumber: m.SpotNumber,
		EventTime:  m.EventTime,
		Status:     parking.ReviewStatus(m.Status),
		ImageRef:   m.ImageRef,
		ClipRef:    m.ClipRef,
		CreatedAt:  m.CreatedAt,
	}
	if m.TicketID != nil {
		mr.TicketID = *m.TicketID
	}
	return mr
}
