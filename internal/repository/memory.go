package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"parking-service/internal/domain/parking"
)

// MemoryStore is a process-local Store. It backs the service when no
// database is configured and is the fixture store in tests. Faults queued
// with InjectFault are returned by the named operation before it touches
// any state.
type MemoryStore struct {
	mu      sync.Mutex
	log     zerolog.Logger
	nextID  int64
	cameras map[int64]parking.Camera
	spots   map[parking.SpotKey]parking.Spot
	tickets map[int64]parking.Ticket
	reviews map[int64]parking.ManualReview
	plates  []parking.PlateLog
	reports []parking.Report
	faults  map[string][]error
}

func NewMemoryStore(log zerolog.Logger) *MemoryStore {
	return &MemoryStore{
		log:     log,
		cameras: map[int64]parking.Camera{},
		spots:   map[parking.SpotKey]parking.Spot{},
		tickets: map[int64]parking.Ticket{},
		reviews: map[int64]parking.ManualReview{},
		faults:  map[string][]error{},
	}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) PutCamera(c parking.Camera) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cameras[c.ID] = c
}

func (m *MemoryStore) PutSpot(s parking.Spot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spots[s.Key()] = s
}

// InjectFault queues errs to be returned, one per call, by op. Op names
// match the Store method names.
func (m *MemoryStore) InjectFault(op string, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults[op] = append(m.faults[op], errs...)
}

func (m *MemoryStore) fault(op string) error {
	queue := m.faults[op]
	if len(queue) == 0 {
		return nil
	}
	m.faults[op] = queue[1:]
	return queue[0]
}

func (m *MemoryStore) GetCamera(_ context.Context, id int64) (*parking.Camera, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("GetCamera"); err != nil {
		return nil, err
	}
	c, ok := m.cameras[id]
	if !ok {
		return nil, parking.ErrNotFound
	}
	return &c, nil
}

func (m *MemoryStore) FindCameraByCode(_ context.Context, locationCode, apiCode string) (*parking.Camera, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("FindCameraByCode"); err != nil {
		return nil, err
	}
	for _, c := range m.cameras {
		if c.LocationCode == locationCode && c.APICode == apiCode {
			return &c, nil
		}
	}
	return nil, parking.ErrNotFound
}

func (m *MemoryStore) GetSpot(_ context.Context, key parking.SpotKey) (*parking.Spot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("GetSpot"); err != nil {
		return nil, err
	}
	s, ok := m.spots[key]
	if !ok {
		return nil, parking.ErrNotFound
	}
	return &s, nil
}

func (m *MemoryStore) GetOpenTicket(_ context.Context, key parking.SpotKey) (*parking.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("GetOpenTicket"); err != nil {
		return nil, err
	}
	return m.openTicketLocked(key), nil
}

func (m *MemoryStore) openTicketLocked(key parking.SpotKey) *parking.Ticket {
	var open *parking.Ticket
	for _, t := range m.tickets {
		if t.Key() == key && t.IsOpen() {
			if open == nil || t.EntryTime.After(open.EntryTime) {
				t := t
				open = &t
			}
		}
	}
	return open
}

func (m *MemoryStore) GetTicket(_ context.Context, id int64) (*parking.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("GetTicket"); err != nil {
		return nil, err
	}
	t, ok := m.tickets[id]
	if !ok {
		return nil, parking.ErrNotFound
	}
	return &t, nil
}

func (m *MemoryStore) ListTickets(_ context.Context, filter parking.TicketFilter) ([]parking.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("ListTickets"); err != nil {
		return nil, err
	}

	result := make([]parking.Ticket, 0, len(m.tickets))
	for _, t := range m.tickets {
		if filter.CameraID != nil && t.CameraID != *filter.CameraID {
			continue
		}
		if filter.SpotNumber != nil && t.SpotNumber != *filter.SpotNumber {
			continue
		}
		if filter.OpenOnly && !t.IsOpen() {
			continue
		}
		if filter.MissingTrip && (t.ExternalTripID != nil || t.PlateNumber == nil) {
			continue
		}
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].EntryTime.Equal(result[j].EntryTime) {
			return result[i].ID > result[j].ID
		}
		return result[i].EntryTime.After(result[j].EntryTime)
	})
	return page(result, filter.Limit, filter.Offset), nil
}

func (m *MemoryStore) InsertTicket(_ context.Context, t *parking.Ticket) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("InsertTicket"); err != nil {
		return 0, err
	}
	if t.IsOpen() && m.openTicketLocked(t.Key()) != nil {
		return 0, parking.ErrSpotOccupied
	}

	m.nextID++
	t.ID = m.nextID
	t.Version = 1
	t.CreatedAt = time.Now().UTC()
	m.tickets[t.ID] = *t
	return t.ID, nil
}

func (m *MemoryStore) UpdateTicket(_ context.Context, id, version int64, patch parking.TicketPatch) (*parking.Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("UpdateTicket"); err != nil {
		return nil, err
	}

	t, ok := m.tickets[id]
	if !ok {
		return nil, parking.ErrNotFound
	}
	if t.Version != version {
		return &t, parking.ErrVersionConflict
	}

	if patch.PlateNumber != nil {
		t.PlateNumber = patch.PlateNumber
	}
	if patch.PlateCode != nil {
		t.PlateCode = patch.PlateCode
	}
	if patch.PlateRegion != nil {
		t.PlateRegion = patch.PlateRegion
	}
	if patch.Confidence != nil {
		t.Confidence = patch.Confidence
	}
	if patch.ExitTime != nil {
		t.ExitTime = patch.ExitTime
	}
	if patch.ExternalTripID != nil {
		t.ExternalTripID = patch.ExternalTripID
	}
	if patch.ImageRef != nil {
		t.ImageRef = patch.ImageRef
	}
	t.Version++
	m.tickets[id] = t
	return &t, nil
}

func (m *MemoryStore) InsertManualReview(_ context.Context, r *parking.ManualReview) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("InsertManualReview"); err != nil {
		return 0, err
	}
	m.nextID++
	r.ID = m.nextID
	if r.Status == "" {
		r.Status = parking.ReviewPending
	}
	r.CreatedAt = time.Now().UTC()
	m.reviews[r.ID] = *r
	return r.ID, nil
}

func (m *MemoryStore) GetManualReview(_ context.Context, id int64) (*parking.ManualReview, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("GetManualReview"); err != nil {
		return nil, err
	}
	r, ok := m.reviews[id]
	if !ok {
		return nil, parking.ErrNotFound
	}
	return &r, nil
}

func (m *MemoryStore) ListManualReviews(_ context.Context, status parking.ReviewStatus, limit, offset int) ([]parking.ManualReview, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("ListManualReviews"); err != nil {
		return nil, err
	}
	result := make([]parking.ManualReview, 0, len(m.reviews))
	for _, r := range m.reviews {
		if status != "" && r.Status != status {
			continue
		}
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].EventTime.Equal(result[j].EventTime) {
			return result[i].ID > result[j].ID
		}
		return result[i].EventTime.After(result[j].EventTime)
	})
	return page(result, limit, offset), nil
}

func (m *MemoryStore) UpdateManualReview(_ context.Context, id int64, patch parking.ReviewPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("UpdateManualReview"); err != nil {
		return err
	}
	r, ok := m.reviews[id]
	if !ok {
		return parking.ErrNotFound
	}
	if patch.Status != nil {
		r.Status = *patch.Status
	}
	if patch.ClipRef != nil {
		r.ClipRef = patch.ClipRef
	}
	m.reviews[id] = r
	return nil
}

func (m *MemoryStore) InsertPlateLog(_ context.Context, l *parking.PlateLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("InsertPlateLog"); err != nil {
		return err
	}
	m.nextID++
	l.ID = m.nextID
	m.plates = append(m.plates, *l)
	return nil
}

func (m *MemoryStore) InsertReport(_ context.Context, r *parking.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("InsertReport"); err != nil {
		return err
	}
	m.nextID++
	r.ID = m.nextID
	m.reports = append(m.reports, *r)
	return nil
}

// PlateLogs returns a copy of every recorded plate attempt, oldest first.
func (m *MemoryStore) PlateLogs() []parking.PlateLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]parking.PlateLog(nil), m.plates...)
}

func (m *MemoryStore) Reports() []parking.Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]parking.Report(nil), m.reports...)
}

func (m *MemoryStore) WithRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return withRetry(ctx, m.log, op, fn)
}

func (m *MemoryStore) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fault("Ping")
}

func page[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return items[:0]
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
