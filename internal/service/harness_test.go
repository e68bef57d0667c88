package service

import (
	"context"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"parking-service/internal/billing"
	"parking-service/internal/cache"
	"parking-service/internal/domain/parking"
	"parking-service/internal/repository"
	"parking-service/internal/sequencer"
	"parking-service/internal/snapshot"
	"parking-service/internal/tasks"
	"parking-service/internal/vision"
)

const (
	testCameraID = int64(5)
	testPoleID   = int64(77)
	testSpot     = 2
	testThresh   = 5
)

var t0 = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

type stubFrames struct {
	mu    sync.Mutex
	frame []byte
	err   error
	calls int
	// hang makes FetchFrame wait for ctx to end, like an unreachable camera.
	hang bool
}

func (f *stubFrames) FetchFrame(ctx context.Context, _ parking.Camera) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	frame, err, hang := f.frame, f.err, f.hang
	f.mu.Unlock()
	if hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return frame, err
}

// deadlineStore fails writes whose context has already ended, the way a
// database driver does.
type deadlineStore struct {
	*repository.MemoryStore
}

func (s deadlineStore) InsertManualReview(ctx context.Context, r *parking.ManualReview) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return s.MemoryStore.InsertManualReview(ctx, r)
}

func (s deadlineStore) UpdateTicket(ctx context.Context, id, version int64, patch parking.TicketPatch) (*parking.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.MemoryStore.UpdateTicket(ctx, id, version, patch)
}

type stubClips struct {
	path string
	err  error
}

func (c stubClips) FetchClip(context.Context, parking.Camera, time.Time) (string, error) {
	return c.path, c.err
}

type harness struct {
	store     *repository.MemoryStore
	gateway   *billing.MockGateway
	reader    *vision.ScriptedReader
	detector  *vision.StaticDetector
	frames    *stubFrames
	tasks     *tasks.Supervisor
	lastSeen  *cache.LastSeen
	lifecycle *Lifecycle
	ingest    *IngestService
	query     *QueryService
}

type harnessOpts struct {
	readings    []vision.ScriptedResult
	queueDepth  int
	taskTimeout time.Duration
}

func newHarness(t *testing.T, opts harnessOpts) *harness {
	t.Helper()
	log := zerolog.Nop()
	ctrl := gomock.NewController(t)

	store := repository.NewMemoryStore(log)
	store.PutCamera(parking.Camera{ID: testCameraID, PoleID: testPoleID, LocationCode: "NAD", APICode: "95", IP: "10.0.0.5"})

	h := &harness{
		store:    store,
		gateway:  billing.NewMockGateway(ctrl),
		reader:   vision.NewScriptedReader(opts.readings...),
		detector: &vision.StaticDetector{},
		frames:   &stubFrames{frame: testFrame(t)},
		tasks:    tasks.NewSupervisor(log),
		lastSeen: cache.NewLastSeen(16),
	}
	images := snapshot.NewStore(t.TempDir())
	ledger := deadlineStore{store}
	h.lifecycle = NewLifecycle(LifecycleDeps{
		Store:               ledger,
		Billing:             h.gateway,
		Plates:              h.reader,
		Frames:              h.frames,
		Clips:               stubClips{path: "/clips/clip_5.mp4"},
		Images:              images,
		Tasks:               h.tasks,
		ConfidenceThreshold: testThresh,
		WriteTimeout:        time.Second,
	}, log)

	depth := opts.queueDepth
	if depth == 0 {
		depth = 64
	}
	taskTimeout := opts.taskTimeout
	if taskTimeout == 0 {
		taskTimeout = 5 * time.Second
	}
	lanes := sequencer.New[parking.SpotKey, parking.Outcome](sequencer.Options{
		Workers:     4,
		QueueDepth:  depth,
		TaskTimeout: taskTimeout,
	}, log)
	reconciler := NewReconciler(ledger, h.detector, h.frames, h.lastSeen, h.lifecycle, log)
	h.ingest = NewIngestService(ledger, reconciler, lanes, log)
	h.query = NewQueryService(store, images)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = lanes.Drain(ctx)
		_ = h.tasks.Shutdown(ctx)
	})
	return h
}

func testFrame(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 5), B: 90, A: 255})
		}
	}
	data, err := vision.EncodeJPEG(img)
	require.NoError(t, err)
	return data
}

func plainFrame(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for i := range img.Pix {
		img.Pix[i] = 0x80
	}
	data, err := vision.EncodeJPEG(img)
	require.NoError(t, err)
	return data
}

func reading(text string, confidence int) vision.ScriptedResult {
	return vision.ScriptedResult{Reading: parking.PlateReading{
		Found:      true,
		Text:       text,
		Category:   "A",
		Region:     "Dubai",
		Confidence: confidence,
	}}
}

func (h *harness) event(t *testing.T, occupied bool, at time.Time) parking.OccupancyEvent {
	return parking.OccupancyEvent{
		CameraID:   testCameraID,
		SpotNumber: testSpot,
		Occupied:   &occupied,
		EventTime:  at,
		FrameImage: testFrame(t),
	}
}

func (h *harness) process(t *testing.T, ev parking.OccupancyEvent) parking.Outcome {
	t.Helper()
	out, err := h.ingest.Process(context.Background(), ev)
	require.NoError(t, err)
	return out
}

func (h *harness) ticket(t *testing.T, id int64) *parking.Ticket {
	t.Helper()
	tk, err := h.store.GetTicket(context.Background(), id)
	require.NoError(t, err)
	return tk
}

func ptr[T any](v T) *T {
	return &v
}
