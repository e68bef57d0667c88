package camera

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parking-service/internal/config"
	"parking-service/internal/domain/parking"
)

func testConfig(dir string) config.CameraConfig {
	return config.CameraConfig{
		User:            "admin",
		Password:        "secret",
		SnapshotPath:    "/cgi-bin/snapshot.cgi",
		FrameTimeout:    time.Second,
		FrameAttempts:   3,
		FrameRetryDelay: time.Millisecond,
		ClipAttempts:    3,
		ClipRetryDelay:  time.Millisecond,
		ClipBefore:      15 * time.Second,
		ClipAfter:       5 * time.Second,
		ClipsDir:        dir,
	}
}

func cameraFor(srv *httptest.Server) parking.Camera {
	return parking.Camera{ID: 5, PoleID: 586, IP: strings.TrimPrefix(srv.URL, "http://")}
}

func TestFetchFrameRetriesUntilFrame(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "admin", user)
		assert.Equal(t, "secret", pass)
		assert.Equal(t, "/cgi-bin/snapshot.cgi", r.URL.Path)
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte{0xff, 0xd8, 0xff})
	}))
	defer srv.Close()

	c := NewClient(testConfig(t.TempDir()), srv.Client(), zerolog.Nop())
	frame, err := c.FetchFrame(context.Background(), cameraFor(srv))
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xd8, 0xff}, frame)
	assert.EqualValues(t, 3, calls.Load())
}

func TestFetchFrameGivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	c := NewClient(testConfig(t.TempDir()), srv.Client(), zerolog.Nop())
	_, err := c.FetchFrame(context.Background(), cameraFor(srv))
	require.ErrorIs(t, err, parking.ErrVisionFailure)
	assert.EqualValues(t, 3, calls.Load())
}

func TestFetchClipWindowAndRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/dataloader.cgi", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "sd", q.Get("dw"))
		assert.Equal(t, "2025-06-03 16:45:56", q.Get("starttime"))
		assert.Equal(t, "2025-06-03 16:46:16", q.Get("endtime"))
		_, err := uuid.Parse(q.Get("uuid"))
		assert.NoError(t, err)

		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("mp4 bytes"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	c := NewClient(testConfig(dir), srv.Client(), zerolog.Nop())
	event := time.Date(2025, 6, 3, 16, 46, 11, 0, time.UTC)

	path, err := c.FetchClip(context.Background(), cameraFor(srv), event)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(path, dir))
	assert.True(t, strings.HasSuffix(path, "clip_5_20250603_164556_164616.mp4"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "mp4 bytes", string(data))
	assert.EqualValues(t, 2, calls.Load())
}

func TestFetchClipFailsAfterAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(testConfig(t.TempDir()), srv.Client(), zerolog.Nop())
	_, err := c.FetchClip(context.Background(), cameraFor(srv), time.Now())
	require.Error(t, err)
	assert.EqualValues(t, 3, calls.Load())
}
