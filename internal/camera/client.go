// Package camera pulls still frames and review clips from IP cameras over
// their CGI interface.
package camera

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"parking-service/internal/config"
	"parking-service/internal/domain/parking"
)

// clipTime is the layout of dataloader.cgi's starttime and endtime.
const clipTime = "2006-01-02 15:04:05"

const maxFrame = 16 << 20

// Doer is satisfied by *http.Client.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Client struct {
	http Doer
	cfg  config.CameraConfig
	log  zerolog.Logger
}

func NewClient(cfg config.CameraConfig, httpClient Doer, log zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if cfg.FrameAttempts <= 0 {
		cfg.FrameAttempts = 1
	}
	if cfg.ClipAttempts <= 0 {
		cfg.ClipAttempts = 1
	}
	if cfg.FrameTimeout <= 0 {
		cfg.FrameTimeout = 30 * time.Second
	}
	if cfg.SnapshotPath == "" {
		cfg.SnapshotPath = "/cgi-bin/snapshot.cgi"
	}
	return &Client{
		http: httpClient,
		cfg:  cfg,
		log:  log.With().Str("component", "camera").Logger(),
	}
}

func baseURL(ip string) string {
	if strings.Contains(ip, "://") {
		return strings.TrimRight(ip, "/")
	}
	return "http://" + ip
}

// FetchFrame grabs a live JPEG from the camera, retrying until one arrives
// or the attempts run out.
func (c *Client) FetchFrame(ctx context.Context, cam parking.Camera) ([]byte, error) {
	target := baseURL(cam.IP) + c.cfg.SnapshotPath

	var lastErr error
	for attempt := 1; attempt <= c.cfg.FrameAttempts; attempt++ {
		if attempt > 1 {
			if err := wait(ctx, c.cfg.FrameRetryDelay); err != nil {
				break
			}
		}
		frame, err := c.getFrame(ctx, target)
		if err == nil {
			return frame, nil
		}
		lastErr = err
		c.log.Debug().
			Err(err).
			Int64("camera_id", cam.ID).
			Int("attempt", attempt).
			Msg("camera frame not available yet")
	}
	if lastErr == nil {
		lastErr = ctx.Err()
	}
	return nil, fmt.Errorf("%w: no frame from camera %d: %v", parking.ErrVisionFailure, cam.ID, lastErr)
}

func (c *Client) getFrame(ctx context.Context, target string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.FrameTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.cfg.User, c.cfg.Password)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("snapshot status %d", resp.StatusCode)
	}
	frame, err := io.ReadAll(io.LimitReader(resp.Body, maxFrame))
	if err != nil {
		return nil, err
	}
	if len(frame) == 0 {
		return nil, fmt.Errorf("empty snapshot")
	}
	return frame, nil
}

// FetchClip downloads the recording around eventTime into the clips
// directory and returns the file path.
func (c *Client) FetchClip(ctx context.Context, cam parking.Camera, eventTime time.Time) (string, error) {
	start := eventTime.Add(-c.cfg.ClipBefore)
	end := eventTime.Add(c.cfg.ClipAfter)

	params := url.Values{}
	params.Set("dw", "sd")
	params.Set("filename", fmt.Sprintf("cam%d_%s", cam.ID, start.Format("20060102_150405")))
	params.Set("starttime", start.Format(clipTime))
	params.Set("endtime", end.Format(clipTime))
	params.Set("index", "0")
	params.Set("sid", "0")
	params.Set("uuid", uuid.NewString())
	target := baseURL(cam.IP) + "/dataloader.cgi?" + params.Encode()

	if err := os.MkdirAll(c.cfg.ClipsDir, 0o755); err != nil {
		return "", fmt.Errorf("create clips dir: %w", err)
	}
	out := filepath.Join(c.cfg.ClipsDir, fmt.Sprintf("clip_%d_%s_%s.mp4",
		cam.ID, start.Format("20060102_150405"), end.Format("150405")))

	var lastErr error
	for attempt := 1; attempt <= c.cfg.ClipAttempts; attempt++ {
		if attempt > 1 {
			if err := wait(ctx, c.cfg.ClipRetryDelay); err != nil {
				lastErr = err
				break
			}
		}
		err := c.download(ctx, target, out)
		if err == nil {
			c.log.Info().Int64("camera_id", cam.ID).Str("path", out).Msg("saved review clip")
			return out, nil
		}
		lastErr = err
		c.log.Warn().
			Err(err).
			Int64("camera_id", cam.ID).
			Int("attempt", attempt).
			Int("max_attempts", c.cfg.ClipAttempts).
			Msg("clip fetch attempt failed")
	}
	return "", fmt.Errorf("fetch clip from camera %d after %d attempts: %w", cam.ID, c.cfg.ClipAttempts, lastErr)
}

func (c *Client) download(ctx context.Context, target, out string) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.FrameTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.cfg.User, c.cfg.Password)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("dataloader status %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp(filepath.Dir(out), ".clip-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), out)
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
