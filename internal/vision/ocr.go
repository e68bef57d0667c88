package vision

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"parking-service/internal/config"
	"parking-service/internal/domain/parking"
	"parking-service/internal/upstream"
)

type ocrPayload struct {
	Token  string `json:"token"`
	Base64 string `json:"base64"`
	PoleID int64  `json:"pole_id"`
}

// ocrResponse is the recognition engine's answer. The engine spells the
// confidence field "confidance"; it is renamed on the way in.
type ocrResponse struct {
	Confidance looseInt `json:"confidance"`
	Text       string   `json:"text"`
	Category   string   `json:"category"`
	CityName   string   `json:"cityName"`
}

// looseInt accepts 7, 7.0 and "7".
type looseInt int

func (n *looseInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	if v, err := strconv.Atoi(s); err == nil {
		*n = looseInt(v)
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("confidance %q is not a number", s)
	}
	*n = looseInt(f)
	return nil
}

type OCRReader struct {
	url    string
	token  string
	caller *upstream.Caller
	log    zerolog.Logger
}

var _ PlateReader = (*OCRReader)(nil)

func NewOCRReader(cfg config.OCRConfig, client upstream.Doer, log zerolog.Logger) *OCRReader {
	log = log.With().Str("component", "ocr").Logger()
	return &OCRReader{
		url:   cfg.URL,
		token: cfg.Token,
		caller: upstream.NewCaller(client, upstream.Options{
			Name:       "ocr",
			Timeout:    cfg.Timeout,
			MaxRetries: cfg.MaxRetries,
			Backoff:    cfg.Backoff,
		}, log),
		log: log,
	}
}

func (r *OCRReader) ReadPlate(ctx context.Context, req PlateRequest) (parking.PlateReading, error) {
	body, err := r.caller.PostJSON(ctx, r.url, ocrPayload{
		Token:  r.token,
		Base64: base64.StdEncoding.EncodeToString(req.Crop),
		PoleID: req.PoleID,
	})
	if err != nil {
		return parking.PlateReading{}, fmt.Errorf("%w: ocr: %w", parking.ErrVisionFailure, err)
	}

	var resp ocrResponse
	if err := upstream.Decode(body, &resp); err != nil {
		r.log.Warn().Err(err).Int64("pole_id", req.PoleID).Msg("unreadable ocr response")
		return parking.PlateReading{Raw: body}, nil
	}

	text := strings.TrimSpace(resp.Text)
	reading := parking.PlateReading{
		Found:      text != "",
		Text:       text,
		Category:   resp.Category,
		Region:     RegionName(resp.CityName),
		Confidence: int(resp.Confidance),
		Raw:        body,
	}
	r.log.Debug().
		Int64("pole_id", req.PoleID).
		Str("text", reading.Text).
		Int("confidence", reading.Confidence).
		Str("region", reading.Region).
		Msg("ocr reading")
	return reading, nil
}
