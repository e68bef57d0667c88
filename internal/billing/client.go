package billing

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"parking-service/internal/config"
	"parking-service/internal/upstream"
)

// wireTime is the timestamp layout the ledger expects in parkin_time and
// parkout_time.
const wireTime = "2006-01-02 15:04:05"

// parkInPayload is the /park-in body. The ledger calls the issuing region
// "emirates" and wants the confidence as a string.
type parkInPayload struct {
	Token       string   `json:"token"`
	ParkinTime  string   `json:"parkin_time"`
	PlateCode   string   `json:"plate_code"`
	PlateNumber string   `json:"plate_number"`
	Emirates    string   `json:"emirates"`
	Conf        string   `json:"conf"`
	SpotNumber  int      `json:"spot_number"`
	PoleID      int64    `json:"pole_id"`
	Images      []string `json:"images"`
}

// parkOutPayload is the /park-out body. Spot number and trip id travel as
// strings here, unlike /park-in.
type parkOutPayload struct {
	Token       string `json:"token"`
	ParkoutTime string `json:"parkout_time"`
	SpotNumber  string `json:"spot_number"`
	PoleID      int64  `json:"pole_id"`
	TripID      string `json:"trip_id"`
}

type getTripPayload struct {
	Token      string `json:"token"`
	SpotNumber string `json:"spot_number"`
	PoleID     int64  `json:"pole_id"`
}

type tripResponse struct {
	TripID tripID `json:"trip_id"`
}

// tripID accepts the trip id as a number, a quoted number or null.
type tripID struct {
	value *int64
}

func (t *tripID) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return fmt.Errorf("trip_id %q is not a number", s)
		}
		n = int64(f)
	}
	t.value = &n
	return nil
}

type Client struct {
	baseURL string
	token   string
	caller  *upstream.Caller
	log     zerolog.Logger
}

var _ Gateway = (*Client)(nil)

func NewClient(cfg config.BillingConfig, httpClient upstream.Doer, log zerolog.Logger) *Client {
	log = log.With().Str("component", "billing").Logger()
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		caller: upstream.NewCaller(httpClient, upstream.Options{
			Name:       "billing",
			Timeout:    cfg.Timeout,
			MaxRetries: cfg.MaxRetries,
			Backoff:    cfg.Backoff,
		}, log),
		log: log,
	}
}

func (c *Client) OpenTrip(ctx context.Context, req OpenTripRequest) (TripResult, error) {
	images := make([]string, 0, len(req.Images))
	for _, img := range req.Images {
		images = append(images, base64.StdEncoding.EncodeToString(img))
	}
	payload := parkInPayload{
		Token:       c.token,
		ParkinTime:  req.EntryTime.Format(wireTime),
		PlateCode:   req.PlateCode,
		PlateNumber: req.PlateNumber,
		Emirates:    req.Region,
		Conf:        strconv.Itoa(req.Confidence),
		SpotNumber:  req.SpotNumber,
		PoleID:      req.PoleID,
		Images:      images,
	}

	c.log.Info().
		Str("plate_number", req.PlateNumber).
		Str("plate_code", req.PlateCode).
		Str("emirates", req.Region).
		Int("spot_number", req.SpotNumber).
		Int64("pole_id", req.PoleID).
		Int("images", len(images)).
		Msg("sending park-in")

	body, err := c.caller.PostJSON(ctx, c.baseURL+"/park-in", payload)
	if err != nil {
		return TripResult{}, fmt.Errorf("park-in: %w", err)
	}
	return c.decodeTrip("park-in", body), nil
}

func (c *Client) CloseTrip(ctx context.Context, req CloseTripRequest) error {
	payload := parkOutPayload{
		Token:       c.token,
		ParkoutTime: req.ExitTime.Format(wireTime),
		SpotNumber:  strconv.Itoa(req.SpotNumber),
		PoleID:      req.PoleID,
		TripID:      strconv.FormatInt(req.TripID, 10),
	}
	c.log.Info().
		Int64("trip_id", req.TripID).
		Int("spot_number", req.SpotNumber).
		Int64("pole_id", req.PoleID).
		Msg("sending park-out")

	if _, err := c.caller.PostJSON(ctx, c.baseURL+"/park-out", payload); err != nil {
		return fmt.Errorf("park-out: %w", err)
	}
	return nil
}

func (c *Client) FetchTrip(ctx context.Context, req FetchTripRequest) (TripResult, error) {
	payload := getTripPayload{
		Token:      c.token,
		SpotNumber: strconv.Itoa(req.SpotNumber),
		PoleID:     req.PoleID,
	}
	body, err := c.caller.PostJSON(ctx, c.baseURL+"/get-trip", payload)
	if err != nil {
		return TripResult{}, fmt.Errorf("get-trip: %w", err)
	}
	return c.decodeTrip("get-trip", body), nil
}

// decodeTrip extracts trip_id from a 2xx body. An unreadable body is
// treated like a missing id: the call itself succeeded.
func (c *Client) decodeTrip(op string, body []byte) TripResult {
	var resp tripResponse
	if err := upstream.Decode(body, &resp); err != nil {
		c.log.Warn().Err(err).Str("op", op).Msg("could not decode ledger response; assuming no trip id")
		return TripResult{}
	}
	if resp.TripID.value == nil {
		c.log.Debug().Str("op", op).Msg("ledger returned no trip id")
	}
	return TripResult{TripID: resp.TripID.value}
}
