package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"parking-service/internal/billing"
	"parking-service/internal/domain/parking"
)

func pendingReview(t *testing.T, h *harness) (parking.Outcome, parking.ManualReview) {
	t.Helper()
	out := h.process(t, h.event(t, true, t0))
	reviews, err := h.query.ListReviews(context.Background(), parking.ReviewPending, 0, 0)
	require.NoError(t, err)
	require.Len(t, reviews, 1)
	return out, reviews[0]
}

func TestCorrectReviewOpensTrip(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()
	out, review := pendingReview(t, h)

	h.gateway.EXPECT().
		OpenTrip(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req billing.OpenTripRequest) (billing.TripResult, error) {
			assert.Equal(t, "K4411", req.PlateNumber)
			assert.Equal(t, "Sharjah", req.Region)
			assert.Len(t, req.Images, 1)
			return billing.TripResult{TripID: ptr(int64(321))}, nil
		})

	tk, err := h.lifecycle.CorrectReview(ctx, review.ID, Correction{
		PlateNumber: " K4411 ",
		PlateCode:   "3",
		PlateCity:   "Sharjah",
		Confidence:  100,
	})
	require.NoError(t, err)
	assert.Equal(t, out.TicketID, tk.ID)
	assert.Equal(t, "K4411", *tk.PlateNumber)
	assert.EqualValues(t, 321, *tk.ExternalTripID)
	assert.True(t, tk.IsOpen())

	resolved, err := h.store.GetManualReview(ctx, review.ID)
	require.NoError(t, err)
	assert.Equal(t, parking.ReviewResolved, resolved.Status)

	_, err = h.lifecycle.CorrectReview(ctx, review.ID, Correction{PlateNumber: "K4411"})
	assert.ErrorIs(t, err, parking.ErrInvalidInput)
}

func TestCorrectReviewGatewayFailureStillResolves(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()
	out, review := pendingReview(t, h)

	h.gateway.EXPECT().OpenTrip(gomock.Any(), gomock.Any()).Return(billing.TripResult{}, parking.ErrGatewayUnavailable)

	tk, err := h.lifecycle.CorrectReview(ctx, review.ID, Correction{PlateNumber: "K4411"})
	require.NoError(t, err)
	assert.Nil(t, tk.ExternalTripID)

	gaps, err := h.query.ListTickets(ctx, parking.TicketFilter{MissingTrip: true})
	require.NoError(t, err)
	require.Len(t, gaps, 1)
	assert.Equal(t, out.TicketID, gaps[0].ID)
}

func TestCorrectReviewAfterExitClosesTrip(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()
	_, review := pendingReview(t, h)
	h.process(t, h.event(t, false, t0.Add(time.Hour)))

	h.gateway.EXPECT().OpenTrip(gomock.Any(), gomock.Any()).Return(billing.TripResult{TripID: ptr(int64(12))}, nil)
	h.gateway.EXPECT().
		CloseTrip(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req billing.CloseTripRequest) error {
			assert.EqualValues(t, 12, req.TripID)
			assert.True(t, req.ExitTime.Equal(t0.Add(time.Hour)))
			return nil
		})

	tk, err := h.lifecycle.CorrectReview(ctx, review.ID, Correction{PlateNumber: "K4411"})
	require.NoError(t, err)
	assert.False(t, tk.IsOpen())
}

func TestCorrectReviewValidation(t *testing.T) {
	h := newHarness(t, harnessOpts{})

	_, review := pendingReview(t, h)

	_, err := h.lifecycle.CorrectReview(context.Background(), review.ID, Correction{PlateNumber: "  "})
	require.ErrorIs(t, err, parking.ErrInvalidInput)
	assert.Contains(t, err.Error(), "plate_number")

	_, err = h.lifecycle.CorrectReview(context.Background(), review.ID, Correction{PlateNumber: "A1", Confidence: -1})
	require.ErrorIs(t, err, parking.ErrInvalidInput)
	assert.Contains(t, err.Error(), "confidence")

	still, err := h.store.GetManualReview(context.Background(), review.ID)
	require.NoError(t, err)
	assert.Equal(t, parking.ReviewPending, still.Status, "rejected corrections leave the review pending")

	_, err = h.lifecycle.CorrectReview(context.Background(), 999, Correction{PlateNumber: "A1"})
	assert.ErrorIs(t, err, parking.ErrNotFound)
}

func TestDismissReviewClosesOpenTicket(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()
	out, review := pendingReview(t, h)

	tk, err := h.lifecycle.DismissReview(ctx, review.ID)
	require.NoError(t, err)
	require.NotNil(t, tk.ExitTime)
	assert.True(t, tk.ExitTime.Equal(tk.EntryTime))
	assert.Equal(t, out.TicketID, tk.ID)

	resolved, err := h.store.GetManualReview(ctx, review.ID)
	require.NoError(t, err)
	assert.Equal(t, parking.ReviewResolved, resolved.Status)

	next := h.process(t, h.event(t, true, t0.Add(time.Minute)))
	assert.Equal(t, parking.ClassEntry, next.Class, "spot is vacant after dismissal")
}

func TestDismissReviewKeepsRecordedExit(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	_, review := pendingReview(t, h)
	h.process(t, h.event(t, false, t0.Add(time.Hour)))

	tk, err := h.lifecycle.DismissReview(context.Background(), review.ID)
	require.NoError(t, err)
	assert.True(t, tk.ExitTime.Equal(t0.Add(time.Hour)))
}

func TestReviewClipIsAttached(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	_, review := pendingReview(t, h)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.tasks.Shutdown(ctx))

	got, err := h.store.GetManualReview(context.Background(), review.ID)
	require.NoError(t, err)
	require.NotNil(t, got.ClipRef)
	assert.Equal(t, "/clips/clip_5.mp4", *got.ClipRef)
}

func TestListReviewsRejectsUnknownStatus(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	_, err := h.query.ListReviews(context.Background(), parking.ReviewStatus("OPEN"), 0, 0)
	assert.ErrorIs(t, err, parking.ErrInvalidInput)
}

func TestNormalizePage(t *testing.T) {
	cases := []struct {
		limit, offset         int
		wantLimit, wantOffset int
	}{
		{0, 0, 50, 0},
		{-3, -1, 50, 0},
		{20, 40, 20, 40},
		{500, 0, 100, 0},
	}
	for _, tc := range cases {
		limit, offset := normalizePage(tc.limit, tc.offset)
		assert.Equal(t, tc.wantLimit, limit)
		assert.Equal(t, tc.wantOffset, offset)
	}
}

func TestReviewImage(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	_, review := pendingReview(t, h)

	data, err := h.query.ReviewImage(context.Background(), review.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0xD8}, data[:2])

	_, err = h.query.ReviewImage(context.Background(), 999)
	assert.ErrorIs(t, err, parking.ErrNotFound)
}
