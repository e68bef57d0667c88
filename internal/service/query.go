package service

import (
	"context"
	"fmt"

	"parking-service/internal/domain/parking"
	"parking-service/internal/repository"
)

// QueryService serves read-only ticket and review listings and the stored
// evidence behind them.
type QueryService struct {
	store  repository.Store
	images ImageStore
}

func NewQueryService(store repository.Store, images ImageStore) *QueryService {
	return &QueryService{store: store, images: images}
}

func (s *QueryService) ListTickets(ctx context.Context, filter parking.TicketFilter) ([]parking.Ticket, error) {
	filter.Limit, filter.Offset = normalizePage(filter.Limit, filter.Offset)
	tickets, err := retrying(ctx, s.store, "list tickets", func(ctx context.Context) ([]parking.Ticket, error) {
		return s.store.ListTickets(ctx, filter)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list tickets: %w", err)
	}
	if tickets == nil {
		tickets = []parking.Ticket{}
	}
	return tickets, nil
}

func (s *QueryService) GetTicket(ctx context.Context, id int64) (*parking.Ticket, error) {
	return retrying(ctx, s.store, "get ticket", func(ctx context.Context) (*parking.Ticket, error) {
		return s.store.GetTicket(ctx, id)
	})
}

func (s *QueryService) ListReviews(ctx context.Context, status parking.ReviewStatus, limit, offset int) ([]parking.ManualReview, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: status must be PENDING or RESOLVED", parking.ErrInvalidInput)
	}
	limit, offset = normalizePage(limit, offset)
	reviews, err := retrying(ctx, s.store, "list manual reviews", func(ctx context.Context) ([]parking.ManualReview, error) {
		return s.store.ListManualReviews(ctx, status, limit, offset)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list manual reviews: %w", err)
	}
	if reviews == nil {
		reviews = []parking.ManualReview{}
	}
	return reviews, nil
}

func (s *QueryService) GetReview(ctx context.Context, id int64) (*parking.ManualReview, error) {
	return retrying(ctx, s.store, "get manual review", func(ctx context.Context) (*parking.ManualReview, error) {
		return s.store.GetManualReview(ctx, id)
	})
}

// ReviewImage returns the JPEG crop a review was filed with.
func (s *QueryService) ReviewImage(ctx context.Context, id int64) ([]byte, error) {
	review, err := s.GetReview(ctx, id)
	if err != nil {
		return nil, err
	}
	if review.ImageRef == "" || s.images == nil {
		return nil, fmt.Errorf("%w: review %d has no image", parking.ErrNotFound, id)
	}
	return s.images.Load(review.ImageRef)
}

func (s *QueryService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
