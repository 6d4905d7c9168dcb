package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/domain"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/translog"
)

func (s *Service) Order(ctx context.Context, id string) (*domain.Order, error) {
	return s.store.Get(ctx, id)
}

// Events returns the transition log of an order, oldest first.
func (s *Service) Events(ctx context.Context, id string) ([]translog.Entry, error) {
	if _, err := s.store.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.store.Events(ctx, id)
}

// Cancel is the administrative exit for orders that were never paid.
func (s *Service) Cancel(ctx context.Context, id string) error {
	res, err := s.store.Cancel(ctx, id)
	if err != nil {
		return err
	}
	if !res.Found {
		return fmt.Errorf("%w: %s", domain.ErrOrderNotFound, id)
	}
	if !res.Applied {
		return fmt.Errorf("%w: order %s is %s", domain.ErrInvalidTransition, id, res.Status)
	}
	s.metrics.ObserveTransition(string(domain.StatusCanceled), string(translog.TriggerAdmin))
	slog.InfoContext(ctx, "order canceled", "order_id", id)
	return nil
}
