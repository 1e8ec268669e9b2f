package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/trial-lifecycle/internal/lib/sl"
	"github.com/magabrotheeeer/trial-lifecycle/internal/models"
	"github.com/magabrotheeeer/trial-lifecycle/internal/storage/repository"
)

// Store читает записи, нужные для решения о доступе.
type Store interface {
	GetTrial(ctx context.Context, userID string) (*models.Trial, error)
	GetSubscriptionByUser(ctx context.Context, userID string) (*models.Subscription, error)
}

// Service загружает записи пользователя и вызывает Resolve.
type Service struct {
	store Store
	log   *slog.Logger
	now   func() time.Time
}

// NewService создаёт Service.
func NewService(store Store, log *slog.Logger) *Service {
	return &Service{store: store, log: log, now: time.Now}
}

// Decide возвращает решение о доступе для пользователя на текущий момент.
func (s *Service) Decide(ctx context.Context, userID string) (models.AccessDecision, error) {
	const op = "access.Decide"

	trial, err := s.store.GetTrial(ctx, userID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return models.AccessDecision{}, fmt.Errorf("%s: %w", op, err)
	}
	sub, err := s.store.GetSubscriptionByUser(ctx, userID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return models.AccessDecision{}, fmt.Errorf("%s: %w", op, err)
	}

	decision := Resolve(s.now(), trial, sub)
	if decision.NeedsReconciliation {
		s.log.Warn("converted trial without protecting subscription",
			sl.UserID(userID),
		)
	}
	return decision, nil
}
