// Package subscription применяет события подписки платёжного процессора
// к каноническим записям подписки и защищает триал при защищающем статусе.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/trial-lifecycle/internal/lib/sl"
	"github.com/magabrotheeeer/trial-lifecycle/internal/metrics"
	"github.com/magabrotheeeer/trial-lifecycle/internal/models"
	"github.com/magabrotheeeer/trial-lifecycle/internal/storage/repository"
)

// Outcome — итог обработки события.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeStale     Outcome = "stale"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeLinked    Outcome = "linked"
	OutcomeIgnored   Outcome = "ignored"
)

var (
	// ErrUnknownCustomer — клиент процессора не привязан ни к одному пользователю.
	ErrUnknownCustomer = errors.New("unknown customer")
	// ErrInvalidEvent — событие не прошло проверку полей.
	ErrInvalidEvent = errors.New("invalid subscription event")
	// ErrUnknownUser — событие ссылается на несуществующего пользователя.
	ErrUnknownUser = errors.New("unknown user")
)

// Store хранилище клиентов и подписок.
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetCustomerUserID(ctx context.Context, customerID string) (string, error)
	LinkCustomer(ctx context.Context, customerID, userID string) error
	UserExists(ctx context.Context, userID string) (bool, error)
	UpsertSubscription(ctx context.Context, sub models.Subscription) (bool, error)
}

// Deduper отмечает уже принятые события по их идентификатору.
type Deduper interface {
	ClaimEvent(ctx context.Context, eventID string) (bool, error)
	ReleaseEvent(ctx context.Context, eventID string) error
}

// Protector защищает запись триала. Вызывается внутри транзакции применения события.
type Protector interface {
	Protect(ctx context.Context, userID string) error
}

// Synchronizer применяет события подписки.
type Synchronizer struct {
	store     Store
	deduper   Deduper
	protector Protector
	log       *slog.Logger
	validate  *validator.Validate
}

// NewSynchronizer создаёт Synchronizer. deduper может быть nil: тогда повторы
// отсекаются только сравнением времени события.
func NewSynchronizer(store Store, deduper Deduper, protector Protector, log *slog.Logger) *Synchronizer {
	return &Synchronizer{
		store:     store,
		deduper:   deduper,
		protector: protector,
		log:       log,
		validate:  validator.New(),
	}
}

// ApplyEvent проверяет событие, отсекает повторную доставку и в одной транзакции
// обновляет запись подписки и, при защищающем статусе, запись триала.
// Событие старше уже применённого отбрасывается с OutcomeStale.
func (s *Synchronizer) ApplyEvent(ctx context.Context, ev models.SubscriptionEvent) (Outcome, error) {
	const op = "subscription.ApplyEvent"

	log := s.log.With(
		slog.String("op", op),
		slog.String("event_id", ev.ID),
		slog.String("event_type", ev.Type),
		slog.String("customer_id", ev.CustomerID),
	)

	if err := s.validate.Struct(ev); err != nil {
		return "", fmt.Errorf("%s: %w: %v", op, ErrInvalidEvent, err)
	}
	if !ev.Status.Known() {
		return "", fmt.Errorf("%s: %w: unknown status %q", op, ErrInvalidEvent, ev.Status)
	}

	claimed, err := s.claim(ctx, ev.ID)
	if err != nil {
		log.Warn("event dedupe unavailable, relying on event ordering", sl.Err(err))
		claimed = true
	}
	if !claimed {
		log.Info("duplicate event skipped")
		metrics.Get().SubscriptionEvent(string(OutcomeDuplicate))
		return OutcomeDuplicate, nil
	}

	outcome, err := s.apply(ctx, ev)
	if err != nil {
		s.release(ctx, log, ev.ID)
		return "", fmt.Errorf("%s: %w", op, err)
	}

	metrics.Get().SubscriptionEvent(string(outcome))
	log.Info("subscription event processed",
		slog.String("outcome", string(outcome)),
		slog.String("status", string(ev.Status)),
	)
	return outcome, nil
}

func (s *Synchronizer) apply(ctx context.Context, ev models.SubscriptionEvent) (Outcome, error) {
	outcome := OutcomeApplied
	err := s.store.WithinTx(ctx, func(ctx context.Context) error {
		userID, err := s.store.GetCustomerUserID(ctx, ev.CustomerID)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrUnknownCustomer
		}
		if err != nil {
			return err
		}

		applied, err := s.store.UpsertSubscription(ctx, toSubscription(userID, ev))
		if err != nil {
			return err
		}
		if !applied {
			outcome = OutcomeStale
			return nil
		}

		if ev.Status.Protecting() {
			return s.protector.Protect(ctx, userID)
		}
		return nil
	})
	return outcome, err
}

// LinkCustomer привязывает клиента процессора к существующему пользователю.
// userID должен быть UUID, иначе возвращается ErrInvalidEvent.
func (s *Synchronizer) LinkCustomer(ctx context.Context, userID, customerID string) error {
	const op = "subscription.LinkCustomer"

	if customerID == "" {
		return fmt.Errorf("%s: %w: empty customer id", op, ErrInvalidEvent)
	}
	if err := s.validate.Var(userID, "required,uuid"); err != nil {
		return fmt.Errorf("%s: %w: user id: %v", op, ErrInvalidEvent, err)
	}
	exists, err := s.store.UserExists(ctx, userID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !exists {
		return fmt.Errorf("%s: %w", op, ErrUnknownUser)
	}
	if err := s.store.LinkCustomer(ctx, customerID, userID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	metrics.Get().SubscriptionEvent(string(OutcomeLinked))
	s.log.Info("customer linked", sl.UserID(userID), slog.String("customer_id", customerID))
	return nil
}

func (s *Synchronizer) claim(ctx context.Context, eventID string) (bool, error) {
	if s.deduper == nil {
		return true, nil
	}
	return s.deduper.ClaimEvent(ctx, eventID)
}

// release снимает отметку, чтобы повторная доставка события обработала его заново.
func (s *Synchronizer) release(ctx context.Context, log *slog.Logger, eventID string) {
	if s.deduper == nil {
		return
	}
	if err := s.deduper.ReleaseEvent(context.WithoutCancel(ctx), eventID); err != nil {
		log.Warn("failed to release event claim", sl.Err(err))
	}
}

func toSubscription(userID string, ev models.SubscriptionEvent) models.Subscription {
	return models.Subscription{
		CustomerID:         ev.CustomerID,
		UserID:             userID,
		SubscriptionID:     optional(ev.SubscriptionID),
		PriceID:            optional(ev.PriceID),
		Status:             ev.Status,
		CurrentPeriodStart: optionalTime(ev.CurrentPeriodStart),
		CurrentPeriodEnd:   optionalTime(ev.CurrentPeriodEnd),
		CancelAtPeriodEnd:  ev.CancelAtPeriodEnd,
		PaymentMethodBrand: optional(ev.PaymentMethodBrand),
		PaymentMethodLast4: optional(ev.PaymentMethodLast4),
		LastEventAt:        ev.OccurredAt.UTC(),
	}
}
