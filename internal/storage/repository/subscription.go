package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/magabrotheeeer/trial-lifecycle/internal/models"
)

// GetSubscriptionByUser возвращает подписку пользователя. Если клиентов несколько,
// предпочитается защищающая подписка, затем самая свежая по событию.
func (s *Storage) GetSubscriptionByUser(ctx context.Context, userID string) (*models.Subscription, error) {
	const op = "storage.GetSubscriptionByUser"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT customer_id, user_id, subscription_id, price_id, status,
				current_period_start, current_period_end, cancel_at_period_end,
				payment_method_brand, payment_method_last4, last_event_at
			  FROM stripe_subscriptions
			  WHERE user_id = $1
			  ORDER BY (status IN ('active', 'trialing')) DESC, last_event_at DESC
			  LIMIT 1`
	var sub models.Subscription
	err := s.conn(ctx).QueryRowContext(ctx, query, userID).Scan(
		&sub.CustomerID, &sub.UserID, &sub.SubscriptionID, &sub.PriceID, &sub.Status,
		&sub.CurrentPeriodStart, &sub.CurrentPeriodEnd, &sub.CancelAtPeriodEnd,
		&sub.PaymentMethodBrand, &sub.PaymentMethodLast4, &sub.LastEventAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &sub, nil
}

// UpsertSubscription вставляет или обновляет запись подписки по customer_id.
// Обновление применяется, только если событие не старше уже сохранённого.
// Возвращает false, если событие отброшено как устаревшее.
func (s *Storage) UpsertSubscription(ctx context.Context, sub models.Subscription) (bool, error) {
	const op = "storage.UpsertSubscription"
	select {
	case <-ctx.Done():
		return false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO stripe_subscriptions (customer_id, user_id, subscription_id, price_id, status,
				current_period_start, current_period_end, cancel_at_period_end,
				payment_method_brand, payment_method_last4, last_event_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			  ON CONFLICT (customer_id) DO UPDATE SET
				user_id = EXCLUDED.user_id,
				subscription_id = EXCLUDED.subscription_id,
				price_id = EXCLUDED.price_id,
				status = EXCLUDED.status,
				current_period_start = EXCLUDED.current_period_start,
				current_period_end = EXCLUDED.current_period_end,
				cancel_at_period_end = EXCLUDED.cancel_at_period_end,
				payment_method_brand = EXCLUDED.payment_method_brand,
				payment_method_last4 = EXCLUDED.payment_method_last4,
				last_event_at = EXCLUDED.last_event_at
			  WHERE stripe_subscriptions.last_event_at <= EXCLUDED.last_event_at`
	result, err := s.conn(ctx).ExecContext(ctx, query,
		sub.CustomerID, sub.UserID, sub.SubscriptionID, sub.PriceID, sub.Status,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.CancelAtPeriodEnd,
		sub.PaymentMethodBrand, sub.PaymentMethodLast4, sub.LastEventAt)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return rowsAffected == 1, nil
}
