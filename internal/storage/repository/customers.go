package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// LinkCustomer связывает клиента платёжного процессора с пользователем.
// Повторная привязка того же клиента перезаписывает пользователя.
func (s *Storage) LinkCustomer(ctx context.Context, customerID, userID string) error {
	const op = "storage.LinkCustomer"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO stripe_customers (customer_id, user_id) VALUES ($1, $2)
			  ON CONFLICT (customer_id) DO UPDATE SET user_id = EXCLUDED.user_id`
	if _, err := s.conn(ctx).ExecContext(ctx, query, customerID, userID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// GetCustomerUserID возвращает пользователя, привязанного к клиенту.
func (s *Storage) GetCustomerUserID(ctx context.Context, customerID string) (string, error) {
	const op = "storage.GetCustomerUserID"
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	var userID string
	err := s.conn(ctx).QueryRowContext(ctx,
		`SELECT user_id FROM stripe_customers WHERE customer_id = $1`, customerID).Scan(&userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("%s: %w", op, ErrNotFound)
		}
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return userID, nil
}

// PurgeBilling удаляет клиентов и подписки пользователя.
func (s *Storage) PurgeBilling(ctx context.Context, userID string) error {
	const op = "storage.PurgeBilling"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	if _, err := s.conn(ctx).ExecContext(ctx, `DELETE FROM stripe_subscriptions WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if _, err := s.conn(ctx).ExecContext(ctx, `DELETE FROM stripe_customers WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
