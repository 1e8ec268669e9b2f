package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/magabrotheeeer/trial-lifecycle/internal/models"
)

const trialColumns = `user_id, trial_start, trial_end, status, deletion_scheduled_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrial(row rowScanner) (*models.Trial, error) {
	var t models.Trial
	if err := row.Scan(&t.UserID, &t.TrialStart, &t.TrialEnd, &t.Status, &t.DeletionScheduledAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateTrial сохраняет запись пробного периода. Повторная запись для того же
// пользователя даёт ErrAlreadyExists.
func (s *Storage) CreateTrial(ctx context.Context, trial models.Trial) error {
	const op = "storage.CreateTrial"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO user_trials (` + trialColumns + `) VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := s.conn(ctx).ExecContext(ctx, query,
		trial.UserID, trial.TrialStart, trial.TrialEnd, trial.Status, trial.DeletionScheduledAt, trial.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", op, ErrAlreadyExists)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// GetTrial возвращает запись пробного периода пользователя.
func (s *Storage) GetTrial(ctx context.Context, userID string) (*models.Trial, error) {
	const op = "storage.GetTrial"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + trialColumns + ` FROM user_trials WHERE user_id = $1`
	trial, err := scanTrial(s.conn(ctx).QueryRowContext(ctx, query, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return trial, nil
}

// ListDueTrials возвращает записи в статусах active и expired, у которых
// пробный период закончился к моменту now.
func (s *Storage) ListDueTrials(ctx context.Context, now time.Time) ([]models.Trial, error) {
	const op = "storage.ListDueTrials"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + trialColumns + ` FROM user_trials
			  WHERE status IN ('active', 'expired') AND trial_end <= $1
			  ORDER BY trial_end`
	rows, err := s.conn(ctx).QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var result []models.Trial
	for rows.Next() {
		trial, err := scanTrial(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, *trial)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// TransitionTrial переводит запись из статуса from в статус to, только если
// текущий статус всё ещё равен from. deletionScheduledAt записывается как есть,
// поэтому вызывающий передаёт nil для всех статусов, кроме scheduled_for_deletion.
// Возвращает false, если статус успел измениться.
func (s *Storage) TransitionTrial(ctx context.Context, userID string, from, to models.TrialStatus,
	deletionScheduledAt *time.Time, at time.Time) (bool, error) {
	const op = "storage.TransitionTrial"
	select {
	case <-ctx.Done():
		return false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE user_trials
			  SET status = $1, deletion_scheduled_at = $2, updated_at = $3
			  WHERE user_id = $4 AND status = $5`
	result, err := s.conn(ctx).ExecContext(ctx, query, to, deletionScheduledAt, at, userID, from)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return rowsAffected == 1, nil
}

// ListDeletionCandidates возвращает пользователей в статусе scheduled_for_deletion.
// Email пустой, если строка пользователя уже отсутствует.
func (s *Storage) ListDeletionCandidates(ctx context.Context) ([]models.DeletionCandidate, error) {
	const op = "storage.ListDeletionCandidates"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT t.user_id, COALESCE(u.email, ''), t.deletion_scheduled_at
			  FROM user_trials t
			  LEFT JOIN users u ON u.id = t.user_id
			  WHERE t.status = 'scheduled_for_deletion'
			  ORDER BY t.deletion_scheduled_at`
	rows, err := s.conn(ctx).QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var result []models.DeletionCandidate
	for rows.Next() {
		var c models.DeletionCandidate
		if err := rows.Scan(&c.UserID, &c.Email, &c.DeletionScheduledAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}
