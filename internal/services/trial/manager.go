// Package trial управляет жизненным циклом записи пробного периода:
// создание, пометка истёкших, защита подпиской и окончательное удаление.
// Каждый переход статуса выполняется как compare-and-set по ранее прочитанному статусу.
package trial

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/trial-lifecycle/internal/config"
	"github.com/magabrotheeeer/trial-lifecycle/internal/lib/sl"
	"github.com/magabrotheeeer/trial-lifecycle/internal/metrics"
	"github.com/magabrotheeeer/trial-lifecycle/internal/models"
	"github.com/magabrotheeeer/trial-lifecycle/internal/storage/repository"
)

var (
	// ErrStateChanged — запись изменилась между чтением и записью.
	ErrStateChanged = errors.New("trial state changed concurrently")
	// ErrTrialExists — у пользователя уже есть запись триала.
	ErrTrialExists = errors.New("trial already exists")
)

// protectAttempts: сколько раз Protect перечитывает запись при конфликте.
const protectAttempts = 3

// Store хранилище, с которым работает Manager.
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
	CreateUser(ctx context.Context, user models.User) error
	DeleteUser(ctx context.Context, userID string) error
	CreateTrial(ctx context.Context, trial models.Trial) error
	GetTrial(ctx context.Context, userID string) (*models.Trial, error)
	ListDueTrials(ctx context.Context, now time.Time) ([]models.Trial, error)
	TransitionTrial(ctx context.Context, userID string, from, to models.TrialStatus,
		deletionScheduledAt *time.Time, at time.Time) (bool, error)
	ListDeletionCandidates(ctx context.Context) ([]models.DeletionCandidate, error)
	GetSubscriptionByUser(ctx context.Context, userID string) (*models.Subscription, error)
	PurgeBilling(ctx context.Context, userID string) error
}

// Evaluation — итог одного прохода EvaluateExpired.
type Evaluation struct {
	Examined  int `json:"examined"`
	Converted int `json:"converted"`
	Expired   int `json:"expired"`
	Scheduled int `json:"scheduled"`
	Conflicts int `json:"conflicts"`
}

// Manager реализует переходы состояний пробного периода.
type Manager struct {
	store    Store
	log      *slog.Logger
	duration time.Duration
	grace    time.Duration
	purge    bool
	now      func() time.Time
}

// Option настраивает Manager.
type Option func(*Manager)

// WithClock подменяет источник текущего времени.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager создаёт Manager с параметрами из секции trial конфига.
func NewManager(store Store, log *slog.Logger, cfg config.Trial, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		log:      log,
		duration: cfg.Duration,
		grace:    cfg.GracePeriod,
		purge:    cfg.SubscriptionRetention == config.RetentionPurge,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create создаёт пользователя и его запись триала в одной транзакции.
// Пустой user.ID заменяется новым UUID.
func (m *Manager) Create(ctx context.Context, user models.User) (*models.Trial, error) {
	const op = "trial.Create"

	now := m.now().UTC()
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	user.CreatedAt = now

	trial := models.Trial{
		UserID:     user.ID,
		TrialStart: now,
		TrialEnd:   now.Add(m.duration),
		Status:     models.TrialActive,
		UpdatedAt:  now,
	}

	err := m.store.WithinTx(ctx, func(ctx context.Context) error {
		if err := m.store.CreateUser(ctx, user); err != nil {
			return err
		}
		return m.store.CreateTrial(ctx, trial)
	})
	if err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			return nil, fmt.Errorf("%s: %w", op, ErrTrialExists)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	m.log.Info("trial created", sl.UserID(user.ID), slog.Time("trial_end", trial.TrialEnd))
	return &trial, nil
}

// EvaluateExpired проходит по всем записям active и expired с истёкшим сроком.
// Каждая запись обрабатывается в своей транзакции, за один проход возможна
// цепочка active → expired → scheduled_for_deletion. Конфликты CAS не считаются
// ошибкой: запись будет пересмотрена при следующем проходе.
func (m *Manager) EvaluateExpired(ctx context.Context) (Evaluation, error) {
	const op = "trial.EvaluateExpired"

	now := m.now().UTC()
	due, err := m.store.ListDueTrials(ctx, now)
	if err != nil {
		return Evaluation{}, fmt.Errorf("%s: %w", op, err)
	}

	var ev Evaluation
	for _, t := range due {
		if err := ctx.Err(); err != nil {
			return ev, fmt.Errorf("%s: %w", op, err)
		}
		ev.Examined++

		var step Evaluation
		err := m.store.WithinTx(ctx, func(ctx context.Context) error {
			return m.evaluateOne(ctx, t, now, &step)
		})
		switch {
		case errors.Is(err, ErrStateChanged):
			ev.Conflicts++
			m.log.Info("trial changed during evaluation, skipped", sl.UserID(t.UserID))
		case err != nil:
			return ev, fmt.Errorf("%s: %w", op, err)
		default:
			ev.add(step)
			step.record(t.Status)
		}
	}

	if ev.Examined > 0 {
		m.log.Info("trial evaluation finished",
			slog.Int("examined", ev.Examined),
			slog.Int("converted", ev.Converted),
			slog.Int("expired", ev.Expired),
			slog.Int("scheduled", ev.Scheduled),
			slog.Int("conflicts", ev.Conflicts),
		)
	}
	return ev, nil
}

func (e *Evaluation) add(o Evaluation) {
	e.Converted += o.Converted
	e.Expired += o.Expired
	e.Scheduled += o.Scheduled
}

// record учитывает в метриках переходы одной зафиксированной записи.
func (e Evaluation) record(from models.TrialStatus) {
	lc := metrics.Get()
	if e.Converted > 0 {
		lc.TrialTransition(string(from), string(models.TrialConvertedToPaid))
	}
	if e.Expired > 0 {
		lc.TrialTransition(string(models.TrialActive), string(models.TrialExpired))
	}
	if e.Scheduled > 0 {
		lc.TrialTransition(string(models.TrialExpired), string(models.TrialScheduledForDeletion))
	}
}

func (m *Manager) evaluateOne(ctx context.Context, t models.Trial, now time.Time, ev *Evaluation) error {
	protected, err := m.hasProtectingSubscription(ctx, t.UserID)
	if err != nil {
		return err
	}
	if protected {
		if err := m.transition(ctx, t.UserID, t.Status, models.TrialConvertedToPaid, nil, now); err != nil {
			return err
		}
		ev.Converted++
		return nil
	}

	status := t.Status
	if status == models.TrialActive && !now.Before(t.TrialEnd) {
		if err := m.transition(ctx, t.UserID, status, models.TrialExpired, nil, now); err != nil {
			return err
		}
		status = models.TrialExpired
		ev.Expired++
	}
	if status == models.TrialExpired && !now.Before(t.TrialEnd.Add(m.grace)) {
		scheduledAt := now
		if err := m.transition(ctx, t.UserID, status, models.TrialScheduledForDeletion, &scheduledAt, now); err != nil {
			return err
		}
		ev.Scheduled++
	}
	return nil
}

// Protect переводит запись в converted_to_paid и сбрасывает расписание удаления.
// Если в ctx открыта транзакция, запись выполняется в ней.
// Отсутствующая, уже защищённая или удалённая запись не меняется.
func (m *Manager) Protect(ctx context.Context, userID string) error {
	const op = "trial.Protect"

	for range protectAttempts {
		t, err := m.store.GetTrial(ctx, userID)
		if errors.Is(err, repository.ErrNotFound) {
			m.log.Warn("protect requested for user without trial", sl.UserID(userID))
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		switch {
		case t.Status == models.TrialConvertedToPaid:
			return nil
		case !t.Status.Protectable():
			m.log.Warn("protect requested for deleted account", sl.UserID(userID))
			return nil
		}

		err = m.transition(ctx, userID, t.Status, models.TrialConvertedToPaid, nil, m.now().UTC())
		if err == nil {
			metrics.Get().TrialTransition(string(t.Status), string(models.TrialConvertedToPaid))
			m.log.Info("trial protected by subscription",
				sl.UserID(userID), slog.String("from_status", string(t.Status)))
			return nil
		}
		if !errors.Is(err, ErrStateChanged) {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return fmt.Errorf("%s: %w", op, ErrStateChanged)
}

// Revalidate перечитывает кандидата непосредственно перед удалением.
// Возвращает true, только если запись всё ещё scheduled_for_deletion
// и защищающей подписки нет. Защищённый кандидат снимается с удаления.
func (m *Manager) Revalidate(ctx context.Context, userID string) (bool, error) {
	const op = "trial.Revalidate"

	var proceed bool
	err := m.store.WithinTx(ctx, func(ctx context.Context) error {
		t, err := m.store.GetTrial(ctx, userID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if t.Status != models.TrialScheduledForDeletion {
			return nil
		}

		protected, err := m.hasProtectingSubscription(ctx, userID)
		if err != nil {
			return err
		}
		if protected {
			return m.Protect(ctx, userID)
		}
		proceed = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return proceed, nil
}

// Candidates возвращает пользователей, стоящих в очереди на удаление.
func (m *Manager) Candidates(ctx context.Context) ([]models.DeletionCandidate, error) {
	const op = "trial.Candidates"

	candidates, err := m.store.ListDeletionCandidates(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return candidates, nil
}

// FinalizeDeletion переводит запись в deleted и удаляет пользователя в одной
// транзакции. При политике purge удаляются и записи платёжного процессора.
// Сама запись триала остаётся со статусом deleted.
func (m *Manager) FinalizeDeletion(ctx context.Context, userID string) error {
	const op = "trial.FinalizeDeletion"

	err := m.store.WithinTx(ctx, func(ctx context.Context) error {
		err := m.transition(ctx, userID, models.TrialScheduledForDeletion, models.TrialDeleted, nil, m.now().UTC())
		if err != nil {
			return err
		}
		if err := m.store.DeleteUser(ctx, userID); err != nil {
			return err
		}
		if m.purge {
			return m.store.PurgeBilling(ctx, userID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	metrics.Get().TrialTransition(string(models.TrialScheduledForDeletion), string(models.TrialDeleted))
	return nil
}

func (m *Manager) hasProtectingSubscription(ctx context.Context, userID string) (bool, error) {
	sub, err := m.store.GetSubscriptionByUser(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return sub.Status.Protecting(), nil
}

func (m *Manager) transition(ctx context.Context, userID string, from, to models.TrialStatus,
	deletionScheduledAt *time.Time, at time.Time) error {
	ok, err := m.store.TransitionTrial(ctx, userID, from, to, deletionScheduledAt, at)
	if err != nil {
		return err
	}
	if !ok {
		return ErrStateChanged
	}
	return nil
}
