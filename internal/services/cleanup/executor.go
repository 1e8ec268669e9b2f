// Package cleanup удаляет аккаунты пользователей, чей пробный период истёк
// без оплаты: сначала во внешнем сервисе рабочих пространств, затем в системе
// идентификации. Каждый кандидат обрабатывается независимо и перепроверяется
// непосредственно перед удалением.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/trial-lifecycle/internal/lib/sl"
	"github.com/magabrotheeeer/trial-lifecycle/internal/metrics"
	"github.com/magabrotheeeer/trial-lifecycle/internal/models"
	"github.com/magabrotheeeer/trial-lifecycle/internal/services/trial"
	"github.com/magabrotheeeer/trial-lifecycle/internal/workspace"
)

var (
	// ErrWorkspaceAuth — внешний сервис отверг служебные учётные данные.
	ErrWorkspaceAuth = errors.New("workspace authentication failed")
	// ErrWorkspaceUnavailable — сессию не удалось открыть из-за сети или 5xx
	// после всех повторов. Запуск можно повторить позже.
	ErrWorkspaceUnavailable = errors.New("workspace unavailable")
)

// Lifecycle содержит операции менеджера пробного периода, нужные задаче очистки.
type Lifecycle interface {
	EvaluateExpired(ctx context.Context) (trial.Evaluation, error)
	Candidates(ctx context.Context) ([]models.DeletionCandidate, error)
	Revalidate(ctx context.Context, userID string) (bool, error)
	FinalizeDeletion(ctx context.Context, userID string) error
}

// Session открытая сессия внешнего сервиса.
type Session interface {
	FindUser(ctx context.Context, username string) (*workspace.Account, error)
	DeleteUser(ctx context.Context, id string) error
	Close()
}

// Workspace открывает сессии внешнего сервиса.
type Workspace interface {
	Open(ctx context.Context) (Session, error)
}

// ReportPublisher публикует отчёт запуска.
type ReportPublisher interface {
	PublishCleanupReport(ctx context.Context, report models.CleanupReport) error
}

// Executor выполняет запуск очистки.
type Executor struct {
	lifecycle Lifecycle
	workspace Workspace
	publisher ReportPublisher
	log       *slog.Logger
	now       func() time.Time
}

// NewExecutor создаёт Executor. publisher может быть nil.
func NewExecutor(lifecycle Lifecycle, ws Workspace, publisher ReportPublisher, log *slog.Logger) *Executor {
	return &Executor{
		lifecycle: lifecycle,
		workspace: ws,
		publisher: publisher,
		log:       log,
		now:       time.Now,
	}
}

// Run выполняет один запуск: пометка истёкших, выбор кандидатов, перепроверка
// и удаление каждого кандидата. Ошибки удаления отдельного кандидата попадают
// в отчёт и не прерывают запуск. Ошибка возвращается, если упали пометка,
// выбор кандидатов, перепроверка или аутентификация во внешнем сервисе.
func (e *Executor) Run(ctx context.Context) (models.CleanupReport, error) {
	const op = "cleanup.Run"

	started := e.now()
	report, err := e.run(ctx)
	took := e.now().Sub(started)

	if err != nil {
		metrics.Get().CleanupRun("failed", took)
		e.log.Error("cleanup run failed", sl.Err(err), slog.Int("processed", report.Processed))
		return report, fmt.Errorf("%s: %w", op, err)
	}

	metrics.Get().CleanupRun("ok", took)
	e.log.Info("cleanup run finished",
		slog.Int("processed", report.Processed),
		slog.Int("skipped", report.Skipped),
		slog.Duration("took", took),
	)
	e.publish(ctx, report)
	return report, nil
}

func (e *Executor) run(ctx context.Context) (models.CleanupReport, error) {
	report := models.CleanupReport{Results: []models.CleanupResult{}}

	if _, err := e.lifecycle.EvaluateExpired(ctx); err != nil {
		return report, err
	}
	candidates, err := e.lifecycle.Candidates(ctx)
	if err != nil {
		return report, err
	}
	if len(candidates) == 0 {
		report.Success = true
		return report, nil
	}
	e.log.Info("deletion candidates found", slog.Int("count", len(candidates)))

	session, err := e.workspace.Open(ctx)
	if errors.Is(err, workspace.ErrUnauthorized) {
		return report, fmt.Errorf("%w: %w", ErrWorkspaceAuth, err)
	}
	if err != nil {
		return report, fmt.Errorf("%w: %w", ErrWorkspaceUnavailable, err)
	}
	defer session.Close()

	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			e.log.Warn("cleanup interrupted", slog.Int("remaining", len(candidates)-report.Processed-report.Skipped))
			return report, err
		}

		proceed, err := e.lifecycle.Revalidate(ctx, c.UserID)
		if err != nil {
			return report, err
		}
		if !proceed {
			report.Skipped++
			metrics.Get().CleanupCandidate("skipped")
			e.log.Info("candidate no longer eligible, skipped", sl.UserID(c.UserID))
			continue
		}

		result, err := e.deleteCandidate(ctx, session, c)
		report.Results = append(report.Results, result)
		report.Processed = len(report.Results)
		if errors.Is(err, workspace.ErrUnauthorized) {
			return report, fmt.Errorf("%w: %w", ErrWorkspaceAuth, err)
		}
	}

	report.Success = true
	return report, nil
}

// deleteCandidate удаляет аккаунт во внешнем сервисе, затем в системе идентификации.
// Отсутствующий внешний аккаунт считается уже удалённым.
func (e *Executor) deleteCandidate(ctx context.Context, session Session, c models.DeletionCandidate) (models.CleanupResult, error) {
	log := e.log.With(sl.UserID(c.UserID))
	result := models.CleanupResult{Identifier: c.Email}
	if result.Identifier == "" {
		result.Identifier = c.UserID
	}

	fail := func(stage string, err error) (models.CleanupResult, error) {
		log.Error("candidate deletion failed", slog.String("stage", stage), sl.Err(err))
		metrics.Get().CleanupCandidate("failed")
		result.Error = err.Error()
		return result, err
	}

	if c.Email != "" {
		account, err := session.FindUser(ctx, c.Email)
		switch {
		case errors.Is(err, workspace.ErrNotFound):
			log.Info("workspace account already absent")
		case err != nil:
			return fail("workspace lookup", err)
		default:
			if err := session.DeleteUser(ctx, account.ID); err != nil {
				return fail("workspace delete", err)
			}
		}
	}

	if err := e.lifecycle.FinalizeDeletion(ctx, c.UserID); err != nil {
		if errors.Is(err, trial.ErrStateChanged) {
			log.Error("trial changed after workspace account removal", sl.Err(err))
		}
		return fail("identity delete", err)
	}

	metrics.Get().CleanupCandidate("deleted")
	log.Info("account deleted")
	result.Success = true
	return result, nil
}

func (e *Executor) publish(ctx context.Context, report models.CleanupReport) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.PublishCleanupReport(context.WithoutCancel(ctx), report); err != nil {
		e.log.Warn("failed to publish cleanup report", sl.Err(err))
	}
}
