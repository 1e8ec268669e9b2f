// Package scheduler периодически запускает пометку истёкших триалов и задачу очистки.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/magabrotheeeer/trial-lifecycle/internal/lib/sl"
	"github.com/magabrotheeeer/trial-lifecycle/internal/models"
	"github.com/magabrotheeeer/trial-lifecycle/internal/services/trial"
)

// Evaluator переводит истёкшие триалы по статусам.
type Evaluator interface {
	EvaluateExpired(ctx context.Context) (trial.Evaluation, error)
}

// Cleaner выполняет один запуск очистки.
type Cleaner interface {
	Run(ctx context.Context) (models.CleanupReport, error)
}

// App планировщик с двумя независимыми циклами.
type App struct {
	evaluator        Evaluator
	cleaner          Cleaner
	evaluateInterval time.Duration
	cleanupInterval  time.Duration
	logger           *slog.Logger
}

// New создаёт планировщик. Неположительный интервал отключает соответствующий цикл.
func New(evaluator Evaluator, cleaner Cleaner, evaluateInterval, cleanupInterval time.Duration, logger *slog.Logger) *App {
	return &App{
		evaluator:        evaluator,
		cleaner:          cleaner,
		evaluateInterval: evaluateInterval,
		cleanupInterval:  cleanupInterval,
		logger:           logger,
	}
}

// Run запускает циклы и блокируется до отмены ctx. Ошибка отдельного прохода
// логируется и не останавливает планировщик.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if a.evaluateInterval > 0 {
		g.Go(func() error {
			a.loop(ctx, "evaluate", a.evaluateInterval, func(ctx context.Context) error {
				ev, err := a.evaluator.EvaluateExpired(ctx)
				if err == nil {
					a.logger.Info("evaluate pass finished",
						slog.Int("examined", ev.Examined),
						slog.Int("scheduled", ev.Scheduled),
					)
				}
				return err
			})
			return nil
		})
	}

	if a.cleanupInterval > 0 {
		g.Go(func() error {
			a.loop(ctx, "cleanup", a.cleanupInterval, func(ctx context.Context) error {
				_, err := a.cleaner.Run(ctx)
				return err
			})
			return nil
		})
	}

	err := g.Wait()
	a.logger.Info("shutting down scheduler")
	return err
}

func (a *App) loop(ctx context.Context, job string, interval time.Duration, run func(ctx context.Context) error) {
	log := a.logger.With(slog.String("job", job))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("scheduled job failed", sl.Err(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
