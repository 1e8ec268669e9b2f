package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/trial-lifecycle/internal/models"
	"github.com/magabrotheeeer/trial-lifecycle/internal/services/trial"
)

type countingEvaluator struct {
	calls atomic.Int32
	err   error
}

func (e *countingEvaluator) EvaluateExpired(context.Context) (trial.Evaluation, error) {
	e.calls.Add(1)
	return trial.Evaluation{Examined: 1}, e.err
}

type countingCleaner struct {
	calls atomic.Int32
}

func (c *countingCleaner) Run(context.Context) (models.CleanupReport, error) {
	c.calls.Add(1)
	return models.CleanupReport{Success: true}, nil
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestScheduler_RunsBothJobsUntilCanceled(t *testing.T) {
	ev := &countingEvaluator{err: errors.New("db down")}
	cl := &countingCleaner{}
	app := New(ev, cl, 10*time.Millisecond, 10*time.Millisecond, newNoopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	require.Eventually(t, func() bool {
		return ev.calls.Load() >= 2 && cl.calls.Load() >= 2
	}, time.Second, 5*time.Millisecond, "ошибка прохода не должна останавливать цикл")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestScheduler_DisabledJob(t *testing.T) {
	ev := &countingEvaluator{}
	cl := &countingCleaner{}
	app := New(ev, cl, 0, 10*time.Millisecond, newNoopLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, app.Run(ctx))

	assert.Zero(t, ev.calls.Load())
	assert.Positive(t, cl.calls.Load())
}
