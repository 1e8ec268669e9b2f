package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/magabrotheeeer/trial-lifecycle/internal/migrations"
	"github.com/magabrotheeeer/trial-lifecycle/internal/models"
)

// testDataFactory создаёт тестовые данные напрямую через SQL.
type testDataFactory struct {
	storage *Storage
}

func newTestDataFactory(storage *Storage) *testDataFactory {
	return &testDataFactory{storage: storage}
}

func (f *testDataFactory) createUser(t *testing.T, id, email string) {
	t.Helper()
	_, err := f.storage.DB.Exec(`INSERT INTO users (id, email, password_hash) VALUES ($1, $2, 'hash')`, id, email)
	require.NoError(t, err)
}

func (f *testDataFactory) createTrial(t *testing.T, userID string, start time.Time, status models.TrialStatus, scheduledAt *time.Time) {
	t.Helper()
	_, err := f.storage.DB.Exec(`INSERT INTO user_trials (user_id, trial_start, trial_end, status, deletion_scheduled_at)
		VALUES ($1, $2, $3, $4, $5)`, userID, start, start.Add(7*24*time.Hour), status, scheduledAt)
	require.NoError(t, err)
}

func (f *testDataFactory) trialStatus(t *testing.T, userID string) models.TrialStatus {
	t.Helper()
	var status models.TrialStatus
	require.NoError(t, f.storage.DB.QueryRow(`SELECT status FROM user_trials WHERE user_id = $1`, userID).Scan(&status))
	return status
}

func (f *testDataFactory) userCount(t *testing.T, userID string) int {
	t.Helper()
	var count int
	require.NoError(t, f.storage.DB.QueryRow(`SELECT COUNT(*) FROM users WHERE id = $1`, userID).Scan(&count))
	return count
}

// setupTestDatabase поднимает PostgreSQL в контейнере и применяет миграции.
func setupTestDatabase(t *testing.T) *Storage {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test requires docker")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		),
	)
	require.NoError(t, err, "failed to start container")

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	storage, err := New(connStr)
	require.NoError(t, err)

	migrationsPath, err := filepath.Abs("../../../migrations")
	require.NoError(t, err)
	require.NoError(t, migrations.Run(storage.DB, migrationsPath))

	t.Cleanup(func() {
		storage.Close()
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})
	return storage
}
