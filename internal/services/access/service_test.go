package access

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/trial-lifecycle/internal/models"
	"github.com/magabrotheeeer/trial-lifecycle/internal/storage/repository"
)

type StoreMock struct{ mock.Mock }

func (m *StoreMock) GetTrial(ctx context.Context, userID string) (*models.Trial, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Trial), args.Error(1)
}

func (m *StoreMock) GetSubscriptionByUser(ctx context.Context, userID string) (*models.Subscription, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Subscription), args.Error(1)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestService_Decide(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		setupMocks func(m *StoreMock)
		want       models.AccessType
		wantErr    bool
	}{
		{
			name: "free trial",
			setupMocks: func(m *StoreMock) {
				m.On("GetTrial", mock.Anything, "u-1").
					Return(&models.Trial{Status: models.TrialActive, TrialEnd: now.Add(time.Hour)}, nil)
				m.On("GetSubscriptionByUser", mock.Anything, "u-1").Return(nil, repository.ErrNotFound)
			},
			want: models.AccessFreeTrial,
		},
		{
			name: "unknown user",
			setupMocks: func(m *StoreMock) {
				m.On("GetTrial", mock.Anything, "u-1").Return(nil, repository.ErrNotFound)
				m.On("GetSubscriptionByUser", mock.Anything, "u-1").Return(nil, repository.ErrNotFound)
			},
			want: models.AccessNone,
		},
		{
			name: "store error",
			setupMocks: func(m *StoreMock) {
				m.On("GetTrial", mock.Anything, "u-1").Return(nil, errors.New("db down"))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := new(StoreMock)
			tt.setupMocks(store)
			s := NewService(store, newNoopLogger())
			s.now = func() time.Time { return now }

			got, err := s.Decide(context.Background(), "u-1")
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.AccessType)
			store.AssertExpectations(t)
		})
	}
}
