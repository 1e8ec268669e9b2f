package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/trial-lifecycle/internal/models"
)

type MockChannel struct {
	mock.Mock
}

func (m *MockChannel) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	args := m.Called(exchange, key, mandatory, immediate, msg)
	return args.Error(0)
}

func TestPublisher_PublishCleanupReport(t *testing.T) {
	finished := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	report := models.CleanupReport{
		Success:   true,
		Processed: 1,
		Results:   []models.CleanupResult{{Identifier: "a@example.com", Success: true}},
	}

	ch := new(MockChannel)
	ch.On("Publish", Exchange, RoutingKeyCleanupReport, false, false, mock.MatchedBy(func(msg amqp.Publishing) bool {
		var got cleanupReportMessage
		if err := json.Unmarshal(msg.Body, &got); err != nil {
			return false
		}
		return msg.DeliveryMode == amqp.Persistent &&
			msg.ContentType == "application/json" &&
			got.FinishedAt.Equal(finished) &&
			got.Report.Processed == 1 &&
			got.Report.Results[0].Identifier == "a@example.com"
	})).Return(nil).Once()

	p := NewPublisher(ch)
	p.now = func() time.Time { return finished }

	require.NoError(t, p.PublishCleanupReport(context.Background(), report))
	ch.AssertExpectations(t)
}

func TestPublisher_PublishError(t *testing.T) {
	ch := new(MockChannel)
	ch.On("Publish", mock.Anything, mock.Anything, false, false, mock.Anything).
		Return(errors.New("channel closed")).Once()

	err := NewPublisher(ch).PublishCleanupReport(context.Background(), models.CleanupReport{})
	assert.ErrorContains(t, err, "channel closed")
	ch.AssertExpectations(t)
}

func TestPublisher_CanceledContext(t *testing.T) {
	ch := new(MockChannel)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewPublisher(ch).PublishCleanupReport(ctx, models.CleanupReport{})
	assert.ErrorIs(t, err, context.Canceled)
	ch.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
