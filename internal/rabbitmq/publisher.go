package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/trial-lifecycle/internal/models"
)

// Channel часть amqp.Channel, нужная для публикации.
type Channel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Publisher публикует отчёты задачи очистки в Exchange.
type Publisher struct {
	ch  Channel
	now func() time.Time
}

// NewPublisher создаёт Publisher поверх открытого канала.
func NewPublisher(ch Channel) *Publisher {
	return &Publisher{ch: ch, now: time.Now}
}

// cleanupReportMessage — тело сообщения с отчётом очистки.
type cleanupReportMessage struct {
	FinishedAt time.Time            `json:"finished_at"`
	Report     models.CleanupReport `json:"report"`
}

// PublishCleanupReport публикует отчёт одного запуска очистки.
func (p *Publisher) PublishCleanupReport(ctx context.Context, report models.CleanupReport) error {
	const op = "rabbitmq.PublishCleanupReport"
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return publishJSON(p.ch, Exchange, RoutingKeyCleanupReport, cleanupReportMessage{
		FinishedAt: p.now().UTC(),
		Report:     report,
	})
}

// publishJSON сериализует message в JSON и публикует его как persistent-сообщение.
func publishJSON(ch Channel, exchange, routingKey string, message any) error {
	const op = "rabbitmq.publishJSON"
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	err = ch.Publish(
		exchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
