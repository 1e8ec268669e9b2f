package rabbitmq

import (
	"fmt"

	"github.com/streadway/amqp"
)

// Exchange — direct-exchange для событий жизненного цикла аккаунтов.
const Exchange = "lifecycle"

// RoutingKeyCleanupReport — ключ маршрутизации отчётов задачи очистки.
const RoutingKeyCleanupReport = "cleanup.report"

// QueueConfig описывает очередь и ключ, которым она привязана к Exchange.
type QueueConfig struct {
	QueueName  string
	RoutingKey string
}

// LifecycleQueues возвращает очереди, которые объявляются при старте планировщика.
func LifecycleQueues() []QueueConfig {
	return []QueueConfig{
		{QueueName: "lifecycle.cleanup_reports", RoutingKey: RoutingKeyCleanupReport},
	}
}

// SetupChannel открывает канал, объявляет Exchange и привязывает к нему очереди.
func SetupChannel(conn *amqp.Connection, queues []QueueConfig) (*amqp.Channel, error) {
	const op = "rabbitmq.SetupChannel"

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	err = ch.ExchangeDeclare(
		Exchange,
		"direct",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	for _, q := range queues {
		if _, err := ch.QueueDeclare(q.QueueName, true, false, false, false, nil); err != nil {
			return nil, fmt.Errorf("%s: failed to declare queue %s: %w", op, q.QueueName, err)
		}
		if err := ch.QueueBind(q.QueueName, q.RoutingKey, Exchange, false, nil); err != nil {
			return nil, fmt.Errorf("%s: failed to bind queue %s with routing key %s: %w", op, q.QueueName, q.RoutingKey, err)
		}
	}

	return ch, nil
}
