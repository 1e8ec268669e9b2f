// Package components собирает хранилище, внешние клиенты и сервисы жизненного
// цикла триала из конфига. Используется HTTP-сервером и утилитой trialctl.
package components

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/trial-lifecycle/internal/cache"
	"github.com/magabrotheeeer/trial-lifecycle/internal/config"
	"github.com/magabrotheeeer/trial-lifecycle/internal/lib/sl"
	"github.com/magabrotheeeer/trial-lifecycle/internal/migrations"
	"github.com/magabrotheeeer/trial-lifecycle/internal/rabbitmq"
	"github.com/magabrotheeeer/trial-lifecycle/internal/services/access"
	"github.com/magabrotheeeer/trial-lifecycle/internal/services/cleanup"
	"github.com/magabrotheeeer/trial-lifecycle/internal/services/signup"
	"github.com/magabrotheeeer/trial-lifecycle/internal/services/subscription"
	"github.com/magabrotheeeer/trial-lifecycle/internal/services/trial"
	"github.com/magabrotheeeer/trial-lifecycle/internal/storage/repository"
	"github.com/magabrotheeeer/trial-lifecycle/internal/workspace"
)

const (
	dbReadyAttempts = 10
	dbReadyDelay    = 3 * time.Second
)

// Components хранит собранные зависимости процесса.
type Components struct {
	Storage      *repository.Storage
	Trials       *trial.Manager
	Access       *access.Service
	Synchronizer *subscription.Synchronizer
	Cleanup      *cleanup.Executor
	Signup       *signup.Service

	cache *cache.Cache
	conn  *amqp.Connection
	ch    *amqp.Channel
	log   *slog.Logger
}

// Options задаёт, какие необязательные зависимости поднимать.
type Options struct {
	// Migrate применяет миграции при старте.
	Migrate bool
	// Publish подключается к RabbitMQ и публикует отчёты очистки.
	Publish bool
}

// Build подключается к PostgreSQL, Redis и RabbitMQ и создаёт сервисы.
// Redis и RabbitMQ необязательны: пустой адрес в конфиге отключает их.
func Build(ctx context.Context, cfg *config.Config, log *slog.Logger, opts Options) (*Components, error) {
	const op = "components.Build"

	c := &Components{log: log}

	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	c.Storage = db

	if err := waitForDB(ctx, db); err != nil {
		c.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if opts.Migrate {
		if err := migrations.Run(db.DB, cfg.MigrationsPath); err != nil {
			c.Close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	if err := repository.CheckDatabaseReady(ctx, db); err != nil {
		c.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var deduper subscription.Deduper
	if cfg.AddressRedis != "" {
		c.cache, err = cache.InitServer(ctx, cfg.RedisConnection)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		deduper = c.cache
	} else {
		log.Warn("redis address is empty, event dedupe relies on event ordering only")
	}

	var publisher cleanup.ReportPublisher
	if opts.Publish && cfg.RabbitMQURL != "" {
		c.conn, err = rabbitmq.Connect(cfg.RabbitMQURL, cfg.RabbitMQMaxRetries, cfg.RabbitMQRetryDelay)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		c.ch, err = rabbitmq.SetupChannel(c.conn, rabbitmq.LifecycleQueues())
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		publisher = rabbitmq.NewPublisher(c.ch)
	}

	ws := workspace.New(log, cfg.Workspace, &http.Client{})

	c.Trials = trial.NewManager(db, log, cfg.Trial)
	c.Access = access.NewService(db, log)
	c.Synchronizer = subscription.NewSynchronizer(db, deduper, c.Trials, log)
	c.Cleanup = cleanup.NewExecutor(c.Trials, cleanup.NewWorkspace(ws), publisher, log)
	c.Signup = signup.New(c.Trials, signup.NewProvisioner(ws), log)

	return c, nil
}

// Close освобождает соединения. Безопасен для частично собранных Components.
func (c *Components) Close() {
	if c.ch != nil {
		if err := c.ch.Close(); err != nil {
			c.log.Error("failed to close rabbitmq channel", sl.Err(err))
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.log.Error("failed to close rabbitmq connection", sl.Err(err))
		}
	}
	if c.cache != nil {
		if err := c.cache.Close(); err != nil {
			c.log.Error("failed to close redis", sl.Err(err))
		}
	}
	if c.Storage != nil {
		if err := c.Storage.Close(); err != nil {
			c.log.Error("failed to close storage", sl.Err(err))
		}
	}
}

func waitForDB(ctx context.Context, db *repository.Storage) error {
	var err error
	for range dbReadyAttempts {
		if err = db.Ping(ctx); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(dbReadyDelay):
		}
	}
	return fmt.Errorf("database not ready after retries: %w", err)
}
