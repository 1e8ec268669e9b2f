// Package config предоставялет структуры и функцию для парсинга и загрузки конфига
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Политики хранения записей подписки после удаления аккаунта.
const (
	RetentionRetain = "retain"
	RetentionPurge  = "purge"
)

// Config общая структура для хранения настроек
type Config struct {
	Env                     string `yaml:"env" env:"ENV" env-default:"local"`
	StorageConnectionString string `yaml:"storage_connection_string" env:"STORAGE_CONNECTION_STRING" env-required:"true"`
	MigrationsPath          string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"./migrations"`
	HTTPServer              `yaml:"http_server"`
	RedisConnection         `yaml:"redis_connection"`
	RabbitMQ                `yaml:"rabbitmq"`
	Trial                   `yaml:"trial"`
	Workspace               `yaml:"workspace"`
	Stripe                  `yaml:"stripe"`
	Cleanup                 `yaml:"cleanup"`
}

// HTTPServer структура для настройки сервера
type HTTPServer struct {
	AddressHTTP string        `yaml:"addresshttp" env:"HTTP_ADDRESS" env-default:":8080"`
	TimeoutHTTP time.Duration `yaml:"timeouthttp" env-default:"30s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
	SignupRPS   float64       `yaml:"signup_rps" env-default:"5"`
	SignupBurst int           `yaml:"signup_burst" env-default:"10"`
}

// RedisConnection структура для настройки подключения к redis
type RedisConnection struct {
	AddressRedis string        `yaml:"addressredis" env:"REDIS_ADDRESS"`
	Password     string        `yaml:"password" env:"REDIS_PASSWORD"`
	User         string        `yaml:"user" env:"REDIS_USER"`
	DB           int           `yaml:"db"`
	MaxRetries   int           `yaml:"max_retries" env-default:"3"`
	DialTimeout  time.Duration `yaml:"dial_timeout" env-default:"5s"`
	TimeoutRedis time.Duration `yaml:"timeoutredis" env-default:"3s"`
	EventTTL     time.Duration `yaml:"event_ttl" env-default:"72h"`
}

// RabbitMQ структура для настройки публикации отчётов очистки
type RabbitMQ struct {
	RabbitMQURL        string        `yaml:"url" env:"RABBITMQ_URL"`
	RabbitMQMaxRetries int           `yaml:"max_retries" env-default:"5"`
	RabbitMQRetryDelay time.Duration `yaml:"retry_delay" env-default:"3s"`
}

// Trial структура с параметрами жизненного цикла пробного периода
type Trial struct {
	Duration              time.Duration `yaml:"duration" env:"TRIAL_DURATION" env-default:"168h"`
	GracePeriod           time.Duration `yaml:"grace_period" env:"TRIAL_GRACE_PERIOD" env-default:"24h"`
	EvaluateInterval      time.Duration `yaml:"evaluate_interval" env-default:"1h"`
	CleanupInterval       time.Duration `yaml:"cleanup_interval" env-default:"1h"`
	SubscriptionRetention string        `yaml:"subscription_retention" env:"SUBSCRIPTION_RETENTION" env-default:"retain"`
}

// Workspace структура для подключения к внешнему сервису рабочих пространств.
// Учётные данные передаются только через окружение или файл конфига.
type Workspace struct {
	BaseURL              string        `yaml:"base_url" env:"WORKSPACE_BASE_URL" env-required:"true"`
	Username             string        `yaml:"username" env:"WORKSPACE_USERNAME" env-required:"true"`
	Password             string        `yaml:"password" env:"WORKSPACE_PASSWORD" env-required:"true"`
	APIKeyName           string        `yaml:"api_key_name" env-default:"Trial Cleanup API Key"`
	RequestTimeout       time.Duration `yaml:"request_timeout" env-default:"10s"`
	MaxRetries           uint64        `yaml:"max_retries" env-default:"3"`
	RetryInitialInterval time.Duration `yaml:"retry_initial_interval" env-default:"500ms"`
}

// Stripe структура с секретом для проверки подписи вебхуков
type Stripe struct {
	WebhookSecret string `yaml:"webhook_secret" env:"STRIPE_WEBHOOK_SECRET" env-required:"true"`
}

// Cleanup структура с секретом сервисного JWT для эндпоинта очистки.
// Пустой секрет отключает проверку.
type Cleanup struct {
	JWTSecret string `yaml:"jwt_secret" env:"CLEANUP_JWT_SECRET"`
}

// Load читает конфиг из файла по указанному пути и переменных окружения.
func Load(configPath string) (*Config, error) {
	const op = "config.Load"

	// .env необязателен, переменные окружения могут прийти и из оркестратора
	_ = godotenv.Load()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%s: file %s does not exist", op, configPath)
	}
	var cfg Config
	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &cfg, nil
}

// MustLoad функция для загрузки конфига по пути из CONFIG_PATH, завершает процесс при ошибке
func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		log.Fatal("CONFIG_PATH is not set")
	}
	cfg, err := Load(configPath)
	if err != nil {
		log.Fatalf("cannot read config: %s", err)
	}
	return cfg
}

func (c *Config) validate() error {
	if c.Trial.Duration <= 0 {
		return errors.New("trial duration must be positive")
	}
	if c.Trial.GracePeriod < 0 {
		return errors.New("trial grace period must not be negative")
	}
	switch c.SubscriptionRetention {
	case RetentionRetain, RetentionPurge:
	default:
		return fmt.Errorf("unknown subscription retention policy %q", c.SubscriptionRetention)
	}
	return nil
}

// String возвращает конфиг в читаемом виде без секретов.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Env: %s\n"+
			"MigrationsPath: %s\n"+
			"HTTPServer:\n"+
			"  Address: %s\n"+
			"  Timeout: %s\n"+
			"  IdleTimeout: %s\n"+
			"RedisConnection:\n"+
			"  Addr: %s\n"+
			"  DB: %d\n"+
			"Trial:\n"+
			"  Duration: %s\n"+
			"  GracePeriod: %s\n"+
			"  SubscriptionRetention: %s\n"+
			"Workspace:\n"+
			"  BaseURL: %s\n"+
			"  Username: %s\n",
		c.Env,
		c.MigrationsPath,
		c.AddressHTTP,
		c.TimeoutHTTP,
		c.IdleTimeout,
		c.AddressRedis,
		c.DB,
		c.Trial.Duration,
		c.GracePeriod,
		c.SubscriptionRetention,
		c.BaseURL,
		c.Workspace.Username,
	)
}
