package config

import (
	"errors"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv      string `envconfig:"APP_ENV" default:"dev"`
	Port        int    `envconfig:"PORT" default:"8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	Discord struct {
		Token         string `envconfig:"DISCORD_BOT_TOKEN"`
		ApplicationID string `envconfig:"DISCORD_APPLICATION_ID"`
		PublicKey     string `envconfig:"DISCORD_PUBLIC_KEY"`
	} `envconfig:""`

	GitHub struct {
		WebhookSecret string `envconfig:"GITHUB_WEBHOOK_SECRET"`
	} `envconfig:""`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	Delivery struct {
		Timeout            time.Duration `envconfig:"DELIVERY_TIMEOUT" default:"3s"`
		InteractionMaxSkew time.Duration `envconfig:"INTERACTION_MAX_SKEW" default:"5m"`
		DedupeTTL          time.Duration `envconfig:"DEDUPE_TTL" default:"72h"`
		LockTTL            time.Duration `envconfig:"LOCK_TTL" default:"15s"`
	} `envconfig:""`

	Replay struct {
		Interval    time.Duration `envconfig:"REPLAY_INTERVAL" default:"30s"`
		MaxAttempts int           `envconfig:"REPLAY_MAX_ATTEMPTS" default:"10"`
		BatchSize   int           `envconfig:"REPLAY_BATCH_SIZE" default:"50"`
		QueueKey    string        `envconfig:"REPLAY_QUEUE_KEY" default:"replay_wakeups"`
	} `envconfig:""`
}

// InMemory сообщает, что БД не настроена и можно работать на памяти (только dev).
func (c AppConfig) InMemory() bool {
	return c.PGDSN == "" && c.AppEnv == "dev"
}

// Validate проверяет обязательные для production ключи.
func (c AppConfig) Validate() error {
	if c.PGDSN == "" && c.AppEnv != "dev" {
		return errors.New("PG_DSN is required outside dev")
	}
	if c.Replay.MaxAttempts <= 0 || c.Replay.BatchSize <= 0 {
		return errors.New("replay limits must be positive")
	}
	return nil
}

// Load загружает конфиг из окружения; .env в рабочем каталоге необязателен.
func Load() AppConfig {
	_ = godotenv.Load()
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("некорректный конфиг: %v", err)
	}
	return cfg
}
