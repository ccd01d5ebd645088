// Package config loads gateway configuration from the environment using
// caarlos0/env, the same struct-tag-driven approach the teacher repo uses
// for its own process configuration.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config is the single process-wide configuration surface. Every field has
// an env var and, where sensible, a default so `gateway serve` runs against
// local infra (sqlite file, localhost redis/kafka) with no flags at all.
type Config struct {
	// Storage
	SQLitePath string `env:"GATEWAY_SQLITE_PATH" envDefault:"./gateway.db"`
	RedisAddr  string `env:"GATEWAY_REDIS_ADDR" envDefault:"localhost:6379"`
	RedisDB    int    `env:"GATEWAY_REDIS_DB" envDefault:"0"`

	// Event log
	KafkaBrokers        []string `env:"GATEWAY_KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	KafkaConsumerGroup  string   `env:"GATEWAY_KAFKA_GROUP" envDefault:"gateway-router"`
	ChatEventsTopic     string   `env:"GATEWAY_TOPIC_CHAT_EVENTS" envDefault:"chat-events"`
	StatusUpdatesTopic  string   `env:"GATEWAY_TOPIC_STATUS_UPDATES" envDefault:"status-updates"`
	ChatEventsDLQTopic  string   `env:"GATEWAY_TOPIC_CHAT_EVENTS_DLQ" envDefault:"chat-events-dlq"`
	ChatEventsPartitions int32   `env:"GATEWAY_TOPIC_PARTITIONS" envDefault:"10"`

	// HTTP
	HTTPAddr  string `env:"GATEWAY_HTTP_ADDR" envDefault:":8080"`
	JWTSecret string `env:"GATEWAY_JWT_SECRET" envDefault:"dev-secret-change-me"`

	// Object store (File Attachments)
	S3Bucket string `env:"GATEWAY_S3_BUCKET" envDefault:"gateway-attachments"`
	S3Region string `env:"GATEWAY_S3_REGION" envDefault:"us-east-1"`

	// Ingress / reconciler
	PendingReconcileAfterSeconds int `env:"GATEWAY_RECONCILE_AFTER_SECONDS" envDefault:"30"`
	ReconcileIntervalSeconds     int `env:"GATEWAY_RECONCILE_INTERVAL_SECONDS" envDefault:"15"`
	MaxFileRefsPerMessage        int `env:"GATEWAY_MAX_FILE_REFS" envDefault:"10"`

	// Router retry budget (spec.md §4.F step 5)
	RetryBaseMillis   int     `env:"GATEWAY_RETRY_BASE_MS" envDefault:"1000"`
	RetryFactor       float64 `env:"GATEWAY_RETRY_FACTOR" envDefault:"2.0"`
	RetryJitter       float64 `env:"GATEWAY_RETRY_JITTER" envDefault:"0.2"`
	RetryCeilingMillis int    `env:"GATEWAY_RETRY_CEILING_MS" envDefault:"30000"`
	RetryMaxAttempts  int     `env:"GATEWAY_RETRY_MAX_ATTEMPTS" envDefault:"3"`

	// Per-platform credentials
	WhatsAppSessionPath string `env:"GATEWAY_WHATSAPP_SESSION_PATH" envDefault:"./whatsapp-session.db"`
	TelegramBotToken    string `env:"GATEWAY_TELEGRAM_BOT_TOKEN"`
	SlackBotToken       string `env:"GATEWAY_SLACK_BOT_TOKEN"`
	DiscordBotToken     string `env:"GATEWAY_DISCORD_BOT_TOKEN"`
	FeishuAppID         string `env:"GATEWAY_FEISHU_APP_ID"`
	FeishuAppSecret     string `env:"GATEWAY_FEISHU_APP_SECRET"`
	InstagramPageID     string `env:"GATEWAY_INSTAGRAM_PAGE_ID"`
	InstagramPageToken  string `env:"GATEWAY_INSTAGRAM_PAGE_TOKEN"`
	InstagramAppSecret  string `env:"GATEWAY_INSTAGRAM_APP_SECRET"`
}

// Load reads the Config from environment variables, applying defaults for
// anything unset.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse env: %w", err)
	}
	return cfg, nil
}
