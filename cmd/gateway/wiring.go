package main

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sipeed/gatewaybridge/pkg/config"
	"github.com/sipeed/gatewaybridge/pkg/connectors"
	"github.com/sipeed/gatewaybridge/pkg/files"
	"github.com/sipeed/gatewaybridge/pkg/identity"
	"github.com/sipeed/gatewaybridge/pkg/idempotency"
	"github.com/sipeed/gatewaybridge/pkg/logger"
	"github.com/sipeed/gatewaybridge/pkg/messagestore"
	"github.com/sipeed/gatewaybridge/pkg/model"
)

// deps is the set of storage/domain collaborators every subcommand needs;
// built once per process from cfg.
type deps struct {
	cfg        *config.Config
	rdb        *redis.Client
	identities *identity.Store
	messages   *messagestore.Store
	idem       *idempotency.Cache
	files      *files.Service
}

func buildDeps(ctx context.Context, cfg *config.Config) (*deps, error) {
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, model.NewError(model.KindFatal, "connect to redis", err)
	}

	identities, err := identity.Open(cfg.SQLitePath)
	if err != nil {
		return nil, err
	}

	objectStore, err := files.NewS3Store(ctx, cfg.S3Bucket, cfg.S3Region)
	if err != nil {
		return nil, err
	}

	return &deps{
		cfg:        cfg,
		rdb:        rdb,
		identities: identities,
		messages:   messagestore.New(rdb),
		idem:       idempotency.New(rdb, idempotency.DefaultTTL),
		files:      files.New(rdb, objectStore),
	}, nil
}

// buildRegistry wires every configured connector into a Registry, skipping
// any platform whose credentials are unset rather than failing startup —
// a gateway deployment rarely enables all six platforms at once.
func buildRegistry(cfg *config.Config) *connectors.Registry {
	registry := connectors.NewRegistry()
	breaker := func() *connectors.CircuitBreaker { return connectors.NewCircuitBreaker(5, 30*time.Second) }
	limiter := func() *connectors.RecipientLimiter { return connectors.NewRecipientLimiter(1, 3) }

	if cfg.TelegramBotToken != "" {
		sender, err := connectors.NewTelegramSender(cfg.TelegramBotToken)
		if err != nil {
			logger.ErrorCF("gateway", "telegram connector init failed", map[string]any{"error": err.Error()})
		} else {
			registry.Register(connectors.NewBase(sender, breaker(), limiter()))
		}
	}
	if cfg.SlackBotToken != "" {
		registry.Register(connectors.NewBase(connectors.NewSlackSender(cfg.SlackBotToken), breaker(), limiter()))
	}
	if cfg.DiscordBotToken != "" {
		sender, err := connectors.NewDiscordSender(cfg.DiscordBotToken)
		if err != nil {
			logger.ErrorCF("gateway", "discord connector init failed", map[string]any{"error": err.Error()})
		} else {
			registry.Register(connectors.NewBase(sender, breaker(), limiter()))
		}
	}
	if cfg.FeishuAppID != "" && cfg.FeishuAppSecret != "" {
		registry.Register(connectors.NewBase(connectors.NewFeishuSender(cfg.FeishuAppID, cfg.FeishuAppSecret), breaker(), limiter()))
	}
	if cfg.InstagramPageID != "" && cfg.InstagramPageToken != "" {
		registry.Register(connectors.NewBase(connectors.NewInstagramSender(cfg.InstagramPageID, cfg.InstagramPageToken), breaker(), limiter()))
	}
	// WhatsApp requires a paired whatsmeow device (QR-linked out of band);
	// this process only attaches to an already-paired session store, it
	// never drives the pairing flow itself.
	if waClient, err := connectWhatsApp(cfg); err != nil {
		logger.WarnCF("gateway", "whatsapp connector not started", map[string]any{"error": err.Error()})
	} else if waClient != nil {
		registry.Register(connectors.NewBase(connectors.NewWhatsAppSender(waClient), breaker(), limiter()))
	}

	return registry
}
