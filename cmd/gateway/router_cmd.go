package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sipeed/gatewaybridge/pkg/config"
	"github.com/sipeed/gatewaybridge/pkg/eventlog"
	"github.com/sipeed/gatewaybridge/pkg/router"
)

// newRouterCmd runs only the Router (F) consumer loop, for deployments
// that scale message fan-out independently of the HTTP tier. Live push
// is unavailable in this process (no websocket hub here); Router.dispatchAll
// already treats a nil LiveNotifier as "skip the live push" (§4.I is
// best-effort by design).
func newRouterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "router",
		Short: "Run the Router consumer loop standalone",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			d, err := buildDeps(ctx, cfg)
			if err != nil {
				return err
			}

			producer, err := eventlog.NewKafkaProducer(cfg.KafkaBrokers)
			if err != nil {
				return err
			}
			defer producer.Close()

			registry := buildRegistry(cfg)
			rt := router.New(d.messages, d.idem, d.identities, registry, producer, producer, nil, router.RetryConfig{
				BaseInterval: time.Duration(cfg.RetryBaseMillis) * time.Millisecond,
				Factor:       cfg.RetryFactor,
				Jitter:       cfg.RetryJitter,
				Ceiling:      time.Duration(cfg.RetryCeilingMillis) * time.Millisecond,
				MaxAttempts:  cfg.RetryMaxAttempts,
			})

			consumer, err := eventlog.NewKafkaConsumerGroup(cfg.KafkaBrokers, cfg.KafkaConsumerGroup)
			if err != nil {
				return err
			}
			defer consumer.Close()

			return rt.Run(ctx, consumer)
		},
	}
}
