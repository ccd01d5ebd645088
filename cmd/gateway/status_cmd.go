package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sipeed/gatewaybridge/pkg/config"
	"github.com/sipeed/gatewaybridge/pkg/eventlog"
	"github.com/sipeed/gatewaybridge/pkg/status"
)

// newStatusCmd runs only the Status Propagator (H) consumer loop. Without
// an in-process Live hub there is nothing to fan status changes out to,
// so this standalone mode only makes sense once a shared/networked Live
// backend replaces the in-memory pkg/live.Hub — documented here as the
// reason this command is provided even though it is a no-op today.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Run the Status Propagator consumer loop standalone",
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

			prop := status.New(d.messages, nil)
			consumer, err := eventlog.NewKafkaConsumerGroup(cfg.KafkaBrokers, cfg.KafkaConsumerGroup+"-status")
			if err != nil {
				return err
			}
			defer consumer.Close()

			return prop.Run(ctx, consumer)
		},
	}
}
