package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sipeed/gatewaybridge/pkg/config"
	"github.com/sipeed/gatewaybridge/pkg/eventlog"
	"github.com/sipeed/gatewaybridge/pkg/ingress"
)

// newReconcileCmd runs only the Ingress reconciler sweep — the background
// process that republishes messages stuck in PENDING past the configured
// threshold (§4.E step 6 / §9 Open Question 1). Safe to run as one
// replica; the sweep is idempotent since the Router dedups on message
// status before dispatching.
func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run the Ingress reconciler sweep standalone",
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

			in := ingress.New(d.messages, d.idem, producer, d.files)
			reconciler := ingress.NewReconciler(in,
				time.Duration(cfg.PendingReconcileAfterSeconds)*time.Second, 100)
			reconciler.Run(ctx, time.Duration(cfg.ReconcileIntervalSeconds)*time.Second)
			return nil
		},
	}
}
