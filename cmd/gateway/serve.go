package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sipeed/gatewaybridge/pkg/config"
	"github.com/sipeed/gatewaybridge/pkg/eventlog"
	"github.com/sipeed/gatewaybridge/pkg/httpapi"
	"github.com/sipeed/gatewaybridge/pkg/ingress"
	"github.com/sipeed/gatewaybridge/pkg/live"
	"github.com/sipeed/gatewaybridge/pkg/logger"
	"github.com/sipeed/gatewaybridge/pkg/router"
	"github.com/sipeed/gatewaybridge/pkg/status"
)

// newServeCmd runs the single-process deployment: HTTP API plus the
// Router and Status Propagator consumer loops in-process, sharing one
// Live Delivery Channel Hub so a websocket client sees both new messages
// and status changes without a second process in the loop. Use `router`
// and `status` as standalone commands instead when those need to scale
// independently of the HTTP tier.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API together with the Router and Status Propagator consumer loops",
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

			hub := live.NewHub()

			in := ingress.New(d.messages, d.idem, producer, d.files)
			reconciler := ingress.NewReconciler(in,
				time.Duration(cfg.PendingReconcileAfterSeconds)*time.Second, 100)
			go reconciler.Run(ctx, time.Duration(cfg.ReconcileIntervalSeconds)*time.Second)

			registry := buildRegistry(cfg)
			rt := router.New(d.messages, d.idem, d.identities, registry, producer, producer, hub, router.RetryConfig{
				BaseInterval: time.Duration(cfg.RetryBaseMillis) * time.Millisecond,
				Factor:       cfg.RetryFactor,
				Jitter:       cfg.RetryJitter,
				Ceiling:      time.Duration(cfg.RetryCeilingMillis) * time.Millisecond,
				MaxAttempts:  cfg.RetryMaxAttempts,
			})
			routerConsumer, err := eventlog.NewKafkaConsumerGroup(cfg.KafkaBrokers, cfg.KafkaConsumerGroup)
			if err != nil {
				return err
			}
			defer routerConsumer.Close()
			go func() {
				if err := rt.Run(ctx, routerConsumer); err != nil && ctx.Err() == nil {
					logger.ErrorCF("gateway", "router consumer loop exited", map[string]any{"error": err.Error()})
				}
			}()

			statusProp := status.New(d.messages, hub)
			statusConsumer, err := eventlog.NewKafkaConsumerGroup(cfg.KafkaBrokers, cfg.KafkaConsumerGroup+"-status")
			if err != nil {
				return err
			}
			defer statusConsumer.Close()
			go func() {
				if err := statusProp.Run(ctx, statusConsumer); err != nil && ctx.Err() == nil {
					logger.ErrorCF("gateway", "status consumer loop exited", map[string]any{"error": err.Error()})
				}
			}()

			srv := &httpapi.Server{
				Identities: d.identities,
				Messages:   d.messages,
				Ingress:    in,
				Files:      d.files,
				Live:       hub,
				Registry:   registry,
				JWTSecret:  cfg.JWTSecret,
			}
			httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: srv.Routes()}

			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = httpSrv.Shutdown(shutdownCtx)
			}()

			logger.InfoCF("gateway", "serve starting", map[string]any{"addr": cfg.HTTPAddr})
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		},
	}
}
