package ingress

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sipeed/gatewaybridge/pkg/eventlog"
	"github.com/sipeed/gatewaybridge/pkg/logger"
	"github.com/sipeed/gatewaybridge/pkg/model"
)

// Reconciler is the durability strategy this deployment picked for §4.E
// step 6: rather than retrying the chat-events publish in-line until it
// succeeds, Accept logs and moves on, and a background sweep republishes
// anything still PENDING past a threshold. This keeps Accept's latency
// independent of Event Log health at the cost of bounded extra delay for
// the unlucky message that hit a publish failure.
type Reconciler struct {
	ing       *Ingress
	threshold time.Duration
	batchSize int
}

// NewReconciler returns a Reconciler that treats a message as stuck once it
// has been PENDING for longer than threshold.
func NewReconciler(ing *Ingress, threshold time.Duration, batchSize int) *Reconciler {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Reconciler{ing: ing, threshold: threshold, batchSize: batchSize}
}

// Run sweeps once every interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.SweepOnce(ctx); err != nil {
				logger.ErrorCF("ingress.reconciler", "sweep failed", map[string]any{"error": err.Error()})
			}
		}
	}
}

// SweepOnce republishes every message that has been PENDING past the
// configured threshold. A failed republish is logged and left for the next
// sweep; only the scan's own error is returned.
func (r *Reconciler) SweepOnce(ctx context.Context) error {
	stale, err := r.ing.Messages.ScanStalePending(ctx, r.threshold, r.batchSize)
	if err != nil {
		return err
	}
	for _, msg := range stale {
		if err := r.republish(ctx, msg); err != nil {
			logger.ErrorCF("ingress.reconciler", "republish failed, will retry next sweep", map[string]any{
				"message_id": msg.MessageID, "error": err.Error(),
			})
			continue
		}
		logger.InfoCF("ingress.reconciler", "republished stuck pending message", map[string]any{
			"message_id": msg.MessageID, "conversation_id": msg.ConversationID,
		})
	}
	return nil
}

func (r *Reconciler) republish(ctx context.Context, msg model.Message) error {
	payload, err := json.Marshal(chatEvent{MessageID: msg.MessageID, ConversationID: msg.ConversationID})
	if err != nil {
		return model.NewError(model.KindFatal, "marshal chat event", err)
	}
	return r.ing.Producer.Publish(ctx, eventlog.Record{
		Topic: ChatEventsTopic, Key: msg.ConversationID, Value: payload,
	})
}
