// Package status implements the Status Propagator (spec.md §4.H): it
// consumes status-updates, and forwards each terminal change to the Live
// Delivery Channel so a connected client sees status transitions without
// polling.
package status

import (
	"context"
	"encoding/json"

	"github.com/sipeed/gatewaybridge/pkg/eventlog"
	"github.com/sipeed/gatewaybridge/pkg/logger"
	"github.com/sipeed/gatewaybridge/pkg/messagestore"
	"github.com/sipeed/gatewaybridge/pkg/model"
)

// StatusUpdatesTopic mirrors router.StatusUpdatesTopic; duplicated as an
// untyped constant here to avoid a status->router import for one string.
const StatusUpdatesTopic = "status-updates"

// LiveNotifier is the same push contract the Router uses (§4.I); the
// Status Propagator is the other writer into the live channel, forwarding
// the status-updates events the Router publishes.
type LiveNotifier interface {
	Notify(ctx context.Context, userID string, msg model.Message)
}

// Propagator consumes status-updates and fans each change out to Live.
type Propagator struct {
	Messages *messagestore.Store
	Live     LiveNotifier
}

// New wires a Propagator.
func New(messages *messagestore.Store, live LiveNotifier) *Propagator {
	return &Propagator{Messages: messages, Live: live}
}

type statusEvent struct {
	MessageID string       `json:"message_id"`
	Status    model.Status `json:"status"`
}

// Run joins the status-updates consumer group and processes records until
// ctx is cancelled.
func (p *Propagator) Run(ctx context.Context, consumer eventlog.ConsumerGroup) error {
	return consumer.Consume(ctx, []string{StatusUpdatesTopic}, p.handle)
}

func (p *Propagator) handle(ctx context.Context, rec eventlog.Record) error {
	var ev statusEvent
	if err := json.Unmarshal(rec.Value, &ev); err != nil {
		logger.ErrorCF("status", "malformed status event, dropping", map[string]any{"error": err.Error()})
		return nil
	}

	msg, err := p.Messages.GetMessage(ctx, ev.MessageID)
	if err != nil {
		logger.ErrorCF("status", "could not load message for status fan-out", map[string]any{
			"message_id": ev.MessageID, "error": err.Error(),
		})
		return err
	}

	if p.Live == nil {
		return nil
	}
	conv, err := p.Messages.GetConversation(ctx, msg.ConversationID)
	if err != nil {
		logger.ErrorCF("status", "could not load conversation for status fan-out", map[string]any{
			"conversation_id": msg.ConversationID, "error": err.Error(),
		})
		return nil // status is still durably recorded in B; live push is best-effort
	}
	for _, participant := range conv.Participants {
		p.Live.Notify(ctx, participant.UserID, msg)
	}
	return nil
}
