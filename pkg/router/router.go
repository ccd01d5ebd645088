// Package router implements the Router (spec.md §4.F): the consumer of
// chat-events that resolves recipients, dispatches to per-platform
// Connectors with bounded retry, aggregates delivery outcomes, and writes
// the resulting status back to the Message Store and the status-updates
// topic.
package router

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/sipeed/gatewaybridge/pkg/connectors"
	"github.com/sipeed/gatewaybridge/pkg/eventlog"
	"github.com/sipeed/gatewaybridge/pkg/identity"
	"github.com/sipeed/gatewaybridge/pkg/idempotency"
	"github.com/sipeed/gatewaybridge/pkg/logger"
	"github.com/sipeed/gatewaybridge/pkg/messagestore"
	"github.com/sipeed/gatewaybridge/pkg/model"
)

// StatusUpdatesTopic is where the Router publishes terminal status changes
// for the Status Propagator (§4.H) to pick up.
const StatusUpdatesTopic = "status-updates"

// ChatEventsDLQTopic receives every message whose final aggregate status is
// FAILED (every recipient failed after its retry budget, or recipient
// resolution failed), after that FAILED status has been recorded.
const ChatEventsDLQTopic = "chat-events-dlq"

// RetryConfig is the backoff budget from §4.F step 5.
type RetryConfig struct {
	BaseInterval time.Duration
	Factor       float64
	Jitter       float64
	Ceiling      time.Duration
	MaxAttempts  int
}

// DefaultRetryConfig matches the spec's own example numbers.
var DefaultRetryConfig = RetryConfig{
	BaseInterval: time.Second,
	Factor:       2.0,
	Jitter:       0.2,
	Ceiling:      30 * time.Second,
	MaxAttempts:  3,
}

// LiveNotifier pushes a delivered message to any live-connected recipient
// regardless of their external platform bindings (§4.F step 2, §4.I).
type LiveNotifier interface {
	Notify(ctx context.Context, userID string, msg model.Message)
}

// Router wires the consumer loop to its collaborators.
type Router struct {
	Messages   *messagestore.Store
	Idem       *idempotency.Cache
	Identities *identity.Store
	Registry   *connectors.Registry
	StatusPub  eventlog.Producer
	DLQ        eventlog.Producer
	Live       LiveNotifier
	Retry      RetryConfig
}

// New builds a Router. live may be nil if no Live Delivery Channel is wired.
func New(messages *messagestore.Store, idem *idempotency.Cache, identities *identity.Store, registry *connectors.Registry, statusPub, dlq eventlog.Producer, live LiveNotifier, retry RetryConfig) *Router {
	if retry.MaxAttempts <= 0 {
		retry = DefaultRetryConfig
	}
	return &Router{Messages: messages, Idem: idem, Identities: identities, Registry: registry, StatusPub: statusPub, DLQ: dlq, Live: live, Retry: retry}
}

type chatEvent struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
}

// statusEvent is the wire envelope published to status-updates.
type statusEvent struct {
	MessageID string       `json:"message_id"`
	Status    model.Status `json:"status"`
}

// dlqEvent is the wire envelope published to chat-events-dlq (§4.F step 6)
// when a message ends up terminally FAILED: a copy of the chat event plus
// the aggregate failure classification, so a consumer of the DLQ doesn't
// need to cross-reference the Message Store to know why it landed there.
type dlqEvent struct {
	MessageID      string       `json:"message_id"`
	ConversationID string       `json:"conversation_id"`
	Status         model.Status `json:"status"`
	ErrorKind      string       `json:"error_kind"`
}

// Run joins the chat-events consumer group and processes records until ctx
// is cancelled.
func (r *Router) Run(ctx context.Context, consumer eventlog.ConsumerGroup) error {
	return consumer.Consume(ctx, []string{"chat-events"}, r.handle)
}

func (r *Router) handle(ctx context.Context, rec eventlog.Record) error {
	var ev chatEvent
	if err := json.Unmarshal(rec.Value, &ev); err != nil {
		logger.ErrorCF("router", "malformed chat event, dropping", map[string]any{"error": err.Error()})
		return nil // not retriable: re-delivering malformed bytes never succeeds
	}

	msg, err := r.Messages.GetMessage(ctx, ev.MessageID)
	if err != nil {
		logger.ErrorCF("router", "could not load message, leaving offset uncommitted", map[string]any{
			"message_id": ev.MessageID, "error": err.Error(),
		})
		return err
	}

	// Step 1: dedup. If B already shows a post-PENDING status, this is a
	// redelivery of an already-processed record (§4.F step 1).
	if msg.Status != model.StatusPending {
		return nil
	}

	recipients, err := r.resolve(ctx, msg)
	if err != nil {
		logger.ErrorCF("router", "recipient resolution failed", map[string]any{"message_id": msg.MessageID, "error": err.Error()})
		return r.finish(ctx, msg, model.StatusFailed, "resolution_failed", nil)
	}

	outcomes := r.dispatchAll(ctx, msg, recipients)
	final := aggregate(outcomes)
	return r.finish(ctx, msg, final, "", outcomes)
}

// resolve implements §4.F step 2: internal user_ids expand through the
// Identity Store to every live platform binding (restricted to msg.Channel
// when that channel is non-INTERNAL); anything else is either a literal
// "<platform>:<platform_user_id>" pair or a bare platform-native handle
// passed through unchanged for msg.Channel.
func (r *Router) resolve(ctx context.Context, msg model.Message) ([]resolvedRecipient, error) {
	var out []resolvedRecipient
	for _, recipient := range msg.RecipientIDs {
		if platform, platformUserID, ok := splitCanonical(recipient); ok {
			out = append(out, resolvedRecipient{Platform: platform, PlatformUserID: platformUserID, InternalUserID: ""})
			continue
		}

		if id, err := uuid.Parse(recipient); err == nil {
			_ = id
			identities, err := r.Identities.GetIdentities(ctx, recipient)
			if err != nil {
				return nil, err
			}
			if r.Live != nil {
				out = append(out, resolvedRecipient{InternalUserID: recipient, LiveOnly: true})
			}
			for _, ext := range identities {
				if msg.Channel != model.PlatformInternal && ext.Platform != msg.Channel {
					continue
				}
				out = append(out, resolvedRecipient{Platform: ext.Platform, PlatformUserID: ext.PlatformUserID, InternalUserID: recipient})
			}
			continue
		}

		// Bare platform-native handle: address it on the message's own channel.
		out = append(out, resolvedRecipient{Platform: msg.Channel, PlatformUserID: recipient})
	}
	return out, nil
}

type resolvedRecipient struct {
	Platform       model.Platform
	PlatformUserID string
	InternalUserID string
	LiveOnly       bool // push to I only; no external Connector dispatch
}

func splitCanonical(recipient string) (model.Platform, string, bool) {
	idx := strings.Index(recipient, ":")
	if idx <= 0 {
		return "", "", false
	}
	platform := model.Platform(recipient[:idx])
	switch platform {
	case model.PlatformWhatsApp, model.PlatformTelegram, model.PlatformInstagram, model.PlatformSlack, model.PlatformDiscord, model.PlatformFeishu:
		return platform, recipient[idx+1:], true
	default:
		return "", "", false
	}
}

// dispatchAll fans out to every resolved recipient concurrently; a failure
// for one recipient never cancels the others (§4.F step 3).
func (r *Router) dispatchAll(ctx context.Context, msg model.Message, recipients []resolvedRecipient) []model.RecipientOutcome {
	type result struct {
		idx     int
		outcome model.RecipientOutcome
	}
	results := make(chan result, len(recipients))

	for i, rr := range recipients {
		go func(i int, rr resolvedRecipient) {
			if r.Live != nil && (rr.LiveOnly || rr.InternalUserID != "") {
				r.Live.Notify(ctx, rr.InternalUserID, msg)
			}
			if rr.LiveOnly {
				results <- result{i, model.RecipientOutcome{Recipient: rr.InternalUserID, Platform: model.PlatformInternal, Status: model.StatusDelivered}}
				return
			}
			results <- result{i, r.dispatchOne(ctx, msg, rr)}
		}(i, rr)
	}

	outcomes := make([]model.RecipientOutcome, len(recipients))
	for range recipients {
		res := <-results
		outcomes[res.idx] = res.outcome
	}
	return outcomes
}

func (r *Router) dispatchOne(ctx context.Context, msg model.Message, rr resolvedRecipient) model.RecipientOutcome {
	conn, ok := r.Registry.Get(rr.Platform)
	if !ok {
		return model.RecipientOutcome{Recipient: rr.PlatformUserID, Platform: rr.Platform, Status: model.StatusFailed, ErrorKind: string(model.KindPermanentDelivery)}
	}

	req := connectors.DispatchRequest{
		MessageID: msg.MessageID, ConversationID: msg.ConversationID,
		PlatformUserID: rr.PlatformUserID, Content: msg.Content, FileIDs: msg.FileIDs,
	}

	var result connectors.DispatchResult
	attempts := 0
	op := func() error {
		attempts++
		res, err := conn.Send(ctx, req)
		if err != nil {
			if isRetriable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		result = res
		return nil
	}

	b := r.newBackoff(ctx)
	err := backoff.Retry(op, backoff.WithMaxRetries(b, uint64(r.Retry.MaxAttempts-1)))
	if err != nil {
		logger.WarnCF("router", "recipient dispatch exhausted retries", map[string]any{
			"message_id": msg.MessageID, "recipient": rr.PlatformUserID, "platform": rr.Platform,
			"attempts": attempts, "error": err.Error(),
		})
		return model.RecipientOutcome{Recipient: rr.PlatformUserID, Platform: rr.Platform, Status: model.StatusFailed, ErrorKind: errorKind(err)}
	}
	return model.RecipientOutcome{Recipient: rr.PlatformUserID, Platform: rr.Platform, Status: model.StatusSent, PlatformMessageID: result.PlatformMessageID}
}

func (r *Router) newBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.Retry.BaseInterval
	b.Multiplier = r.Retry.Factor
	b.RandomizationFactor = r.Retry.Jitter
	b.MaxInterval = r.Retry.Ceiling
	b.MaxElapsedTime = 0 // bounded by WithMaxRetries, not elapsed wall time
	return backoff.WithContext(b, ctx)
}

func isRetriable(err error) bool {
	return model.IsKind(err, model.KindTransient) || model.IsKind(err, model.KindCircuitOpen)
}

func errorKind(err error) string {
	for _, k := range []model.Kind{model.KindCircuitOpen, model.KindTransient, model.KindPermanentDelivery, model.KindValidation} {
		if model.IsKind(err, k) {
			return string(k)
		}
	}
	return string(model.KindFatal)
}

// aggregate implements §4.F step 4.
func aggregate(outcomes []model.RecipientOutcome) model.Status {
	if len(outcomes) == 0 {
		return model.StatusDelivered // no recipients to fail; treat as delivered to nobody
	}
	for _, o := range outcomes {
		if o.Status == model.StatusSent || o.Status == model.StatusDelivered {
			return model.StatusDelivered
		}
	}
	return model.StatusFailed
}

func (r *Router) finish(ctx context.Context, msg model.Message, final model.Status, reason string, outcomes []model.RecipientOutcome) error {
	// The state machine has no PENDING -> DELIVERED edge (§4.F): a message
	// must pass through SENT first, mirroring the real world (handed to a
	// transport before a recipient's client acks it).
	if final == model.StatusDelivered {
		if err := r.Messages.AppendStatus(ctx, msg.MessageID, model.StatusSent, reason, msg.Channel, ""); err != nil && !model.IsKind(err, model.KindValidation) {
			return err
		}
	}
	if err := r.Messages.AppendStatus(ctx, msg.MessageID, final, reason, msg.Channel, ""); err != nil && !model.IsKind(err, model.KindValidation) {
		return err
	}
	platformMessageID := aggregatePlatformMessageID(outcomes)
	aggErrorKind := aggregateErrorKind(outcomes)
	if aggErrorKind == "" && final == model.StatusFailed {
		// No per-recipient outcomes to read a Kind from (e.g. recipient
		// resolution itself failed before any Connector was dispatched to).
		aggErrorKind = string(model.KindFatal)
	}
	if len(outcomes) > 0 || platformMessageID != "" || aggErrorKind != "" {
		if err := r.Messages.SetOutcomes(ctx, msg.MessageID, outcomes, platformMessageID, aggErrorKind); err != nil {
			logger.ErrorCF("router", "failed to persist recipient outcomes", map[string]any{"message_id": msg.MessageID, "error": err.Error()})
		}
	}

	payload, err := json.Marshal(statusEvent{MessageID: msg.MessageID, Status: final})
	if err != nil {
		return model.NewError(model.KindFatal, "marshal status event", err)
	}
	if err := r.StatusPub.Publish(ctx, eventlog.Record{Topic: StatusUpdatesTopic, Key: msg.ConversationID, Value: payload}); err != nil {
		logger.ErrorCF("router", "status-updates publish failed", map[string]any{"message_id": msg.MessageID, "error": err.Error()})
	}

	if final == model.StatusFailed {
		dlqPayload, err := json.Marshal(dlqEvent{
			MessageID: msg.MessageID, ConversationID: msg.ConversationID,
			Status: final, ErrorKind: aggErrorKind,
		})
		if err != nil {
			logger.ErrorCF("router", "marshal dlq event failed", map[string]any{"message_id": msg.MessageID, "error": err.Error()})
		} else if err := r.DLQ.Publish(ctx, eventlog.Record{Topic: ChatEventsDLQTopic, Key: msg.ConversationID, Value: dlqPayload}); err != nil {
			logger.ErrorCF("router", "chat-events-dlq publish failed", map[string]any{"message_id": msg.MessageID, "error": err.Error()})
		}
	}

	logger.InfoCF("router", "message routed", map[string]any{
		"message_id": msg.MessageID, "final_status": final, "recipients": len(outcomes),
	})
	return nil
}

// aggregatePlatformMessageID picks the first recipient outcome's
// PlatformMessageID (§3: "optional platform_message_id (set by G)"), since
// a single-recipient send is the common case this field is meant for.
func aggregatePlatformMessageID(outcomes []model.RecipientOutcome) string {
	for _, o := range outcomes {
		if o.PlatformMessageID != "" {
			return o.PlatformMessageID
		}
	}
	return ""
}

// aggregateErrorKind picks the first FAILED recipient's ErrorKind, for the
// top-level Message.ErrorKind spec §3/§7 describe ("status FAILED with
// error_kind=internal" on a Fatal path, for example).
func aggregateErrorKind(outcomes []model.RecipientOutcome) string {
	for _, o := range outcomes {
		if o.Status == model.StatusFailed && o.ErrorKind != "" {
			return o.ErrorKind
		}
	}
	return ""
}
