// Package ingress implements Ingress (spec.md §4.E): the only component
// allowed to create a Message row. It validates a send request, resolves
// a recipient set, writes the message to the Message Store as PENDING, and
// publishes it to the Event Log for the Router to pick up.
package ingress

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/sipeed/gatewaybridge/pkg/eventlog"
	"github.com/sipeed/gatewaybridge/pkg/idempotency"
	"github.com/sipeed/gatewaybridge/pkg/logger"
	"github.com/sipeed/gatewaybridge/pkg/messagestore"
	"github.com/sipeed/gatewaybridge/pkg/model"
)

// ChatEventsTopic is the Event Log topic Ingress publishes to and Router
// consumes from, keyed by conversation_id (§4.C, §4.E step 6).
const ChatEventsTopic = "chat-events"

// SendRequest is the external caller's request to Accept (§4.E).
type SendRequest struct {
	MessageID      string // optional, caller-supplied, for client-side idempotency
	ConversationID string
	SenderID       string
	Content        string
	FileIDs        []string
	Channel        model.Platform
	RecipientIDs   []string // optional explicit override
}

// FileLookup resolves a file_id to its current scan verdict so Accept can
// reject references to files that are not yet CLEAN (§4.E step 1).
type FileLookup interface {
	Referenceable(ctx context.Context, fileID string) (bool, error)
}

// Ingress is the accept-path component.
type Ingress struct {
	Messages *messagestore.Store
	Idem     *idempotency.Cache
	Producer eventlog.Producer
	Files    FileLookup
}

// New wires an Ingress from its collaborators.
func New(messages *messagestore.Store, idem *idempotency.Cache, producer eventlog.Producer, files FileLookup) *Ingress {
	return &Ingress{Messages: messages, Idem: idem, Producer: producer, Files: files}
}

// chatEvent is the wire envelope published to chat-events; Router decodes
// this to learn which message_id to process (it re-reads the authoritative
// record from B rather than trusting this payload for anything but routing).
type chatEvent struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
}

// Accept runs the §4.E algorithm and returns the message_id and its status
// (always PENDING on first acceptance, or the current state on idempotent
// replay).
func (in *Ingress) Accept(ctx context.Context, req SendRequest) (messageID string, status model.Status, err error) {
	return in.accept(ctx, req, in.validate)
}

// AcceptInbound is the Connector-facing counterpart to Accept for webhook
// intake (spec §9 Design Notes: treat webhook intake as a strictly inbound
// path through a separate entry point that takes an already-resolved
// senderId and bypasses per-channel validation that only makes sense
// outbound). req.SenderID must already have been resolved from the
// platform's own sender handle (e.g. via the Identity Store's Resolve, as
// HandleWebhook does) rather than trusted from caller input, since an
// inbound event carries no notion of "is this caller allowed to claim to
// be senderID" the way an authenticated outbound Accept call does.
func (in *Ingress) AcceptInbound(ctx context.Context, req SendRequest) (messageID string, status model.Status, err error) {
	return in.accept(ctx, req, in.validateInbound)
}

func (in *Ingress) accept(ctx context.Context, req SendRequest, validate func(context.Context, SendRequest) error) (messageID string, status model.Status, err error) {
	if err := validate(ctx, req); err != nil {
		return "", "", err
	}

	messageID = req.MessageID
	if messageID == "" {
		messageID = uuid.NewString()
	}

	// Step 4: consult D, then B, for an idempotent replay before writing.
	if in.Idem.Seen(ctx, messageID) {
		if existing, gErr := in.Messages.GetMessage(ctx, messageID); gErr == nil {
			return existing.MessageID, existing.Status, nil
		}
	}
	if existing, gErr := in.Messages.GetMessage(ctx, messageID); gErr == nil {
		return existing.MessageID, existing.Status, nil
	}

	recipients, err := in.resolveRecipients(ctx, req)
	if err != nil {
		return "", "", err
	}

	now := time.Now().UTC()
	msg := model.Message{
		MessageID:      messageID,
		ConversationID: req.ConversationID,
		SenderID:       req.SenderID,
		RecipientIDs:   recipients,
		Content:        req.Content,
		FileIDs:        req.FileIDs,
		Channel:        req.Channel,
		Status:         model.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := in.Messages.PutMessage(ctx, msg); err != nil {
		if model.IsKind(err, model.KindDuplicate) {
			if existing, gErr := in.Messages.GetMessage(ctx, messageID); gErr == nil {
				return existing.MessageID, existing.Status, nil
			}
		}
		return "", "", err
	}
	in.Idem.MarkSeen(ctx, messageID)

	if err := in.publish(ctx, msg); err != nil {
		// §4.E step 6: publication failure after a successful write must
		// not lose the message. This deployment picks the reconciler
		// strategy (see pkg/ingress/reconciler.go) over retry-until-success,
		// so a publish failure here is logged and left for the sweep.
		logger.ErrorCF("ingress", "publish to chat-events failed, leaving for reconciler", map[string]any{
			"message_id": messageID, "conversation_id": req.ConversationID, "error": err.Error(),
		})
	}

	logger.InfoCF("ingress", "message accepted", map[string]any{
		"message_id": messageID, "conversation_id": req.ConversationID, "recipients": len(recipients),
	})
	return messageID, model.StatusPending, nil
}

func (in *Ingress) publish(ctx context.Context, msg model.Message) error {
	payload, err := json.Marshal(chatEvent{MessageID: msg.MessageID, ConversationID: msg.ConversationID})
	if err != nil {
		return model.NewError(model.KindFatal, "marshal chat event", err)
	}
	return in.Producer.Publish(ctx, eventlog.Record{
		Topic: ChatEventsTopic,
		Key:   msg.ConversationID,
		Value: payload,
	})
}

func (in *Ingress) validate(ctx context.Context, req SendRequest) error {
	if req.ConversationID == "" || req.SenderID == "" {
		return model.NewError(model.KindValidation, "conversation_id and sender_id are required", nil)
	}
	if len([]rune(req.Content)) > model.MaxTextUnits {
		return model.NewError(model.KindValidation, "content exceeds max text units", nil)
	}
	if req.Content == "" && len(req.FileIDs) == 0 {
		return model.NewError(model.KindValidation, "message must carry content or a file reference", nil)
	}
	if req.Channel == "" {
		return model.NewError(model.KindValidation, "channel is required", nil)
	}

	conv, err := in.Messages.GetConversation(ctx, req.ConversationID)
	if err != nil {
		return err
	}
	if conv.Type == model.ConversationGroup {
		sender, ok := findParticipant(conv.Participants, req.SenderID)
		if !ok || !sender.Active(time.Now().UTC()) {
			return model.NewError(model.KindValidation, "sender is not a current participant", nil)
		}
	}

	if in.Files != nil {
		for _, fid := range req.FileIDs {
			ok, err := in.Files.Referenceable(ctx, fid)
			if err != nil {
				return err
			}
			if !ok {
				return model.NewError(model.KindValidation, "file reference is not CLEAN", nil)
			}
		}
	}
	return nil
}

// validateInbound is validate minus the group-conversation "sender is an
// active participant" check: an inbound sender already proved their
// identity through the platform event itself and the Identity Store
// resolution that precedes AcceptInbound, not through this gateway's own
// group membership bookkeeping, which exists to stop an outbound caller
// from spoofing a send on a conversation they've left.
func (in *Ingress) validateInbound(ctx context.Context, req SendRequest) error {
	if req.ConversationID == "" || req.SenderID == "" {
		return model.NewError(model.KindValidation, "conversation_id and sender_id are required", nil)
	}
	if len([]rune(req.Content)) > model.MaxTextUnits {
		return model.NewError(model.KindValidation, "content exceeds max text units", nil)
	}
	if req.Content == "" && len(req.FileIDs) == 0 {
		return model.NewError(model.KindValidation, "message must carry content or a file reference", nil)
	}
	if req.Channel == "" {
		return model.NewError(model.KindValidation, "channel is required", nil)
	}

	if _, err := in.Messages.GetConversation(ctx, req.ConversationID); err != nil {
		return err
	}

	if in.Files != nil {
		for _, fid := range req.FileIDs {
			ok, err := in.Files.Referenceable(ctx, fid)
			if err != nil {
				return err
			}
			if !ok {
				return model.NewError(model.KindValidation, "file reference is not CLEAN", nil)
			}
		}
	}
	return nil
}

// resolveRecipients implements §4.E step 3.
func (in *Ingress) resolveRecipients(ctx context.Context, req SendRequest) ([]string, error) {
	if len(req.RecipientIDs) > 0 {
		out := make([]string, len(req.RecipientIDs))
		copy(out, req.RecipientIDs)
		return out, nil
	}

	conv, err := in.Messages.GetConversation(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	recipients := make([]string, 0, len(conv.Participants))
	for _, p := range conv.Participants {
		if p.UserID == req.SenderID {
			continue
		}
		if p.Active(now) {
			recipients = append(recipients, p.UserID)
		}
	}
	return recipients, nil
}

func findParticipant(participants []model.Participant, userID string) (model.Participant, bool) {
	for _, p := range participants {
		if p.UserID == userID {
			return p, true
		}
	}
	return model.Participant{}, false
}
