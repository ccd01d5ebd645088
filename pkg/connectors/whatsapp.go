package connectors

import (
	"context"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"

	"github.com/sipeed/gatewaybridge/pkg/model"
)

// WhatsAppSender dispatches through go.mau.fi/whatsmeow, the teacher's
// WhatsApp dependency. The teacher repo pairs whatsmeow with a persistent
// sqlstore-backed device (multi-device pairing, QR login); this gateway
// only needs the already-paired client handed in by cmd/gateway at
// startup, so construction (device store, QR pairing) stays outside this
// package and only a ready *whatsmeow.Client is wrapped here.
type WhatsAppSender struct {
	client *whatsmeow.Client
}

// NewWhatsAppSender wraps an already-connected whatsmeow client.
func NewWhatsAppSender(client *whatsmeow.Client) *WhatsAppSender {
	return &WhatsAppSender{client: client}
}

func (s *WhatsAppSender) Platform() model.Platform { return model.PlatformWhatsApp }

func (s *WhatsAppSender) SendRaw(ctx context.Context, req DispatchRequest) (DispatchResult, error) {
	jid, err := types.ParseJID(req.PlatformUserID)
	if err != nil {
		return DispatchResult{}, model.NewError(model.KindValidation, "invalid whatsapp jid", err)
	}

	resp, err := s.client.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: &req.Content,
	})
	if err != nil {
		return DispatchResult{}, model.NewError(model.KindTransient, "whatsapp send failed", err)
	}
	return DispatchResult{PlatformMessageID: resp.ID}, nil
}
