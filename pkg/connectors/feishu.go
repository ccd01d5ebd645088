package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"

	"github.com/sipeed/gatewaybridge/pkg/model"
)

// FeishuSender dispatches through the Feishu (Lark) IM API, adapted from
// the teacher's FeishuChannel.Send (pkg/channels/feishu_64.go): same
// lark.Client, same NewCreateMessageReqBuilder/ReceiveIdTypeChatId
// request shape, sent as MsgTypeText, generalized from a fixed bus.OutboundMessage to a
// platform-agnostic DispatchRequest and a plain-text message body instead
// of the teacher's markdown-to-Feishu-Post conversion (no agent/markdown
// layer exists in this gateway).
type FeishuSender struct {
	client *lark.Client
}

// NewFeishuSender builds a Sender backed by a lark.Client for appID/appSecret.
func NewFeishuSender(appID, appSecret string) *FeishuSender {
	return &FeishuSender{client: lark.NewClient(appID, appSecret)}
}

func (s *FeishuSender) Platform() model.Platform { return model.PlatformFeishu }

// FileRefResolver implements FileRefCapable: Feishu keeps uploaded media
// permanently keyed by (message_id, file_key), so inbound webhooks can defer
// fetching bytes until something actually needs them.
func (s *FeishuSender) FileRefResolver() FileRefResolver {
	return NewFeishuFileRefResolver(s.client)
}

func (s *FeishuSender) SendRaw(ctx context.Context, req DispatchRequest) (DispatchResult, error) {
	if req.PlatformUserID == "" {
		return DispatchResult{}, model.NewError(model.KindValidation, "feishu chat id is empty", nil)
	}

	content, err := json.Marshal(map[string]string{"text": req.Content})
	if err != nil {
		return DispatchResult{}, model.NewError(model.KindFatal, "marshal feishu content", err)
	}

	createReq := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(larkim.ReceiveIdTypeChatId).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(req.PlatformUserID).
			MsgType(larkim.MsgTypeText).
			Content(string(content)).
			Uuid(fmt.Sprintf("gatewaybridge-%s-%d", req.MessageID, time.Now().UnixNano())).
			Build()).
		Build()

	resp, err := s.client.Im.V1.Message.Create(ctx, createReq)
	if err != nil {
		return DispatchResult{}, model.NewError(model.KindTransient, "feishu send failed", err)
	}
	if !resp.Success() {
		return DispatchResult{}, classifyFeishuError(resp.Code, resp.Msg)
	}

	platformMessageID := ""
	if resp.Data != nil && resp.Data.MessageId != nil {
		platformMessageID = *resp.Data.MessageId
	}
	return DispatchResult{PlatformMessageID: platformMessageID}, nil
}

// classifyFeishuError distinguishes retriable rate-limit/server errors from
// permanent ones (bad recipient, revoked app permission) using Feishu's
// documented code ranges.
func classifyFeishuError(code int, msg string) error {
	switch {
	case code == 99991400 || code == 9499 || (code >= 10000 && code < 20000):
		return model.NewError(model.KindTransient, fmt.Sprintf("feishu transient error %d: %s", code, msg), nil)
	default:
		return model.NewError(model.KindPermanentDelivery, fmt.Sprintf("feishu error %d: %s", code, msg), nil)
	}
}
