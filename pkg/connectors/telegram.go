package connectors

import (
	"context"
	"strconv"

	"github.com/mymmrac/telego"

	"github.com/sipeed/gatewaybridge/pkg/model"
)

// TelegramSender dispatches through the Bot API via mymmrac/telego, the
// teacher's declared Telegram dependency (no channel adapter survived
// retrieval to ground this against, so it is written fresh against
// telego's documented Bot/SendMessage API, in the same Sender shape as
// the adapted FeishuSender).
type TelegramSender struct {
	bot *telego.Bot
}

// NewTelegramSender dials the Bot API with token.
func NewTelegramSender(token string) (*TelegramSender, error) {
	bot, err := telego.NewBot(token)
	if err != nil {
		return nil, model.NewError(model.KindFatal, "create telegram bot", err)
	}
	return &TelegramSender{bot: bot}, nil
}

func (s *TelegramSender) Platform() model.Platform { return model.PlatformTelegram }

func (s *TelegramSender) SendRaw(ctx context.Context, req DispatchRequest) (DispatchResult, error) {
	chatID, err := strconv.ParseInt(req.PlatformUserID, 10, 64)
	if err != nil {
		return DispatchResult{}, model.NewError(model.KindValidation, "telegram chat id must be numeric", err)
	}

	msg, err := s.bot.SendMessage(ctx, &telego.SendMessageParams{
		ChatID: telego.ChatID{ID: chatID},
		Text:   req.Content,
	})
	if err != nil {
		return DispatchResult{}, model.NewError(model.KindTransient, "telegram send failed", err)
	}
	return DispatchResult{PlatformMessageID: strconv.Itoa(msg.MessageID)}, nil
}
