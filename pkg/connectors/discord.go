package connectors

import (
	"context"

	"github.com/bwmarrin/discordgo"

	"github.com/sipeed/gatewaybridge/pkg/model"
)

// DiscordSender dispatches through bwmarrin/discordgo, another teacher
// dependency with no surviving adapter to ground against; written fresh
// against discordgo's documented Session.ChannelMessageSend API.
type DiscordSender struct {
	session *discordgo.Session
}

// NewDiscordSender creates a bot session for botToken. Discordgo's REST calls
// work without opening the gateway websocket, so Connector dispatch does
// not need session.Open().
func NewDiscordSender(botToken string) (*DiscordSender, error) {
	session, err := discordgo.New("Bot " + botToken)
	if err != nil {
		return nil, model.NewError(model.KindFatal, "create discord session", err)
	}
	return &DiscordSender{session: session}, nil
}

func (s *DiscordSender) Platform() model.Platform { return model.PlatformDiscord }

func (s *DiscordSender) SendRaw(ctx context.Context, req DispatchRequest) (DispatchResult, error) {
	msg, err := s.session.ChannelMessageSend(req.PlatformUserID, req.Content, discordgo.WithContext(ctx))
	if err != nil {
		return DispatchResult{}, model.NewError(model.KindTransient, "discord send failed", err)
	}
	return DispatchResult{PlatformMessageID: msg.ID}, nil
}
