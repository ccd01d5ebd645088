package connectors

import (
	"context"

	"github.com/slack-go/slack"

	"github.com/sipeed/gatewaybridge/pkg/model"
)

// SlackSender dispatches through the Slack Web API via slack-go/slack, one
// of the teacher's declared but unretrieved connector dependencies; written
// fresh against slack-go's documented Client.PostMessageContext API.
type SlackSender struct {
	api *slack.Client
}

// NewSlackSender wraps a bot token.
func NewSlackSender(botToken string) *SlackSender {
	return &SlackSender{api: slack.New(botToken)}
}

func (s *SlackSender) Platform() model.Platform { return model.PlatformSlack }

func (s *SlackSender) SendRaw(ctx context.Context, req DispatchRequest) (DispatchResult, error) {
	if req.PlatformUserID == "" {
		return DispatchResult{}, model.NewError(model.KindValidation, "slack channel id is empty", nil)
	}

	_, timestamp, err := s.api.PostMessageContext(ctx, req.PlatformUserID, slack.MsgOptionText(req.Content, false))
	if err != nil {
		return DispatchResult{}, classifySlackError(err)
	}
	return DispatchResult{PlatformMessageID: timestamp}, nil
}

// classifySlackError treats rate-limit errors as transient and everything
// else (bad channel, revoked scope) as permanent, matching slack-go's
// *slack.RateLimitedError sentinel type.
func classifySlackError(err error) error {
	if _, ok := err.(*slack.RateLimitedError); ok {
		return model.NewError(model.KindTransient, "slack rate limited", err)
	}
	return model.NewError(model.KindPermanentDelivery, "slack send failed", err)
}
