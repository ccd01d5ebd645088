package connectors

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"

	"github.com/sipeed/gatewaybridge/pkg/model"
)

// instagramGraphBaseURL is Meta's Graph API host; the page access token
// carries the per-page auth, so no OAuth dance happens per-send.
const instagramGraphBaseURL = "https://graph.facebook.com/v19.0"

// InstagramSender dispatches Instagram/Messenger-class platform messages
// through the Graph API via go-resty/resty, the HTTP client the teacher's
// go.mod already pulls in indirectly for other integrations. No Instagram
// channel survived retrieval to ground against; this follows the
// teacher's general "resty client + page token" shape used for its other
// REST integrations.
type InstagramSender struct {
	http      *resty.Client
	pageID    string
	pageToken string
}

// NewInstagramSender builds a Sender bound to one Page's send-message
// endpoint.
func NewInstagramSender(pageID, pageAccessToken string) *InstagramSender {
	return &InstagramSender{
		http:      resty.New().SetBaseURL(instagramGraphBaseURL),
		pageID:    pageID,
		pageToken: pageAccessToken,
	}
}

func (s *InstagramSender) Platform() model.Platform { return model.PlatformInstagram }

type instagramSendBody struct {
	Recipient struct {
		ID string `json:"id"`
	} `json:"recipient"`
	Message struct {
		Text string `json:"text"`
	} `json:"message"`
}

type instagramSendResponse struct {
	MessageID string `json:"message_id"`
	Error     *struct {
		Message   string `json:"message"`
		Code      int    `json:"code"`
		ErrorType string `json:"type"`
	} `json:"error"`
}

func (s *InstagramSender) SendRaw(ctx context.Context, req DispatchRequest) (DispatchResult, error) {
	body := instagramSendBody{}
	body.Recipient.ID = req.PlatformUserID
	body.Message.Text = req.Content

	var out instagramSendResponse
	resp, err := s.http.R().
		SetContext(ctx).
		SetQueryParam("access_token", s.pageToken).
		SetBody(body).
		SetResult(&out).
		Post(fmt.Sprintf("/%s/messages", s.pageID))
	if err != nil {
		return DispatchResult{}, model.NewError(model.KindTransient, "instagram send request failed", err)
	}
	if out.Error != nil {
		return DispatchResult{}, classifyInstagramError(out.Error.Code, out.Error.Message)
	}
	if resp.IsError() {
		return DispatchResult{}, model.NewError(model.KindTransient, fmt.Sprintf("instagram send http %d", resp.StatusCode()), nil)
	}
	return DispatchResult{PlatformMessageID: out.MessageID}, nil
}

// classifyInstagramError treats Graph API throttling (code 4, 17, 32) as
// transient and everything else (blocked recipient, revoked permission) as
// permanent.
func classifyInstagramError(code int, msg string) error {
	switch code {
	case 4, 17, 32:
		return model.NewError(model.KindTransient, fmt.Sprintf("instagram throttled (%d): %s", code, msg), nil)
	default:
		return model.NewError(model.KindPermanentDelivery, fmt.Sprintf("instagram error (%d): %s", code, msg), nil)
	}
}
