// Package connectors implements the Connector layer (spec.md §4.G): one
// adapter per external platform, a registry that dispatches by platform, a
// circuit breaker guarding each platform's adapter, and a per-recipient
// rate limiter. Adapters wrap platform SDKs (whatsmeow, telego, slack-go,
// discordgo, larksuite/oapi-sdk-go, a generic resty-based Graph API client
// for Instagram) behind one small interface so the Router never imports a
// platform SDK directly.
package connectors

import (
	"context"

	"github.com/sipeed/gatewaybridge/pkg/model"
)

// DispatchRequest is one recipient's worth of work handed to a Connector.
type DispatchRequest struct {
	MessageID      string
	ConversationID string
	PlatformUserID string
	Content        string
	FileIDs        []string
}

// DispatchResult is a Connector's outcome for one DispatchRequest.
type DispatchResult struct {
	PlatformMessageID string
	Retriable         bool // true if the failure is transient (§4.F step 5)
}

// Connector is the per-platform send adapter (§4.G).
type Connector interface {
	Platform() model.Platform
	Send(ctx context.Context, req DispatchRequest) (DispatchResult, error)
}
