package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sipeed/gatewaybridge/pkg/connectors"
	"github.com/sipeed/gatewaybridge/pkg/model"
)

// fakeFileRefResolver returns a fixed payload for any ref, so tests don't
// need a real Feishu client.
type fakeFileRefResolver struct {
	data []byte
	err  error
}

func (f *fakeFileRefResolver) Resolve(_ context.Context, _ connectors.PlatformFileRef) ([]byte, error) {
	return f.data, f.err
}

// fakeConnector implements connectors.Connector and connectors.FileRefCapable
// directly, without going through Base, since tests only care about the
// resolver lookup chain HandleWebhook exercises.
type fakeConnector struct {
	platform model.Platform
	resolver connectors.FileRefResolver
}

func (c *fakeConnector) Platform() model.Platform { return c.platform }
func (c *fakeConnector) Send(context.Context, connectors.DispatchRequest) (connectors.DispatchResult, error) {
	return connectors.DispatchResult{}, nil
}
func (c *fakeConnector) FileRefResolver() connectors.FileRefResolver { return c.resolver }

func TestHandleWebhookResolvesFileRefThroughConnector(t *testing.T) {
	srv := newTestServer(t)
	registry := connectors.NewRegistry()
	registry.Register(&fakeConnector{
		platform: model.PlatformFeishu,
		resolver: &fakeFileRefResolver{data: []byte("hello\nworld")},
	})
	srv.Registry = registry

	ctx := context.Background()
	agentID, err := srv.Identities.CreateUser(ctx, "Agent", model.RoleAgent)
	require.NoError(t, err)
	customerID, err := srv.Identities.CreateUser(ctx, "Alice", model.RoleCustomer)
	require.NoError(t, err)
	_, err = srv.Identities.LinkIdentity(ctx, customerID, model.PlatformFeishu, "ou_alice")
	require.NoError(t, err)

	conv, err := srv.Messages.CreateConversation(ctx, "", model.ConversationOneToOne,
		[]string{agentID, customerID}, model.PlatformFeishu)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	body, err := json.Marshal(webhookPayload{
		ConversationID: conv.ConversationID,
		PlatformUserID: "ou_alice",
		Content:        "see attached",
		FileRefs: []webhookFileRef{
			{MessageID: "om_1", FileKey: "file_1", ResourceType: "file", Filename: "notes.txt"},
		},
	})
	require.NoError(t, err)

	resp, err := http.Post(ts.URL+"/webhooks/feishu", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestHandleWebhookRejectsFileRefForUnsupportedPlatform(t *testing.T) {
	srv := newTestServer(t)
	srv.Registry = connectors.NewRegistry() // no connectors registered

	ctx := context.Background()
	agentID, err := srv.Identities.CreateUser(ctx, "Agent", model.RoleAgent)
	require.NoError(t, err)
	customerID, err := srv.Identities.CreateUser(ctx, "Bob", model.RoleCustomer)
	require.NoError(t, err)
	_, err = srv.Identities.LinkIdentity(ctx, customerID, model.PlatformTelegram, "12345")
	require.NoError(t, err)

	conv, err := srv.Messages.CreateConversation(ctx, "", model.ConversationOneToOne,
		[]string{agentID, customerID}, model.PlatformTelegram)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	body, err := json.Marshal(webhookPayload{
		ConversationID: conv.ConversationID,
		PlatformUserID: "12345",
		Content:        "see attached",
		FileRefs:       []webhookFileRef{{MessageID: "m1", FileKey: "k1"}},
	})
	require.NoError(t, err)

	resp, err := http.Post(ts.URL+"/webhooks/telegram", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
