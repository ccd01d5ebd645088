package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/sipeed/gatewaybridge/pkg/eventlog"
	"github.com/sipeed/gatewaybridge/pkg/files"
	"github.com/sipeed/gatewaybridge/pkg/identity"
	"github.com/sipeed/gatewaybridge/pkg/idempotency"
	"github.com/sipeed/gatewaybridge/pkg/ingress"
	"github.com/sipeed/gatewaybridge/pkg/live"
	"github.com/sipeed/gatewaybridge/pkg/messagestore"
	"github.com/sipeed/gatewaybridge/pkg/model"
)

const testJWTSecret = "test-secret"

// fakeObjectStore stands in for S3 in tests, same shape as files' own test double.
type fakeObjectStore struct{ objects map[string][]byte }

func (f *fakeObjectStore) Put(_ context.Context, key string, data []byte) error {
	f.objects[key] = append([]byte(nil), data...)
	return nil
}

func (f *fakeObjectStore) PresignGet(_ context.Context, key string, ttl time.Duration) (string, error) {
	return "https://fake-bucket.example/" + key, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	idStore, err := identity.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = idStore.Close() })

	msgStore := messagestore.New(rdb)
	idem := idempotency.New(rdb, time.Hour)
	fake := eventlog.NewFake()
	filesSvc := files.New(rdb, &fakeObjectStore{objects: make(map[string][]byte)})
	in := ingress.New(msgStore, idem, fake, filesSvc)

	return &Server{
		Identities: idStore,
		Messages:   msgStore,
		Ingress:    in,
		Files:      filesSvc,
		Live:       live.NewHub(),
		JWTSecret:  testJWTSecret,
	}
}

func bearerFor(t *testing.T, userID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": userID})
	signed, err := token.SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return "Bearer " + signed
}

func TestHealthzIsUnauthenticated(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestProtectedRouteRejectsMissingToken(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/identities/users/whoever")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCreateUsersAndSendMessage(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()
	client := ts.Client()

	// Bootstrap two users directly through the identity store (avoids a
	// chicken-and-egg JWT-before-user-exists problem for this test).
	ctx := context.Background()
	agentID, err := srv.Identities.CreateUser(ctx, "Agent", model.RoleAgent)
	require.NoError(t, err)
	customerID, err := srv.Identities.CreateUser(ctx, "Customer", model.RoleCustomer)
	require.NoError(t, err)

	conv, err := srv.Messages.CreateConversation(ctx, "", model.ConversationOneToOne,
		[]string{agentID, customerID}, model.PlatformWhatsApp)
	require.NoError(t, err)

	body, err := json.Marshal(sendMessageRequest{
		ConversationID: conv.ConversationID,
		Content:        "hello from http",
		Channel:        string(model.PlatformWhatsApp),
	})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/v1/messages", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", bearerFor(t, agentID))
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var out sendMessageResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotEmpty(t, out.MessageID)
	require.Equal(t, model.StatusPending, out.Status)
}

func TestUploadFileThenGetMetadata(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()
	client := ts.Client()

	agentID, err := srv.Identities.CreateUser(context.Background(), "Agent", model.RoleAgent)
	require.NoError(t, err)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "photo.png")
	require.NoError(t, err)
	_, err = part.Write([]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0})
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/v1/files", &buf)
	require.NoError(t, err)
	req.Header.Set("Authorization", bearerFor(t, agentID))
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var att model.FileAttachment
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&att))
	require.Equal(t, model.ScanClean, att.ScanVerdict)

	getResp, err := client.Do(mustRequest(t, http.MethodGet, ts.URL+"/v1/files/"+att.FileID, bearerFor(t, agentID)))
	require.NoError(t, err)
	defer getResp.Body.Close()
	require.Equal(t, http.StatusOK, getResp.StatusCode)
}

func mustRequest(t *testing.T, method, url, bearer string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", bearer)
	return req
}
