package ingress

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/sipeed/gatewaybridge/pkg/eventlog"
	"github.com/sipeed/gatewaybridge/pkg/idempotency"
	"github.com/sipeed/gatewaybridge/pkg/messagestore"
	"github.com/sipeed/gatewaybridge/pkg/model"
)

func newTestIngress(t *testing.T) (*Ingress, *messagestore.Store, *eventlog.Fake) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := messagestore.New(rdb)
	idem := idempotency.New(rdb, time.Hour)
	fake := eventlog.NewFake()
	return New(store, idem, fake, nil), store, fake
}

func TestAcceptPublishesAndPersistsPending(t *testing.T) {
	ctx := context.Background()
	in, store, fake := newTestIngress(t)

	conv, err := store.CreateConversation(ctx, "", model.ConversationOneToOne, []string{"agent", "customer"}, model.PlatformWhatsApp)
	require.NoError(t, err)

	id, status, err := in.Accept(ctx, SendRequest{
		ConversationID: conv.ConversationID, SenderID: "agent", Content: "hi", Channel: model.PlatformWhatsApp,
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.Equal(t, model.StatusPending, status)

	msg, err := store.GetMessage(ctx, id)
	require.NoError(t, err)
	require.Equal(t, []string{"customer"}, msg.RecipientIDs)

	events := fake.Drain(ChatEventsTopic)
	require.Len(t, events, 1)
	require.Equal(t, conv.ConversationID, events[0].Key)
}

func TestAcceptIdempotentReplay(t *testing.T) {
	ctx := context.Background()
	in, store, _ := newTestIngress(t)
	conv, err := store.CreateConversation(ctx, "", model.ConversationOneToOne, []string{"agent", "customer"}, model.PlatformWhatsApp)
	require.NoError(t, err)

	req := SendRequest{MessageID: "client-1", ConversationID: conv.ConversationID, SenderID: "agent", Content: "hi", Channel: model.PlatformWhatsApp}
	id1, _, err := in.Accept(ctx, req)
	require.NoError(t, err)
	id2, status2, err := in.Accept(ctx, req)
	require.NoError(t, err)
	require.Equal(t, id1, id2)
	require.Equal(t, model.StatusPending, status2)
}

func TestAcceptRejectsNonParticipantGroupSender(t *testing.T) {
	ctx := context.Background()
	in, store, _ := newTestIngress(t)
	conv, err := store.CreateConversation(ctx, "", model.ConversationGroup, []string{"a", "b"}, model.PlatformInternal)
	require.NoError(t, err)

	_, _, err = in.Accept(ctx, SendRequest{ConversationID: conv.ConversationID, SenderID: "stranger", Content: "hi", Channel: model.PlatformInternal})
	require.True(t, model.IsKind(err, model.KindValidation))
}

func TestAcceptInboundBypassesGroupParticipantCheck(t *testing.T) {
	ctx := context.Background()
	in, store, fake := newTestIngress(t)
	conv, err := store.CreateConversation(ctx, "", model.ConversationGroup, []string{"a", "b"}, model.PlatformInternal)
	require.NoError(t, err)

	// Accept rejects this sender (not a participant); AcceptInbound must not,
	// since the sender was already resolved from the inbound platform event
	// itself rather than this gateway's own group membership bookkeeping.
	_, _, err = in.Accept(ctx, SendRequest{ConversationID: conv.ConversationID, SenderID: "stranger", Content: "hi", Channel: model.PlatformInternal})
	require.True(t, model.IsKind(err, model.KindValidation))

	id, status, err := in.AcceptInbound(ctx, SendRequest{ConversationID: conv.ConversationID, SenderID: "stranger", Content: "hi", Channel: model.PlatformInternal})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.Equal(t, model.StatusPending, status)
	require.Len(t, fake.Drain(ChatEventsTopic), 1)
}

func TestAcceptRejectsOversizedContent(t *testing.T) {
	ctx := context.Background()
	in, store, _ := newTestIngress(t)
	conv, err := store.CreateConversation(ctx, "", model.ConversationOneToOne, []string{"a", "b"}, model.PlatformInternal)
	require.NoError(t, err)

	huge := make([]byte, model.MaxTextUnits+1)
	for i := range huge {
		huge[i] = 'x'
	}
	_, _, err = in.Accept(ctx, SendRequest{ConversationID: conv.ConversationID, SenderID: "a", Content: string(huge), Channel: model.PlatformInternal})
	require.True(t, model.IsKind(err, model.KindValidation))
}

func TestReconcilerRepublishesStalePending(t *testing.T) {
	ctx := context.Background()
	in, store, fake := newTestIngress(t)
	conv, err := store.CreateConversation(ctx, "", model.ConversationOneToOne, []string{"a", "b"}, model.PlatformInternal)
	require.NoError(t, err)

	msg := model.Message{
		MessageID: "stuck-1", ConversationID: conv.ConversationID, SenderID: "a",
		Content: "hi", Channel: model.PlatformInternal, Status: model.StatusPending,
		CreatedAt: time.Now().UTC().Add(-time.Hour),
	}
	require.NoError(t, store.PutMessage(ctx, msg))
	fake.Drain(ChatEventsTopic) // nothing published by PutMessage directly

	rec := NewReconciler(in, time.Minute, 10)
	require.NoError(t, rec.SweepOnce(ctx))

	events := fake.Drain(ChatEventsTopic)
	require.Len(t, events, 1)
}
