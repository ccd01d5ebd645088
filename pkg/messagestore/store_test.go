package messagestore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/sipeed/gatewaybridge/pkg/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb)
}

func TestCreateConversationBounds(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.CreateConversation(ctx, "", model.ConversationOneToOne, []string{"a"}, model.PlatformInternal)
	require.True(t, model.IsKind(err, model.KindValidation))

	conv, err := s.CreateConversation(ctx, "", model.ConversationOneToOne, []string{"a", "b"}, model.PlatformWhatsApp)
	require.NoError(t, err)
	require.Len(t, conv.Participants, 2)

	group := make([]string, 101)
	for i := range group {
		group[i] = "u" + string(rune('A'+i%26)) + string(rune(i))
	}
	_, err = s.CreateConversation(ctx, "", model.ConversationGroup, group, model.PlatformInternal)
	require.True(t, model.IsKind(err, model.KindValidation))
}

func TestPutMessageDuplicate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	conv, err := s.CreateConversation(ctx, "", model.ConversationOneToOne, []string{"agent", "customer"}, model.PlatformWhatsApp)
	require.NoError(t, err)

	msg := model.Message{
		MessageID:      "M1",
		ConversationID: conv.ConversationID,
		SenderID:       "agent",
		Content:        "hello",
		Channel:        model.PlatformWhatsApp,
		Status:         model.StatusPending,
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, s.PutMessage(ctx, msg))

	err = s.PutMessage(ctx, msg)
	require.True(t, model.IsKind(err, model.KindDuplicate))

	got, err := s.GetMessage(ctx, "M1")
	require.NoError(t, err)
	require.Equal(t, model.StatusPending, got.Status)
	require.Len(t, got.StatusHistory, 1)
}

func TestAppendStatusMonotone(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	msg := model.Message{
		MessageID: "M2", ConversationID: "c1", SenderID: "a",
		Channel: model.PlatformTelegram, Status: model.StatusPending, CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.PutMessage(ctx, msg))

	require.NoError(t, s.AppendStatus(ctx, "M2", model.StatusSent, "", model.PlatformTelegram, "u1"))
	require.NoError(t, s.AppendStatus(ctx, "M2", model.StatusDelivered, "", model.PlatformTelegram, "u1"))

	err := s.AppendStatus(ctx, "M2", model.StatusSent, "", model.PlatformTelegram, "u1")
	require.True(t, model.IsKind(err, model.KindValidation))

	got, err := s.GetMessage(ctx, "M2")
	require.NoError(t, err)
	require.Equal(t, model.StatusDelivered, got.Status)
	require.Len(t, got.StatusHistory, 3)
}

func TestAppendStatusIdempotentReplay(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	msg := model.Message{MessageID: "M3", ConversationID: "c1", Status: model.StatusPending, CreatedAt: time.Now().UTC()}
	require.NoError(t, s.PutMessage(ctx, msg))
	require.NoError(t, s.AppendStatus(ctx, "M3", model.StatusSent, "", "", ""))
	require.NoError(t, s.AppendStatus(ctx, "M3", model.StatusSent, "", "", "")) // same status twice: no-op, not an error

	got, _ := s.GetMessage(ctx, "M3")
	require.Len(t, got.StatusHistory, 2)
}

func TestPutAttachmentRefOnlyBeforeDispatch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	msg := model.Message{MessageID: "M4", ConversationID: "c1", Status: model.StatusPending, CreatedAt: time.Now().UTC()}
	require.NoError(t, s.PutMessage(ctx, msg))
	require.NoError(t, s.PutAttachmentRef(ctx, "M4", "file-1"))

	require.NoError(t, s.AppendStatus(ctx, "M4", model.StatusSent, "", "", ""))
	err := s.PutAttachmentRef(ctx, "M4", "file-2")
	require.True(t, model.IsKind(err, model.KindValidation))

	got, _ := s.GetMessage(ctx, "M4")
	require.Equal(t, []string{"file-1"}, got.FileIDs)
}

func TestListMessagesOrderingAndPagination(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	conv, err := s.CreateConversation(ctx, "", model.ConversationOneToOne, []string{"agent", "customer"}, model.PlatformWhatsApp)
	require.NoError(t, err)

	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		msg := model.Message{
			MessageID: "msg-" + string(rune('A'+i)), ConversationID: conv.ConversationID,
			SenderID: "agent", Content: "hi", Channel: model.PlatformWhatsApp,
			Status: model.StatusPending, CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, s.PutMessage(ctx, msg))
	}

	page1, cursor1, err := s.ListMessages(ctx, conv.ConversationID, "agent", "", 2)
	require.NoError(t, err)
	require.Len(t, page1, 2)
	require.Equal(t, "msg-E", page1[0].MessageID) // most recent first
	require.NotEmpty(t, cursor1)

	page2, _, err := s.ListMessages(ctx, conv.ConversationID, "agent", cursor1, 2)
	require.NoError(t, err)
	require.Len(t, page2, 2)
	require.Equal(t, "msg-C", page2[0].MessageID)
}

func TestListMessagesJoinPointFilter(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	conv, err := s.CreateConversation(ctx, "", model.ConversationGroup, []string{"admin", "u1"}, model.PlatformInternal)
	require.NoError(t, err)

	t0 := time.Now().UTC()
	preMsg := model.Message{MessageID: "pre", ConversationID: conv.ConversationID, SenderID: "admin", CreatedAt: t0, Status: model.StatusPending}
	require.NoError(t, s.PutMessage(ctx, preMsg))

	_, err = s.ModifyParticipants(ctx, conv.ConversationID, []string{"u2"}, nil)
	require.NoError(t, err)

	postMsg := model.Message{MessageID: "post", ConversationID: conv.ConversationID, SenderID: "admin", CreatedAt: time.Now().UTC(), Status: model.StatusPending}
	require.NoError(t, s.PutMessage(ctx, postMsg))

	adminView, _, err := s.ListMessages(ctx, conv.ConversationID, "admin", "", 10)
	require.NoError(t, err)
	ids := messageIDs(adminView)
	require.Contains(t, ids, "pre")
	require.Contains(t, ids, "post")

	u2View, _, err := s.ListMessages(ctx, conv.ConversationID, "u2", "", 10)
	require.NoError(t, err)
	u2IDs := messageIDs(u2View)
	require.NotContains(t, u2IDs, "pre")
	require.Contains(t, u2IDs, "post")
}

func messageIDs(msgs []model.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.MessageID
	}
	return out
}
