// Package messagestore implements the Message Store (spec.md §4.B): the
// durable, keyed record of messages, conversations, status history and
// participant history. It is backed by Redis — the "document/keyed" store
// spec.md §6 calls for alongside the relational Identity Store — using
// github.com/redis/go-redis/v9, the client the wider retrieval pack (the
// linktor gateway) reaches for in this exact domain.
package messagestore

import (
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	json "github.com/segmentio/encoding/json"

	"github.com/sipeed/gatewaybridge/pkg/logger"
	"github.com/sipeed/gatewaybridge/pkg/model"
)

// Store is the Redis-backed Message Store.
type Store struct {
	rdb *redis.Client
}

// New wraps an existing redis client. The caller owns the client's lifecycle.
func New(rdb *redis.Client) *Store { return &Store{rdb: rdb} }

func msgKey(id string) string             { return "gw:msg:" + id }
func convMetaKey(id string) string        { return "gw:conv:" + id + ":meta" }
func convParticipantsKey(id string) string { return "gw:conv:" + id + ":participants" }
func convEventsKey(id string) string      { return "gw:conv:" + id + ":events" }
func convMessagesZKey(id string) string   { return "gw:conv:" + id + ":messages" }

// pendingZKey indexes every message currently PENDING, scored by
// created_at, so the reconciler (pkg/ingress/reconciler.go) can sweep
// messages stuck before an Event Log publish without a full table scan
// (§4.E step 6, reconciler strategy).
const pendingZKey = "gw:pending"

// ---- Conversations ---------------------------------------------------

type conversationMeta struct {
	Type           model.ConversationType `json:"type"`
	PrimaryChannel model.Platform         `json:"primary_channel,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
}

// CreateConversation enforces the participant-count bounds from §3/§8 and
// persists the initial participant set with joined_at = now.
func (s *Store) CreateConversation(ctx context.Context, conversationID string, convType model.ConversationType, participantIDs []string, primaryChannel model.Platform) (model.Conversation, error) {
	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	if err := validateParticipantCount(convType, len(participantIDs)); err != nil {
		return model.Conversation{}, err
	}

	now := time.Now().UTC()
	meta := conversationMeta{Type: convType, PrimaryChannel: primaryChannel, CreatedAt: now}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return model.Conversation{}, model.NewError(model.KindFatal, "marshal conversation meta", err)
	}

	exists, err := s.rdb.Exists(ctx, convMetaKey(conversationID)).Result()
	if err != nil {
		return model.Conversation{}, model.NewError(model.KindFatal, "check conversation existence", err)
	}
	if exists > 0 {
		return model.Conversation{}, model.NewError(model.KindDuplicate, "conversation already exists", nil)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, convMetaKey(conversationID), metaJSON, 0)
	for _, uid := range participantIDs {
		s.stageJoin(ctx, pipe, conversationID, uid, now)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return model.Conversation{}, model.NewError(model.KindFatal, "create conversation", err)
	}

	logger.InfoCF("messagestore", "conversation created", map[string]any{
		"conversation_id": conversationID, "type": convType, "participants": len(participantIDs),
	})
	return s.GetConversation(ctx, conversationID)
}

func validateParticipantCount(convType model.ConversationType, n int) error {
	switch convType {
	case model.ConversationOneToOne:
		if n != 2 {
			return model.NewError(model.KindValidation, "ONE_TO_ONE requires exactly 2 participants", nil)
		}
	case model.ConversationGroup:
		if n < model.MinGroupParticipants || n > model.MaxGroupParticipants {
			return model.NewError(model.KindValidation, fmt.Sprintf("GROUP requires %d-%d participants", model.MinGroupParticipants, model.MaxGroupParticipants), nil)
		}
	default:
		return model.NewError(model.KindValidation, "unknown conversation type", nil)
	}
	return nil
}

// GetConversation reconstructs the current participant list from the
// participants hash (latest episode per user).
func (s *Store) GetConversation(ctx context.Context, conversationID string) (model.Conversation, error) {
	metaJSON, err := s.rdb.Get(ctx, convMetaKey(conversationID)).Bytes()
	if err == redis.Nil {
		return model.Conversation{}, model.NewError(model.KindNotFound, "conversation not found", err)
	}
	if err != nil {
		return model.Conversation{}, model.NewError(model.KindFatal, "get conversation meta", err)
	}
	var meta conversationMeta
	if err := json.Unmarshal(metaJSON, &meta); err != nil {
		return model.Conversation{}, model.NewError(model.KindFatal, "unmarshal conversation meta", err)
	}

	raw, err := s.rdb.HGetAll(ctx, convParticipantsKey(conversationID)).Result()
	if err != nil {
		return model.Conversation{}, model.NewError(model.KindFatal, "get participants", err)
	}
	participants := make([]model.Participant, 0, len(raw))
	for userID, payload := range raw {
		var p model.Participant
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			continue
		}
		p.UserID = userID
		participants = append(participants, p)
	}
	sort.Slice(participants, func(i, j int) bool { return participants[i].JoinedAt.Before(participants[j].JoinedAt) })

	return model.Conversation{
		ConversationID: conversationID,
		Type:           meta.Type,
		Participants:   participants,
		PrimaryChannel: meta.PrimaryChannel,
		CreatedAt:      meta.CreatedAt,
	}, nil
}

func (s *Store) stageJoin(ctx context.Context, pipe redis.Pipeliner, conversationID, userID string, at time.Time) {
	p := model.Participant{UserID: userID, JoinedAt: at}
	payload, _ := json.Marshal(p)
	pipe.HSet(ctx, convParticipantsKey(conversationID), userID, payload)
	ev := model.ParticipantEvent{ConversationID: conversationID, UserID: userID, Action: "join", At: at}
	evJSON, _ := json.Marshal(ev)
	pipe.RPush(ctx, convEventsKey(conversationID), evJSON)
}

func (s *Store) stageLeave(ctx context.Context, pipe redis.Pipeliner, conversationID, userID string, at time.Time, current model.Participant) {
	leftAt := at
	current.LeftAt = &leftAt
	payload, _ := json.Marshal(current)
	pipe.HSet(ctx, convParticipantsKey(conversationID), userID, payload)
	ev := model.ParticipantEvent{ConversationID: conversationID, UserID: userID, Action: "leave", At: at}
	evJSON, _ := json.Marshal(ev)
	pipe.RPush(ctx, convEventsKey(conversationID), evJSON)
}

// ModifyParticipants adds/removes participants, enforces the 2-100 bound,
// appends immutable participant events, and writes a SYSTEM Message (§4.B).
// This is the one case where a component other than Ingress creates a
// Message row, per the explicit carve-out in §3's ownership summary.
func (s *Store) ModifyParticipants(ctx context.Context, conversationID string, add, remove []string) (model.Message, error) {
	conv, err := s.GetConversation(ctx, conversationID)
	if err != nil {
		return model.Message{}, err
	}

	active := map[string]model.Participant{}
	for _, p := range conv.Participants {
		if p.LeftAt == nil {
			active[p.UserID] = p
		}
	}
	for _, uid := range remove {
		delete(active, uid)
	}
	for _, uid := range add {
		active[uid] = model.Participant{UserID: uid}
	}
	if err := validateParticipantCount(conv.Type, len(active)); err != nil {
		return model.Message{}, err
	}

	now := time.Now().UTC()
	pipe := s.rdb.TxPipeline()
	for _, uid := range remove {
		if current, ok := findParticipant(conv.Participants, uid); ok && current.LeftAt == nil {
			s.stageLeave(ctx, pipe, conversationID, uid, now, current)
		}
	}
	for _, uid := range add {
		s.stageJoin(ctx, pipe, conversationID, uid, now)
	}

	sysMsg := model.Message{
		MessageID:      uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       "SYSTEM",
		Content:        systemEventText(add, remove),
		Channel:        model.PlatformInternal,
		Status:         model.StatusDelivered,
		CreatedAt:      now,
		UpdatedAt:      now,
		SystemEvent:    true,
		StatusHistory:  []model.StatusEntry{{Status: model.StatusDelivered, At: now}},
	}
	msgJSON, err := json.Marshal(sysMsg)
	if err != nil {
		return model.Message{}, model.NewError(model.KindFatal, "marshal system message", err)
	}
	pipe.Set(ctx, msgKey(sysMsg.MessageID), msgJSON, 0)
	pipe.ZAdd(ctx, convMessagesZKey(conversationID), redis.Z{Score: scoreFor(now), Member: sysMsg.MessageID})

	if _, err := pipe.Exec(ctx); err != nil {
		return model.Message{}, model.NewError(model.KindFatal, "modify participants", err)
	}

	logger.InfoCF("messagestore", "participants modified", map[string]any{
		"conversation_id": conversationID, "added": add, "removed": remove,
	})
	return sysMsg, nil
}

func findParticipant(participants []model.Participant, userID string) (model.Participant, bool) {
	for _, p := range participants {
		if p.UserID == userID {
			return p, true
		}
	}
	return model.Participant{}, false
}

func systemEventText(add, remove []string) string {
	switch {
	case len(add) > 0 && len(remove) == 0:
		return fmt.Sprintf("%d participant(s) added", len(add))
	case len(remove) > 0 && len(add) == 0:
		return fmt.Sprintf("%d participant(s) removed", len(remove))
	default:
		return "participants changed"
	}
}

// ---- Messages ----------------------------------------------------------

// PutMessage persists msg with an initialised Status History, failing with
// KindDuplicate if message_id already exists (§4.B).
func (s *Store) PutMessage(ctx context.Context, msg model.Message) error {
	if len(msg.StatusHistory) == 0 {
		msg.StatusHistory = []model.StatusEntry{{Status: msg.Status, At: msg.CreatedAt}}
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return model.NewError(model.KindFatal, "marshal message", err)
	}

	ok, err := s.rdb.SetNX(ctx, msgKey(msg.MessageID), payload, 0).Result()
	if err != nil {
		return model.NewError(model.KindFatal, "put message", err)
	}
	if !ok {
		return model.NewError(model.KindDuplicate, "message_id already present", nil)
	}

	pipe := s.rdb.TxPipeline()
	pipe.ZAdd(ctx, convMessagesZKey(msg.ConversationID), redis.Z{
		Score: scoreFor(msg.CreatedAt), Member: msg.MessageID,
	})
	if msg.Status == model.StatusPending {
		pipe.ZAdd(ctx, pendingZKey, redis.Z{Score: scoreFor(msg.CreatedAt), Member: msg.MessageID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return model.NewError(model.KindFatal, "index message", err)
	}
	return nil
}

// GetMessage fetches a Message by id.
func (s *Store) GetMessage(ctx context.Context, messageID string) (model.Message, error) {
	payload, err := s.rdb.Get(ctx, msgKey(messageID)).Bytes()
	if err == redis.Nil {
		return model.Message{}, model.NewError(model.KindNotFound, "message not found", err)
	}
	if err != nil {
		return model.Message{}, model.NewError(model.KindFatal, "get message", err)
	}
	var msg model.Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return model.Message{}, model.NewError(model.KindFatal, "unmarshal message", err)
	}
	return msg, nil
}

// AppendStatus appends a monotone status transition (§4.B, §4.F), rejecting
// illegal transitions with KindValidation ("INVALID_TRANSITION"). Uses
// optimistic WATCH/MULTI so concurrent writers never silently clobber a
// terminal state — the same read-modify-write-under-WATCH idiom go-redis
// documents for compare-and-swap updates.
func (s *Store) AppendStatus(ctx context.Context, messageID string, status model.Status, reason string, platform model.Platform, recipientID string) error {
	const maxAttempts = 10
	key := msgKey(messageID)

	for attempt := 0; attempt < maxAttempts; attempt++ {
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			payload, err := tx.Get(ctx, key).Bytes()
			if err == redis.Nil {
				return model.NewError(model.KindNotFound, "message not found", err)
			}
			if err != nil {
				return model.NewError(model.KindFatal, "get message for status append", err)
			}
			var msg model.Message
			if err := json.Unmarshal(payload, &msg); err != nil {
				return model.NewError(model.KindFatal, "unmarshal message", err)
			}

			if msg.Status == status {
				return nil // already applied; treat as a no-op (idempotent replay, §9 round-trip law)
			}
			if !model.CanTransition(msg.Status, status) {
				return model.NewError(model.KindValidation, "INVALID_TRANSITION", nil)
			}

			now := time.Now().UTC()
			msg.Status = status
			msg.UpdatedAt = now
			msg.StatusHistory = append(msg.StatusHistory, model.StatusEntry{
				Status: status, At: now, Reason: reason, Platform: platform, RecipientID: recipientID,
			})
			updated, err := json.Marshal(msg)
			if err != nil {
				return model.NewError(model.KindFatal, "marshal updated message", err)
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, 0)
				pipe.ZRem(ctx, pendingZKey, messageID)
				return nil
			})
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue // another writer raced us; retry
		}
		return err
	}
	return model.NewError(model.KindFatal, "append status: too much contention", nil)
}

// SetOutcomes records per-recipient dispatch results on a message, for the
// mixed-fan-out case where the aggregate status is DELIVERED but some
// recipients terminally failed (§4.F step 4, §9 Open Question 2). It also
// stamps the top-level PlatformMessageID/ErrorKind (§3: "optional
// platform_message_id (set by G)", "optional error_kind") the Router
// derives from the aggregate outcome, so a caller of GetMessage doesn't
// have to scan Outcomes itself to find them.
func (s *Store) SetOutcomes(ctx context.Context, messageID string, outcomes []model.RecipientOutcome, platformMessageID, errorKind string) error {
	key := msgKey(messageID)
	return retryOnWatchConflict(func() error {
		return s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			payload, err := tx.Get(ctx, key).Bytes()
			if err == redis.Nil {
				return model.NewError(model.KindNotFound, "message not found", err)
			}
			if err != nil {
				return model.NewError(model.KindFatal, "get message", err)
			}
			var msg model.Message
			if err := json.Unmarshal(payload, &msg); err != nil {
				return model.NewError(model.KindFatal, "unmarshal message", err)
			}
			msg.Outcomes = outcomes
			if platformMessageID != "" {
				msg.PlatformMessageID = platformMessageID
			}
			if errorKind != "" {
				msg.ErrorKind = errorKind
			}
			updated, err := json.Marshal(msg)
			if err != nil {
				return model.NewError(model.KindFatal, "marshal message", err)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, 0)
				return nil
			})
			return err
		}, key)
	})
}

// ScanStalePending returns up to limit messages that have been PENDING for
// longer than olderThan, oldest first, for the Ingress reconciler to
// republish (§4.E step 6).
func (s *Store) ScanStalePending(ctx context.Context, olderThan time.Duration, limit int) ([]model.Message, error) {
	cutoff := scoreFor(time.Now().UTC().Add(-olderThan))
	ids, err := s.rdb.ZRangeByScore(ctx, pendingZKey, &redis.ZRangeBy{
		Min: "-inf", Max: strconv.FormatFloat(cutoff, 'f', -1, 64), Count: int64(limit), Offset: 0,
	}).Result()
	if err != nil {
		return nil, model.NewError(model.KindFatal, "scan stale pending", err)
	}
	out := make([]model.Message, 0, len(ids))
	for _, id := range ids {
		msg, err := s.GetMessage(ctx, id)
		if err != nil {
			if model.IsKind(err, model.KindNotFound) {
				continue
			}
			return nil, err
		}
		if msg.Status != model.StatusPending {
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

// PutAttachmentRef attaches fileID to messageID. Only legal before the
// message's status has moved past PENDING (§4.B).
func (s *Store) PutAttachmentRef(ctx context.Context, messageID, fileID string) error {
	key := msgKey(messageID)
	return retryOnWatchConflict(func() error {
		return s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			payload, err := tx.Get(ctx, key).Bytes()
			if err == redis.Nil {
				return model.NewError(model.KindNotFound, "message not found", err)
			}
			if err != nil {
				return model.NewError(model.KindFatal, "get message", err)
			}
			var msg model.Message
			if err := json.Unmarshal(payload, &msg); err != nil {
				return model.NewError(model.KindFatal, "unmarshal message", err)
			}
			if msg.Status != model.StatusPending {
				return model.NewError(model.KindValidation, "attachment refs are only accepted before dispatch", nil)
			}
			msg.FileIDs = append(msg.FileIDs, fileID)
			updated, err := json.Marshal(msg)
			if err != nil {
				return model.NewError(model.KindFatal, "marshal message", err)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, 0)
				return nil
			})
			return err
		}, key)
	})
}

func retryOnWatchConflict(fn func() error) error {
	const maxAttempts = 10
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err := fn()
		if err == redis.TxFailedErr {
			continue
		}
		return err
	}
	return model.NewError(model.KindFatal, "too much contention", nil)
}

// ---- History / pagination ----------------------------------------------

// scoreFor converts a timestamp to a Redis sorted-set score. Millisecond
// resolution keeps the value well inside float64's exact-integer range
// (unlike UnixNano, which would lose precision past 2^53); ties at the
// same millisecond are broken by Redis's own lexicographic member order,
// an approximation of "tie-broken by message_id" that is stable and
// round-trips, if not guaranteed to match UUID generation order exactly.
func scoreFor(t time.Time) float64 { return float64(t.UnixMilli()) }

const listPageOverscan = 4

// ListMessages returns a page of conversation history ordered by created_at
// descending, filtered to what requestingUserID was present for (§4.B,
// §8 invariant 4). The cursor is an opaque, round-tripping rank offset into
// the conversation's sorted set.
func (s *Store) ListMessages(ctx context.Context, conversationID, requestingUserID, cursor string, limit int) ([]model.Message, string, error) {
	if limit <= 0 {
		limit = 50
	}
	offset, err := decodeCursor(cursor)
	if err != nil {
		return nil, "", model.NewError(model.KindValidation, "invalid cursor", err)
	}

	intervals, err := s.activeIntervals(ctx, conversationID, requestingUserID)
	if err != nil {
		return nil, "", err
	}

	var out []model.Message
	batchSize := int64(limit * listPageOverscan)
	if batchSize < 50 {
		batchSize = 50
	}
	start := int64(offset)

	for len(out) < limit {
		ids, err := s.rdb.ZRevRange(ctx, convMessagesZKey(conversationID), start, start+batchSize-1).Result()
		if err != nil {
			return nil, "", model.NewError(model.KindFatal, "range conversation messages", err)
		}
		if len(ids) == 0 {
			break // exhausted
		}

		for i, id := range ids {
			msg, err := s.GetMessage(ctx, id)
			if err != nil {
				continue // best-effort: skip a message that vanished between index and fetch
			}
			if visibleTo(msg.CreatedAt, intervals) {
				out = append(out, msg)
				offset = int(start) + i + 1
				if len(out) == limit {
					break
				}
			} else {
				offset = int(start) + i + 1
			}
		}
		if int64(len(ids)) < batchSize {
			break // no more data
		}
		start += batchSize
	}

	var next string
	if len(out) == limit {
		next = encodeCursor(offset)
	}
	return out, next, nil
}

type interval struct {
	start time.Time
	end   *time.Time
}

func (s *Store) activeIntervals(ctx context.Context, conversationID, userID string) ([]interval, error) {
	raw, err := s.rdb.LRange(ctx, convEventsKey(conversationID), 0, -1).Result()
	if err != nil {
		return nil, model.NewError(model.KindFatal, "load participant events", err)
	}

	var events []model.ParticipantEvent
	for _, item := range raw {
		var ev model.ParticipantEvent
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			continue
		}
		if ev.UserID == userID {
			events = append(events, ev)
		}
	}
	sort.Slice(events, func(i, j int) bool { return events[i].At.Before(events[j].At) })

	var intervals []interval
	var open *interval
	for _, ev := range events {
		switch ev.Action {
		case "join":
			if open == nil {
				at := ev.At
				open = &interval{start: at}
			}
		case "leave":
			if open != nil {
				at := ev.At
				open.end = &at
				intervals = append(intervals, *open)
				open = nil
			}
		}
	}
	if open != nil {
		intervals = append(intervals, *open)
	}
	return intervals, nil
}

func visibleTo(createdAt time.Time, intervals []interval) bool {
	for _, iv := range intervals {
		if createdAt.Before(iv.start) {
			continue
		}
		if iv.end != nil && !createdAt.Before(*iv.end) {
			continue
		}
		return true
	}
	return false
}

func encodeCursor(offset int) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.Itoa(offset)))
}

func decodeCursor(cursor string) (int, error) {
	if cursor == "" {
		return 0, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(string(raw))
}
