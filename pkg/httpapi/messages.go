package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sipeed/gatewaybridge/pkg/ingress"
	"github.com/sipeed/gatewaybridge/pkg/model"
)

type sendMessageRequest struct {
	MessageID      string   `json:"message_id,omitempty"`
	ConversationID string   `json:"conversation_id"`
	Content        string   `json:"content"`
	FileIDs        []string `json:"file_ids,omitempty"`
	Channel        string   `json:"channel"`
	RecipientIDs   []string `json:"recipient_ids,omitempty"`
}

type sendMessageResponse struct {
	MessageID string       `json:"message_id"`
	Status    model.Status `json:"status"`
}

// SendMessage implements POST /v1/messages, handing the request straight
// to Ingress.Accept (spec §4.E); the sender is always the authenticated
// caller, never a client-supplied field.
func (s *Server) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, model.NewError(model.KindValidation, "malformed request body", err))
		return
	}

	id, status, err := s.Ingress.Accept(r.Context(), ingress.SendRequest{
		MessageID:      req.MessageID,
		ConversationID: req.ConversationID,
		SenderID:       userID(r.Context()),
		Content:        req.Content,
		FileIDs:        req.FileIDs,
		Channel:        model.Platform(req.Channel),
		RecipientIDs:   req.RecipientIDs,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, sendMessageResponse{MessageID: id, Status: status})
}

// ListMessages implements GET /v1/messages?conversation_id=&cursor=&limit=,
// applying the requesting user's own join/leave visibility window (§4.B).
func (s *Server) ListMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	conversationID := q.Get("conversation_id")
	if conversationID == "" {
		writeError(w, model.NewError(model.KindValidation, "conversation_id is required", nil))
		return
	}

	limit := 50
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	messages, nextCursor, err := s.Messages.ListMessages(r.Context(), conversationID, userID(r.Context()), q.Get("cursor"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"messages":    messages,
		"next_cursor": nextCursor,
	})
}

// GetMessage implements GET /v1/messages/{messageID} (spec §6), returning
// the full Message record.
func (s *Server) GetMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := s.Messages.GetMessage(r.Context(), chi.URLParam(r, "messageID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

type messageStatusResponse struct {
	MessageID         string                   `json:"message_id"`
	Status            model.Status             `json:"status"`
	PlatformMessageID string                   `json:"platform_message_id,omitempty"`
	ErrorKind         string                   `json:"error_kind,omitempty"`
	StatusHistory     []model.StatusEntry      `json:"status_history"`
	Outcomes          []model.RecipientOutcome `json:"outcomes,omitempty"`
}

// GetMessageStatus implements GET /v1/messages/{messageID}/status (spec
// §6): the current status plus its full transition history, distinct from
// GetMessage so a poller doesn't have to pull the message content/recipient
// list on every check.
func (s *Server) GetMessageStatus(w http.ResponseWriter, r *http.Request) {
	msg, err := s.Messages.GetMessage(r.Context(), chi.URLParam(r, "messageID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageStatusResponse{
		MessageID:         msg.MessageID,
		Status:            msg.Status,
		PlatformMessageID: msg.PlatformMessageID,
		ErrorKind:         msg.ErrorKind,
		StatusHistory:     msg.StatusHistory,
		Outcomes:          msg.Outcomes,
	})
}

type createConversationRequest struct {
	ConversationID string   `json:"conversation_id,omitempty"`
	Type           string   `json:"type"`
	ParticipantIDs []string `json:"participant_ids"`
	PrimaryChannel string   `json:"primary_channel,omitempty"`
}

// CreateConversation implements POST /v1/conversations (§4.B).
func (s *Server) CreateConversation(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, model.NewError(model.KindValidation, "malformed request body", err))
		return
	}

	conv, err := s.Messages.CreateConversation(r.Context(), req.ConversationID,
		model.ConversationType(req.Type), req.ParticipantIDs, model.Platform(req.PrimaryChannel))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

// GetConversation implements GET /v1/conversations/{conversationID}.
func (s *Server) GetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := s.Messages.GetConversation(r.Context(), chi.URLParam(r, "conversationID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

type modifyParticipantsRequest struct {
	Add    []string `json:"add,omitempty"`
	Remove []string `json:"remove,omitempty"`
}

// ModifyParticipants implements PATCH /v1/conversations/{conversationID}/participants,
// returning the synthetic system-event Message the Message Store generates (§4.B).
func (s *Server) ModifyParticipants(w http.ResponseWriter, r *http.Request) {
	var req modifyParticipantsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, model.NewError(model.KindValidation, "malformed request body", err))
		return
	}

	event, err := s.Messages.ModifyParticipants(r.Context(), chi.URLParam(r, "conversationID"), req.Add, req.Remove)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}
