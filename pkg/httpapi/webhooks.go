package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/tidwall/gjson"

	"github.com/sipeed/gatewaybridge/pkg/connectors"
	"github.com/sipeed/gatewaybridge/pkg/ingress"
	"github.com/sipeed/gatewaybridge/pkg/logger"
	"github.com/sipeed/gatewaybridge/pkg/model"
)

// webhookPayload is the normalized shape this gateway expects every
// platform's inbound callback to be translated into before it reaches
// HandleWebhook. Real platform webhook bodies (WhatsApp Cloud API events,
// Telegram Updates, Slack Events API, Discord interactions, Feishu event
// callbacks, Instagram messaging webhooks) each have their own envelope;
// normalizing them is a platform-specific concern out of scope for this
// handler, which also performs no platform signature verification.
// This handler is the single seam every adapter's inbound path converges
// on once that translation has happened upstream (a small per-platform
// shim, or the platform SDK's own webhook-parsing helper where one ships).
//
// decodeWebhookPayload below still tolerates the handful of field-name
// spellings different upstream shims settle on (content vs text,
// conversation_id vs conversationId) rather than forcing every shim to
// agree on one exact envelope.
type webhookPayload struct {
	ConversationID string           `json:"conversation_id"`
	PlatformUserID string           `json:"platform_user_id"`
	Content        string           `json:"content"`
	FileIDs        []string         `json:"file_ids,omitempty"`
	FileRefs       []webhookFileRef `json:"file_refs,omitempty"`
}

// webhookFileRef lets a platform shim pass a lazy pointer to platform-side
// media (Feishu's message_id/file_key) instead of uploading bytes itself.
// HandleWebhook resolves it through the registered connector's
// connectors.FileRefCapable, uploads the result through Files, and folds
// the resulting file_id into FileIDs — see connectors/fileref.go.
type webhookFileRef struct {
	MessageID    string `json:"message_id"`
	FileKey      string `json:"file_key"`
	ResourceType string `json:"resource_type,omitempty"`
	Filename     string `json:"filename,omitempty"`
}

// decodeWebhookPayload parses a raw webhook body leniently with gjson
// before falling back to a strict encoding/json.Unmarshal for the nested
// file_ids/file_refs arrays. Different upstream shims (and, in a real
// deployment, different platform SDKs' own webhook helpers) don't always
// agree on a field's exact name, so scalar fields are looked up under a
// small list of known aliases rather than requiring one canonical spelling.
func decodeWebhookPayload(raw []byte) (webhookPayload, error) {
	parsed := gjson.ParseBytes(raw)
	if !parsed.IsObject() {
		return webhookPayload{}, fmt.Errorf("webhook body is not a JSON object")
	}

	payload := webhookPayload{
		ConversationID: firstString(parsed, "conversation_id", "conversationId", "chat_id"),
		PlatformUserID: firstString(parsed, "platform_user_id", "platformUserId", "sender_id", "from"),
		Content:        firstString(parsed, "content", "text", "message"),
	}

	if fileIDs := parsed.Get("file_ids"); fileIDs.Exists() {
		if err := json.Unmarshal([]byte(fileIDs.Raw), &payload.FileIDs); err != nil {
			return webhookPayload{}, fmt.Errorf("malformed file_ids: %w", err)
		}
	}
	if fileRefs := parsed.Get("file_refs"); fileRefs.Exists() {
		if err := json.Unmarshal([]byte(fileRefs.Raw), &payload.FileRefs); err != nil {
			return webhookPayload{}, fmt.Errorf("malformed file_refs: %w", err)
		}
	}
	return payload, nil
}

// firstString returns the string value of the first key in keys present in
// parsed, or "" if none are.
func firstString(parsed gjson.Result, keys ...string) string {
	for _, k := range keys {
		if v := parsed.Get(k); v.Exists() {
			return v.String()
		}
	}
	return ""
}

// HandleWebhook implements POST /webhooks/{platform}: resolves the
// inbound sender's platform handle to an internal user_id and hands the
// message to Ingress.AcceptInbound — the strictly-inbound counterpart to
// Accept (spec §9 Design Notes) — rather than the outbound-oriented Accept
// path every authenticated /v1/messages send goes through.
func (s *Server) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	platform := model.Platform(chi.URLParam(r, "platform"))

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, model.NewError(model.KindValidation, "failed to read webhook body", err))
		return
	}
	payload, err := decodeWebhookPayload(raw)
	if err != nil {
		writeError(w, model.NewError(model.KindValidation, "malformed webhook payload", err))
		return
	}

	senderID, err := s.Identities.Resolve(r.Context(), platform, payload.PlatformUserID)
	if err != nil {
		writeError(w, err)
		return
	}
	if senderID == "" {
		writeError(w, model.NewError(model.KindNotFound, "no linked identity for inbound sender", nil))
		return
	}

	fileIDs := payload.FileIDs
	if len(payload.FileRefs) > 0 {
		resolved, err := s.resolveFileRefs(r.Context(), platform, payload.FileRefs)
		if err != nil {
			writeError(w, err)
			return
		}
		fileIDs = append(fileIDs, resolved...)
	}

	id, status, err := s.Ingress.AcceptInbound(r.Context(), ingress.SendRequest{
		ConversationID: payload.ConversationID,
		SenderID:       senderID,
		Content:        payload.Content,
		FileIDs:        fileIDs,
		Channel:        platform,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, sendMessageResponse{MessageID: id, Status: status})
}

// resolveFileRefs downloads each lazy platform file reference through the
// platform's connector (if it implements connectors.FileRefCapable) and
// uploads the bytes through Files, returning the resulting file_ids.
func (s *Server) resolveFileRefs(ctx context.Context, platform model.Platform, refs []webhookFileRef) ([]string, error) {
	if s.Registry == nil {
		return nil, model.NewError(model.KindValidation, "file_refs given but no connector registry configured", nil)
	}
	conn, ok := s.Registry.Get(platform)
	if !ok {
		return nil, model.NewError(model.KindValidation, "no connector registered for platform "+string(platform), nil)
	}
	capable, ok := conn.(connectors.FileRefCapable)
	if !ok {
		return nil, model.NewError(model.KindValidation, "platform "+string(platform)+" does not support file_refs", nil)
	}
	resolver := capable.FileRefResolver()
	if resolver == nil {
		return nil, model.NewError(model.KindValidation, "platform "+string(platform)+" does not support file_refs", nil)
	}

	fileIDs := make([]string, 0, len(refs))
	for _, ref := range refs {
		data, err := resolver.Resolve(ctx, connectors.PlatformFileRef{
			MessageID:    ref.MessageID,
			FileKey:      ref.FileKey,
			ResourceType: ref.ResourceType,
		})
		if err != nil {
			return nil, model.NewError(model.KindTransient, "resolve file ref failed", err)
		}
		filename := ref.Filename
		if filename == "" {
			filename = ref.FileKey
		}
		att, err := s.Files.Upload(ctx, filename, data)
		if err != nil {
			return nil, err
		}
		fileIDs = append(fileIDs, att.FileID)
		logger.DebugCF("httpapi", "resolved lazy file ref", map[string]any{
			"platform": platform, "file_id": att.FileID, "size_bytes": att.SizeBytes,
		})
	}
	return fileIDs, nil
}
