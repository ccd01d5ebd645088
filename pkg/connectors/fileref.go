package connectors

import (
	"context"
	"fmt"
	"io"
	"time"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"

	"github.com/sipeed/gatewaybridge/pkg/logger"
)

// PlatformFileRef is a lazy pointer to media a connector's platform already
// stores permanently, so an inbound webhook doesn't need to inline the raw
// bytes: the platform keeps the file, the gateway fetches it only when a
// caller actually needs the content. Generalized from the teacher's
// Feishu-only bus.FileRef (pkg/bus/types.go) to whatever fields a given
// platform's resolver needs — MessageID/FileKey/ResourceType are Feishu's
// shape; other platforms would populate the same struct with their own
// handle in Handle instead.
type PlatformFileRef struct {
	MessageID    string
	FileKey      string
	ResourceType string // e.g. "image" or "file"; resolver-specific
	Handle       string // opaque fallback for platforms keyed by a single id
}

// FileRefResolver fetches the bytes a PlatformFileRef points at. Returns raw
// bytes only — MIME sniffing is pkg/files' job (files.Service.Upload already
// sniffs with h2non/filetype), so a resolver doesn't need its own detector.
type FileRefResolver interface {
	Resolve(ctx context.Context, ref PlatformFileRef) ([]byte, error)
}

// FileRefCapable is implemented by a Sender whose platform supports
// permanent, platform-side file storage. Not every platform does (Telegram,
// Slack, Discord, Instagram, WhatsApp attachments are fetched by the
// connector at send time, not resolved lazily by the gateway), so this is an
// optional capability callers type-assert for rather than part of Sender.
type FileRefCapable interface {
	FileRefResolver() FileRefResolver
}

const maxFeishuResolveBytes = int64(20 * 1024 * 1024)

// FeishuFileRefResolver resolves a Feishu PlatformFileRef by downloading
// from the Feishu MessageResource API into memory. Adapted from the
// teacher's FeishuFileRefResolver (pkg/channels/feishu_resolver.go), which
// resolved bus.FileRef into a (media type, base64) pair for an LLM agent's
// image-understanding turn; this version resolves PlatformFileRef into raw
// bytes for pkg/files.Service.Upload instead.
type FeishuFileRefResolver struct {
	client *lark.Client
}

// NewFeishuFileRefResolver builds a resolver backed by client.
func NewFeishuFileRefResolver(client *lark.Client) *FeishuFileRefResolver {
	return &FeishuFileRefResolver{client: client}
}

func (r *FeishuFileRefResolver) Resolve(ctx context.Context, ref PlatformFileRef) ([]byte, error) {
	if ref.MessageID == "" || ref.FileKey == "" {
		return nil, fmt.Errorf("missing feishu message_id or file_key")
	}
	resType := ref.ResourceType
	if resType == "" {
		resType = "file"
	}

	downloadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	resp, err := r.client.Im.MessageResource.Get(downloadCtx,
		larkim.NewGetMessageResourceReqBuilder().
			MessageId(ref.MessageID).
			FileKey(ref.FileKey).
			Type(resType).
			Build())
	if err != nil {
		return nil, fmt.Errorf("feishu resource download failed: %w", err)
	}
	if !resp.Success() {
		return nil, fmt.Errorf("feishu resource API error: code=%d msg=%s", resp.Code, resp.Msg)
	}
	if resp.File == nil {
		return nil, fmt.Errorf("feishu resource API returned empty file stream")
	}

	data, err := readAllWithLimit(resp.File, maxFeishuResolveBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to read feishu resource: %w", err)
	}

	logger.DebugCF("feishu", "file ref resolved", map[string]any{
		"message_id": ref.MessageID, "file_key": ref.FileKey, "res_type": resType, "size_bytes": len(data),
	})
	return data, nil
}

func readAllWithLimit(reader io.Reader, maxBytes int64) ([]byte, error) {
	limited := io.LimitReader(reader, maxBytes+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("file too large to resolve (>%d bytes)", maxBytes)
	}
	return data, nil
}
