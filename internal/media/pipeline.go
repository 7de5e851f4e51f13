// Package media pipelines a raw attachment through kind-specific processing
// and upload, resolving the durable reference a message needs before it can
// be sent.
package media

import (
	"context"
	"fmt"
	"time"

	"github.com/lmoretti/filo/internal/config"
	"github.com/lmoretti/filo/internal/domain"
	"github.com/lmoretti/filo/internal/remote"
	"go.uber.org/zap"
)

// File is a raw or processed attachment payload. Size is the declared byte
// size used by the upload guard; it normally equals len(Data).
type File struct {
	Name        string
	ContentType string
	Size        int64
	Data        []byte
}

// NewFile builds a File from raw bytes.
func NewFile(name, contentType string, data []byte) File {
	return File{Name: name, ContentType: contentType, Size: int64(len(data)), Data: data}
}

// UploadOptions carries the context an upload is tagged with.
type UploadOptions struct {
	ChatID string
	UserID string
	Group  bool
	Kind   domain.MediaKind
}

// Pipeline processes attachments and uploads them to object storage.
type Pipeline struct {
	storage remote.ObjectStorage
	cfg     config.Media
	logger  *zap.Logger
	now     func() time.Time
}

// NewPipeline creates a pipeline writing to storage with the given limits.
func NewPipeline(storage remote.ObjectStorage, cfg config.Media, logger *zap.Logger) *Pipeline {
	return &Pipeline{storage: storage, cfg: cfg, logger: logger, now: time.Now}
}

// Process applies the kind-specific processing policy and returns the file
// to upload. Files over the hard cap are rejected with ErrPayloadTooLarge
// before any processing or network traffic.
//
// Only images are transformed: above the compression threshold they are
// downscaled to the configured bounding box and re-encoded. Video, audio and
// plain files pass through unchanged; compressing them is an explicit
// non-feature for now, not an oversight.
func (p *Pipeline) Process(f File, kind domain.MediaKind) (File, error) {
	if f.Size > p.cfg.MaxUploadBytes {
		return File{}, fmt.Errorf("%w: %d bytes (max %d)", domain.ErrPayloadTooLarge, f.Size, p.cfg.MaxUploadBytes)
	}

	switch kind {
	case domain.KindImage:
		return p.processImage(f)
	default:
		return f, nil
	}
}

// Upload writes the processed file to object storage under the chat's media
// prefix and returns the resolved reference.
func (p *Pipeline) Upload(ctx context.Context, f File, opts UploadOptions) (string, error) {
	path := StoragePath(opts.ChatID, opts.Kind, p.fileName(f.Name))
	ref, err := p.storage.Upload(ctx, path, f.Data, remote.UploadMetadata{
		ContentType: f.ContentType,
		Custom: map[string]string{
			"userId":      opts.UserID,
			"messageType": string(opts.Kind),
			"isGroup":     fmt.Sprintf("%t", opts.Group),
		},
	})
	if err != nil {
		return "", &domain.TransportError{Op: "upload " + path, Err: err}
	}
	p.logger.Info("attachment uploaded",
		zap.String("chat_id", opts.ChatID),
		zap.String("kind", string(opts.Kind)),
		zap.String("path", path),
		zap.Int("bytes", len(f.Data)),
	)
	return ref, nil
}

// ProcessAndUpload runs the full pipeline for one attachment.
func (p *Pipeline) ProcessAndUpload(ctx context.Context, f File, opts UploadOptions) (string, error) {
	processed, err := p.Process(f, opts.Kind)
	if err != nil {
		return "", err
	}
	return p.Upload(ctx, processed, opts)
}

// StoragePath is the canonical object path for chat media. The layout must
// stay exactly chats/{chatId}/{kind}s/{fileName} for interop with content
// already stored.
func StoragePath(chatID string, kind domain.MediaKind, fileName string) string {
	return fmt.Sprintf("chats/%s/%ss/%s", chatID, kind, fileName)
}

// fileName prefixes the original name with a millisecond timestamp so
// uploads within a chat cannot collide.
func (p *Pipeline) fileName(original string) string {
	if original == "" {
		original = "file"
	}
	return fmt.Sprintf("%d_%s", p.now().UnixMilli(), original)
}
