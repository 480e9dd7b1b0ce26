package worker

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"

	"github.com/ignite/mailengine/internal/domain"
	"github.com/ignite/mailengine/internal/storage"
)

// EncodedAttachment is an attachment ready for a provider payload. Content
// is always standard base64.
type EncodedAttachment struct {
	Filename    string
	ContentType string
	Content     string
}

// EncodeAttachments resolves and base64-encodes attachments. Paths are read
// through loader; inline content is encoded unless it is marked base64,
// in which case it is passed through unchanged.
func EncodeAttachments(ctx context.Context, loader storage.Loader, atts []domain.Attachment) ([]EncodedAttachment, error) {
	if len(atts) == 0 {
		return nil, nil
	}
	out := make([]EncodedAttachment, 0, len(atts))
	for _, a := range atts {
		enc, err := encodeAttachment(ctx, loader, a)
		if err != nil {
			return nil, fmt.Errorf("attachment %s: %w", a.Filename, err)
		}
		out = append(out, enc)
	}
	return out, nil
}

func encodeAttachment(ctx context.Context, loader storage.Loader, a domain.Attachment) (EncodedAttachment, error) {
	var (
		raw     []byte
		encoded string
	)
	switch {
	case a.Path != "":
		if loader == nil {
			return EncodedAttachment{}, fmt.Errorf("no loader for path %s", a.Path)
		}
		data, err := loader.Load(ctx, a.Path)
		if err != nil {
			return EncodedAttachment{}, err
		}
		raw = data
		encoded = base64.StdEncoding.EncodeToString(data)
	case a.PreEncoded():
		encoded = a.Content
		if data, err := base64.StdEncoding.DecodeString(a.Content); err == nil {
			raw = data
		}
	default:
		raw = []byte(a.Content)
		encoded = base64.StdEncoding.EncodeToString(raw)
	}

	return EncodedAttachment{
		Filename:    a.Filename,
		ContentType: detectContentType(a, raw),
		Content:     encoded,
	}, nil
}

func detectContentType(a domain.Attachment, raw []byte) string {
	if a.ContentType != "" {
		return a.ContentType
	}
	if ext := filepath.Ext(a.Filename); ext != "" {
		if ct := mime.TypeByExtension(ext); ct != "" {
			return ct
		}
	}
	if raw != nil {
		return mimetype.Detect(raw).String()
	}
	return "application/octet-stream"
}
