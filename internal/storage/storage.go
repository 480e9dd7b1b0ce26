// Package storage resolves attachment paths to bytes, from the local
// filesystem or from S3.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// MaxAttachmentBytes caps a single attachment.
const MaxAttachmentBytes int64 = 25 << 20

var (
	// ErrAttachmentTooLarge is returned for bodies over MaxAttachmentBytes.
	ErrAttachmentTooLarge = errors.New("attachment too large")
	// ErrOutsideRoot is returned for local paths escaping the allowed root.
	ErrOutsideRoot = errors.New("attachment path outside allowed root")
	// ErrNoS3 is returned for s3:// paths when no S3 loader is configured.
	ErrNoS3 = errors.New("s3 attachments not configured")
)

// Loader reads the bytes behind an attachment path.
type Loader interface {
	Load(ctx context.Context, path string) ([]byte, error)
}

// FileLoader reads local files. When Root is set, paths must resolve inside it.
type FileLoader struct {
	Root string
}

func (l FileLoader) Load(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	clean := filepath.Clean(path)
	if l.Root != "" {
		root, err := filepath.Abs(l.Root)
		if err != nil {
			return nil, err
		}
		if !filepath.IsAbs(clean) {
			clean = filepath.Join(root, clean)
		}
		rel, err := filepath.Rel(root, clean)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return nil, fmt.Errorf("%w: %s", ErrOutsideRoot, path)
		}
	}

	f, err := os.Open(clean)
	if err != nil {
		return nil, fmt.Errorf("open attachment: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxAttachmentBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read attachment: %w", err)
	}
	if int64(len(data)) > MaxAttachmentBytes {
		return nil, fmt.Errorf("%w: %s", ErrAttachmentTooLarge, path)
	}
	return data, nil
}

// Mux routes s3:// paths to S3 and everything else to Files.
type Mux struct {
	Files Loader
	S3    Loader
}

// NewMux builds a Mux. s3 may be nil.
func NewMux(files Loader, s3 Loader) *Mux {
	if files == nil {
		files = FileLoader{}
	}
	return &Mux{Files: files, S3: s3}
}

func (m *Mux) Load(ctx context.Context, path string) ([]byte, error) {
	if strings.HasPrefix(path, "s3://") {
		if m.S3 == nil {
			return nil, fmt.Errorf("%w: %s", ErrNoS3, path)
		}
		return m.S3.Load(ctx, path)
	}
	return m.Files.Load(ctx, path)
}
