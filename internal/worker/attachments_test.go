package worker

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/mailengine/internal/domain"
	"github.com/ignite/mailengine/internal/storage"
)

func TestEncodeAttachments_PreEncodedPassesThrough(t *testing.T) {
	already := base64.StdEncoding.EncodeToString([]byte("%PDF-1.4 report"))

	out, err := EncodeAttachments(context.Background(), nil, []domain.Attachment{
		{Filename: "report.pdf", Content: already, Encoding: "base64"},
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, already, out[0].Content)
	assert.Equal(t, "application/pdf", out[0].ContentType)
}

func TestEncodeAttachments_RawEncodedOnce(t *testing.T) {
	out, err := EncodeAttachments(context.Background(), nil, []domain.Attachment{
		{Filename: "notes.txt", Content: "hello world"},
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("hello world")), out[0].Content)

	decoded, err := base64.StdEncoding.DecodeString(out[0].Content)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(decoded))
	assert.True(t, strings.HasPrefix(out[0].ContentType, "text/plain"))
}

func TestEncodeAttachments_FromPath(t *testing.T) {
	dir := t.TempDir()
	png := []byte("\x89PNG\r\n\x1a\n0000IHDR")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "logo"), png, 0o600))

	out, err := EncodeAttachments(context.Background(), storage.FileLoader{Root: dir}, []domain.Attachment{
		{Filename: "logo", Path: "logo"},
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, base64.StdEncoding.EncodeToString(png), out[0].Content)
	assert.Equal(t, "image/png", out[0].ContentType)
}

func TestEncodeAttachments_PathWithoutLoader(t *testing.T) {
	_, err := EncodeAttachments(context.Background(), nil, []domain.Attachment{
		{Filename: "a.txt", Path: "/tmp/a.txt"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a.txt")
}

func TestEncodeAttachments_ExplicitContentType(t *testing.T) {
	out, err := EncodeAttachments(context.Background(), nil, []domain.Attachment{
		{Filename: "data.bin", Content: "x", ContentType: "application/x-custom"},
	})
	require.NoError(t, err)
	assert.Equal(t, "application/x-custom", out[0].ContentType)
}

func TestEncodeAttachments_Empty(t *testing.T) {
	out, err := EncodeAttachments(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Nil(t, out)
}
