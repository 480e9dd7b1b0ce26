package worker

import (
	"bytes"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatFrom(t *testing.T) {
	assert.Equal(t, `"Acme Support" <support@acme.io>`, FormatFrom("Acme Support", "support@acme.io"))
	assert.Equal(t, "support@acme.io", FormatFrom("", "support@acme.io"))
}

func TestNewMessageID_UsesSenderDomain(t *testing.T) {
	id := NewMessageID("ops@acme.io")
	assert.True(t, strings.HasSuffix(id, "@acme.io"))
	assert.NotEqual(t, id, NewMessageID("ops@acme.io"))
}

func TestBuildMIME_Alternative(t *testing.T) {
	raw := BuildMIME(MIMEInput{
		From:      FormatFrom("Acme", "ops@acme.io"),
		To:        []string{"a@x.com", "b@x.com"},
		Subject:   "Héllo",
		HTML:      "<p>Hi</p>",
		Text:      "Hi",
		MessageID: "abc@acme.io",
		Headers:   map[string]string{"X-Campaign": "spring\r\nBcc: evil@x.com"},
		Date:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	})

	m, err := mail.ReadMessage(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, `"Acme" <ops@acme.io>`, m.Header.Get("From"))
	assert.Equal(t, "a@x.com, b@x.com", m.Header.Get("To"))
	assert.Equal(t, "<abc@acme.io>", m.Header.Get("Message-ID"))
	assert.Equal(t, "springBcc: evil@x.com", m.Header.Get("X-Campaign"))
	assert.Empty(t, m.Header.Get("Bcc"))

	dec := new(mime.WordDecoder)
	subject, err := dec.DecodeHeader(m.Header.Get("Subject"))
	require.NoError(t, err)
	assert.Equal(t, "Héllo", subject)

	mediaType, params, err := mime.ParseMediaType(m.Header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/alternative", mediaType)

	mr := multipart.NewReader(m.Body, params["boundary"])
	var types []string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		types = append(types, p.Header.Get("Content-Type"))
	}
	assert.Equal(t, []string{"text/plain; charset=UTF-8", "text/html; charset=UTF-8"}, types)
}

func TestBuildMIME_MixedWithAttachment(t *testing.T) {
	raw := BuildMIME(MIMEInput{
		From:      "ops@acme.io",
		To:        []string{"a@x.com"},
		Subject:   "Report",
		HTML:      "<p>See attached</p>",
		MessageID: "id@acme.io",
		Attachments: []EncodedAttachment{
			{Filename: "r.txt", ContentType: "text/plain", Content: strings.Repeat("QUJD", 40)},
		},
	})

	m, err := mail.ReadMessage(bytes.NewReader(raw))
	require.NoError(t, err)
	mediaType, params, err := mime.ParseMediaType(m.Header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/mixed", mediaType)

	mr := multipart.NewReader(m.Body, params["boundary"])
	first, err := mr.NextPart()
	require.NoError(t, err)
	assert.Contains(t, first.Header.Get("Content-Type"), "multipart/alternative")

	att, err := mr.NextPart()
	require.NoError(t, err)
	assert.Equal(t, "base64", att.Header.Get("Content-Transfer-Encoding"))
	body, err := io.ReadAll(att)
	require.NoError(t, err)
	for _, line := range strings.Split(strings.TrimSpace(string(body)), "\r\n") {
		assert.LessOrEqual(t, len(line), 76)
	}

	_, err = mr.NextPart()
	assert.Equal(t, io.EOF, err)
}
