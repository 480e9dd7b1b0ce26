package domain

import (
	"errors"
	"strings"

	"github.com/goccy/go-json"
)

// Recipients is a list of addresses. It decodes from either a single JSON
// string or an array of strings.
type Recipients []string

// UnmarshalJSON accepts "a@x.com" as well as ["a@x.com", "b@x.com"].
func (r *Recipients) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		if single == "" {
			*r = nil
			return nil
		}
		*r = Recipients{single}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return errors.New("recipients must be a string or an array of strings")
	}
	*r = Recipients(list)
	return nil
}

// String joins the recipients with ", ".
func (r Recipients) String() string {
	return strings.Join(r, ", ")
}

// Attachment is either a path (local file or s3://bucket/key) or inline
// content. Inline content with Encoding "base64" is already encoded.
type Attachment struct {
	Filename    string `json:"filename"`
	Path        string `json:"path,omitempty"`
	Content     string `json:"content,omitempty"`
	Encoding    string `json:"encoding,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// PreEncoded reports whether Content is already base64.
func (a Attachment) PreEncoded() bool {
	return strings.EqualFold(a.Encoding, "base64")
}

// EmailMessage is the logical message handed to the engine.
type EmailMessage struct {
	To          Recipients        `json:"to"`
	Subject     string            `json:"subject"`
	HTML        string            `json:"html"`
	Text        string            `json:"text,omitempty"`
	Attachments []Attachment      `json:"attachments,omitempty"`
	IsTestEmail bool              `json:"isTestEmail,omitempty"`
	ReplyTo     string            `json:"replyTo,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// Clone returns a deep copy. Mutating the copy never affects m.
func (m EmailMessage) Clone() EmailMessage {
	out := m
	if m.To != nil {
		out.To = append(Recipients(nil), m.To...)
	}
	if m.Attachments != nil {
		out.Attachments = append([]Attachment(nil), m.Attachments...)
	}
	if m.Headers != nil {
		out.Headers = make(map[string]string, len(m.Headers))
		for k, v := range m.Headers {
			out.Headers[k] = v
		}
	}
	return out
}

// Validate checks the message carries a recipient, a subject and a body.
func (m *EmailMessage) Validate() error {
	if len(m.To) == 0 {
		return errors.New("message has no recipients")
	}
	for _, to := range m.To {
		if !strings.Contains(to, "@") {
			return errors.New("invalid recipient address: " + to)
		}
	}
	if strings.TrimSpace(m.Subject) == "" {
		return errors.New("message has no subject")
	}
	if m.HTML == "" && m.Text == "" {
		return errors.New("message has no body")
	}
	for _, a := range m.Attachments {
		if a.Filename == "" {
			return errors.New("attachment missing filename")
		}
		if a.Path == "" && a.Content == "" {
			return errors.New("attachment " + a.Filename + " has neither path nor content")
		}
	}
	return nil
}
