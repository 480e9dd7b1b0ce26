package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func captureLogger(t *testing.T, level Level) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := Default()
	SetDefault(New(level, zapcore.AddSync(&buf)))
	t.Cleanup(func() { SetDefault(prev) })
	return &buf
}

func TestRedactEmail(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"john.doe@example.com", "jo***@example.com"},
		{"ab@example.com", "***@example.com"},
		{"not-an-email", "***@***"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RedactEmail(tt.in))
	}
}

func TestRedactEmails(t *testing.T) {
	assert.Equal(t, "al***@x.com,***@y.com", RedactEmails([]string{"alice@x.com", "bo@y.com"}))
}

func TestInfo_WritesJSONWithRedaction(t *testing.T) {
	buf := captureLogger(t, INFO)

	Info("[Test] sent", "to", "alice@example.com", "count", 3)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "[Test] sent", entry["msg"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "al***@example.com", entry["to"])
	assert.Equal(t, "3", entry["count"])
}

func TestDebug_FilteredBelowLevel(t *testing.T) {
	buf := captureLogger(t, INFO)
	Debug("hidden")
	assert.Empty(t, buf.String())

	SetLevel(DEBUG)
	Debug("visible")
	assert.True(t, strings.Contains(buf.String(), "visible"))
}

func TestSetRedactPII_Disabled(t *testing.T) {
	buf := captureLogger(t, INFO)
	SetRedactPII(false)

	Warn("plain", "email", "alice@example.com")
	assert.Contains(t, buf.String(), "alice@example.com")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("debug"))
	assert.Equal(t, WARN, ParseLevel("WARNING"))
	assert.Equal(t, ERROR, ParseLevel("error"))
	assert.Equal(t, INFO, ParseLevel("bogus"))
}
