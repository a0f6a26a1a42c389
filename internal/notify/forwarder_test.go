// ABOUTME: Tests for the notification forwarder
// ABOUTME: Covers truncation, data sanitization, webhook delivery, and id validation

package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func captureWebhook(t *testing.T, status int) (*Forwarder, *[]byte) {
	t.Helper()
	var captured []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		captured = body
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return New(srv.URL, 200, nil), &captured
}

func TestForward_Delivers(t *testing.T) {
	f, captured := captureWebhook(t, http.StatusOK)

	result, err := f.Forward(context.Background(), Notification{
		Title:   "Build done",
		Message: "all green",
		Level:   "info",
	})
	require.NoError(t, err)
	assert.False(t, result.Truncated)

	payload := gjson.ParseBytes(*captured)
	assert.Equal(t, "Build done", payload.Get("title").String())
	assert.Equal(t, "all green", payload.Get("message").String())
	assert.Equal(t, "info", payload.Get("level").String())
}

func TestForward_DefaultsTitleAndLevel(t *testing.T) {
	f, captured := captureWebhook(t, http.StatusOK)

	_, err := f.Forward(context.Background(), Notification{Message: "hello"})
	require.NoError(t, err)

	payload := gjson.ParseBytes(*captured)
	assert.Equal(t, "Funis", payload.Get("title").String())
	assert.Equal(t, "info", payload.Get("level").String())
}

func TestForward_TruncatesLongMessage(t *testing.T) {
	f, captured := captureWebhook(t, http.StatusOK)

	long := strings.Repeat("x", 500)
	result, err := f.Forward(context.Background(), Notification{Message: long})
	require.NoError(t, err)

	assert.True(t, result.Truncated)
	assert.Contains(t, result.TruncatedFields, "message")

	sent := gjson.ParseBytes(*captured).Get("message").String()
	assert.Len(t, []rune(sent), 200)
	assert.True(t, strings.HasSuffix(sent, truncationSuffix))
}

func TestForward_TruncatesDataFields(t *testing.T) {
	f, captured := captureWebhook(t, http.StatusOK)

	long := strings.Repeat("y", 500)
	data, err := json.Marshal(map[string]any{
		"human_response": long,
		"count":          7,
		"text":           "short",
	})
	require.NoError(t, err)

	result, err := f.Forward(context.Background(), Notification{
		Message: "heads up",
		Data:    data,
	})
	require.NoError(t, err)

	assert.True(t, result.Truncated)
	assert.Contains(t, result.TruncatedFields, "data.human_response")
	assert.NotContains(t, result.TruncatedFields, "data.text")

	payload := gjson.ParseBytes(*captured)
	assert.True(t, strings.HasSuffix(payload.Get("data.human_response").String(), truncationSuffix))
	assert.Equal(t, "short", payload.Get("data.text").String())
	assert.Equal(t, int64(7), payload.Get("data.count").Int())
}

func TestForward_InvalidData(t *testing.T) {
	f, _ := captureWebhook(t, http.StatusOK)

	_, err := f.Forward(context.Background(), Notification{
		Message: "hello",
		Data:    json.RawMessage(`{not json`),
	})
	assert.Error(t, err)
}

func TestForward_EmptyMessage(t *testing.T) {
	f, _ := captureWebhook(t, http.StatusOK)

	_, err := f.Forward(context.Background(), Notification{Message: "   "})
	assert.Error(t, err)
}

func TestForward_NoWebhookConfigured(t *testing.T) {
	f := New("", 200, nil)

	_, err := f.Forward(context.Background(), Notification{Message: "hello"})
	assert.Error(t, err)
}

func TestForward_WebhookNon2xx(t *testing.T) {
	f, _ := captureWebhook(t, http.StatusInternalServerError)

	_, err := f.Forward(context.Background(), Notification{Message: "hello"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		maxChars int
		wantCut  bool
	}{
		{"under limit", "short", 100, false},
		{"exactly at limit", strings.Repeat("a", 100), 100, false},
		{"over limit", strings.Repeat("a", 101), 100, true},
		{"disabled", strings.Repeat("a", 1000), 0, false},
		{"multibyte runes", strings.Repeat("ü", 300), 200, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, cut := Truncate(tt.in, tt.maxChars)
			assert.Equal(t, tt.wantCut, cut)
			if cut {
				assert.Len(t, []rune(out), tt.maxChars)
				assert.True(t, strings.HasSuffix(out, truncationSuffix))
			} else {
				assert.Equal(t, tt.in, out)
			}
		})
	}
}

func TestValidWebhookID(t *testing.T) {
	assert.True(t, ValidWebhookID("velox_funis_webhook"))
	assert.True(t, ValidWebhookID("abc-123_XYZ"))
	assert.False(t, ValidWebhookID("short"))
	assert.False(t, ValidWebhookID(""))
	assert.False(t, ValidWebhookID("has spaces here"))
	assert.False(t, ValidWebhookID("bad/slash-chars"))
	assert.False(t, ValidWebhookID(strings.Repeat("a", 129)))
}
