// ABOUTME: Best-effort notification delivery to an external webhook
// ABOUTME: Truncates oversized message text and known fields inside caller data

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// truncationSuffix marks text that was cut to fit the configured limit.
const truncationSuffix = "… [truncated]"

// dataTextFields are the keys inside caller-supplied data that get the
// same truncation treatment as the top-level message.
var dataTextFields = []string{"human_response", "response", "message", "text"}

var webhookIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{6,128}$`)

// Notification is an outbound notification payload. Data is optional
// raw JSON forwarded alongside the message.
type Notification struct {
	Title   string
	Message string
	Level   string
	Data    json.RawMessage
}

// Result reports what was delivered, including which fields were
// truncated to fit the text limit.
type Result struct {
	WebhookURL      string
	Truncated       bool
	TruncatedFields []string
}

// Forwarder performs one-shot webhook deliveries. Delivery failure never
// affects engine state; the error is simply reported to the caller.
type Forwarder struct {
	webhookURL   string
	textMaxChars int
	client       *http.Client
	logger       *slog.Logger
}

// New creates a Forwarder posting to the given webhook URL.
func New(webhookURL string, textMaxChars int, logger *slog.Logger) *Forwarder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Forwarder{
		webhookURL:   webhookURL,
		textMaxChars: textMaxChars,
		client:       &http.Client{Timeout: 10 * time.Second},
		logger:       logger.With("component", "notify"),
	}
}

// ValidWebhookID reports whether an id is acceptable for building a
// webhook URL.
func ValidWebhookID(id string) bool {
	return webhookIDPattern.MatchString(id)
}

// Forward delivers a notification to the configured webhook. The message
// and the known text fields inside Data are truncated to the configured
// limit before delivery.
func (f *Forwarder) Forward(ctx context.Context, n Notification) (Result, error) {
	if f.webhookURL == "" {
		return Result{}, fmt.Errorf("no webhook configured")
	}
	if strings.TrimSpace(n.Message) == "" {
		return Result{}, fmt.Errorf("message is required")
	}

	title := strings.TrimSpace(n.Title)
	if title == "" {
		title = "Funis"
	}
	level := strings.TrimSpace(n.Level)
	if level == "" {
		level = "info"
	}

	result := Result{WebhookURL: f.webhookURL}

	message, cut := Truncate(strings.TrimSpace(n.Message), f.textMaxChars)
	if cut {
		result.TruncatedFields = append(result.TruncatedFields, "message")
	}

	payload := map[string]any{
		"title":   title,
		"message": message,
		"level":   level,
	}

	if len(n.Data) > 0 {
		sanitized, cutFields, err := sanitizeData(n.Data, f.textMaxChars)
		if err != nil {
			return Result{}, fmt.Errorf("invalid data payload: %w", err)
		}
		payload["data"] = json.RawMessage(sanitized)
		result.TruncatedFields = append(result.TruncatedFields, cutFields...)
	}

	result.Truncated = len(result.TruncatedFields) > 0

	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("encoding notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.webhookURL, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		f.logger.Warn("webhook delivery failed", "error", err)
		return Result{}, fmt.Errorf("webhook unreachable: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		f.logger.Warn("webhook returned non-2xx", "status", resp.StatusCode)
		return Result{}, fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}

	f.logger.Debug("notification forwarded",
		"level", level,
		"truncated", result.Truncated)
	return result, nil
}

// Truncate cuts a string to at most maxChars characters, replacing the
// tail with an explicit truncation marker. maxChars <= 0 disables
// truncation.
func Truncate(s string, maxChars int) (string, bool) {
	if maxChars <= 0 {
		return s, false
	}
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s, false
	}
	keep := maxChars - len([]rune(truncationSuffix))
	if keep < 0 {
		keep = 0
	}
	return string(runes[:keep]) + truncationSuffix, true
}

// sanitizeData truncates the known text fields inside a caller-supplied
// JSON object, leaving everything else untouched. Returns the rewritten
// JSON and the list of fields that were cut.
func sanitizeData(data json.RawMessage, maxChars int) ([]byte, []string, error) {
	if !gjson.ValidBytes(data) {
		return nil, nil, fmt.Errorf("data is not valid JSON")
	}

	out := []byte(data)
	var cut []string
	for _, field := range dataTextFields {
		val := gjson.GetBytes(out, field)
		if val.Type != gjson.String {
			continue
		}
		truncated, changed := Truncate(val.String(), maxChars)
		if !changed {
			continue
		}
		rewritten, err := sjson.SetBytes(out, field, truncated)
		if err != nil {
			return nil, nil, fmt.Errorf("rewriting %s: %w", field, err)
		}
		out = rewritten
		cut = append(cut, "data."+field)
	}
	return out, cut, nil
}
