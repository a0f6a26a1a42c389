// ABOUTME: HTTP implementation of the relay Client with bearer authentication
// ABOUTME: Parses the relay's loosely shaped JSON responses tolerantly via gjson

package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// bodyExcerptLen caps how much of an error response body is kept for logs.
const bodyExcerptLen = 400

// HTTPClient talks to the relay over HTTP with a bearer token.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *slog.Logger
}

// NewHTTPClient creates a relay client for the given base URL. The token
// may be empty for unauthenticated relays (local development).
func NewHTTPClient(baseURL, token string, timeout time.Duration, logger *slog.Logger) *HTTPClient {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With("component", "relay"),
	}
}

// ListThreads fetches the full thread list from the relay.
func (c *HTTPClient) ListThreads(ctx context.Context) ([]Thread, error) {
	body, err := c.get(ctx, "/threads", nil)
	if err != nil {
		return nil, err
	}

	// The relay wraps the list in {"data": [...]} but some deployments
	// return a bare array. Accept both.
	rows := gjson.GetBytes(body, "data")
	if !rows.Exists() {
		rows = gjson.ParseBytes(body)
	}

	var threads []Thread
	rows.ForEach(func(_, row gjson.Result) bool {
		threads = append(threads, Thread{
			ID:        row.Get("id").String(),
			Title:     row.Get("title").String(),
			CreatedAt: row.Get("createdAt").Int(),
			UpdatedAt: row.Get("updatedAt").Int(),
			Pinned:    row.Get("pinned").Bool(),
			Archived:  row.Get("archived").Bool(),
		})
		return true
	})
	return threads, nil
}

// GetMessagesSince fetches messages for a thread with cursor strictly
// greater than the given cursor.
func (c *HTTPClient) GetMessagesSince(ctx context.Context, threadID string, cursor int64) ([]Message, error) {
	params := map[string]string{"after": strconv.FormatInt(cursor, 10)}
	body, err := c.get(ctx, "/threads/"+threadID+"/messages", params)
	if err != nil {
		return nil, err
	}

	rows := gjson.GetBytes(body, "data")
	if !rows.Exists() {
		rows = gjson.ParseBytes(body)
	}

	var messages []Message
	rows.ForEach(func(_, row gjson.Result) bool {
		messages = append(messages, Message{
			ID:       row.Get("id").String(),
			ThreadID: threadID,
			Role:     row.Get("role").String(),
			Text:     messageText(row),
			Cursor:   row.Get("cursor").Int(),
		})
		return true
	})
	return messages, nil
}

// CreateThread starts a new thread on the relay and returns its id.
func (c *HTTPClient) CreateThread(ctx context.Context) (string, error) {
	body, err := c.post(ctx, "/threads/start", map[string]any{})
	if err != nil {
		return "", err
	}

	id := gjson.GetBytes(body, "thread.id").String()
	if id == "" {
		id = gjson.GetBytes(body, "id").String()
	}
	if id == "" {
		return "", fmt.Errorf("thread/start did not return a thread id")
	}
	return id, nil
}

// SubmitTurn posts a user turn to a thread and returns the relay's turn id.
func (c *HTTPClient) SubmitTurn(ctx context.Context, threadID, text string) (string, error) {
	body, err := c.post(ctx, "/threads/"+threadID+"/turns", map[string]any{"text": text})
	if err != nil {
		return "", err
	}

	id := gjson.GetBytes(body, "turn.id").String()
	if id == "" {
		id = gjson.GetBytes(body, "turnId").String()
	}
	if id == "" {
		id = gjson.GetBytes(body, "id").String()
	}
	if id == "" {
		return "", fmt.Errorf("turn submission did not return a turn id")
	}
	return id, nil
}

// GetTurnStatus fetches the relay's view of a submitted turn. When the
// relay embeds the materialized thread, the assistant reply is extracted
// from the last agentMessage item.
func (c *HTTPClient) GetTurnStatus(ctx context.Context, turnID string) (TurnStatus, error) {
	body, err := c.get(ctx, "/turns/"+turnID, nil)
	if err != nil {
		return TurnStatus{}, err
	}

	state := gjson.GetBytes(body, "turn.status").String()
	if state == "" {
		state = gjson.GetBytes(body, "status").String()
	}
	if state == "" {
		state = TurnStatusPending
	}

	return TurnStatus{
		State:     normalizeTurnState(state),
		ReplyText: lastAgentMessage(body),
	}, nil
}

// SetArchived flips a thread's archived flag. The relay exposes archive
// and unarchive as rpc methods rather than dedicated endpoints.
func (c *HTTPClient) SetArchived(ctx context.Context, threadID string, archived bool) error {
	method := "thread/unarchive"
	if archived {
		method = "thread/archive"
	}
	_, err := c.post(ctx, "/rpc", map[string]any{
		"method": method,
		"params": map[string]any{"threadId": threadID},
	})
	return err
}

// Health checks relay reachability.
func (c *HTTPClient) Health(ctx context.Context) error {
	_, err := c.get(ctx, "/health", nil)
	return err
}

// normalizeTurnState folds relay status vocabulary variants onto the
// three states the engine cares about.
func normalizeTurnState(s string) string {
	switch strings.ToLower(s) {
	case "completed", "complete", "done":
		return TurnStatusCompleted
	case "failed", "error", "cancelled":
		return TurnStatusFailed
	default:
		return TurnStatusPending
	}
}

// messageText returns a row's text, falling back to joined content chunks
// for relay shapes that split message text into parts.
func messageText(row gjson.Result) string {
	if text := row.Get("text").String(); strings.TrimSpace(text) != "" {
		return text
	}
	var parts []string
	row.Get("content").ForEach(func(_, chunk gjson.Result) bool {
		if t := chunk.Get("text").String(); t != "" {
			parts = append(parts, t)
		}
		return true
	})
	return strings.Join(parts, "\n")
}

// lastAgentMessage walks a thread-read payload for the most recent
// agentMessage item. Some relay flows mark a turn completed before the
// agent text materializes, so an empty result is expected and callers
// fall back to a delta fetch.
func lastAgentMessage(body []byte) string {
	root := gjson.ParseBytes(body)
	thread := root.Get("threadRead.thread")
	if !thread.Exists() {
		thread = root.Get("thread")
	}
	turns := thread.Get("turns").Array()
	for i := len(turns) - 1; i >= 0; i-- {
		items := turns[i].Get("items").Array()
		for j := len(items) - 1; j >= 0; j-- {
			item := items[j]
			if item.Get("type").String() != "agentMessage" {
				continue
			}
			if text := strings.TrimSpace(messageText(item)); text != "" {
				return text
			}
		}
	}
	return ""
}

// get performs an authenticated GET and returns the response body.
func (c *HTTPClient) get(ctx context.Context, path string, params map[string]string) ([]byte, error) {
	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if len(params) > 0 {
		q := req.URL.Query()
		for k, v := range params {
			q.Set(k, v)
		}
		req.URL.RawQuery = q.Encode()
	}
	return c.do(req)
}

// post performs an authenticated POST with a JSON body.
func (c *HTTPClient) post(ctx context.Context, path string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	return c.do(req)
}

func (c *HTTPClient) do(req *http.Request) ([]byte, error) {
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("relay request failed",
			"method", req.Method,
			"url", req.URL.Path,
			"error", err)
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrUnreachable, err)
	}

	if resp.StatusCode >= 400 {
		excerpt := string(body)
		if len(excerpt) > bodyExcerptLen {
			excerpt = excerpt[:bodyExcerptLen]
		}
		c.logger.Warn("relay returned non-2xx",
			"method", req.Method,
			"url", req.URL.Path,
			"status", resp.StatusCode,
			"body", excerpt)
		return nil, &StatusError{Code: resp.StatusCode, Body: excerpt}
	}

	return body, nil
}
