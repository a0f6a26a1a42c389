// ABOUTME: HTTP API handlers for the client-facing gateway surface
// ABOUTME: Typed request/response structs; relay errors mapped to stable JSON bodies

package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/velox-home/funis-gateway/internal/notify"
	"github.com/velox-home/funis-gateway/internal/relay"
	"github.com/velox-home/funis-gateway/internal/store"
	"github.com/velox-home/funis-gateway/internal/threadcache"
	"github.com/velox-home/funis-gateway/internal/turns"
)

// ThreadResponse is the JSON shape of one thread in list responses.
type ThreadResponse struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
	Pinned    bool   `json:"pinned"`
	Archived  bool   `json:"archived"`
}

// ListThreadsResponse is the JSON response for GET /api/threads.
type ListThreadsResponse struct {
	Threads   []ThreadResponse `json:"threads"`
	Stale     bool             `json:"stale"`
	FetchedAt string           `json:"fetched_at"`
}

// ResolveRequest is the JSON request body for POST /api/conversations/resolve.
type ResolveRequest struct {
	ExternalID string `json:"external_id"`
}

// ResolveResponse is the JSON response for conversation resolution.
type ResolveResponse struct {
	ExternalID string `json:"external_id"`
	ThreadID   string `json:"thread_id"`
}

// MessageResponse is the JSON shape of one relay message.
type MessageResponse struct {
	ID     string `json:"id"`
	Role   string `json:"role"`
	Text   string `json:"text"`
	Cursor int64  `json:"cursor"`
}

// PollResponse is the JSON response for GET /api/threads/{id}/messages.
type PollResponse struct {
	ThreadID   string            `json:"thread_id"`
	Messages   []MessageResponse `json:"messages"`
	NextCursor int64             `json:"next_cursor"`
}

// SubmitTurnRequest is the JSON request body for POST /api/threads/{id}/turns.
// Wait and the timings default from configuration when omitted.
type SubmitTurnRequest struct {
	Text         string `json:"text"`
	Wait         *bool  `json:"wait,omitempty"`
	WaitTimeout  string `json:"wait_timeout,omitempty"`
	PollInterval string `json:"poll_interval,omitempty"`
}

// TurnMessageResponse is the JSON shape of a submission attempt's lifecycle.
type TurnMessageResponse struct {
	ID        string `json:"id"`
	ThreadID  string `json:"thread_id"`
	Lifecycle string `json:"lifecycle"`
	Text      string `json:"text"`
	ReplyText string `json:"reply_text,omitempty"`
	UpdatedAt string `json:"updated_at"`
}

// ArchiveRequest is the JSON request body for POST /api/threads/{id}/archive.
// Archived defaults to true; false unarchives.
type ArchiveRequest struct {
	Archived *bool `json:"archived"`
}

// MappingResponse is the JSON shape of one conversation mapping.
type MappingResponse struct {
	ExternalID string `json:"external_id"`
	ThreadID   string `json:"thread_id"`
	CreatedAt  string `json:"created_at"`
}

// ListConversationsResponse is the JSON response for GET /api/conversations.
type ListConversationsResponse struct {
	Conversations []MappingResponse `json:"conversations"`
}

// NotifyRequest is the JSON request body for POST /api/notify.
type NotifyRequest struct {
	Title   string          `json:"title,omitempty"`
	Message string          `json:"message"`
	Level   string          `json:"level,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// NotifyResponse is the JSON response for POST /api/notify.
type NotifyResponse struct {
	OK              bool     `json:"ok"`
	Truncated       bool     `json:"truncated"`
	TruncatedFields []string `json:"truncated_fields,omitempty"`
}

// handleHealth handles GET /api/health.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	relayErr := g.relay.Health(r.Context())
	g.writeJSON(w, http.StatusOK, map[string]any{
		"ok":       relayErr == nil,
		"relay_ok": relayErr == nil,
	})
}

// handleDiagnostics handles GET /api/diagnostics. The relay token itself
// is never echoed, only whether one is configured.
func (g *Gateway) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	relayErr := g.relay.Health(r.Context())
	body := map[string]any{
		"ok":                  relayErr == nil,
		"relay_url":           g.config.Relay.URL,
		"relay_token_present": g.config.Relay.Token != "",
		"default_wait":        g.config.Turns.DefaultWait,
		"wait_timeout":        g.config.Turns.WaitTimeout.String(),
		"poll_interval":       g.config.Turns.PollInterval.String(),
		"thread_ttl":          g.config.Cache.ThreadTTL.String(),
	}
	if relayErr != nil {
		body["relay_error"] = "relay unavailable"
	}
	g.writeJSON(w, http.StatusOK, body)
}

// handleListThreads handles GET /api/threads.
func (g *Gateway) handleListThreads(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	force := r.URL.Query().Get("refresh") == "true"
	snap, err := g.cache.ListThreads(r.Context(), force)
	if err != nil {
		if errors.Is(err, threadcache.ErrUpstreamUnavailable) {
			g.sendJSONError(w, http.StatusBadGateway, "relay unavailable")
			return
		}
		g.logger.Error("thread list failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := ListThreadsResponse{
		Threads:   make([]ThreadResponse, 0, len(snap.Threads)),
		Stale:     snap.Stale,
		FetchedAt: snap.FetchedAt.UTC().Format(time.RFC3339),
	}
	for _, t := range snap.Threads {
		resp.Threads = append(resp.Threads, ThreadResponse{
			ID:        t.ID,
			Title:     t.Title,
			CreatedAt: t.CreatedAt,
			UpdatedAt: t.UpdatedAt,
			Pinned:    t.Pinned,
			Archived:  t.Archived,
		})
	}
	g.writeJSON(w, http.StatusOK, resp)
}

// handleThreadRoutes dispatches /api/threads/{id}/messages and
// /api/threads/{id}/turns.
func (g *Gateway) handleThreadRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/threads/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" {
		g.sendJSONError(w, http.StatusNotFound, "not found")
		return
	}
	threadID := parts[0]

	switch parts[1] {
	case "messages":
		g.handlePollThread(w, r, threadID)
	case "turns":
		g.handleSubmitTurn(w, r, threadID)
	case "archive":
		g.handleArchiveThread(w, r, threadID)
	case "conversation":
		g.handleThreadConversation(w, r, threadID)
	default:
		g.sendJSONError(w, http.StatusNotFound, "not found")
	}
}

// handlePollThread handles GET /api/threads/{id}/messages?after=<cursor>.
func (g *Gateway) handlePollThread(w http.ResponseWriter, r *http.Request, threadID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var after int64
	if raw := r.URL.Query().Get("after"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			g.sendJSONError(w, http.StatusBadRequest, "invalid after cursor")
			return
		}
		after = parsed
	}

	delta, err := g.poller.FetchDelta(r.Context(), threadID, after)
	if err != nil {
		g.sendJSONError(w, http.StatusBadGateway, "poll failed")
		return
	}

	resp := PollResponse{
		ThreadID:   threadID,
		Messages:   make([]MessageResponse, 0, len(delta.Messages)),
		NextCursor: delta.Cursor,
	}
	for _, m := range delta.Messages {
		resp.Messages = append(resp.Messages, MessageResponse{
			ID:     m.ID,
			Role:   m.Role,
			Text:   m.Text,
			Cursor: m.Cursor,
		})
	}
	g.writeJSON(w, http.StatusOK, resp)
}

// handleSubmitTurn handles POST /api/threads/{id}/turns.
func (g *Gateway) handleSubmitTurn(w http.ResponseWriter, r *http.Request, threadID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	req, err := parseSubmitTurnRequest(r.Body)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	opts, err := g.turnOptions(req)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	msg, err := g.turns.SubmitTurn(r.Context(), threadID, req.Text, opts)
	if err != nil && msg == nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	// A failed submission still returns the lifecycle message so clients
	// can drive retry UI from the failed state.
	g.writeJSON(w, http.StatusOK, turnMessageResponse(msg))
}

// turnOptions merges request overrides with configured defaults.
func (g *Gateway) turnOptions(req *SubmitTurnRequest) (turns.Options, error) {
	opts := turns.Options{
		Wait:         g.config.Turns.DefaultWait,
		Timeout:      g.config.Turns.WaitTimeout,
		PollInterval: g.config.Turns.PollInterval,
	}
	if req.Wait != nil {
		opts.Wait = *req.Wait
	}
	if req.WaitTimeout != "" {
		d, err := time.ParseDuration(req.WaitTimeout)
		if err != nil || d <= 0 {
			return opts, errors.New("invalid wait_timeout")
		}
		opts.Timeout = d
	}
	if req.PollInterval != "" {
		d, err := time.ParseDuration(req.PollInterval)
		if err != nil || d <= 0 {
			return opts, errors.New("invalid poll_interval")
		}
		opts.PollInterval = d
	}
	return opts, nil
}

// handleArchiveThread handles POST /api/threads/{id}/archive. An empty
// body archives; {"archived": false} unarchives.
func (g *Gateway) handleArchiveThread(w http.ResponseWriter, r *http.Request, threadID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	archived := true
	var req ArchiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Archived != nil {
		archived = *req.Archived
	}

	if err := g.relay.SetArchived(r.Context(), threadID, archived); err != nil {
		g.logger.Error("thread archive failed",
			"thread_id", threadID,
			"archived", archived,
			"error", err)
		g.sendJSONError(w, http.StatusBadGateway, "relay unavailable")
		return
	}

	// The flag changed upstream; expire the snapshot so the next list
	// reflects it instead of waiting out the TTL.
	g.cache.Invalidate()

	g.writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"archived": archived,
	})
}

// handleThreadConversation handles GET /api/threads/{id}/conversation,
// the reverse of conversation lookup.
func (g *Gateway) handleThreadConversation(w http.ResponseWriter, r *http.Request, threadID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	externalID, err := g.mapper.LookupByThread(r.Context(), threadID)
	if errors.Is(err, store.ErrNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "no conversation for thread")
		return
	}
	if err != nil {
		g.logger.Error("thread conversation lookup failed", "thread_id", threadID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	g.writeJSON(w, http.StatusOK, ResolveResponse{ExternalID: externalID, ThreadID: threadID})
}

// handleListConversations handles GET /api/conversations?limit=<n>.
func (g *Gateway) handleListConversations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			g.sendJSONError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	mappings, err := g.mapper.List(r.Context(), limit)
	if err != nil {
		g.logger.Error("conversation list failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := ListConversationsResponse{
		Conversations: make([]MappingResponse, 0, len(mappings)),
	}
	for _, m := range mappings {
		resp.Conversations = append(resp.Conversations, MappingResponse{
			ExternalID: m.ExternalID,
			ThreadID:   m.ThreadID,
			CreatedAt:  m.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	g.writeJSON(w, http.StatusOK, resp)
}

// handleResolveConversation handles POST /api/conversations/resolve.
func (g *Gateway) handleResolveConversation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ExternalID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "external_id is required")
		return
	}

	threadID, created, err := g.mapper.Resolve(r.Context(), req.ExternalID)
	if err != nil {
		g.logger.Error("conversation resolve failed",
			"external_id", req.ExternalID,
			"error", err)
		g.sendJSONError(w, http.StatusBadGateway, "relay unavailable")
		return
	}

	// Seed the cache so the new thread shows up in list responses before
	// the relay's own list reflects it.
	if created {
		now := time.Now().UnixMilli()
		g.cache.NoteCreated(relay.Thread{ID: threadID, CreatedAt: now, UpdatedAt: now})
	}

	g.writeJSON(w, http.StatusOK, ResolveResponse{
		ExternalID: req.ExternalID,
		ThreadID:   threadID,
	})
}

// handleLookupConversation handles GET and DELETE on
// /api/conversations/{externalID}.
func (g *Gateway) handleLookupConversation(w http.ResponseWriter, r *http.Request) {
	externalID := strings.TrimPrefix(r.URL.Path, "/api/conversations/")
	if externalID == "" || strings.Contains(externalID, "/") {
		g.sendJSONError(w, http.StatusNotFound, "not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		threadID, err := g.mapper.Lookup(r.Context(), externalID)
		if errors.Is(err, store.ErrNotFound) {
			g.sendJSONError(w, http.StatusNotFound, "no mapping for conversation")
			return
		}
		if err != nil {
			g.logger.Error("conversation lookup failed", "external_id", externalID, "error", err)
			g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		g.writeJSON(w, http.StatusOK, ResolveResponse{ExternalID: externalID, ThreadID: threadID})

	case http.MethodDelete:
		err := g.mapper.Reset(r.Context(), externalID)
		if errors.Is(err, store.ErrNotFound) {
			g.sendJSONError(w, http.StatusNotFound, "no mapping for conversation")
			return
		}
		if err != nil {
			g.logger.Error("conversation reset failed", "external_id", externalID, "error", err)
			g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		g.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleMessageStatus handles GET /api/messages/{id}.
func (g *Gateway) handleMessageStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	messageID := strings.TrimPrefix(r.URL.Path, "/api/messages/")
	if messageID == "" || strings.Contains(messageID, "/") {
		g.sendJSONError(w, http.StatusNotFound, "not found")
		return
	}

	msg, ok := g.turns.Status(messageID)
	if !ok {
		g.sendJSONError(w, http.StatusNotFound, "unknown message")
		return
	}
	g.writeJSON(w, http.StatusOK, turnMessageResponse(msg))
}

// handleNotify handles POST /api/notify.
func (g *Gateway) handleNotify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req NotifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		g.sendJSONError(w, http.StatusBadRequest, "message is required")
		return
	}

	result, err := g.forwarder.Forward(r.Context(), notify.Notification{
		Title:   req.Title,
		Message: req.Message,
		Level:   req.Level,
		Data:    req.Data,
	})
	if err != nil {
		g.logger.Warn("notify delivery failed", "error", err)
		g.sendJSONError(w, http.StatusBadGateway, "notification delivery failed")
		return
	}

	g.writeJSON(w, http.StatusOK, NotifyResponse{
		OK:              true,
		Truncated:       result.Truncated,
		TruncatedFields: result.TruncatedFields,
	})
}

// parseSubmitTurnRequest parses and validates a SubmitTurnRequest from
// the given reader.
func parseSubmitTurnRequest(r io.Reader) (*SubmitTurnRequest, error) {
	var req SubmitTurnRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, errors.New("invalid JSON body")
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, errors.New("text is required")
	}
	return &req, nil
}

// turnMessageResponse converts a coordinator message to its JSON shape.
func turnMessageResponse(msg *turns.Message) TurnMessageResponse {
	return TurnMessageResponse{
		ID:        msg.ID,
		ThreadID:  msg.ThreadID,
		Lifecycle: msg.Lifecycle,
		Text:      msg.Text,
		ReplyText: msg.ReplyText,
		UpdatedAt: msg.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// writeJSON writes a JSON response with the given status.
func (g *Gateway) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		g.logger.Error("failed to encode response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
