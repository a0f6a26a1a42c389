// ABOUTME: Data types and client contract for the upstream conversational relay
// ABOUTME: Defines Thread, Message, TurnStatus and the Client interface consumed by the engine

package relay

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnreachable is returned when the relay cannot be reached at the transport level
var ErrUnreachable = errors.New("relay unreachable")

// StatusError is returned when the relay responds with a non-2xx status.
// Body holds an excerpt of the response body for diagnostics.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("relay returned HTTP %d: %s", e.Code, e.Body)
}

// Turn status values reported by the relay for a submitted turn.
const (
	TurnStatusPending   = "pending"
	TurnStatusCompleted = "completed"
	TurnStatusFailed    = "failed"
)

// Thread is the relay's view of a conversation thread.
// Timestamps are Unix milliseconds as reported by the relay.
type Thread struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
	Pinned    bool   `json:"pinned"`
	Archived  bool   `json:"archived"`
}

// Message is a single message within a relay thread. Cursor is the
// monotonic per-thread watermark used for delta fetches.
type Message struct {
	ID       string `json:"id"`
	ThreadID string `json:"thread_id"`
	Role     string `json:"role"` // user, assistant, system
	Text     string `json:"text"`
	Cursor   int64  `json:"cursor"`
}

// TurnStatus is the relay's view of a submitted turn's progress.
// ReplyText carries the assistant message once the turn has completed;
// it may still be empty for a completed turn whose reply has not
// materialized yet.
type TurnStatus struct {
	State     string
	ReplyText string
}

// Completed reports whether the turn has finished processing.
func (s TurnStatus) Completed() bool {
	return s.State == TurnStatusCompleted
}

// Client is the boundary to the upstream relay. All calls carry the
// configured bearer credential; callers never handle it directly.
type Client interface {
	ListThreads(ctx context.Context) ([]Thread, error)
	GetMessagesSince(ctx context.Context, threadID string, cursor int64) ([]Message, error)
	CreateThread(ctx context.Context) (string, error)
	SubmitTurn(ctx context.Context, threadID, text string) (string, error)
	GetTurnStatus(ctx context.Context, turnID string) (TurnStatus, error)
	SetArchived(ctx context.Context, threadID string, archived bool) error
	Health(ctx context.Context) error
}
