// ABOUTME: Turn submission and wait-for-completion protocol against the relay
// ABOUTME: Drives the pending/sent/complete/failed/timedOut message lifecycle

package turns

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/velox-home/funis-gateway/internal/poller"
	"github.com/velox-home/funis-gateway/internal/relay"
)

// Lifecycle states for a locally submitted message.
const (
	LifecyclePending  = "pending"
	LifecycleSent     = "sent"
	LifecycleComplete = "complete"
	LifecycleFailed   = "failed"
	LifecycleTimedOut = "timedOut"
)

// TurnRelay defines what the coordinator needs from the relay
type TurnRelay interface {
	SubmitTurn(ctx context.Context, threadID, text string) (string, error)
	GetTurnStatus(ctx context.Context, turnID string) (relay.TurnStatus, error)
}

// DeltaFetcher recovers the assistant reply body when the relay reports a
// turn completed without materialized reply text.
type DeltaFetcher interface {
	FetchDelta(ctx context.Context, threadID string, afterCursor int64) (poller.Delta, error)
}

// Message is the coordinator's view of one submission attempt. A failed
// or timed-out attempt is terminal for the attempt, not for the thread;
// retry means a new SubmitTurn call with a new id.
type Message struct {
	ID          string
	ThreadID    string
	TurnID      string
	Text        string
	ReplyText   string
	Lifecycle   string
	SubmittedAt time.Time
	UpdatedAt   time.Time
}

// Options controls one submission. Zero durations fall back to the
// coordinator's configured defaults.
type Options struct {
	Wait         bool
	Timeout      time.Duration
	PollInterval time.Duration
}

// Defaults holds the configured fallback timings for submissions. The
// wait default is a transport concern and is resolved by the caller
// before Options reaches the coordinator.
type Defaults struct {
	Timeout      time.Duration
	PollInterval time.Duration
}

// Coordinator submits turns and tracks their lifecycle in an in-memory
// registry observable by later status polls from any consumer.
type Coordinator struct {
	relay    TurnRelay
	delta    DeltaFetcher
	defaults Defaults
	logger   *slog.Logger

	registry *registry
}

// New creates a Coordinator with the given relay boundary and defaults.
func New(turnRelay TurnRelay, delta DeltaFetcher, defaults Defaults, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		relay:    turnRelay,
		delta:    delta,
		defaults: defaults,
		logger:   logger.With("component", "turns"),
		registry: newRegistry(),
	}
}

// SubmitTurn submits a user turn to a thread. The returned message is a
// snapshot; its lifecycle keeps evolving in the registry.
//
// With Wait true the call blocks until the relay reports completion or
// the timeout elapses. At least one status observation happens even when
// the poll interval exceeds the timeout. With Wait false the call
// returns after submission and a background watcher resolves the
// lifecycle for later status polls.
//
// A submission failure marks the message failed immediately and returns
// the wrapped relay error alongside the snapshot; the wait loop is never
// entered.
func (c *Coordinator) SubmitTurn(ctx context.Context, threadID, text string, opts Options) (*Message, error) {
	if threadID == "" {
		return nil, fmt.Errorf("thread id is required")
	}
	if text == "" {
		return nil, fmt.Errorf("text is required")
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.defaults.Timeout
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = c.defaults.PollInterval
	}

	// Record the attempt before any network call so status polls can
	// observe it from the start.
	msg := &Message{
		ID:          uuid.New().String(),
		ThreadID:    threadID,
		Text:        text,
		Lifecycle:   LifecyclePending,
		SubmittedAt: time.Now(),
		UpdatedAt:   time.Now(),
	}
	c.registry.put(msg)

	turnID, err := c.relay.SubmitTurn(ctx, threadID, text)
	if err != nil {
		c.registry.transition(msg.ID, LifecycleFailed, "")
		c.logger.Warn("turn submission failed",
			"thread_id", threadID,
			"message_id", msg.ID,
			"error", err)
		snapshot, _ := c.registry.get(msg.ID)
		return snapshot, fmt.Errorf("submitting turn: %w", err)
	}

	c.registry.setSent(msg.ID, turnID)
	c.logger.Debug("turn submitted",
		"thread_id", threadID,
		"message_id", msg.ID,
		"turn_id", turnID)

	if !opts.Wait {
		// Resolve the lifecycle in the background so later polls see the
		// final state without any client waiting.
		go c.watch(msg.ID, threadID, turnID, timeout, interval)
		snapshot, _ := c.registry.get(msg.ID)
		return snapshot, nil
	}

	c.waitForCompletion(ctx, msg.ID, threadID, turnID, timeout, interval)
	snapshot, _ := c.registry.get(msg.ID)
	return snapshot, nil
}

// Status returns a snapshot of a submission attempt's lifecycle.
func (c *Coordinator) Status(messageID string) (*Message, bool) {
	return c.registry.get(messageID)
}

// Close stops the registry's background pruning.
func (c *Coordinator) Close() {
	c.registry.close()
}

// waitForCompletion polls the relay's turn status until completion,
// failure, or timeout. The observation happens before the deadline check
// so an inverted pollInterval/timeout pair still gets one poll.
//
// When the caller's context dies mid-wait, the remaining budget is
// handed to a detached watcher: the caller stops blocking but the
// lifecycle still resolves for other readers.
func (c *Coordinator) waitForCompletion(ctx context.Context, messageID, threadID, turnID string, timeout, interval time.Duration) {
	deadline := time.Now().Add(timeout)

	for {
		if done := c.observe(ctx, messageID, threadID, turnID); done {
			return
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			c.registry.transition(messageID, LifecycleTimedOut, "")
			c.logger.Info("turn wait timed out",
				"message_id", messageID,
				"turn_id", turnID,
				"timeout", timeout)
			return
		}

		sleep := interval
		if sleep > remaining {
			sleep = remaining
		}

		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			c.logger.Debug("caller gone mid-wait, detaching poll",
				"message_id", messageID,
				"remaining", remaining)
			go c.watch(messageID, threadID, turnID, remaining, interval)
			return
		}
	}
}

// watch is the detached version of the wait loop. It runs on a
// background context so a disconnected client cannot strand a lifecycle
// in sent.
func (c *Coordinator) watch(messageID, threadID, turnID string, timeout, interval time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout+interval)
	defer cancel()
	c.waitForCompletion(ctx, messageID, threadID, turnID, timeout, interval)
}

// observe performs one status check. Returns true when the lifecycle
// reached a state that ends the wait loop. Transient status-check errors
// are swallowed; the loop retries until the deadline.
func (c *Coordinator) observe(ctx context.Context, messageID, threadID, turnID string) bool {
	status, err := c.relay.GetTurnStatus(ctx, turnID)
	if err != nil {
		c.logger.Debug("turn status check failed",
			"message_id", messageID,
			"turn_id", turnID,
			"error", err)
		return false
	}

	switch status.State {
	case relay.TurnStatusCompleted:
		reply := status.ReplyText
		if reply == "" {
			// Some relay flows mark the turn completed before the agent
			// message materializes. Recover the reply from a delta fetch.
			reply = c.replyFromDelta(ctx, threadID)
		}
		c.registry.transition(messageID, LifecycleComplete, reply)
		c.logger.Debug("turn completed", "message_id", messageID, "turn_id", turnID)
		return true

	case relay.TurnStatusFailed:
		c.registry.transition(messageID, LifecycleFailed, "")
		c.logger.Warn("turn failed upstream", "message_id", messageID, "turn_id", turnID)
		return true
	}

	return false
}

// replyFromDelta fetches the thread's messages and returns the latest
// assistant text, or empty when none has arrived yet.
func (c *Coordinator) replyFromDelta(ctx context.Context, threadID string) string {
	delta, err := c.delta.FetchDelta(ctx, threadID, 0)
	if err != nil {
		return ""
	}
	for i := len(delta.Messages) - 1; i >= 0; i-- {
		if delta.Messages[i].Role == "assistant" && delta.Messages[i].Text != "" {
			return delta.Messages[i].Text
		}
	}
	return ""
}
