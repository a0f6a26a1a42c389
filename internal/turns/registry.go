// ABOUTME: In-memory lifecycle registry for submitted turns
// ABOUTME: Snapshot reads, guarded transitions, and periodic pruning of old attempts

package turns

import (
	"sync"
	"time"
)

// pruneAfter is how long a terminal attempt stays visible to status polls.
const pruneAfter = time.Hour

// registry tracks submission attempts by message id. Reads return copies
// so callers never observe a partial update.
type registry struct {
	mu       sync.RWMutex
	messages map[string]*Message
	done     chan struct{}
	closed   bool
}

func newRegistry() *registry {
	r := &registry{
		messages: make(map[string]*Message),
		done:     make(chan struct{}),
	}
	go r.prune()
	return r
}

// put stores a new attempt.
func (r *registry) put(msg *Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *msg
	r.messages[msg.ID] = &stored
}

// get returns a copy of the attempt, if known.
func (r *registry) get(id string) (*Message, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	msg, ok := r.messages[id]
	if !ok {
		return nil, false
	}
	snapshot := *msg
	return &snapshot, true
}

// setSent records the relay acknowledgment and turn id.
func (r *registry) setSent(id, turnID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg, ok := r.messages[id]
	if !ok {
		return
	}
	msg.TurnID = turnID
	msg.Lifecycle = LifecycleSent
	msg.UpdatedAt = time.Now()
}

// transition moves an attempt to a new lifecycle state if allowed.
// complete and failed are immutable; timedOut may still flip to complete
// when a later poll discovers the turn finished after the wait budget.
func (r *registry) transition(id, lifecycle, replyText string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg, ok := r.messages[id]
	if !ok {
		return
	}
	if !transitionAllowed(msg.Lifecycle, lifecycle) {
		return
	}
	msg.Lifecycle = lifecycle
	if replyText != "" {
		msg.ReplyText = replyText
	}
	msg.UpdatedAt = time.Now()
}

func transitionAllowed(from, to string) bool {
	switch from {
	case LifecyclePending:
		return to == LifecycleSent || to == LifecycleFailed
	case LifecycleSent:
		return to == LifecycleComplete || to == LifecycleFailed || to == LifecycleTimedOut
	case LifecycleTimedOut:
		return to == LifecycleComplete
	default:
		return false
	}
}

// prune drops terminal attempts after they age out, bounding registry
// growth over the service lifetime.
func (r *registry) prune() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.runPrune()
		case <-r.done:
			return
		}
	}
}

func (r *registry) runPrune() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-pruneAfter)
	for id, msg := range r.messages {
		switch msg.Lifecycle {
		case LifecycleComplete, LifecycleFailed, LifecycleTimedOut:
			if msg.UpdatedAt.Before(cutoff) {
				delete(r.messages, id)
			}
		}
	}
}

// close stops the pruning goroutine. Safe to call multiple times.
func (r *registry) close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.closed {
		close(r.done)
		r.closed = true
	}
}
