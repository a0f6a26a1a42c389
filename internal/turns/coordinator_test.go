// ABOUTME: Tests for the turn coordinator and lifecycle registry
// ABOUTME: Covers wait semantics, timeouts, background watchers, and transitions

package turns

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velox-home/funis-gateway/internal/poller"
	"github.com/velox-home/funis-gateway/internal/relay"
)

// fakeTurnRelay completes a turn after a configurable number of status polls.
type fakeTurnRelay struct {
	submitErr    error
	statusPolls  int32
	completeAt   int32
	finalState   string
	reply        string
	statusErrors int32
}

func (f *fakeTurnRelay) SubmitTurn(ctx context.Context, threadID, text string) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return "turn-1", nil
}

func (f *fakeTurnRelay) GetTurnStatus(ctx context.Context, turnID string) (relay.TurnStatus, error) {
	n := atomic.AddInt32(&f.statusPolls, 1)
	if f.statusErrors > 0 && n <= f.statusErrors {
		return relay.TurnStatus{}, errors.New("status check failed")
	}
	if n < f.completeAt {
		return relay.TurnStatus{State: relay.TurnStatusPending}, nil
	}
	state := f.finalState
	if state == "" {
		state = relay.TurnStatusCompleted
	}
	return relay.TurnStatus{State: state, ReplyText: f.reply}, nil
}

func (f *fakeTurnRelay) polls() int32 {
	return atomic.LoadInt32(&f.statusPolls)
}

type fakeDelta struct {
	messages []relay.Message
}

func (f *fakeDelta) FetchDelta(ctx context.Context, threadID string, afterCursor int64) (poller.Delta, error) {
	return poller.Delta{Messages: f.messages}, nil
}

func newTestCoordinator(t *testing.T, turnRelay TurnRelay, delta DeltaFetcher) *Coordinator {
	t.Helper()
	if delta == nil {
		delta = &fakeDelta{}
	}
	c := New(turnRelay, delta, Defaults{
		Timeout:      500 * time.Millisecond,
		PollInterval: 10 * time.Millisecond,
	}, nil)
	t.Cleanup(c.Close)
	return c
}

func TestSubmitTurn_WaitCompletes(t *testing.T) {
	fr := &fakeTurnRelay{completeAt: 3, reply: "the answer"}
	c := newTestCoordinator(t, fr, nil)

	msg, err := c.SubmitTurn(context.Background(), "t1", "question", Options{Wait: true})
	require.NoError(t, err)
	require.NotNil(t, msg)

	assert.Equal(t, LifecycleComplete, msg.Lifecycle)
	assert.Equal(t, "the answer", msg.ReplyText)
	assert.Equal(t, "turn-1", msg.TurnID)
	assert.GreaterOrEqual(t, fr.polls(), int32(3))
}

func TestSubmitTurn_ReplyRecoveredFromDelta(t *testing.T) {
	fr := &fakeTurnRelay{completeAt: 1, reply: ""}
	delta := &fakeDelta{messages: []relay.Message{
		{Role: "user", Text: "question", Cursor: 1},
		{Role: "assistant", Text: "from the delta", Cursor: 2},
	}}
	c := newTestCoordinator(t, fr, delta)

	msg, err := c.SubmitTurn(context.Background(), "t1", "question", Options{Wait: true})
	require.NoError(t, err)
	assert.Equal(t, LifecycleComplete, msg.Lifecycle)
	assert.Equal(t, "from the delta", msg.ReplyText)
}

func TestSubmitTurn_SubmissionFailure(t *testing.T) {
	fr := &fakeTurnRelay{submitErr: errors.New("relay down")}
	c := newTestCoordinator(t, fr, nil)

	msg, err := c.SubmitTurn(context.Background(), "t1", "question", Options{Wait: true})
	require.Error(t, err)
	require.NotNil(t, msg)

	assert.Equal(t, LifecycleFailed, msg.Lifecycle)
	assert.Equal(t, int32(0), fr.polls())
}

func TestSubmitTurn_UpstreamFailure(t *testing.T) {
	fr := &fakeTurnRelay{completeAt: 2, finalState: relay.TurnStatusFailed}
	c := newTestCoordinator(t, fr, nil)

	msg, err := c.SubmitTurn(context.Background(), "t1", "question", Options{Wait: true})
	require.NoError(t, err)
	assert.Equal(t, LifecycleFailed, msg.Lifecycle)
}

func TestSubmitTurn_TimesOut(t *testing.T) {
	fr := &fakeTurnRelay{completeAt: 1000}
	c := newTestCoordinator(t, fr, nil)

	msg, err := c.SubmitTurn(context.Background(), "t1", "question", Options{
		Wait:         true,
		Timeout:      50 * time.Millisecond,
		PollInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.Equal(t, LifecycleTimedOut, msg.Lifecycle)
}

func TestSubmitTurn_IntervalLongerThanTimeoutStillPollsOnce(t *testing.T) {
	fr := &fakeTurnRelay{completeAt: 1, reply: "fast answer"}
	c := newTestCoordinator(t, fr, nil)

	msg, err := c.SubmitTurn(context.Background(), "t1", "question", Options{
		Wait:         true,
		Timeout:      20 * time.Millisecond,
		PollInterval: time.Hour,
	})
	require.NoError(t, err)
	assert.Equal(t, LifecycleComplete, msg.Lifecycle)
	assert.Equal(t, int32(1), fr.polls())
}

func TestSubmitTurn_NoWaitResolvesInBackground(t *testing.T) {
	fr := &fakeTurnRelay{completeAt: 2, reply: "eventually"}
	c := newTestCoordinator(t, fr, nil)

	msg, err := c.SubmitTurn(context.Background(), "t1", "question", Options{Wait: false})
	require.NoError(t, err)
	assert.Equal(t, LifecycleSent, msg.Lifecycle)

	require.Eventually(t, func() bool {
		status, ok := c.Status(msg.ID)
		return ok && status.Lifecycle == LifecycleComplete
	}, 2*time.Second, 10*time.Millisecond)

	status, ok := c.Status(msg.ID)
	require.True(t, ok)
	assert.Equal(t, "eventually", status.ReplyText)
}

func TestSubmitTurn_CallerDisconnectDetachesWatcher(t *testing.T) {
	fr := &fakeTurnRelay{completeAt: 5, reply: "late answer"}
	c := newTestCoordinator(t, fr, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(15 * time.Millisecond)
		cancel()
	}()

	msg, err := c.SubmitTurn(ctx, "t1", "question", Options{
		Wait:         true,
		Timeout:      2 * time.Second,
		PollInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	require.NotNil(t, msg)

	// The caller stopped blocking, but the detached watcher keeps the
	// lifecycle moving.
	require.Eventually(t, func() bool {
		status, ok := c.Status(msg.ID)
		return ok && status.Lifecycle == LifecycleComplete
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSubmitTurn_StatusErrorsRetriedUntilDeadline(t *testing.T) {
	fr := &fakeTurnRelay{completeAt: 4, statusErrors: 2, reply: "recovered"}
	c := newTestCoordinator(t, fr, nil)

	msg, err := c.SubmitTurn(context.Background(), "t1", "question", Options{Wait: true})
	require.NoError(t, err)
	assert.Equal(t, LifecycleComplete, msg.Lifecycle)
}

func TestSubmitTurn_Validation(t *testing.T) {
	c := newTestCoordinator(t, &fakeTurnRelay{completeAt: 1}, nil)

	_, err := c.SubmitTurn(context.Background(), "", "text", Options{})
	assert.Error(t, err)

	_, err = c.SubmitTurn(context.Background(), "t1", "", Options{})
	assert.Error(t, err)
}

func TestStatus_UnknownMessage(t *testing.T) {
	c := newTestCoordinator(t, &fakeTurnRelay{completeAt: 1}, nil)

	_, ok := c.Status("nope")
	assert.False(t, ok)
}

func TestTransitionAllowed(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{LifecyclePending, LifecycleSent, true},
		{LifecyclePending, LifecycleFailed, true},
		{LifecyclePending, LifecycleComplete, false},
		{LifecycleSent, LifecycleComplete, true},
		{LifecycleSent, LifecycleFailed, true},
		{LifecycleSent, LifecycleTimedOut, true},
		{LifecycleTimedOut, LifecycleComplete, true},
		{LifecycleTimedOut, LifecycleFailed, false},
		{LifecycleComplete, LifecycleFailed, false},
		{LifecycleComplete, LifecycleTimedOut, false},
		{LifecycleFailed, LifecycleComplete, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, transitionAllowed(tt.from, tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}

func TestRegistry_PruneDropsOldTerminalAttempts(t *testing.T) {
	r := newRegistry()
	defer r.close()

	old := &Message{ID: "old", Lifecycle: LifecycleComplete, UpdatedAt: time.Now().Add(-2 * time.Hour)}
	recent := &Message{ID: "recent", Lifecycle: LifecycleComplete, UpdatedAt: time.Now()}
	active := &Message{ID: "active", Lifecycle: LifecycleSent, UpdatedAt: time.Now().Add(-2 * time.Hour)}
	for _, m := range []*Message{old, recent, active} {
		r.put(m)
	}

	r.runPrune()

	_, ok := r.get("old")
	assert.False(t, ok)
	_, ok = r.get("recent")
	assert.True(t, ok)
	_, ok = r.get("active")
	assert.True(t, ok)
}
