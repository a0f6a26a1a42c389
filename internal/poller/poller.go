// ABOUTME: Cursor-based delta fetch of thread messages from the relay
// ABOUTME: Returns strictly cursor-ordered messages newer than a watermark

package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/velox-home/funis-gateway/internal/relay"
)

// ErrPollFailed is returned on a transient delta-fetch failure. The
// caller's cursor is unchanged and a retry with the same cursor is safe.
var ErrPollFailed = errors.New("poll failed")

// MessageFetcher defines what the poller needs from the relay
type MessageFetcher interface {
	GetMessagesSince(ctx context.Context, threadID string, cursor int64) ([]relay.Message, error)
}

// Delta is the result of one poll: messages newer than the requested
// cursor in cursor order, and the new watermark. Cursor equals the
// requested cursor when no new messages arrived.
type Delta struct {
	Messages []relay.Message
	Cursor   int64
}

// Poller fetches only messages newer than a caller-held cursor.
// It holds no delivery state, so repeating a call with the same cursor
// neither duplicates nor omits messages.
type Poller struct {
	fetcher MessageFetcher
	logger  *slog.Logger
}

// New creates a delta poller backed by the given fetcher.
func New(fetcher MessageFetcher, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		fetcher: fetcher,
		logger:  logger.With("component", "poller"),
	}
}

// FetchDelta returns messages with cursor strictly greater than
// afterCursor, in ascending cursor order. On failure the returned Delta
// carries the unchanged cursor alongside ErrPollFailed so callers can
// retry without losing their place.
func (p *Poller) FetchDelta(ctx context.Context, threadID string, afterCursor int64) (Delta, error) {
	messages, err := p.fetcher.GetMessagesSince(ctx, threadID, afterCursor)
	if err != nil {
		p.logger.Warn("delta fetch failed",
			"thread_id", threadID,
			"after_cursor", afterCursor,
			"error", err)
		return Delta{Cursor: afterCursor}, fmt.Errorf("%w: %v", ErrPollFailed, err)
	}

	// The relay is expected to honor the cursor filter and ordering, but
	// neither is trusted: drop anything at or below the watermark and
	// sort what remains.
	filtered := messages[:0]
	for _, m := range messages {
		if m.Cursor > afterCursor {
			filtered = append(filtered, m)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Cursor < filtered[j].Cursor
	})

	cursor := afterCursor
	if n := len(filtered); n > 0 {
		cursor = filtered[n-1].Cursor
	}

	return Delta{Messages: filtered, Cursor: cursor}, nil
}
