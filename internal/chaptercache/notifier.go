package chaptercache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"mangabot/pkg/chat"
)

// DefaultProgressWindow is the minimum spacing between two progress edits.
const DefaultProgressWindow = 2500 * time.Millisecond

// MessageEditor performs outbound message edits.
type MessageEditor interface {
	EditMessage(ctx context.Context, request chat.EditMessageRequest) error
}

// Notifier forwards at most one edit per window and drops the rest.
//
// Edit failures are logged and swallowed. One Notifier serves one status message.
type Notifier struct {
	window time.Duration
	clock  clockwork.Clock
	editor MessageEditor
	logger *slog.Logger

	mu           sync.Mutex
	blockedUntil time.Time
}

// NewNotifier creates a notifier. A non-positive window selects DefaultProgressWindow.
func NewNotifier(window time.Duration, clock clockwork.Clock, editor MessageEditor, logger *slog.Logger) *Notifier {
	if window <= 0 {
		window = DefaultProgressWindow
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Notifier{
		window: window,
		clock:  clock,
		editor: editor,
		logger: logger,
	}
}

// Send performs request unless another edit went out within the current window.
// It reports whether the edit was attempted.
func (n *Notifier) Send(ctx context.Context, request chat.EditMessageRequest) bool {
	now := n.clock.Now()

	n.mu.Lock()
	if now.Before(n.blockedUntil) {
		n.mu.Unlock()
		return false
	}
	n.blockedUntil = now.Add(n.window)
	n.mu.Unlock()

	if err := n.editor.EditMessage(ctx, request); err != nil {
		if chat.IsOutboundNotModified(err) {
			return true
		}
		n.logger.WarnContext(ctx, "progress notification failed",
			"conversation_id", request.Target.Conversation.ID,
			"message_id", request.MessageID,
			"error", err,
		)
	}

	return true
}

// reset lifts the current block so the next Send goes out immediately.
// The window expiring has the same effect.
func (n *Notifier) reset() {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.blockedUntil = time.Time{}
}
