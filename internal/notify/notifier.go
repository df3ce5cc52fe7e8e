// Package notify delivers user notices to the log, to connected clients and
// to an optional webhook.
package notify

import (
	"log/slog"
	"sync"
	"time"

	"github.com/oszuidwest/voicetutor/internal/types"
)

// Notifier fans a notice out to every sink. Webhook delivery runs in the
// background and never delays the caller. It is safe for concurrent use.
type Notifier struct {
	mu          sync.Mutex
	webhookURL  string
	subscribers map[int]func(types.Notice)
	nextID      int
	recent      []types.Notice
	inflight    sync.WaitGroup
}

// recentLimit bounds the notices kept for late subscribers.
const recentLimit = 20

// NewNotifier returns a Notifier posting to webhookURL when it is set.
func NewNotifier(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL:  webhookURL,
		subscribers: make(map[int]func(types.Notice)),
	}
}

// SetWebhookURL replaces the webhook target. An empty URL disables it.
func (n *Notifier) SetWebhookURL(url string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.webhookURL = url
}

// Subscribe registers fn for every future notice and returns a function
// that removes it.
func (n *Notifier) Subscribe(fn func(types.Notice)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.nextID
	n.nextID++
	n.subscribers[id] = fn
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.subscribers, id)
	}
}

// Notify delivers notice to every sink.
func (n *Notifier) Notify(notice types.Notice) {
	if notice.Timestamp.IsZero() {
		notice.Timestamp = time.Now()
	}
	slog.Warn("user notice", "kind", notice.Kind, "message", notice.Message)

	n.mu.Lock()
	n.recent = append(n.recent, notice)
	if len(n.recent) > recentLimit {
		n.recent = n.recent[len(n.recent)-recentLimit:]
	}
	webhookURL := n.webhookURL
	subs := make([]func(types.Notice), 0, len(n.subscribers))
	for _, fn := range n.subscribers {
		subs = append(subs, fn)
	}
	n.mu.Unlock()

	for _, fn := range subs {
		fn(notice)
	}

	if webhookURL != "" {
		n.inflight.Go(func() {
			logNotifyResult(func() error { return SendNoticeWebhook(webhookURL, notice) }, "webhook")
		})
	}
}

// Recent returns the latest notices, oldest first.
func (n *Notifier) Recent() []types.Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]types.Notice, len(n.recent))
	copy(out, n.recent)
	return out
}

// Wait blocks until background webhook deliveries have finished.
func (n *Notifier) Wait() {
	n.inflight.Wait()
}
