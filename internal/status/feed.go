// Package status broadcasts engine milestones to connected clients: state
// changes, turn progress, and error banners. A [Feed] fans updates out to
// any number of subscribers without ever blocking the publisher; the
// websocket [Handler] serves the feed to the device front end.
package status

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tandemvoice/tandem/internal/observe"
)

// Severity classifies a status update the way the device banner colors it.
type Severity string

const (
	SeverityInfo       Severity = "info"
	SeveritySuccess    Severity = "success"
	SeverityActive     Severity = "active"
	SeverityProcessing Severity = "processing"
	SeverityError      Severity = "error"
)

// subscriberBuffer is the per-subscriber channel depth. A subscriber that
// falls further behind loses updates.
const subscriberBuffer = 16

// Update is one status feed item.
type Update struct {
	Severity Severity  `json:"severity"`
	Message  string    `json:"message"`
	At       time.Time `json:"at"`
}

// Option configures a Feed.
type Option func(*Feed)

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(f *Feed) { f.metrics = m }
}

// Feed is a non-blocking status broadcaster. Publish never waits on a slow
// subscriber; each subscriber has a small buffer and loses updates once it
// fills. New subscribers immediately receive the most recent update so a
// freshly connected client can paint the current banner.
type Feed struct {
	metrics *observe.Metrics

	mu      sync.Mutex
	subs    map[chan Update]struct{}
	last    Update
	hasLast bool
	closed  bool
}

// NewFeed creates an empty feed.
func NewFeed(opts ...Option) *Feed {
	f := &Feed{subs: make(map[chan Update]struct{})}
	for _, opt := range opts {
		opt(f)
	}
	if f.metrics == nil {
		f.metrics = observe.DefaultMetrics()
	}
	return f
}

// Publish sends an update to every subscriber. Never blocks; updates to a
// full subscriber are dropped. No-op after Close.
func (f *Feed) Publish(sev Severity, msg string) {
	u := Update{Severity: sev, Message: msg, At: time.Now()}
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.last = u
	f.hasLast = true
	for ch := range f.subs {
		select {
		case ch <- u:
		default:
		}
	}
	f.mu.Unlock()
	slog.Debug("status: published", "severity", sev, "message", msg)
}

// Publishf is Publish with a format string.
func (f *Feed) Publishf(sev Severity, format string, args ...any) {
	f.Publish(sev, fmt.Sprintf(format, args...))
}

// Subscribe registers a new subscriber and returns its update channel and a
// cancel function. The channel is closed by cancel or by [Feed.Close];
// cancel is idempotent.
func (f *Feed) Subscribe() (<-chan Update, func()) {
	ch := make(chan Update, subscriberBuffer)
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	f.subs[ch] = struct{}{}
	if f.hasLast {
		ch <- f.last
	}
	n := len(f.subs)
	f.mu.Unlock()

	f.metrics.StatusSubscribers.Add(context.Background(), 1)
	slog.Debug("status: subscriber added", "subscribers", n)

	cancel := func() {
		f.mu.Lock()
		if _, ok := f.subs[ch]; !ok {
			f.mu.Unlock()
			return
		}
		delete(f.subs, ch)
		close(ch)
		f.mu.Unlock()
		f.metrics.StatusSubscribers.Add(context.Background(), -1)
	}
	return ch, cancel
}

// Close shuts the feed down: every subscriber channel is closed and further
// publishes and subscriptions are rejected.
func (f *Feed) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	n := len(f.subs)
	for ch := range f.subs {
		delete(f.subs, ch)
		close(ch)
	}
	f.mu.Unlock()
	if n > 0 {
		f.metrics.StatusSubscribers.Add(context.Background(), -int64(n))
	}
}

// Subscribers returns the current subscriber count.
func (f *Feed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}
