package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/runnerr0/pagetime/internal/logging"
	"github.com/runnerr0/pagetime/internal/metrics"
	"github.com/runnerr0/pagetime/internal/tracker"
)

// Outbound actions.
const (
	ActionLog      = "log"
	ActionRedirect = "redirect"
)

// ErrOutboxFull means a redirect could not be queued for its tab.
var ErrOutboxFull = errors.New("outbox full")

// Outbound is a message waiting for the extension to collect it.
type Outbound struct {
	ID     uuid.UUID `json:"id"`
	Action string    `json:"action"`
	Name   string    `json:"name,omitempty"`
	Data   any       `json:"data,omitempty"`
}

// RedirectData is the payload of a redirect message.
type RedirectData struct {
	URL string `json:"url"`
}

// Outbox holds a bounded queue of outbound messages per tab. Delivery is
// fire-and-forget: when a tab's queue is full new log messages are dropped.
// Redirects take priority: a tab holds at most one pending redirect, and a
// full queue makes room for it by evicting its oldest log messages.
type Outbox struct {
	size    int
	log     logrus.FieldLogger
	metrics metrics.Recorder

	mu     sync.Mutex
	queues map[tracker.TabID][]Outbound
}

// NewOutbox creates an Outbox holding at most size messages per tab.
func NewOutbox(size int, logger logrus.FieldLogger, rec metrics.Recorder) *Outbox {
	if size < 1 {
		size = 1
	}
	if logger == nil {
		logger = logging.Discard()
	}
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Outbox{
		size:    size,
		log:     logger,
		metrics: rec,
		queues:  make(map[tracker.TabID][]Outbound),
	}
}

// Redirect queues a redirect of tab to url, replacing any redirect still
// pending for the tab.
func (o *Outbox) Redirect(_ context.Context, tab tracker.TabID, url string) error {
	if !o.push(tab, Outbound{Action: ActionRedirect, Data: RedirectData{URL: url}}) {
		return fmt.Errorf("%w: tab %d", ErrOutboxFull, tab)
	}
	return nil
}

// Log queues a diagnostic message for the tab's console.
func (o *Outbox) Log(tab tracker.TabID, name string, data any) {
	o.push(tab, Outbound{Action: ActionLog, Name: name, Data: data})
}

// Drain removes and returns every message queued for tab, oldest first.
func (o *Outbox) Drain(tab tracker.TabID) []Outbound {
	o.mu.Lock()
	defer o.mu.Unlock()

	msgs := o.queues[tab]
	delete(o.queues, tab)
	if msgs == nil {
		return []Outbound{}
	}
	return msgs
}

// Pending returns the number of messages queued for tab.
func (o *Outbox) Pending(tab tracker.TabID) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queues[tab])
}

// Forget discards everything queued for a closed tab.
func (o *Outbox) Forget(tab tracker.TabID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.queues, tab)
}

func (o *Outbox) push(tab tracker.TabID, msg Outbound) bool {
	msg.ID = uuid.New()

	o.mu.Lock()
	q := o.queues[tab]
	evicted := 0
	if msg.Action == ActionRedirect {
		q = without(q, ActionRedirect, len(q))
		before := len(q)
		q = without(q, ActionLog, len(q)-o.size+1)
		evicted = before - len(q)
	}
	if len(q) >= o.size {
		o.queues[tab] = q
		o.mu.Unlock()
		o.metrics.OutboxDropped()
		o.log.WithFields(logrus.Fields{
			"tab":    tab,
			"action": msg.Action,
		}).Debug("outbox full, message dropped")
		return false
	}
	o.queues[tab] = append(q, msg)
	o.mu.Unlock()

	for i := 0; i < evicted; i++ {
		o.metrics.OutboxDropped()
	}
	if evicted > 0 {
		o.log.WithFields(logrus.Fields{
			"tab":     tab,
			"evicted": evicted,
		}).Debug("outbox full, log messages evicted for redirect")
	}
	return true
}

// without removes up to n messages with the given action, oldest first.
func without(q []Outbound, action string, n int) []Outbound {
	if n <= 0 {
		return q
	}
	kept := q[:0]
	for _, m := range q {
		if m.Action == action && n > 0 {
			n--
			continue
		}
		kept = append(kept, m)
	}
	return kept
}
