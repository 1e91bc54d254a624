// Package tracker keeps the per-tab visible-time state machine and flushes
// finished (and periodically, unfinished) visits to the duration store.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/runnerr0/pagetime/internal/config"
	"github.com/runnerr0/pagetime/internal/logging"
	"github.com/runnerr0/pagetime/internal/metrics"
	"github.com/runnerr0/pagetime/internal/storage"
)

var (
	// ErrSessionNotFound means no session is known for the tab or URL.
	ErrSessionNotFound = errors.New("session not found")
	// ErrNegativeDuration rejects a duration report below zero.
	ErrNegativeDuration = errors.New("negative duration")
	// ErrEmptyURL rejects opening a session without a URL.
	ErrEmptyURL = errors.New("empty url")
	// ErrUnknownMessage rejects a nil message.
	ErrUnknownMessage = errors.New("unknown message")
)

// errRetired marks a session forgotten by the latest sweep.
var errRetired = errors.New("session retired")

const defaultFlushTimeout = 5 * time.Second

// Writer persists session records.
type Writer interface {
	Insert(ctx context.Context, records ...storage.PageVisitRecord) ([]int64, error)
	Update(ctx context.Context, id int64, patch storage.RecordPatch) error
}

// Options configures a Tracker. Zero values get defaults.
type Options struct {
	Clock          func() time.Time
	Logger         logrus.FieldLogger
	Metrics        metrics.Recorder
	IgnorePrefixes []string
	FlushTimeout   time.Duration
}

// Tracker owns the session table. All mutations of one session, including
// its flushes, run on that session's serial queue in the order the events
// were received.
type Tracker struct {
	writer       Writer
	now          func() time.Time
	log          logrus.FieldLogger
	metrics      metrics.Recorder
	ignore       []string
	flushTimeout time.Duration

	mu       sync.Mutex
	sessions map[SessionID]*sessionState
	queues   map[SessionID]*serialQueue
	current  map[TabID]SessionID

	// lastClosed resolves URL-less messages for removed tabs. retired holds
	// the sessions dropped by the latest sweep; both keep late messages
	// stale rather than unknown for one more sweep interval.
	lastClosed map[TabID]SessionID
	retired    map[SessionID]struct{}
}

// sessionState pairs a session with its close bookkeeping. closing and
// closedAt are guarded by Tracker.mu so that acceptance decisions are made
// synchronously; session is guarded by mu and only mutated on the queue.
type sessionState struct {
	mu      sync.Mutex
	session Session

	closing  bool
	closedAt time.Time
}

// New creates a Tracker writing through w.
func New(w Writer, opts Options) *Tracker {
	t := &Tracker{
		writer:       w,
		now:          opts.Clock,
		log:          opts.Logger,
		metrics:      opts.Metrics,
		ignore:       opts.IgnorePrefixes,
		flushTimeout: opts.FlushTimeout,
		sessions:     make(map[SessionID]*sessionState),
		queues:       make(map[SessionID]*serialQueue),
		current:      make(map[TabID]SessionID),
		lastClosed:   make(map[TabID]SessionID),
		retired:      make(map[SessionID]struct{}),
	}
	if t.now == nil {
		t.now = time.Now
	}
	if t.log == nil {
		t.log = logging.Discard()
	}
	if t.metrics == nil {
		t.metrics = metrics.Nop{}
	}
	if t.flushTimeout <= 0 {
		t.flushTimeout = defaultFlushTimeout
	}
	return t
}

// Open starts tracking url in tab, on tab activation or URL change. If the
// tab's current session already has the same id and is open it is kept
// unchanged. A current session with a different id is closed and flushed
// first.
func (t *Tracker) Open(tab TabID, url, favicon string) (Session, error) {
	if url == "" {
		return Session{}, ErrEmptyURL
	}
	now := t.now()
	id := NewSessionID(url, tab)

	t.mu.Lock()
	defer t.mu.Unlock()

	if cur, ok := t.current[tab]; ok {
		if cur == id {
			if st := t.sessions[id]; st != nil && !st.closing {
				return st.snapshot(), nil
			}
		} else {
			t.closeLocked(cur, now)
		}
	}

	st := &sessionState{session: Session{
		ID:        id,
		Tab:       tab,
		URL:       url,
		Favicon:   favicon,
		State:     StateCreated,
		Ignored:   config.HasIgnoredPrefix(url, t.ignore),
		PageStart: now,
	}}
	t.sessions[id] = st
	if _, ok := t.queues[id]; !ok {
		t.queues[id] = newSerialQueue()
	}
	t.current[tab] = id
	delete(t.lastClosed, tab)
	delete(t.retired, id)
	t.metrics.SessionOpened()

	t.log.WithFields(logrus.Fields{
		"tab":     tab,
		"session": id.Short(),
		"url":     url,
	}).Debug("session opened")

	return st.snapshot(), nil
}

// Handle applies a content-script message to the session it belongs to.
// Messages for a closed session are dropped and return nil.
func (t *Tracker) Handle(tab TabID, msg Message) error {
	now := t.now()

	var url string
	switch m := msg.(type) {
	case TabVisible:
		url = m.URL
	case TabHidden:
		url = m.URL
	case AddPageDuration:
		if m.Duration < 0 {
			return fmt.Errorf("%w: %s", ErrNegativeDuration, m.Duration)
		}
		url = m.URL
	default:
		return fmt.Errorf("%w: %T", ErrUnknownMessage, msg)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	id, st, err := t.resolveLocked(tab, url)
	if err != nil && !errors.Is(err, errRetired) {
		return err
	}
	fields := logrus.Fields{"tab": tab, "session": id.Short(), "action": msg.Action()}
	if st == nil || st.closing {
		t.metrics.MessageStale()
		t.log.WithFields(fields).Debug("message for closed session ignored")
		return nil
	}

	t.metrics.MessageHandled(msg.Action())
	t.queues[id].enqueue(func() {
		t.apply(st, msg, now)
	})
	return nil
}

// Remove closes the tab's current session and flushes it.
func (t *Tracker) Remove(tab TabID) error {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	id, ok := t.current[tab]
	if !ok {
		return fmt.Errorf("%w: tab %d", ErrSessionNotFound, tab)
	}
	delete(t.current, tab)
	t.lastClosed[tab] = id
	t.closeLocked(id, now)
	return nil
}

// Current returns a snapshot of the tab's current session.
func (t *Tracker) Current(tab TabID) (Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id, ok := t.current[tab]
	if !ok {
		return Session{}, fmt.Errorf("%w: tab %d", ErrSessionNotFound, tab)
	}
	return t.sessions[id].snapshot(), nil
}

// Sessions returns snapshots of every known session, open or closed,
// ordered by tab and start time.
func (t *Tracker) Sessions() []Session {
	t.mu.Lock()
	states := make([]*sessionState, 0, len(t.sessions))
	for _, st := range t.sessions {
		states = append(states, st)
	}
	t.mu.Unlock()

	out := make([]Session, 0, len(states))
	for _, st := range states {
		out = append(out, st.snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Tab != out[j].Tab {
			return out[i].Tab < out[j].Tab
		}
		return out[i].PageStart.Before(out[j].PageStart)
	})
	return out
}

// Drain blocks until every queued mutation and flush has run.
func (t *Tracker) Drain() {
	_ = t.drain(context.Background())
}

// Shutdown closes every open session and waits for the final flushes, or
// until ctx is done.
func (t *Tracker) Shutdown(ctx context.Context) error {
	now := t.now()

	t.mu.Lock()
	for tab, id := range t.current {
		t.closeLocked(id, now)
		delete(t.current, tab)
		t.lastClosed[tab] = id
	}
	t.mu.Unlock()

	return t.drain(ctx)
}

// SweepClosed forgets closed sessions that were closed before the cutoff
// and have nothing left to run. It returns the number forgotten. Messages
// for a forgotten session stay stale no-ops until the following sweep.
func (t *Tracker) SweepClosed(before time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.retired = make(map[SessionID]struct{})
	swept := 0
	for id, st := range t.sessions {
		if !st.closing || !st.closedAt.Before(before) {
			continue
		}
		if q := t.queues[id]; q != nil && q.busy() {
			continue
		}
		delete(t.sessions, id)
		delete(t.queues, id)
		t.retired[id] = struct{}{}
		swept++
	}

	for tab, id := range t.lastClosed {
		if _, ok := t.sessions[id]; ok {
			continue
		}
		if _, ok := t.retired[id]; ok {
			continue
		}
		delete(t.lastClosed, tab)
	}
	return swept
}

func (t *Tracker) drain(ctx context.Context) error {
	t.mu.Lock()
	waits := make([]<-chan struct{}, 0, len(t.queues))
	for _, q := range t.queues {
		waits = append(waits, q.done())
	}
	t.mu.Unlock()

	for _, done := range waits {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (t *Tracker) resolveLocked(tab TabID, url string) (SessionID, *sessionState, error) {
	var id SessionID
	if url != "" {
		id = NewSessionID(url, tab)
	} else {
		cur, ok := t.current[tab]
		if !ok {
			cur, ok = t.lastClosed[tab]
		}
		if !ok {
			return "", nil, fmt.Errorf("%w: tab %d", ErrSessionNotFound, tab)
		}
		id = cur
	}
	st, ok := t.sessions[id]
	if !ok {
		if _, gone := t.retired[id]; gone {
			return id, nil, errRetired
		}
		return "", nil, fmt.Errorf("%w: tab %d session %s", ErrSessionNotFound, tab, id.Short())
	}
	return id, st, nil
}

// closeLocked marks the session closed and queues its final flush. It is
// a no-op for a session that is already closing.
func (t *Tracker) closeLocked(id SessionID, now time.Time) {
	st, ok := t.sessions[id]
	if !ok || st.closing {
		return
	}
	st.closing = true
	st.closedAt = now
	t.metrics.SessionClosed()

	t.queues[id].enqueue(func() {
		st.mu.Lock()
		s := &st.session
		s.accrue(now)
		s.LastVisible = time.Time{}
		s.State = StateClosed
		s.PageEnd = now
		st.mu.Unlock()

		t.flush(st, true)
	})
}

// apply runs on the session's queue.
func (t *Tracker) apply(st *sessionState, msg Message, now time.Time) {
	st.mu.Lock()
	s := &st.session
	if s.Closed() {
		st.mu.Unlock()
		return
	}

	flush := false
	switch m := msg.(type) {
	case TabVisible:
		s.LastVisible = now
		s.State = StateVisible
	case TabHidden:
		s.accrue(now)
		s.LastVisible = time.Time{}
		s.State = StateHidden
	case AddPageDuration:
		s.Duration += m.Duration
		if !s.LastVisible.IsZero() {
			s.LastVisible = now
		}
		flush = true
	}
	st.mu.Unlock()

	if flush {
		t.flush(st, false)
	}
}

// flush writes the session's current state. The first flush inserts a
// record and later ones update it. Open sessions are written with the
// open end time. Failures are logged and counted; in-memory state stays.
func (t *Tracker) flush(st *sessionState, final bool) {
	snap := st.snapshot()
	if snap.Ignored {
		return
	}

	log := t.log.WithFields(logrus.Fields{
		"tab":     snap.Tab,
		"session": snap.ID.Short(),
		"url":     snap.URL,
	})

	rec := recordFor(snap, final)
	if final && rec.Duration > rec.EndTime-rec.StartTime {
		log.WithField("duration_ms", rec.Duration).Debug("reported duration exceeds span, clamping")
		rec.Duration = rec.EndTime - rec.StartTime
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.flushTimeout)
	defer cancel()

	started := time.Now()
	kind := "update"
	var err error
	if snap.RecordID != 0 {
		err = t.writer.Update(ctx, snap.RecordID, storage.RecordPatch{
			Favicon:  &rec.Favicon,
			Duration: &rec.Duration,
			EndTime:  &rec.EndTime,
		})
		if errors.Is(err, storage.ErrNotFound) {
			log.WithField("record", snap.RecordID).Info("flushed record was removed, inserting a new one")
			snap.RecordID = 0
		}
	}
	if snap.RecordID == 0 {
		kind = "insert"
		var ids []int64
		ids, err = t.writer.Insert(ctx, rec)
		if err == nil && len(ids) == 1 {
			st.mu.Lock()
			st.session.RecordID = ids[0]
			st.mu.Unlock()
		}
	}

	if err != nil {
		t.metrics.FlushFailed()
		log.WithError(err).Warn("session flush failed")
		return
	}
	t.metrics.FlushSucceeded(kind, time.Since(started))
	log.WithFields(logrus.Fields{
		"kind":        kind,
		"duration_ms": rec.Duration,
		"final":       final,
	}).Debug("session flushed")
}

func recordFor(s Session, final bool) storage.PageVisitRecord {
	end := storage.OpenEndTime
	if final {
		end = s.PageEnd.UnixMilli()
	}
	return storage.PageVisitRecord{
		Domain:    storage.ExtractDomain(s.URL),
		URL:       s.URL,
		Favicon:   s.Favicon,
		Duration:  s.Duration.Milliseconds(),
		StartTime: s.PageStart.UnixMilli(),
		EndTime:   end,
	}
}

func (st *sessionState) snapshot() Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.session.export()
}
