package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/pagetime/internal/metrics"
	"github.com/runnerr0/pagetime/internal/storage"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// memWriter is an in-memory Writer that can be told to fail.
type memWriter struct {
	mu        sync.Mutex
	records   map[int64]storage.PageVisitRecord
	nextID    int64
	inserts   int
	updates   int
	insertErr error
	updateErr error
}

func newMemWriter() *memWriter {
	return &memWriter{records: make(map[int64]storage.PageVisitRecord)}
}

func (w *memWriter) Insert(_ context.Context, records ...storage.PageVisitRecord) ([]int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.inserts++
	if w.insertErr != nil {
		return nil, w.insertErr
	}
	ids := make([]int64, 0, len(records))
	for _, r := range records {
		w.nextID++
		r.ID = w.nextID
		w.records[r.ID] = r
		ids = append(ids, r.ID)
	}
	return ids, nil
}

func (w *memWriter) Update(_ context.Context, id int64, patch storage.RecordPatch) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.updates++
	if w.updateErr != nil {
		return w.updateErr
	}
	r, ok := w.records[id]
	if !ok {
		return storage.ErrNotFound
	}
	if patch.Duration != nil {
		r.Duration = *patch.Duration
	}
	if patch.EndTime != nil {
		r.EndTime = *patch.EndTime
	}
	if patch.Favicon != nil {
		r.Favicon = *patch.Favicon
	}
	w.records[id] = r
	return nil
}

func (w *memWriter) all() []storage.PageVisitRecord {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]storage.PageVisitRecord, 0, len(w.records))
	for id := int64(1); id <= w.nextID; id++ {
		if r, ok := w.records[id]; ok {
			out = append(out, r)
		}
	}
	return out
}

type countingRecorder struct {
	metrics.Nop
	mu           sync.Mutex
	stale        int
	flushFailed  int
	flushedKinds []string
}

func (r *countingRecorder) MessageStale() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stale++
}

func (r *countingRecorder) FlushFailed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushFailed++
}

func (r *countingRecorder) FlushSucceeded(kind string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushedKinds = append(r.flushedKinds, kind)
}

func newTestTracker(t *testing.T, w Writer) (*Tracker, *fakeClock, *countingRecorder) {
	t.Helper()
	clock := newFakeClock()
	rec := &countingRecorder{}
	tr := New(w, Options{
		Clock:          clock.Now,
		Metrics:        rec,
		IgnorePrefixes: []string{"chrome://"},
	})
	return tr, clock, rec
}

func TestNewSessionID(t *testing.T) {
	id := NewSessionID("https://a.com", 1)
	assert.Equal(t, SessionID("15ad7232b6baa8525d51d42746d106922f178ff705a78382fd8c5be7434fbb64"), id)
	assert.Equal(t, id, NewSessionID("https://a.com", 1), "derivation is deterministic")
	assert.NotEqual(t, id, NewSessionID("https://a.com", 2))
	assert.NotEqual(t, id, NewSessionID("https://a.com/", 1))
	assert.Equal(t, "15ad7232b6ba", id.Short())
}

func TestTracker_VisibleSessionClosedAfterReport(t *testing.T) {
	store, err := storage.Open(":memory:", storage.LatestSchemaVersion)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	tr, clock, _ := newTestTracker(t, store)

	_, err = tr.Open(1, "https://a.com", "")
	require.NoError(t, err)
	start := clock.Now()

	require.NoError(t, tr.Handle(1, TabVisible{}))
	clock.Advance(30 * time.Second)
	require.NoError(t, tr.Handle(1, AddPageDuration{Duration: 30 * time.Second}))
	clock.Advance(15 * time.Second)
	require.NoError(t, tr.Remove(1))
	tr.Drain()

	records, err := store.Query(context.Background(), storage.Criteria{URL: "https://a.com"})
	require.NoError(t, err)
	require.Len(t, records, 1, "periodic flush and close flush share one record")

	r := records[0]
	assert.Equal(t, "a.com", r.Domain)
	assert.Equal(t, int64(45000), r.Duration)
	assert.Equal(t, start.UnixMilli(), r.StartTime)
	assert.Equal(t, int64(45000), r.EndTime-r.StartTime)
}

func TestTracker_PeriodicFlushWritesOpenRecord(t *testing.T) {
	w := newMemWriter()
	tr, clock, rec := newTestTracker(t, w)

	_, err := tr.Open(1, "https://a.com/x", "https://a.com/favicon.ico")
	require.NoError(t, err)
	require.NoError(t, tr.Handle(1, TabVisible{}))
	clock.Advance(30 * time.Second)
	require.NoError(t, tr.Handle(1, AddPageDuration{Duration: 30 * time.Second}))
	tr.Drain()

	records := w.all()
	require.Len(t, records, 1)
	assert.Equal(t, storage.OpenEndTime, records[0].EndTime)
	assert.Equal(t, int64(30000), records[0].Duration)
	assert.Equal(t, "https://a.com/favicon.ico", records[0].Favicon)

	clock.Advance(30 * time.Second)
	require.NoError(t, tr.Handle(1, AddPageDuration{Duration: 30 * time.Second}))
	tr.Drain()

	records = w.all()
	require.Len(t, records, 1)
	assert.Equal(t, int64(60000), records[0].Duration)
	assert.Equal(t, []string{"insert", "update"}, rec.flushedKinds)

	s, err := tr.Current(1)
	require.NoError(t, err)
	assert.Equal(t, records[0].ID, s.RecordID)
}

func TestTracker_HiddenStopsAccrual(t *testing.T) {
	w := newMemWriter()
	tr, clock, _ := newTestTracker(t, w)

	_, err := tr.Open(3, "https://b.com", "")
	require.NoError(t, err)

	require.NoError(t, tr.Handle(3, TabVisible{}))
	clock.Advance(10 * time.Second)
	require.NoError(t, tr.Handle(3, TabHidden{}))
	clock.Advance(time.Minute)
	require.NoError(t, tr.Handle(3, TabHidden{}), "hidden twice adds nothing")
	clock.Advance(10 * time.Second)
	require.NoError(t, tr.Handle(3, TabVisible{}))
	clock.Advance(5 * time.Second)
	require.NoError(t, tr.Remove(3))
	tr.Drain()

	records := w.all()
	require.Len(t, records, 1)
	assert.Equal(t, int64(15000), records[0].Duration)
	assert.Equal(t, int64(85000), records[0].EndTime-records[0].StartTime)
}

func TestTracker_NeverVisibleContributesZero(t *testing.T) {
	w := newMemWriter()
	tr, clock, _ := newTestTracker(t, w)

	_, err := tr.Open(4, "https://c.com", "")
	require.NoError(t, err)
	clock.Advance(time.Hour)
	require.NoError(t, tr.Remove(4))
	tr.Drain()

	records := w.all()
	require.Len(t, records, 1)
	assert.Equal(t, int64(0), records[0].Duration)
}

func TestTracker_StateTransitions(t *testing.T) {
	tr, clock, _ := newTestTracker(t, newMemWriter())

	s, err := tr.Open(1, "https://a.com", "")
	require.NoError(t, err)
	assert.Equal(t, StateCreated, s.State)
	assert.Equal(t, "created", s.Status)

	require.NoError(t, tr.Handle(1, TabVisible{}))
	tr.Drain()
	s, err = tr.Current(1)
	require.NoError(t, err)
	assert.Equal(t, StateVisible, s.State)
	assert.Equal(t, clock.Now(), s.LastVisible)

	clock.Advance(2 * time.Second)
	require.NoError(t, tr.Handle(1, TabHidden{}))
	tr.Drain()
	s, err = tr.Current(1)
	require.NoError(t, err)
	assert.Equal(t, StateHidden, s.State)
	assert.True(t, s.LastVisible.IsZero())
	assert.Equal(t, 2*time.Second, s.Duration)
	assert.Equal(t, int64(2000), s.DurationMs)
}

func TestTracker_MessagesAfterCloseAreStale(t *testing.T) {
	w := newMemWriter()
	tr, clock, rec := newTestTracker(t, w)

	_, err := tr.Open(1, "https://a.com", "")
	require.NoError(t, err)
	require.NoError(t, tr.Handle(1, AddPageDuration{Duration: 5 * time.Second}))
	clock.Advance(10 * time.Second)
	require.NoError(t, tr.Remove(1))

	// Late report naming the closed session by URL.
	err = tr.Handle(1, AddPageDuration{URL: "https://a.com", Duration: 5 * time.Second})
	assert.NoError(t, err)
	tr.Drain()

	records := w.all()
	require.Len(t, records, 1)
	assert.Equal(t, int64(5000), records[0].Duration, "closed session accepts no further duration")
	assert.Equal(t, 1, rec.stale)

	sessions := tr.Sessions()
	require.Len(t, sessions, 1)
	assert.True(t, sessions[0].Closed())
}

func TestTracker_URLlessMessagesAfterRemoveAreStale(t *testing.T) {
	w := newMemWriter()
	tr, clock, rec := newTestTracker(t, w)

	_, err := tr.Open(1, "https://a.com", "")
	require.NoError(t, err)
	require.NoError(t, tr.Handle(1, TabVisible{}))
	clock.Advance(10 * time.Second)
	require.NoError(t, tr.Remove(1))

	// Content scripts without the URL resolve through the removed tab.
	assert.NoError(t, tr.Handle(1, AddPageDuration{Duration: 5 * time.Second}))
	assert.NoError(t, tr.Handle(1, TabVisible{}))
	assert.NoError(t, tr.Handle(1, TabHidden{}))
	tr.Drain()

	assert.Equal(t, 3, rec.stale)
	records := w.all()
	require.Len(t, records, 1)
	assert.Equal(t, int64(10000), records[0].Duration)

	// Reopening the tab makes URL-less messages reach the new session.
	_, err = tr.Open(1, "https://b.com", "")
	require.NoError(t, err)
	require.NoError(t, tr.Handle(1, TabVisible{}))
	tr.Drain()
	assert.Equal(t, 3, rec.stale)
	cur, err := tr.Current(1)
	require.NoError(t, err)
	assert.Equal(t, StateVisible, cur.State)
}

func TestTracker_SessionNotFound(t *testing.T) {
	tr, _, _ := newTestTracker(t, newMemWriter())

	err := tr.Handle(9, TabVisible{})
	assert.ErrorIs(t, err, ErrSessionNotFound)

	err = tr.Remove(9)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = tr.Current(9)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = tr.Open(9, "https://a.com", "")
	require.NoError(t, err)
	err = tr.Handle(9, TabHidden{URL: "https://never-opened.com"})
	assert.ErrorIs(t, err, ErrSessionNotFound)

	require.NoError(t, tr.Remove(9))
	assert.ErrorIs(t, tr.Remove(9), ErrSessionNotFound, "removed tab has no current session")
}

func TestTracker_RejectsBadInput(t *testing.T) {
	tr, _, _ := newTestTracker(t, newMemWriter())

	_, err := tr.Open(1, "", "")
	assert.ErrorIs(t, err, ErrEmptyURL)

	_, err = tr.Open(1, "https://a.com", "")
	require.NoError(t, err)

	err = tr.Handle(1, AddPageDuration{Duration: -time.Second})
	assert.ErrorIs(t, err, ErrNegativeDuration)

	err = tr.Handle(1, nil)
	assert.ErrorIs(t, err, ErrUnknownMessage)
}

func TestTracker_NavigationClosesPreviousSession(t *testing.T) {
	w := newMemWriter()
	tr, clock, _ := newTestTracker(t, w)

	first, err := tr.Open(1, "https://a.com", "")
	require.NoError(t, err)
	require.NoError(t, tr.Handle(1, TabVisible{}))
	clock.Advance(20 * time.Second)

	second, err := tr.Open(1, "https://b.com", "")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	tr.Drain()

	records := w.all()
	require.Len(t, records, 1, "previous session flushed on navigation")
	assert.Equal(t, "https://a.com", records[0].URL)
	assert.Equal(t, int64(20000), records[0].Duration)

	cur, err := tr.Current(1)
	require.NoError(t, err)
	assert.Equal(t, second.ID, cur.ID)
}

func TestTracker_ReopenSameURLKeepsSession(t *testing.T) {
	tr, clock, _ := newTestTracker(t, newMemWriter())

	first, err := tr.Open(1, "https://a.com", "")
	require.NoError(t, err)
	require.NoError(t, tr.Handle(1, AddPageDuration{Duration: 3 * time.Second}))
	tr.Drain()

	clock.Advance(time.Minute)
	again, err := tr.Open(1, "https://a.com", "")
	require.NoError(t, err)

	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, first.PageStart, again.PageStart, "activation does not reset the session")
	assert.Equal(t, 3*time.Second, again.Duration)
}

func TestTracker_FlushFailureKeepsClose(t *testing.T) {
	w := newMemWriter()
	w.insertErr = errors.New("disk full")
	tr, clock, rec := newTestTracker(t, w)

	_, err := tr.Open(1, "https://a.com", "")
	require.NoError(t, err)
	clock.Advance(time.Second)
	require.NoError(t, tr.Remove(1))
	tr.Drain()

	assert.Empty(t, w.all())
	assert.Equal(t, 1, rec.flushFailed)

	sessions := tr.Sessions()
	require.Len(t, sessions, 1)
	assert.True(t, sessions[0].Closed(), "close is not rolled back")
}

func TestTracker_UpdateOfRemovedRecordReinserts(t *testing.T) {
	w := newMemWriter()
	tr, _, _ := newTestTracker(t, w)

	_, err := tr.Open(1, "https://a.com", "")
	require.NoError(t, err)
	require.NoError(t, tr.Handle(1, AddPageDuration{Duration: time.Second}))
	tr.Drain()
	require.Len(t, w.all(), 1)

	w.mu.Lock()
	w.records = map[int64]storage.PageVisitRecord{}
	w.mu.Unlock()

	require.NoError(t, tr.Handle(1, AddPageDuration{Duration: time.Second}))
	tr.Drain()

	records := w.all()
	require.Len(t, records, 1)
	assert.Equal(t, int64(2), records[0].ID)
	assert.Equal(t, int64(2000), records[0].Duration)
}

func TestTracker_IgnoredPrefixNeverFlushed(t *testing.T) {
	w := newMemWriter()
	tr, clock, _ := newTestTracker(t, w)

	s, err := tr.Open(1, "chrome://newtab/", "")
	require.NoError(t, err)
	assert.True(t, s.Ignored)

	require.NoError(t, tr.Handle(1, TabVisible{}))
	require.NoError(t, tr.Handle(1, AddPageDuration{Duration: time.Second}))
	clock.Advance(5 * time.Second)
	require.NoError(t, tr.Remove(1))
	tr.Drain()

	assert.Empty(t, w.all())
	assert.Zero(t, w.inserts)
}

func TestTracker_ClampsDurationToSpan(t *testing.T) {
	w := newMemWriter()
	tr, clock, _ := newTestTracker(t, w)

	_, err := tr.Open(1, "https://a.com", "")
	require.NoError(t, err)
	require.NoError(t, tr.Handle(1, AddPageDuration{Duration: time.Minute}))
	clock.Advance(10 * time.Second)
	require.NoError(t, tr.Remove(1))
	tr.Drain()

	records := w.all()
	require.Len(t, records, 1)
	assert.Equal(t, int64(10000), records[0].Duration)
}

func TestTracker_ShutdownClosesOpenSessions(t *testing.T) {
	w := newMemWriter()
	tr, clock, _ := newTestTracker(t, w)

	for tab, url := range map[TabID]string{1: "https://a.com", 2: "https://b.com", 3: "https://c.com"} {
		_, err := tr.Open(tab, url, "")
		require.NoError(t, err)
		require.NoError(t, tr.Handle(tab, TabVisible{}))
	}
	clock.Advance(7 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, tr.Shutdown(ctx))

	records := w.all()
	require.Len(t, records, 3)
	for _, r := range records {
		assert.Equal(t, int64(7000), r.Duration)
		assert.True(t, r.Finalized())
	}

	_, err := tr.Current(1)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestTracker_SweepClosed(t *testing.T) {
	tr, clock, _ := newTestTracker(t, newMemWriter())

	_, err := tr.Open(1, "https://a.com", "")
	require.NoError(t, err)
	_, err = tr.Open(2, "https://b.com", "")
	require.NoError(t, err)
	require.NoError(t, tr.Remove(1))
	tr.Drain()

	assert.Equal(t, 0, tr.SweepClosed(clock.Now()), "cutoff is exclusive")

	clock.Advance(time.Minute)
	assert.Equal(t, 1, tr.SweepClosed(clock.Now()))

	sessions := tr.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, TabID(2), sessions[0].Tab)

	// Late messages for a just-swept session are still stale no-ops.
	assert.NoError(t, tr.Handle(1, TabVisible{URL: "https://a.com"}))
	assert.NoError(t, tr.Handle(1, TabVisible{}))

	// The next sweep forgets it entirely.
	tr.SweepClosed(clock.Now())
	err = tr.Handle(1, TabVisible{URL: "https://a.com"})
	assert.ErrorIs(t, err, ErrSessionNotFound, "swept sessions are forgotten")
	err = tr.Handle(1, TabVisible{})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestTracker_ConcurrentReportsBeforeClose(t *testing.T) {
	w := newMemWriter()
	tr, clock, _ := newTestTracker(t, w)

	_, err := tr.Open(1, "https://a.com", "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				assert.NoError(t, tr.Handle(1, AddPageDuration{Duration: 10 * time.Millisecond}))
			}
		}()
	}
	wg.Wait()

	clock.Advance(time.Hour)
	require.NoError(t, tr.Remove(1))
	tr.Drain()

	records := w.all()
	require.Len(t, records, 1)
	assert.Equal(t, int64(5000), records[0].Duration, "every report accepted before close is counted")
	assert.True(t, records[0].Finalized())
}

func TestTracker_ShutdownRespectsContext(t *testing.T) {
	block := make(chan struct{})
	w := &blockingWriter{release: block}
	tr := New(w, Options{})

	_, err := tr.Open(1, "https://a.com", "")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = tr.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(block)
	tr.Drain()
}

type blockingWriter struct {
	release chan struct{}
}

func (w *blockingWriter) Insert(_ context.Context, records ...storage.PageVisitRecord) ([]int64, error) {
	<-w.release
	return []int64{1}, nil
}

func (w *blockingWriter) Update(context.Context, int64, storage.RecordPatch) error {
	<-w.release
	return nil
}
