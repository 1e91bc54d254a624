package tracker

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// TabID is the browser-assigned tab identifier. It is not stable across
// browser restarts.
type TabID int

// SessionID identifies one visit of one URL in one tab.
type SessionID string

// NewSessionID derives the session id as the lowercase hex SHA-256 of
// url + "_" + decimal tab id. The same URL in the same tab always maps to the
// same id, which lets late messages that carry a URL find their session after
// the tab has navigated elsewhere.
func NewSessionID(url string, tab TabID) SessionID {
	sum := sha256.Sum256([]byte(url + "_" + strconv.Itoa(int(tab))))
	return SessionID(hex.EncodeToString(sum[:]))
}

// Short returns an abbreviated id for log output.
func (id SessionID) Short() string {
	if len(id) > 12 {
		return string(id[:12])
	}
	return string(id)
}

// State is the lifecycle position of a session.
type State int

const (
	StateCreated State = iota
	StateVisible
	StateHidden
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateVisible:
		return "visible"
	case StateHidden:
		return "hidden"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is the in-memory state of one tracked page visit.
type Session struct {
	ID       SessionID `json:"id"`
	Tab      TabID     `json:"tabId"`
	URL      string    `json:"url"`
	Favicon  string    `json:"favicon,omitempty"`
	State    State     `json:"-"`
	Status   string    `json:"state"`
	Ignored  bool      `json:"ignored,omitempty"`
	RecordID int64     `json:"recordId,omitempty"` // 0 until the first flush

	Duration   time.Duration `json:"-"`
	DurationMs int64         `json:"duration"`

	LastVisible time.Time `json:"lastVisible,omitempty"` // zero when unset
	PageStart   time.Time `json:"pageStart"`
	PageEnd     time.Time `json:"pageEnd,omitempty"`
}

// Closed reports whether the session reached its terminal state.
func (s Session) Closed() bool { return s.State == StateClosed }

// accrue adds the visible time elapsed since LastVisible. A clock that moved
// backwards contributes nothing so Duration never decreases.
func (s *Session) accrue(now time.Time) {
	if s.LastVisible.IsZero() {
		return
	}
	if elapsed := now.Sub(s.LastVisible); elapsed > 0 {
		s.Duration += elapsed
	}
}

func (s Session) export() Session {
	s.Status = s.State.String()
	s.DurationMs = s.Duration.Milliseconds()
	return s
}
