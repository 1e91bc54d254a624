package tracker

import "time"

// Action names used on the wire.
const (
	ActionTabVisible      = "tabVisible"
	ActionTabHidden       = "tabHidden"
	ActionAddPageDuration = "addPageDuration"
)

// Message is a content-script report about a tab. The set of implementations
// is closed; Handle switches over all of them.
type Message interface {
	Action() string
	isMessage()
}

// TabVisible reports that the page became visible. URL is optional and, when
// set, selects the session by id instead of the tab's current session.
type TabVisible struct {
	URL string
}

// TabHidden reports that the page was hidden.
type TabHidden struct {
	URL string
}

// AddPageDuration reports visible time accumulated by the page since its
// previous report. Each delta must be delivered exactly once.
type AddPageDuration struct {
	URL      string
	Duration time.Duration
}

func (TabVisible) Action() string      { return ActionTabVisible }
func (TabHidden) Action() string       { return ActionTabHidden }
func (AddPageDuration) Action() string { return ActionAddPageDuration }

func (TabVisible) isMessage()      {}
func (TabHidden) isMessage()       {}
func (AddPageDuration) isMessage() {}
