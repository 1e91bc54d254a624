// Package bridge carries messages between the browser extension and the
// tracker over a loopback HTTP API.
package bridge

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/runnerr0/pagetime/internal/tracker"
)

var (
	// ErrUnknownAction means the envelope names an action the tracker does
	// not handle.
	ErrUnknownAction = errors.New("unknown action")
	// ErrMalformedMessage means the envelope payload could not be decoded.
	ErrMalformedMessage = errors.New("malformed message")
)

// Envelope is the inbound wire format sent by content scripts.
type Envelope struct {
	Action string          `json:"action"`
	TabID  tracker.TabID   `json:"tabId"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// maxDurationMs is the largest duration that fits in a time.Duration.
const maxDurationMs = math.MaxInt64 / int64(time.Millisecond)

// pageData is the payload shared by every inbound action. Duration is in
// milliseconds; a missing duration counts as zero.
type pageData struct {
	URL      string `json:"url"`
	Duration int64  `json:"duration"`
}

// Decode converts an envelope into the tracker message it carries.
func Decode(env Envelope) (tracker.Message, error) {
	var d pageData
	if len(env.Data) > 0 && !bytes.Equal(env.Data, []byte("null")) {
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedMessage, env.Action, err)
		}
	}

	switch env.Action {
	case tracker.ActionTabVisible:
		return tracker.TabVisible{URL: d.URL}, nil
	case tracker.ActionTabHidden:
		return tracker.TabHidden{URL: d.URL}, nil
	case tracker.ActionAddPageDuration:
		if d.Duration > maxDurationMs {
			return nil, fmt.Errorf("%w: %s: duration %d ms out of range", ErrMalformedMessage, env.Action, d.Duration)
		}
		return tracker.AddPageDuration{
			URL:      d.URL,
			Duration: time.Duration(d.Duration) * time.Millisecond,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, env.Action)
	}
}
