// Package guard redirects main-frame navigations whose URL matches a
// blacklist pattern.
package guard

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/runnerr0/pagetime/internal/logging"
	"github.com/runnerr0/pagetime/internal/metrics"
	"github.com/runnerr0/pagetime/internal/tracker"
)

// Settings supplies the current blacklist and fallback URL. It is read on
// every navigation so edits apply immediately.
type Settings interface {
	Blacklist(ctx context.Context) ([]string, error)
	FallbackURL(ctx context.Context) (string, error)
}

// Redirector sends a tab to another URL.
type Redirector interface {
	Redirect(ctx context.Context, tab tracker.TabID, url string) error
}

// Navigation is a completed navigation reported by the browser.
type Navigation struct {
	Tab     tracker.TabID `json:"tabId"`
	FrameID int           `json:"frameId"`
	URL     string        `json:"url"`
}

// Decision is the outcome of evaluating one navigation.
type Decision struct {
	Redirect bool   `json:"redirect"`
	Target   string `json:"target,omitempty"`
	Pattern  string `json:"pattern,omitempty"`
}

// PatternCompileError reports a blacklist entry that is not a valid
// regular expression. It affects that entry only.
type PatternCompileError struct {
	Pattern string
	Err     error
}

func (e *PatternCompileError) Error() string {
	return fmt.Sprintf("blacklist pattern %q: %v", e.Pattern, e.Err)
}

func (e *PatternCompileError) Unwrap() error { return e.Err }

// Options configures a Guard.
type Options struct {
	// DefaultFallback is used when no fallback URL is configured.
	DefaultFallback string
	Logger          logrus.FieldLogger
	Metrics         metrics.Recorder
}

type compiled struct {
	re  *regexp.Regexp
	err *PatternCompileError
}

// Guard evaluates navigations against the blacklist.
type Guard struct {
	settings   Settings
	redirector Redirector
	fallback   string
	log        logrus.FieldLogger
	metrics    metrics.Recorder

	mu    sync.Mutex
	cache map[string]compiled
}

// New creates a Guard.
func New(settings Settings, redirector Redirector, opts Options) *Guard {
	g := &Guard{
		settings:   settings,
		redirector: redirector,
		fallback:   opts.DefaultFallback,
		log:        opts.Logger,
		metrics:    opts.Metrics,
		cache:      make(map[string]compiled),
	}
	if g.log == nil {
		g.log = logging.Discard()
	}
	if g.metrics == nil {
		g.metrics = metrics.Nop{}
	}
	return g
}

// OnNavigationCompleted redirects nav's tab when nav is a main-frame
// navigation and any blacklist pattern matches its URL. Invalid patterns
// are skipped. A failed redirect is returned along with the decision.
func (g *Guard) OnNavigationCompleted(ctx context.Context, nav Navigation) (Decision, error) {
	if nav.FrameID != 0 {
		return Decision{}, nil
	}

	patterns, err := g.settings.Blacklist(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("loading blacklist: %w", err)
	}
	if len(patterns) == 0 {
		return Decision{}, nil
	}

	pattern, ok := g.match(patterns, nav.URL)
	if !ok {
		return Decision{}, nil
	}

	target, err := g.settings.FallbackURL(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("loading fallback url: %w", err)
	}
	if target == "" {
		target = g.fallback
	}
	if target != "" && strings.HasPrefix(nav.URL, target) {
		g.log.WithFields(logrus.Fields{
			"tab":     nav.Tab,
			"url":     nav.URL,
			"pattern": pattern,
		}).Debug("blacklist matches the fallback page, not redirecting")
		return Decision{}, nil
	}

	d := Decision{Redirect: true, Target: target, Pattern: pattern}
	log := g.log.WithFields(logrus.Fields{
		"tab":     nav.Tab,
		"url":     nav.URL,
		"pattern": pattern,
		"target":  target,
	})
	if err := g.redirector.Redirect(ctx, nav.Tab, target); err != nil {
		log.WithError(err).Warn("redirect failed")
		return d, fmt.Errorf("redirecting tab %d: %w", nav.Tab, err)
	}
	g.metrics.Redirected()
	log.Info("blacklisted navigation redirected")
	return d, nil
}

// Validate compiles patterns and returns the errors of those that fail.
func Validate(patterns []string) []*PatternCompileError {
	var errs []*PatternCompileError
	for _, p := range patterns {
		if _, err := regexp.Compile(p); err != nil {
			errs = append(errs, &PatternCompileError{Pattern: p, Err: err})
		}
	}
	return errs
}

// match returns the first pattern in order that matches url.
func (g *Guard) match(patterns []string, url string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.retainLocked(patterns)
	for _, p := range patterns {
		c, ok := g.cache[p]
		if !ok {
			c = g.compileLocked(p)
		}
		if c.err != nil {
			continue
		}
		if c.re.MatchString(url) {
			return p, true
		}
	}
	return "", false
}

func (g *Guard) compileLocked(p string) compiled {
	re, err := regexp.Compile(p)
	c := compiled{re: re}
	if err != nil {
		c = compiled{err: &PatternCompileError{Pattern: p, Err: err}}
		g.metrics.PatternInvalid()
		g.log.WithError(c.err).Warn("skipping invalid blacklist pattern")
	}
	g.cache[p] = c
	return c
}

// retainLocked drops cache entries for patterns no longer in the list.
func (g *Guard) retainLocked(patterns []string) {
	if len(g.cache) <= len(patterns) {
		return
	}
	keep := make(map[string]struct{}, len(patterns))
	for _, p := range patterns {
		keep[p] = struct{}{}
	}
	for p := range g.cache {
		if _, ok := keep[p]; !ok {
			delete(g.cache, p)
		}
	}
}

func (g *Guard) cached() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.cache)
}
