// Package pagevisit tracks which logical page is current and reports page
// start and end to the collector.
package pagevisit

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/vburojevic/beacon/internal/domain"
)

// Reporter is the page half of the collector API
type Reporter interface {
	StartPage(ctx context.Context, token string, req domain.PageStartRequest) error
	EndPage(ctx context.Context, token string, req domain.PageEndRequest) error
}

// TokenSource yields the current bearer credential
type TokenSource interface {
	Token() (string, bool)
}

// SessionSource yields the active session id
type SessionSource interface {
	ID() (string, bool)
}

// EventTracker records the page_view interaction event
type EventTracker interface {
	Track(eventType domain.EventType, name string, data map[string]any, result domain.Result) bool
}

// Deps are the collaborators of a Tracker. Events may be nil.
type Deps struct {
	Reporter   Reporter
	Tokens     TokenSource
	Sessions   SessionSource
	Events     EventTracker
	DeviceType string
	Clock      clock.Clock
	Logger     *zap.Logger
}

type openVisit struct {
	visit    domain.PageVisit
	started  time.Time
	reported bool
	gen      uint64
}

// Tracker holds at most one open page visit
type Tracker struct {
	reporter   Reporter
	tokens     TokenSource
	sessions   SessionSource
	events     EventTracker
	deviceType string
	clock      clock.Clock
	logger     *zap.Logger

	// opMu keeps the implicit page/end of the previous page ahead of the
	// next page/start on the wire
	opMu sync.Mutex

	mu   sync.Mutex
	open *openVisit
	gen  uint64
}

// New creates a page tracker
func New(d Deps) *Tracker {
	if d.Clock == nil {
		d.Clock = clock.New()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.DeviceType == "" {
		d.DeviceType = domain.Unknown
	}
	return &Tracker{
		reporter:   d.Reporter,
		tokens:     d.Tokens,
		sessions:   d.Sessions,
		events:     d.Events,
		deviceType: d.DeviceType,
		clock:      d.Clock,
		logger:     d.Logger.Named("pagevisit"),
	}
}

// StartPageVisit makes visit the current page. A different open page is
// closed with "navigation" first; starting the page that is already open only
// records the page_view event. Returns whether the collector acknowledged
// the page start.
func (t *Tracker) StartPageVisit(ctx context.Context, visit domain.PageVisit) bool {
	visit.PageName = strings.TrimSpace(visit.PageName)
	if visit.PageName == "" {
		t.logger.Warn("page visit without page name ignored")
		return false
	}

	t.opMu.Lock()
	defer t.opMu.Unlock()

	if t.events != nil {
		t.events.Track(domain.EventTypeInteraction, domain.PageViewEvent, visit.EventData(), domain.ResultSuccess)
	}

	t.mu.Lock()
	cur := t.open
	t.mu.Unlock()
	if cur != nil {
		if cur.visit.PageName == visit.PageName {
			t.logger.Debug("page already open", zap.String("page", visit.PageName))
			return cur.reported
		}
		t.end(ctx, domain.ExitNavigation)
	}

	visit.DeviceType = t.deviceType
	visit.SessionID = domain.UnknownSessionID
	if t.sessions != nil {
		if id, ok := t.sessions.ID(); ok {
			visit.SessionID = id
		}
	}

	t.mu.Lock()
	t.gen++
	gen := t.gen
	t.open = &openVisit{visit: visit, started: t.clock.Now(), gen: gen}
	t.mu.Unlock()

	token, ok := t.tokens.Token()
	if !ok {
		t.logger.Debug("page start not reported, no credential", zap.String("page", visit.PageName))
		return false
	}
	if err := t.reporter.StartPage(ctx, token, visit); err != nil {
		t.logger.Warn("page start report failed", zap.String("page", visit.PageName), zap.Error(err))
		return false
	}

	t.mu.Lock()
	if t.open != nil && t.open.gen == gen {
		t.open.reported = true
	}
	t.mu.Unlock()
	return true
}

// EndPageVisit closes the open page. The local pointer is cleared before
// page/end is sent, whatever the collector answers. Returns whether the end
// was acknowledged.
func (t *Tracker) EndPageVisit(ctx context.Context, reason string) bool {
	t.opMu.Lock()
	defer t.opMu.Unlock()
	return t.end(ctx, reason)
}

func (t *Tracker) end(ctx context.Context, reason string) bool {
	t.mu.Lock()
	cur := t.open
	t.open = nil
	t.mu.Unlock()
	if cur == nil {
		t.logger.Debug("page end ignored, no open page")
		return false
	}
	if strings.TrimSpace(reason) == "" {
		reason = domain.ExitNavigation
	}

	page := cur.visit.PageName
	t.logger.Debug("page visit ended",
		zap.String("page", page),
		zap.String("exit_reason", reason),
		zap.Duration("duration", t.clock.Since(cur.started)))

	token, ok := t.tokens.Token()
	if !ok {
		t.logger.Debug("page end not reported, no credential", zap.String("page", page))
		return false
	}
	if err := t.reporter.EndPage(ctx, token, domain.PageEndRequest{PageName: page, ExitReason: reason}); err != nil {
		t.logger.Warn("page end report failed", zap.String("page", page), zap.Error(err))
		return false
	}
	return true
}

// CurrentPage returns the open page visit
func (t *Tracker) CurrentPage() (domain.PageVisit, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.open == nil {
		return domain.PageVisit{}, false
	}
	return t.open.visit, true
}

// Reset forgets the open page without reporting it
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.open = nil
	t.mu.Unlock()
}
