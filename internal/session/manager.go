// Package session owns the lifecycle of the single active usage session.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/vburojevic/beacon/internal/collector"
	"github.com/vburojevic/beacon/internal/domain"
)

// Reporter is the session half of the collector API
type Reporter interface {
	StartSession(ctx context.Context, token string, req domain.SessionStartRequest) (domain.SessionStartResponse, error)
	EndSession(ctx context.Context, token string, req domain.SessionEndRequest) error
}

// TokenSource yields the current bearer credential
type TokenSource interface {
	Token() (string, bool)
}

// DeviceSource yields the cached device context
type DeviceSource interface {
	Context() domain.DeviceContext
}

// Flusher drains the event queue before a session closes
type Flusher interface {
	ForceFlush(ctx context.Context) bool
}

// PageCloser closes the open page visit on session end
type PageCloser interface {
	EndPageVisit(ctx context.Context, reason string) bool
	Reset()
}

// Deps are the collaborators of a Manager. Events and Pages may be nil.
type Deps struct {
	Current  *Current
	Reporter Reporter
	Tokens   TokenSource
	Device   DeviceSource
	Events   Flusher
	Pages    PageCloser
	Clock    clock.Clock
	Logger   *zap.Logger
}

// Manager starts and ends sessions against the collector
type Manager struct {
	current  *Current
	reporter Reporter
	tokens   TokenSource
	device   DeviceSource
	events   Flusher
	pages    PageCloser
	clock    clock.Clock
	logger   *zap.Logger

	// opMu serializes Start and End; Expire never takes it
	opMu sync.Mutex
}

// NewManager creates a manager. A nil Current gets a fresh holder.
func NewManager(d Deps) *Manager {
	if d.Current == nil {
		d.Current = &Current{}
	}
	if d.Clock == nil {
		d.Clock = clock.New()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Manager{
		current:  d.Current,
		reporter: d.Reporter,
		tokens:   d.Tokens,
		device:   d.Device,
		events:   d.Events,
		pages:    d.Pages,
		clock:    d.Clock,
		logger:   d.Logger.Named("session"),
	}
}

// Current returns the active session
func (m *Manager) Current() (domain.Session, bool) {
	return m.current.Get()
}

// Start opens a session. Returns false without side effects when there is no
// credential, a session is already active, or the collector call fails.
func (m *Manager) Start(ctx context.Context) bool {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	token, ok := m.tokens.Token()
	if !ok {
		m.logger.Debug("session start skipped, no credential")
		return false
	}
	if s, active := m.current.Get(); active {
		m.logger.Info("session already active", zap.String("session_id", s.ID))
		return false
	}

	var dev domain.DeviceContext
	if m.device != nil {
		dev = m.device.Context()
	}
	epoch := m.current.currentEpoch()

	resp, err := m.reporter.StartSession(ctx, token, domain.NewSessionStartRequest(dev))
	if err != nil {
		m.logger.Warn("session start failed", zap.Error(err))
		return false
	}

	s := domain.Session{
		ID:         resp.SessionID,
		UserID:     resp.UserID,
		StartTime:  m.clock.Now().UTC(),
		DeviceType: orUnknown(dev.DeviceType),
	}
	if !m.current.setIf(epoch, s) {
		m.logger.Info("session start discarded, state changed during the call",
			zap.String("session_id", s.ID))
		return false
	}
	m.logger.Info("session started",
		zap.String("session_id", s.ID),
		zap.String("user_id", s.UserID),
		zap.String("device_type", s.DeviceType))
	return true
}

// End closes the active session. See EndWithSummary.
func (m *Manager) End(ctx context.Context, reason string) bool {
	_, ok := m.EndWithSummary(ctx, reason)
	return ok
}

// EndWithSummary flushes queued events, closes the open page with
// session_end, reports session/end and then clears local state whatever the
// collector answered. Returns false only when no session was active.
func (m *Manager) EndWithSummary(ctx context.Context, reason string) (domain.SessionSummary, bool) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	s, active := m.current.Get()
	if !active {
		m.logger.Info("session end ignored, no active session")
		return domain.SessionSummary{}, false
	}
	if strings.TrimSpace(reason) == "" {
		reason = domain.EndReasonLogout
	}

	if m.events != nil {
		m.events.ForceFlush(ctx)
	}
	if m.pages != nil {
		m.pages.EndPageVisit(ctx, domain.ExitSessionEnd)
	}

	summary := domain.SessionSummary{
		SessionID:       s.ID,
		Reason:          reason,
		DurationSeconds: int(m.clock.Since(s.StartTime) / time.Second),
	}
	if token, ok := m.tokens.Token(); !ok {
		m.logger.Debug("session end not reported, no credential", zap.String("session_id", s.ID))
	} else if err := m.reporter.EndSession(ctx, token, domain.SessionEndRequest{SessionID: s.ID, Reason: reason}); err != nil {
		fields := []zap.Field{zap.String("session_id", s.ID), zap.Error(err)}
		var se *collector.StatusError
		if errors.As(err, &se) {
			fields = append(fields, zap.Int("status", se.StatusCode))
		}
		m.logger.Warn("session end report failed", fields...)
	} else {
		summary.Acknowledged = true
	}

	m.current.clear()
	m.logger.Info("session ended",
		zap.String("session_id", s.ID),
		zap.String("reason", reason),
		zap.Int("duration_seconds", summary.DurationSeconds),
		zap.Bool("acknowledged", summary.Acknowledged))
	return summary, true
}

// Expire drops the session and the open page without calling the collector.
// Used when the host reports that the credential is no longer valid. Queued
// events are kept for the next session.
func (m *Manager) Expire() {
	prev, was := m.current.clear()
	if m.pages != nil {
		m.pages.Reset()
	}
	if was {
		m.logger.Info("session expired", zap.String("session_id", prev.ID))
	}
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return domain.Unknown
	}
	return s
}
