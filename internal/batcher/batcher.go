// Package batcher collects usage events in a bounded in-memory queue and
// delivers them to the collector in batches.
//
// A flush is triggered when the queue reaches the batch size or when the
// flush interval elapses. At most one flush is in flight at a time. A failed
// delivery puts the whole batch back at the front of the queue, so events are
// delivered at least once and in the order they were tracked.
package batcher

import (
	"context"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/vburojevic/beacon/internal/domain"
	"github.com/vburojevic/beacon/internal/queue"
)

// Defaults applied by New for zero config values
const (
	DefaultBatchSize     = 10
	DefaultFlushInterval = 30 * time.Second
)

// Sender delivers one batch to the collector
type Sender interface {
	SendEvents(ctx context.Context, token string, batch domain.EventBatch) (domain.BatchResult, error)
}

// TokenSource yields the current bearer credential
type TokenSource interface {
	Token() (string, bool)
}

// SessionSource yields the active session id
type SessionSource interface {
	ID() (string, bool)
}

// Config holds batcher settings
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	QueueCapacity int
	PreSession    domain.PreSessionPolicy
	DeviceType    string
	Clock         clock.Clock
	Logger        *zap.Logger
}

// Stats is a point-in-time view of the batcher counters
type Stats struct {
	Queued         int   `json:"queued"`
	Sent           int64 `json:"sent"`            // events acknowledged by the collector
	Batches        int64 `json:"batches"`         // successful deliveries
	FailedAttempts int64 `json:"failed_attempts"` // deliveries that were re-queued
	Dropped        int64 `json:"dropped"`         // evicted by the queue bound
	Rejected       int64 `json:"rejected"`        // not queued (pre-session drop policy)
}

// Batcher is the event delivery core
type Batcher struct {
	cfg      Config
	sender   Sender
	tokens   TokenSource
	sessions SessionSource
	queue    *queue.Queue[domain.Event]
	logger   *zap.Logger

	// guard holds one token while a flush is in flight
	guard chan struct{}
	again atomic.Bool // a trigger arrived while a flush was in flight

	baseCtx  context.Context
	pending  sync.WaitGroup // size-triggered flush goroutines
	mu       sync.Mutex
	stopping bool // Stop is waiting on pending; guarded by mu
	stop     chan struct{}
	loopDone chan struct{}

	sent           atomic.Int64
	batches        atomic.Int64
	failedAttempts atomic.Int64
	rejected       atomic.Int64
}

// New creates a batcher. Zero config values fall back to the package defaults.
func New(cfg Config, sender Sender, tokens TokenSource, sessions SessionSource) *Batcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = queue.DefaultCapacity
	}
	if cfg.PreSession == "" {
		cfg.PreSession = domain.PreSessionTag
	}
	if cfg.DeviceType == "" {
		cfg.DeviceType = domain.Unknown
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Batcher{
		cfg:      cfg,
		sender:   sender,
		tokens:   tokens,
		sessions: sessions,
		queue:    queue.New[domain.Event](cfg.QueueCapacity),
		logger:   logger.Named("batcher"),
		guard:    make(chan struct{}, 1),
		baseCtx:  context.Background(),
	}
}

// Track appends one event to the queue. It never blocks on the network: when
// the queue reaches the batch size a flush is started on its own goroutine.
// Returns false when the event was not queued.
func (b *Batcher) Track(eventType domain.EventType, name string, data map[string]any, result domain.Result) bool {
	if name == "" {
		b.logger.Warn("event without name ignored", zap.String("event_type", string(eventType)))
		return false
	}
	if !eventType.Valid() {
		b.logger.Debug("tracking event with unrecognized type", zap.String("event_type", string(eventType)))
	}
	if result == "" {
		result = domain.ResultSuccess
	}

	sessionID, active := b.sessionID()
	if !active && b.cfg.PreSession == domain.PreSessionDrop {
		b.rejected.Add(1)
		b.logger.Debug("event dropped, no active session", zap.String("event_name", name))
		return false
	}

	ts := b.cfg.Clock.Now().UTC()
	ev := domain.Event{
		EventType:  eventType,
		EventName:  name,
		EventData:  maps.Clone(data),
		Result:     result,
		DeviceType: b.cfg.DeviceType,
		SessionID:  sessionID,
		Timestamp:  &ts,
	}
	if evicted := b.queue.Push(ev); evicted > 0 {
		b.logger.Warn("queue full, oldest event evicted",
			zap.Int("capacity", b.queue.Cap()),
			zap.Int64("dropped_total", b.queue.Dropped()))
	}

	if b.queue.Len() >= b.cfg.BatchSize {
		b.trigger()
	}
	return true
}

// Flush attempts one delivery of the whole queue. It is a no-op returning
// false when the queue is empty, no credential is available, or another flush
// is already in flight (the trigger is then coalesced into that flush).
func (b *Batcher) Flush(ctx context.Context) bool {
	select {
	case b.guard <- struct{}{}:
	default:
		b.again.Store(true)
		return false
	}
	ok := b.drain(ctx)
	b.release()
	b.retrigger(ok)
	return ok
}

// ForceFlush waits for any in-flight flush to finish and then runs one flush.
// Returns false if ctx ends before the guard could be taken.
func (b *Batcher) ForceFlush(ctx context.Context) bool {
	select {
	case b.guard <- struct{}{}:
	case <-ctx.Done():
		return false
	}
	ok := b.flushOnce(ctx)
	b.release()
	b.retrigger(ok)
	return ok
}

// trigger starts a size-triggered flush. The guard is taken synchronously so
// the attempt is registered before Track returns. While Stop is draining, the
// trigger is left to its final flush.
func (b *Batcher) trigger() {
	b.mu.Lock()
	if b.stopping {
		b.mu.Unlock()
		return
	}
	select {
	case b.guard <- struct{}{}:
	default:
		b.mu.Unlock()
		b.again.Store(true)
		return
	}
	ctx := b.baseCtx
	b.pending.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.pending.Done()
		ok := b.drain(ctx)
		b.release()
		b.retrigger(ok)
	}()
}

func (b *Batcher) release() {
	<-b.guard
}

// retrigger picks up a size trigger that was coalesced after the last drain
// check but before the guard was released
func (b *Batcher) retrigger(ok bool) {
	if ok && b.again.Load() && b.queue.Len() >= b.cfg.BatchSize {
		b.trigger()
	}
}

// drain flushes, then keeps flushing while triggers were coalesced and the
// queue is still at the batch size. A failed flush ends the loop; the next
// timer tick retries.
func (b *Batcher) drain(ctx context.Context) bool {
	b.again.Store(false)
	ok := b.flushOnce(ctx)
	for ok && b.again.Swap(false) && b.queue.Len() >= b.cfg.BatchSize {
		ok = b.flushOnce(ctx)
	}
	return ok
}

// flushOnce must be called with the guard held
func (b *Batcher) flushOnce(ctx context.Context) bool {
	if b.queue.Len() == 0 {
		return false
	}
	token, ok := b.tokens.Token()
	if !ok {
		b.logger.Debug("flush skipped, no credential", zap.Int("queued", b.queue.Len()))
		return false
	}

	batch := b.queue.TakeAll()
	if len(batch) == 0 {
		return false
	}
	sessionID, _ := b.sessionID()

	res, err := b.sender.SendEvents(ctx, token, domain.EventBatch{
		Events:     batch,
		SessionID:  sessionID,
		DeviceType: b.cfg.DeviceType,
	})
	if err != nil {
		b.failedAttempts.Add(1)
		evicted := b.queue.Prepend(batch)
		fields := []zap.Field{
			zap.Int("batch", len(batch)),
			zap.Int("queued", b.queue.Len()),
			zap.Error(err),
		}
		if evicted > 0 {
			fields = append(fields, zap.Int("evicted", evicted))
		}
		b.logger.Warn("event batch delivery failed, re-queued", fields...)
		return false
	}

	b.batches.Add(1)
	b.sent.Add(int64(res.SuccessCount))
	if res.Partial(len(batch)) {
		// the response does not say which events were rejected
		b.logger.Warn("collector accepted part of the batch",
			zap.Int("sent", len(batch)),
			zap.Int("accepted", res.SuccessCount))
	} else {
		b.logger.Debug("event batch delivered",
			zap.Int("sent", len(batch)),
			zap.Int("accepted", res.SuccessCount))
	}
	return true
}

func (b *Batcher) sessionID() (string, bool) {
	if b.sessions != nil {
		if id, ok := b.sessions.ID(); ok {
			return id, true
		}
	}
	return domain.UnknownSessionID, false
}

// Start runs the recurring flush timer until ctx is done or Stop is called.
// Calling Start on a running batcher is a no-op.
func (b *Batcher) Start(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stop != nil {
		return
	}
	b.baseCtx = ctx
	b.stop = make(chan struct{})
	b.loopDone = make(chan struct{})

	ticker := b.cfg.Clock.Ticker(b.cfg.FlushInterval)
	go b.loop(ctx, ticker, b.stop, b.loopDone)
}

func (b *Batcher) loop(ctx context.Context, ticker *clock.Ticker, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			b.Flush(ctx)
		}
	}
}

// Stop halts the timer, waits for triggered flushes and performs a final
// forced flush with ctx. Returns the result of the final flush.
func (b *Batcher) Stop(ctx context.Context) bool {
	b.mu.Lock()
	stop, done := b.stop, b.loopDone
	b.stop, b.loopDone = nil, nil
	b.baseCtx = context.Background()
	b.stopping = true
	b.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	b.pending.Wait()
	ok := b.ForceFlush(ctx)

	b.mu.Lock()
	b.stopping = false
	b.mu.Unlock()
	return ok
}

// Len returns the number of queued events
func (b *Batcher) Len() int { return b.queue.Len() }

// Pending returns a copy of the queued events, oldest first
func (b *Batcher) Pending() []domain.Event { return b.queue.Snapshot() }

// InFlight reports whether a flush currently holds the guard
func (b *Batcher) InFlight() bool { return len(b.guard) > 0 }

// Stats returns the current counters
func (b *Batcher) Stats() Stats {
	return Stats{
		Queued:         b.queue.Len(),
		Sent:           b.sent.Load(),
		Batches:        b.batches.Load(),
		FailedAttempts: b.failedAttempts.Load(),
		Dropped:        b.queue.Dropped(),
		Rejected:       b.rejected.Load(),
	}
}
