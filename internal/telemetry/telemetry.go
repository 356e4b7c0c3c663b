// Package telemetry assembles the session manager, page tracker and event
// batcher into one Client. Each Client is independent: two clients in the
// same process share no state.
package telemetry

import (
	"context"
	"errors"
	"fmt"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/vburojevic/beacon/internal/batcher"
	"github.com/vburojevic/beacon/internal/collector"
	"github.com/vburojevic/beacon/internal/config"
	"github.com/vburojevic/beacon/internal/credential"
	"github.com/vburojevic/beacon/internal/device"
	"github.com/vburojevic/beacon/internal/domain"
	"github.com/vburojevic/beacon/internal/pagevisit"
	"github.com/vburojevic/beacon/internal/session"
)

// Collector is the full collector API used by a Client
type Collector interface {
	batcher.Sender
	session.Reporter
	pagevisit.Reporter
}

// TokenSource yields the current bearer credential
type TokenSource interface {
	Token() (string, bool)
}

// DeviceSource yields the cached device context
type DeviceSource interface {
	Context() domain.DeviceContext
}

// Options configure a Client. Collector and Tokens are required.
type Options struct {
	Collector Collector
	Tokens    TokenSource
	Device    DeviceSource
	Batch     batcher.Config
	Clock     clock.Clock
	Logger    *zap.Logger
}

// Client is the explicit telemetry context handed to the host application
type Client struct {
	Sessions *session.Manager
	Pages    *pagevisit.Tracker
	Events   *batcher.Batcher

	current *session.Current
	device  domain.DeviceContext
	logger  *zap.Logger
}

// New wires a Client
func New(opts Options) (*Client, error) {
	if opts.Collector == nil {
		return nil, errors.New("telemetry: collector is required")
	}
	if opts.Tokens == nil {
		return nil, errors.New("telemetry: token source is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var dev domain.DeviceContext
	if opts.Device != nil {
		dev = opts.Device.Context()
	}
	deviceType := dev.DeviceType
	if deviceType == "" {
		deviceType = domain.Unknown
	}

	current := &session.Current{}

	bcfg := opts.Batch
	bcfg.DeviceType = deviceType
	bcfg.Clock = opts.Clock
	bcfg.Logger = logger
	events := batcher.New(bcfg, opts.Collector, opts.Tokens, current)

	pages := pagevisit.New(pagevisit.Deps{
		Reporter:   opts.Collector,
		Tokens:     opts.Tokens,
		Sessions:   current,
		Events:     events,
		DeviceType: deviceType,
		Clock:      opts.Clock,
		Logger:     logger,
	})

	sessions := session.NewManager(session.Deps{
		Current:  current,
		Reporter: opts.Collector,
		Tokens:   opts.Tokens,
		Device:   staticDevice(dev),
		Events:   events,
		Pages:    pages,
		Clock:    opts.Clock,
		Logger:   logger,
	})

	return &Client{
		Sessions: sessions,
		Pages:    pages,
		Events:   events,
		current:  current,
		device:   dev,
		logger:   logger,
	}, nil
}

type staticDevice domain.DeviceContext

func (d staticDevice) Context() domain.DeviceContext { return domain.DeviceContext(d) }

// OpenStore opens the credential store selected by cfg
func OpenStore(cfg config.CredentialsConfig) (credential.Store, error) {
	switch cfg.Store {
	case config.StoreMemory:
		return credential.NewMemoryStore(), nil
	case config.StoreFile, "":
		path := cfg.Path
		if path == "" {
			p, err := credential.DefaultPath()
			if err != nil {
				return nil, err
			}
			path = p
		}
		return credential.NewFileStore(path)
	default:
		return nil, fmt.Errorf("telemetry: unknown credential store %q", cfg.Store)
	}
}

// DeviceOverrides maps config device settings onto resolver overrides
func DeviceOverrides(cfg config.DeviceConfig) device.Overrides {
	return device.Overrides{
		DeviceType: cfg.Type,
		Model:      cfg.Model,
		OSVersion:  cfg.OSVersion,
		AppName:    cfg.AppName,
		AppVersion: cfg.AppVersion,
		InfoPlist:  cfg.InfoPlist,
	}
}

// FromConfig builds a Client talking to the configured collector with the
// configured credential store. store may be nil to open the one in cfg.
func FromConfig(cfg *config.Config, store credential.Store, logger *zap.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		s, err := OpenStore(cfg.Credentials)
		if err != nil {
			return nil, err
		}
		store = s
	}

	provider := device.NewProvider(DeviceOverrides(cfg.Device))
	dev := provider.Context()

	client, err := collector.New(cfg.Collector.BaseURL,
		collector.WithTimeout(cfg.Collector.Timeout),
		collector.WithUserAgent(dev.UserAgent),
	)
	if err != nil {
		return nil, err
	}

	policy, _ := domain.ParsePreSessionPolicy(cfg.Batch.PreSession)
	return New(Options{
		Collector: client,
		Tokens:    credential.NewSource(store, cfg.Credentials.Key),
		Device:    provider,
		Batch: batcher.Config{
			BatchSize:     cfg.Batch.Size,
			FlushInterval: cfg.Batch.FlushInterval,
			QueueCapacity: cfg.Batch.QueueCapacity,
			PreSession:    policy,
		},
		Logger: logger,
	})
}

// Device returns the device context resolved at construction
func (c *Client) Device() domain.DeviceContext { return c.device }

// Run starts the recurring flush timer
func (c *Client) Run(ctx context.Context) {
	c.Events.Start(ctx)
}

// Close ends an active session with app_close and performs a final flush.
// Returns whether the final flush delivered anything.
func (c *Client) Close(ctx context.Context) bool {
	if _, active := c.current.Get(); active {
		c.Sessions.End(ctx, domain.EndReasonAppClose)
	}
	return c.Events.Stop(ctx)
}

// StartSession opens a session
func (c *Client) StartSession(ctx context.Context) bool {
	return c.Sessions.Start(ctx)
}

// EndSession closes the active session
func (c *Client) EndSession(ctx context.Context, reason string) bool {
	return c.Sessions.End(ctx, reason)
}

// CredentialExpired drops local session state without network I/O
func (c *Client) CredentialExpired() {
	c.Sessions.Expire()
}

// Session returns the active session
func (c *Client) Session() (domain.Session, bool) {
	return c.current.Get()
}

// StartPageVisit makes visit the current page
func (c *Client) StartPageVisit(ctx context.Context, visit domain.PageVisit) bool {
	return c.Pages.StartPageVisit(ctx, visit)
}

// EndPageVisit closes the open page
func (c *Client) EndPageVisit(ctx context.Context, reason string) bool {
	return c.Pages.EndPageVisit(ctx, reason)
}

// Track queues one event
func (c *Client) Track(eventType domain.EventType, name string, data map[string]any, result domain.Result) bool {
	return c.Events.Track(eventType, name, data, result)
}

// TrackAuth queues an AUTH event
func (c *Client) TrackAuth(name string, data map[string]any, result domain.Result) bool {
	return c.Track(domain.EventTypeAuth, name, data, result)
}

// TrackFeature queues a FEATURE_USE event
func (c *Client) TrackFeature(name string, data map[string]any, result domain.Result) bool {
	return c.Track(domain.EventTypeFeatureUse, name, data, result)
}

// TrackInteraction queues an INTERACTION event
func (c *Client) TrackInteraction(name string, data map[string]any) bool {
	return c.Track(domain.EventTypeInteraction, name, data, domain.ResultSuccess)
}

// Flush attempts one delivery of the queue
func (c *Client) Flush(ctx context.Context) bool {
	return c.Events.Flush(ctx)
}

// Stats returns batcher counters
func (c *Client) Stats() batcher.Stats {
	return c.Events.Stats()
}
