package collector

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nerrad567/pzem016-mqtt/internal/ipc"
	"github.com/nerrad567/pzem016-mqtt/internal/telemetry"
)

const (
	// DefaultSweepInterval is the pause between two sweeps.
	DefaultSweepInterval = 50 * time.Millisecond

	// errorSource tags error reports sent over the bus.
	errorSource = "collector"

	latestCacheSize = 256
)

// Logger is the logging surface the collector needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Options configures a Collector.
type Options struct {
	Source  DataSource
	Devices []Device

	// SweepInterval is the pause after each sweep. Zero means
	// DefaultSweepInterval.
	SweepInterval time.Duration

	// DiscoveryInterval spaces discovery announcements. Zero announces on
	// every sweep.
	DiscoveryInterval time.Duration

	// AvailabilityTopic is advertised in discovery documents when set.
	AvailabilityTopic string

	Recorders []Recorder
	Logger    Logger

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Stats is a snapshot of collector counters.
type Stats struct {
	Sweeps        uint64    `json:"sweeps"`
	Reads         uint64    `json:"reads"`
	ReadFailures  uint64    `json:"read_failures"`
	Announcements uint64    `json:"announcements"`
	LastSweepAt   time.Time `json:"last_sweep_at,omitzero"`
}

// Collector polls every configured meter and pushes discovery and state
// documents onto the bus. Run may be called again after it returns; each
// call is one incarnation and starts by announcing.
type Collector struct {
	source            DataSource
	devices           []Device
	sweepInterval     time.Duration
	discoveryInterval time.Duration
	availability      string
	recorders         []Recorder
	logger            Logger
	now               func() time.Time

	announceRequested atomic.Bool
	// announced holds when each device was last announced in the current
	// incarnation, keyed by Device.Key. Only the Run goroutine touches it.
	announced map[string]time.Time

	sweeps        atomic.Uint64
	reads         atomic.Uint64
	readFailures  atomic.Uint64
	announcements atomic.Uint64

	mu          sync.RWMutex
	lastSweepAt time.Time

	latest *lru.Cache[string, Reading]
}

// New validates opts and returns a Collector.
func New(opts Options) (*Collector, error) {
	if opts.Source == nil {
		return nil, ErrNoSource
	}
	if len(opts.Devices) == 0 {
		return nil, ErrNoDevices
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	latest, err := lru.New[string, Reading](latestCacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating reading cache: %w", err)
	}

	devices := make([]Device, len(opts.Devices))
	copy(devices, opts.Devices)

	return &Collector{
		source:            opts.Source,
		devices:           devices,
		sweepInterval:     opts.SweepInterval,
		discoveryInterval: opts.DiscoveryInterval,
		availability:      opts.AvailabilityTopic,
		recorders:         opts.Recorders,
		logger:            opts.Logger,
		now:               opts.Now,
		announced:         make(map[string]time.Time, len(devices)),
		latest:            latest,
	}, nil
}

// Devices returns the configured meters.
func (c *Collector) Devices() []Device {
	out := make([]Device, len(c.devices))
	copy(out, c.devices)
	return out
}

// RequestAnnounce makes every device publish discovery documents again on
// its next successful read, for example after Home Assistant restarts.
func (c *Collector) RequestAnnounce() {
	c.announceRequested.Store(true)
}

// Run sweeps until ctx is cancelled or a sweep fails fatally.
// A nil return means a clean stop.
func (c *Collector) Run(ctx context.Context, out ipc.Sender) error {
	clear(c.announced)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		if err := c.sweep(ctx, out); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		timer.Reset(c.sweepInterval)
	}
}

func (c *Collector) sweep(ctx context.Context, out ipc.Sender) error {
	now := c.now()
	if c.announceRequested.Swap(false) {
		clear(c.announced)
	}
	succeeded := 0
	announcedAny := false

	for _, d := range c.devices {
		if ctx.Err() != nil {
			return nil
		}

		unit := strconv.Itoa(int(d.Addr))
		r, err := c.source.Read(ctx, d)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.readFailures.Add(1)
			telemetry.DeviceReadsTotal.WithLabelValues(unit, "error").Inc()
			if reportErr := c.reportFailure(out, d, err); reportErr != nil {
				return reportErr
			}
			continue
		}

		succeeded++
		c.reads.Add(1)
		telemetry.DeviceReadsTotal.WithLabelValues(unit, "ok").Inc()

		if r.At.IsZero() {
			r.At = now
		}
		r.Addr = d.Addr
		r.Gateway = d.Gateway
		r.Breaker = d.Breaker
		c.latest.Add(d.Key(), r)

		announce := c.shouldAnnounce(d, now)
		if err := c.publish(ctx, out, d, r, announce); err != nil {
			return err
		}
		if announce {
			c.announced[d.Key()] = now
			announcedAny = true
		}
		c.record(ctx, r)
	}

	c.sweeps.Add(1)
	c.mu.Lock()
	c.lastSweepAt = now
	c.mu.Unlock()

	if succeeded == 0 {
		return fmt.Errorf("%w: %d devices", ErrSweepFailed, len(c.devices))
	}
	if announcedAny {
		c.announcements.Add(1)
	}
	return nil
}

// shouldAnnounce reports whether d is due a discovery announcement: never
// announced in this incarnation, or its discovery interval has elapsed.
func (c *Collector) shouldAnnounce(d Device, now time.Time) bool {
	last, ok := c.announced[d.Key()]
	if !ok || c.discoveryInterval <= 0 {
		return true
	}
	return now.Sub(last) >= c.discoveryInterval
}

func (c *Collector) publish(ctx context.Context, out ipc.Sender, d Device, r Reading, announce bool) error {
	for _, s := range Sensors {
		if announce {
			msg := ipc.Outbound{Topic: ConfigTopic(d, s), Payload: BuildConfig(d, s, c.availability)}
			if err := out.Send(ctx, msg); err != nil {
				return fmt.Errorf("%w: %s: %w", ErrBusSend, msg.Topic, err)
			}
		}
		msg := ipc.Outbound{Topic: StateTopic(d, s), Payload: BuildState(r, s)}
		if err := out.Send(ctx, msg); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrBusSend, msg.Topic, err)
		}
	}
	return nil
}

// reportFailure logs a failed read and reports it over the bus. A full
// queue drops the report; a detached one is fatal.
func (c *Collector) reportFailure(out ipc.Sender, d Device, readErr error) error {
	c.logger.Warn("meter read failed",
		"unit", d.Addr,
		"gateway", d.Gateway,
		"error", readErr,
	)

	err := out.TrySend(ipc.Error{
		Source: errorSource,
		Detail: fmt.Sprintf("unit %d on %s: %v", d.Addr, d.Gateway, readErr),
	})
	switch {
	case err == nil, errors.Is(err, ipc.ErrFull):
		return nil
	default:
		return fmt.Errorf("%w: error report: %w", ErrBusSend, err)
	}
}

func (c *Collector) record(ctx context.Context, r Reading) {
	for _, rec := range c.recorders {
		if err := rec.RecordReading(ctx, r); err != nil {
			c.logger.Warn("recording reading failed", "unit", r.Addr, "error", err)
		}
	}
}

// Stats returns a snapshot of the collector counters.
func (c *Collector) Stats() Stats {
	c.mu.RLock()
	last := c.lastSweepAt
	c.mu.RUnlock()

	return Stats{
		Sweeps:        c.sweeps.Load(),
		Reads:         c.reads.Load(),
		ReadFailures:  c.readFailures.Load(),
		Announcements: c.announcements.Load(),
		LastSweepAt:   last,
	}
}

// Latest returns the most recent reading of every meter that has answered,
// in configuration order.
func (c *Collector) Latest() []Reading {
	out := make([]Reading, 0, len(c.devices))
	for _, d := range c.devices {
		if r, ok := c.latest.Get(d.Key()); ok {
			out = append(out, r)
		}
	}
	return out
}

// LatestFor returns the most recent reading for a unit address.
func (c *Collector) LatestFor(addr uint8) (Reading, bool) {
	for _, d := range c.devices {
		if d.Addr != addr {
			continue
		}
		if r, ok := c.latest.Get(d.Key()); ok {
			return r, true
		}
	}
	return Reading{}, false
}
