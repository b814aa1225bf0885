package collector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/simonvetter/modbus"
	"github.com/sony/gobreaker"

	"github.com/nerrad567/pzem016-mqtt/internal/telemetry"
)

// PZEM-016 input register map. All ten registers are read in one request.
const (
	registerStart = 0x0000
	registerCount = 10

	alarmOn = 0xFFFF
)

const (
	defaultSpeed       = 9600
	defaultReadTimeout = time.Second

	defaultBreakerFailures = 5
	defaultBreakerTimeout  = 30 * time.Second

	transportScheme = "rtuovertcp://"
)

// registerReader is the subset of *modbus.ModbusClient used for polling.
type registerReader interface {
	Open() error
	Close() error
	SetUnitId(id uint8) error
	ReadRegisters(addr uint16, quantity uint16, regType modbus.RegType) ([]uint16, error)
}

type dialFunc func(url string, speed uint, timeout time.Duration) (registerReader, error)

func dialModbus(url string, speed uint, timeout time.Duration) (registerReader, error) {
	client, err := modbus.NewClient(&modbus.ClientConfiguration{
		URL:     url,
		Speed:   speed,
		Timeout: timeout,
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}

// PZEMOptions configures a PZEMSource.
type PZEMOptions struct {
	// Gateways lists the gateways to open up front. Devices on other
	// gateways are connected on first read.
	Gateways []string

	Speed       uint
	ReadTimeout time.Duration

	// BreakerFailures is the number of consecutive failed reads that
	// opens a gateway's breaker.
	BreakerFailures uint32
	// BreakerTimeout is how long an open breaker rejects reads.
	BreakerTimeout time.Duration

	Logger Logger
}

// PZEMSource reads PZEM-016 meters through Modbus RTU-over-TCP gateways.
// Each gateway has its own connection and circuit breaker; reads on one
// gateway are serialised.
type PZEMSource struct {
	opts   PZEMOptions
	dial   dialFunc
	logger Logger

	mu       sync.Mutex
	gateways map[string]*gateway
}

type gateway struct {
	addr   string
	url    string
	mu     sync.Mutex
	client registerReader
	cb     *gobreaker.CircuitBreaker
}

// NewPZEMSource returns a source that has not connected yet. Call Open to
// connect the listed gateways eagerly.
func NewPZEMSource(opts PZEMOptions) *PZEMSource {
	return newPZEMSource(opts, dialModbus)
}

func newPZEMSource(opts PZEMOptions, dial dialFunc) *PZEMSource {
	if opts.Speed == 0 {
		opts.Speed = defaultSpeed
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = defaultReadTimeout
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = defaultBreakerFailures
	}
	if opts.BreakerTimeout <= 0 {
		opts.BreakerTimeout = defaultBreakerTimeout
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}

	s := &PZEMSource{
		opts:     opts,
		dial:     dial,
		logger:   opts.Logger,
		gateways: make(map[string]*gateway),
	}
	for _, addr := range opts.Gateways {
		s.gateway(addr)
	}
	return s
}

// GatewayURL returns the Modbus client URL for a configured gateway
// address. Addresses that already carry a scheme are used as given.
func GatewayURL(addr string) string {
	if strings.Contains(addr, "://") {
		return addr
	}
	return transportScheme + addr
}

func (s *PZEMSource) gateway(addr string) *gateway {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gw, ok := s.gateways[addr]; ok {
		return gw
	}

	gw := &gateway{addr: addr, url: GatewayURL(addr)}
	failures := s.opts.BreakerFailures
	gw.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        addr,
		MaxRequests: 1,
		Timeout:     s.opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			telemetry.BreakerState.WithLabelValues(name).Set(float64(to))
			s.logger.Warn("gateway breaker changed state",
				"gateway", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	telemetry.BreakerState.WithLabelValues(addr).Set(float64(gobreaker.StateClosed))
	s.gateways[addr] = gw
	return gw
}

// Open connects every known gateway.
func (s *PZEMSource) Open(ctx context.Context) error {
	s.mu.Lock()
	gws := make([]*gateway, 0, len(s.gateways))
	for _, gw := range s.gateways {
		gws = append(gws, gw)
	}
	s.mu.Unlock()

	var errs []error
	for _, gw := range gws {
		if err := ctx.Err(); err != nil {
			return err
		}
		gw.mu.Lock()
		err := s.connect(gw)
		gw.mu.Unlock()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		s.logger.Info("gateway connected", "gateway", gw.addr)
	}
	return errors.Join(errs...)
}

// connect opens gw's client. The caller holds gw.mu.
func (s *PZEMSource) connect(gw *gateway) error {
	if gw.client != nil {
		return nil
	}
	client, err := s.dial(gw.url, s.opts.Speed, s.opts.ReadTimeout)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrGatewayUnavailable, gw.addr, err)
	}
	if err := client.Open(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrGatewayUnavailable, gw.addr, err)
	}
	gw.client = client
	return nil
}

// Read polls one meter.
func (s *PZEMSource) Read(ctx context.Context, d Device) (Reading, error) {
	if err := ctx.Err(); err != nil {
		return Reading{}, err
	}

	gw := s.gateway(d.Gateway)
	start := time.Now()
	v, err := gw.cb.Execute(func() (interface{}, error) {
		return s.readRegisters(gw, d.Addr)
	})
	telemetry.DeviceReadDuration.WithLabelValues(gw.addr).Observe(time.Since(start).Seconds())
	if err != nil {
		return Reading{}, fmt.Errorf("reading unit %d on %s: %w", d.Addr, d.Gateway, err)
	}

	r, err := decodeRegisters(v.([]uint16))
	if err != nil {
		return Reading{}, fmt.Errorf("reading unit %d on %s: %w", d.Addr, d.Gateway, err)
	}
	r.Addr = d.Addr
	r.Gateway = d.Gateway
	r.Breaker = d.Breaker
	r.At = time.Now()
	return r, nil
}

func (s *PZEMSource) readRegisters(gw *gateway, unit uint8) ([]uint16, error) {
	gw.mu.Lock()
	defer gw.mu.Unlock()

	if err := s.connect(gw); err != nil {
		return nil, err
	}
	if err := gw.client.SetUnitId(unit); err != nil {
		return nil, err
	}
	regs, err := gw.client.ReadRegisters(registerStart, registerCount, modbus.INPUT_REGISTER)
	if err != nil {
		// Reconnect on the next read; the transport may be wedged.
		_ = gw.client.Close()
		gw.client = nil
		return nil, err
	}
	return regs, nil
}

// BreakerStates reports each gateway's breaker state.
func (s *PZEMSource) BreakerStates() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]string, len(s.gateways))
	for addr, gw := range s.gateways {
		out[addr] = gw.cb.State().String()
	}
	return out
}

// Close disconnects every gateway.
func (s *PZEMSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for _, gw := range s.gateways {
		gw.mu.Lock()
		if gw.client != nil {
			if err := gw.client.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing %s: %w", gw.addr, err))
			}
			gw.client = nil
		}
		gw.mu.Unlock()
	}
	return errors.Join(errs...)
}

// decodeRegisters converts the PZEM-016 input registers into a Reading.
// 32-bit quantities are stored low word first.
func decodeRegisters(regs []uint16) (Reading, error) {
	if len(regs) < registerCount {
		return Reading{}, fmt.Errorf("%w: got %d registers, want %d", ErrShortResponse, len(regs), registerCount)
	}

	return Reading{
		Volts:       float64(regs[0]) * 0.1,
		Amps:        float64(joinWords(regs[1], regs[2])) * 0.001,
		Watts:       float64(joinWords(regs[3], regs[4])) * 0.1,
		WattHours:   float64(joinWords(regs[5], regs[6])),
		Frequency:   float64(regs[7]) * 0.1,
		PowerFactor: float64(regs[8]) * 0.01,
		Alarm:       regs[9] == alarmOn,
	}, nil
}

func joinWords(low, high uint16) uint32 {
	return uint32(low) | uint32(high)<<16
}
