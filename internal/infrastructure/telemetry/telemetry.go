// Package telemetry forwards named float values to the vehicle's telemetry
// consumer, trying each configured endpoint in order.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"dosensor-service/internal/domain"
	"dosensor-service/internal/infra"
	"dosensor-service/internal/infrastructure/repository/postgres"
)

// DefaultTimeout bounds a single endpoint attempt.
const DefaultTimeout = 500 * time.Millisecond

// ErrDisabled is returned while forwarding is switched off.
var ErrDisabled = domain.ErrForwardingDisabled

// Sink delivers one value to one endpoint.
type Sink interface {
	Send(ctx context.Context, name string, value float64, at time.Time) error
	Target() string
	Close() error
}

// Config describes the forwarder.
type Config struct {
	Enabled   bool
	Endpoints []string
	Timeout   time.Duration
	// ClockGuardYear disables forwarding while the wall clock is past this year. Zero turns the guard off.
	ClockGuardYear int

	Logger *infra.Logger
	Client *http.Client
	Now    func() time.Time
}

// Forwarder implements domain.Forwarder over an ordered list of sinks.
type Forwarder struct {
	sinks     []Sink
	enabled   bool
	timeout   time.Duration
	guardYear int
	logger    *infra.Logger
	now       func() time.Time

	failureLog rate.Sometimes
}

// New builds sinks for every endpoint. http(s) endpoints reach mavlink2rest,
// postgres(ql) endpoints write to a named_values table.
func New(cfg Config) (*Forwarder, error) {
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}

	sinks := make([]Sink, 0, len(cfg.Endpoints))
	for _, endpoint := range cfg.Endpoints {
		sink, err := newSink(endpoint, cfg.Client)
		if err != nil {
			closeAll(sinks)
			return nil, err
		}
		sinks = append(sinks, sink)
	}
	return NewWithSinks(cfg, sinks...), nil
}

// NewWithSinks creates a forwarder over prebuilt sinks.
func NewWithSinks(cfg Config, sinks ...Sink) *Forwarder {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Forwarder{
		sinks:      sinks,
		enabled:    cfg.Enabled,
		timeout:    cfg.Timeout,
		guardYear:  cfg.ClockGuardYear,
		logger:     cfg.Logger,
		now:        cfg.Now,
		failureLog: rate.Sometimes{First: 3, Interval: time.Minute},
	}
}

func newSink(endpoint string, client *http.Client) (Sink, error) {
	parsed, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return nil, fmt.Errorf("telemetry endpoint %q: %w", endpoint, err)
	}

	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
		return newHTTPSink(parsed.String(), client), nil
	case "postgres", "postgresql":
		repo, err := postgres.New(postgres.Config{DSN: parsed.String()})
		if err != nil {
			return nil, fmt.Errorf("telemetry endpoint: %w", err)
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("telemetry endpoint %q: unsupported scheme %q", endpoint, parsed.Scheme)
	}
}

// Forward sends value under name to the first endpoint that accepts it.
func (f *Forwarder) Forward(ctx context.Context, name string, value float64) error {
	now := f.now()
	if !f.enabled || (f.guardYear > 0 && now.Year() > f.guardYear) {
		return ErrDisabled
	}
	if len(f.sinks) == 0 {
		return fmt.Errorf("%w: no endpoints configured", domain.ErrForwarding)
	}

	encoded := EncodeName(name)
	errs := make([]error, 0, len(f.sinks))
	for _, sink := range f.sinks {
		err := f.attempt(ctx, sink, encoded, value, now)
		if err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", sink.Target(), err))
		if ctx.Err() != nil {
			break
		}
	}

	joined := errors.Join(errs...)
	f.failureLog.Do(func() {
		f.logger.Warnf(ctx, "telemetry: %s not delivered: %v", name, joined)
	})
	return fmt.Errorf("%w: %w", domain.ErrForwarding, joined)
}

func (f *Forwarder) attempt(ctx context.Context, sink Sink, name string, value float64, at time.Time) error {
	attemptCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	return sink.Send(attemptCtx, name, value, at)
}

// Close releases every sink.
func (f *Forwarder) Close() error {
	return closeAll(f.sinks)
}

func closeAll(sinks []Sink) error {
	var errs []error
	for _, sink := range sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ domain.Forwarder = (*Forwarder)(nil)
