package core

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"dosensor-service/internal/domain"
	"dosensor-service/internal/infra"
)

// Telemetry names forwarded for every accepted reading, in order.
const (
	NameDissolvedOxygen = "DO_MGL"
	NameTemperature     = "DO_TEMP"
	NameQuality         = "DO_Q"
)

// DefaultPollInterval is the acquisition cycle period.
const DefaultPollInterval = 5 * time.Second

// AcquisitionConfig describes the runtime characteristics of the loop.
type AcquisitionConfig struct {
	Interval time.Duration
	// Now overrides the wall clock used to stamp readings.
	Now func() time.Time
}

// Acquisition polls the sensor once per interval and fans accepted readings
// out to the buffer, the log and the telemetry forwarder. It is the only
// writer of the buffer and the log.
type Acquisition struct {
	cfg       AcquisitionConfig
	link      domain.SensorLink
	buffer    domain.ReadingBuffer
	log       domain.ReadingLog
	forwarder domain.Forwarder
	logger    Logger
}

// NewAcquisition creates a configured loop. A nil forwarder disables forwarding.
func NewAcquisition(cfg AcquisitionConfig, link domain.SensorLink, buffer domain.ReadingBuffer,
	log domain.ReadingLog, forwarder domain.Forwarder, logger Logger) *Acquisition {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Acquisition{
		cfg:       cfg,
		link:      link,
		buffer:    buffer,
		log:       log,
		forwarder: forwarder,
		logger:    logger,
	}
}

// Run executes cycles until the context is cancelled. Each cycle sleeps only
// for what is left of the interval after its own work.
func (a *Acquisition) Run(ctx context.Context) {
	a.printf(ctx, "acquisition: started interval=%s", a.cfg.Interval)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			a.printf(ctx, "acquisition: context cancelled: %v", ctx.Err())
			return
		case <-timer.C:
		}

		started := time.Now()
		cycleCtx := infra.WithCorrelationID(ctx, uuid.NewString())
		_, _ = a.Cycle(cycleCtx)
		elapsed := time.Since(started)
		infra.RecordCycle(elapsed)

		wait := a.cfg.Interval - elapsed
		if wait < 0 {
			wait = 0
		}
		timer.Reset(wait)
	}
}

// Cycle performs one poll-parse-validate-store-forward pass. The returned error
// describes why no reading was accepted; storage and forwarding failures are
// logged and never reported here.
func (a *Acquisition) Cycle(ctx context.Context) (domain.Reading, error) {
	raw, err := a.link.Poll(ctx)
	if err != nil {
		reason := infra.ReasonTransientRead
		if errors.Is(err, domain.ErrLinkUnavailable) {
			reason = infra.ReasonLinkUnavailable
		}
		infra.RecordRejected(reason)
		a.warnf(ctx, "acquisition: poll failed: %v", err)
		return domain.Reading{}, err
	}

	reading, err := ParseFrame(string(raw), a.cfg.Now())
	if err != nil {
		infra.RecordRejected(infra.ReasonMalformed)
		a.warnf(ctx, "acquisition: discarding frame: %v", err)
		return domain.Reading{}, err
	}

	if err := reading.Validate(); err != nil {
		infra.RecordRejected(infra.ReasonOutOfRange)
		a.warnf(ctx, "acquisition: discarding reading: %v", err)
		return domain.Reading{}, err
	}

	a.buffer.Append(reading)
	infra.RecordAccepted(a.buffer.Len())

	if a.log != nil {
		if err := a.log.Append(ctx, reading); err != nil {
			infra.LogWriteFailuresTotal.Inc()
			a.errorf(ctx, "acquisition: %v", err)
		}
	}

	a.forward(ctx, reading)
	return reading, nil
}

func (a *Acquisition) forward(ctx context.Context, reading domain.Reading) {
	if a.forwarder == nil {
		return
	}

	values := []struct {
		name  string
		value float64
	}{
		{NameDissolvedOxygen, reading.DissolvedOxygen},
		{NameTemperature, reading.Temperature},
		{NameQuality, reading.Quality},
	}

	for _, v := range values {
		err := a.forwarder.Forward(ctx, v.name, v.value)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrForwardingDisabled):
			return
		default:
			infra.ForwardFailuresTotal.Inc()
			a.warnf(ctx, "acquisition: forwarding %s failed, skipping remaining values: %v", v.name, err)
			return
		}
	}
}

func (a *Acquisition) printf(ctx context.Context, format string, v ...any) {
	if a.logger != nil {
		a.logger.Printf(ctx, format, v...)
	}
}

func (a *Acquisition) warnf(ctx context.Context, format string, v ...any) {
	if a.logger != nil {
		a.logger.Warnf(ctx, format, v...)
	}
}

func (a *Acquisition) errorf(ctx context.Context, format string, v ...any) {
	if a.logger != nil {
		a.logger.Errorf(ctx, format, v...)
	}
}

var _ domain.Acquirer = (*Acquisition)(nil)
