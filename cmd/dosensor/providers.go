package main

import (
	"context"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"dosensor-service/internal/core"
	"dosensor-service/internal/domain"
	"dosensor-service/internal/infra"
	"dosensor-service/internal/infrastructure/repository/csvlog"
	"dosensor-service/internal/infrastructure/repository/memory"
	"dosensor-service/internal/infrastructure/seriallink"
	"dosensor-service/internal/infrastructure/settings"
	"dosensor-service/internal/infrastructure/telemetry"
)

func provideConfig(args []string) (infra.Config, error) {
	cfg := infra.LoadConfig()

	fs := pflag.NewFlagSet("dosensor", pflag.ContinueOnError)
	infra.BindFlags(fs, &cfg)
	if err := fs.Parse(args); err != nil {
		return infra.Config{}, fmt.Errorf("parse flags: %w", err)
	}
	return cfg, nil
}

func provideServiceName() string {
	return "dosensor-service"
}

func provideLogger(out io.Writer, serviceName string, cfg infra.Config) *infra.Logger {
	return infra.NewLogger(out, serviceName, cfg.LogLevel)
}

func provideSettingsStore(cfg infra.Config) *settings.Store {
	return settings.New(cfg.SettingsFile)
}

// provideSerialLink opens the sensor port, preferring the persisted selection
// over the environment default. A missing device is not fatal.
func provideSerialLink(ctx context.Context, cfg infra.Config, store *settings.Store, logger *infra.Logger) (*seriallink.Manager, func(), error) {
	serialCfg := domain.SerialConfig{Port: cfg.SerialPort, BaudRate: cfg.BaudRate}
	stored, ok, err := store.Load()
	switch {
	case err != nil:
		logger.Warnf(ctx, "ignoring serial settings %s: %v", store.Path(), err)
	case ok:
		serialCfg = settings.Apply(serialCfg, stored)
		logger.Printf(ctx, "serial settings restored from %s: %s @ %d", store.Path(), serialCfg.Port, serialCfg.BaudRate)
	}

	link := seriallink.New(seriallink.Config{
		Port:             serialCfg.Port,
		BaudRate:         serialCfg.BaudRate,
		Settle:           cfg.SerialSettle,
		ReadAttempts:     cfg.SerialReadAttempts,
		ReadTimeout:      cfg.SerialReadTimeout,
		ReadGap:          cfg.SerialReadGap,
		ReconnectBackoff: cfg.ReconnectBackoff,
		Logger:           logger,
	})
	if err := link.Open(ctx); err != nil {
		logger.Warnf(ctx, "serial link not ready, will retry: %v", err)
	}

	cleanup := func() {
		if err := link.Close(); err != nil {
			logger.Warnf(context.Background(), "close serial link: %v", err)
		}
	}
	return link, cleanup, nil
}

func provideBuffer(cfg infra.Config) *memory.Buffer {
	return memory.New(cfg.BufferCapacity)
}

func provideReadingLog(ctx context.Context, cfg infra.Config, logger *infra.Logger) *csvlog.Log {
	maxSize := int64(cfg.LogMaxSizeMB) * humanize.MiByte
	log := csvlog.New(csvlog.Config{
		Dir:      cfg.LogDir,
		FileName: cfg.LogFile,
		MaxSize:  maxSize,
		Logger:   logger,
	})
	logger.Printf(ctx, "reading log %s rotates at %s", log.Path(), humanize.IBytes(uint64(maxSize)))
	return log
}

func provideForwarder(ctx context.Context, cfg infra.Config, logger *infra.Logger) (*telemetry.Forwarder, func(), error) {
	fwd, err := telemetry.New(telemetry.Config{
		Enabled:        cfg.TelemetryEnable,
		Endpoints:      cfg.TelemetryEndpoints,
		Timeout:        cfg.TelemetryTimeout,
		ClockGuardYear: cfg.TelemetryClockGuardYear,
		Logger:         logger,
	})
	if err != nil {
		return nil, nil, err
	}
	if !cfg.TelemetryEnable {
		logger.Println(ctx, "telemetry forwarding disabled")
	}

	cleanup := func() {
		if err := fwd.Close(); err != nil {
			logger.Warnf(context.Background(), "close telemetry sinks: %v", err)
		}
	}
	return fwd, cleanup, nil
}

func provideAcquisition(cfg infra.Config, link *seriallink.Manager, buffer *memory.Buffer, log *csvlog.Log, fwd *telemetry.Forwarder, logger *infra.Logger) *core.Acquisition {
	return core.NewAcquisition(core.AcquisitionConfig{Interval: cfg.PollInterval}, link, buffer, log, fwd, logger)
}

func provideHistory(buffer *memory.Buffer, log *csvlog.Log, logger *infra.Logger) *core.History {
	return core.NewHistory(buffer, log, logger)
}

func provideSerialControl(link *seriallink.Manager, store *settings.Store, logger *infra.Logger) *core.SerialControl {
	return core.NewSerialControl(link, store, logger)
}
