//go:build !wireinject

package main

import (
	"context"
	"io"

	"dosensor-service/internal/infra"
)

func initApplication(ctx context.Context, out io.Writer, args []string) (*application, func(), error) {
	cfg, err := provideConfig(args)
	if err != nil {
		return nil, nil, err
	}
	logger := provideLogger(out, provideServiceName(), cfg)

	store := provideSettingsStore(cfg)
	link, closeLink, err := provideSerialLink(ctx, cfg, store, logger)
	if err != nil {
		return nil, nil, err
	}

	fwd, closeForwarder, err := provideForwarder(ctx, cfg, logger)
	if err != nil {
		closeLink()
		return nil, nil, err
	}

	buffer := provideBuffer(cfg)
	readingLog := provideReadingLog(ctx, cfg, logger)
	acquisition := provideAcquisition(cfg, link, buffer, readingLog, fwd, logger)
	history := provideHistory(buffer, readingLog, logger)
	serial := provideSerialControl(link, store, logger)

	app := newApplication(cfg, logger, history, serial, readingLog, acquisition)
	return assembleApplication(app, chainCleanup(logger, closeForwarder, closeLink))
}

func chainCleanup(logger *infra.Logger, cleanups ...func()) func() {
	return func() {
		for _, cleanup := range cleanups {
			cleanup()
		}
		logger.Debugf(context.Background(), "resources released")
	}
}
