//go:build wireinject

package main

import (
	"context"
	"io"

	"github.com/google/wire"

	"dosensor-service/internal/core"
	"dosensor-service/internal/domain"
	"dosensor-service/internal/infrastructure/repository/csvlog"
)

func initApplication(ctx context.Context, out io.Writer, args []string) (*application, func(), error) {
	wire.Build(
		provideConfig,
		provideServiceName,
		provideLogger,
		provideSettingsStore,
		provideSerialLink,
		provideBuffer,
		provideReadingLog,
		provideForwarder,
		provideAcquisition,
		provideHistory,
		provideSerialControl,
		wire.Bind(new(domain.HistoryService), new(*core.History)),
		wire.Bind(new(domain.SerialController), new(*core.SerialControl)),
		wire.Bind(new(domain.LogFile), new(*csvlog.Log)),
		wire.Bind(new(domain.Acquirer), new(*core.Acquisition)),
		newApplication,
	)
	return nil, nil, nil
}
