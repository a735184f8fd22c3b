package main

import (
	"dosensor-service/internal/domain"
	"dosensor-service/internal/infra"
)

type application struct {
	Config   infra.Config
	Logger   *infra.Logger
	History  domain.HistoryService
	Serial   domain.SerialController
	Logs     domain.LogFile
	Acquirer domain.Acquirer
}

func newApplication(cfg infra.Config, logger *infra.Logger, history domain.HistoryService, serial domain.SerialController, logs domain.LogFile, acquirer domain.Acquirer) *application {
	return &application{
		Config:   cfg,
		Logger:   logger,
		History:  history,
		Serial:   serial,
		Logs:     logs,
		Acquirer: acquirer,
	}
}

func assembleApplication(app *application, cleanup func()) (*application, func(), error) {
	if cleanup == nil {
		cleanup = func() {}
	}
	return app, cleanup, nil
}
