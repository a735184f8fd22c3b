package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"google.golang.org/grpc"

	grpcapi "dosensor-service/internal/api/grpc"
	httpapi "dosensor-service/internal/api/http"
	"dosensor-service/internal/infra"
	_ "dosensor-service/internal/pkg/dotenv/autoload"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, cleanup, err := initApplication(ctx, os.Stdout, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise application: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	cfg := app.Config
	logger := app.Logger

	infra.LogConfig(ctx, logger, cfg)
	infra.StartMetricsServer(ctx, cfg.MetricsPort, logger)

	var acquisition sync.WaitGroup
	acquisition.Add(1)
	go func() {
		defer acquisition.Done()
		app.Acquirer.Run(ctx)
	}()

	httpServer := newHTTPServer(app)
	httpListener, err := net.Listen("tcp", httpServer.Addr)
	if err != nil {
		stop()
		acquisition.Wait()
		logger.Fatalf(ctx, "failed to listen on HTTP port %s: %v", cfg.HTTPPort, err)
	}

	var grpcServer *grpc.Server
	var grpcListener net.Listener
	if cfg.GRPCPort != "" {
		grpcServer = grpcapi.NewServer(app.History, app.Serial, logger)
		grpcListener, err = net.Listen("tcp", fmt.Sprintf(":%s", cfg.GRPCPort))
		if err != nil {
			stop()
			acquisition.Wait()
			logger.Fatalf(ctx, "failed to listen on gRPC port %s: %v", cfg.GRPCPort, err)
		}
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf(ctx, "HTTP server shutdown error: %v", err)
		}
		if grpcServer != nil {
			grpcServer.GracefulStop()
		}
	}()

	serverErrs := make(chan error, 2)
	var serverGroup sync.WaitGroup

	serverGroup.Add(1)
	go func() {
		defer serverGroup.Done()
		logger.Printf(ctx, "HTTP server listening on %s", httpListener.Addr())
		if err := httpServer.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrs <- fmt.Errorf("http server: %w", err)
		}
	}()

	if grpcServer != nil {
		serverGroup.Add(1)
		go func() {
			defer serverGroup.Done()
			logger.Printf(ctx, "gRPC server listening on %s", grpcListener.Addr())
			if err := grpcServer.Serve(grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				serverErrs <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	if cfg.MetricsPort != "" {
		logger.Printf(ctx, "metrics server listening on :%s", cfg.MetricsPort)
	}

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-serverErrs:
	}

	stop()
	acquisition.Wait()
	serverGroup.Wait()

	if serveErr != nil {
		logger.Printf(ctx, "server error: %v", serveErr)
	}
	logger.Println(ctx, "server stopped")
}

func newHTTPServer(app *application) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%s", app.Config.HTTPPort),
		Handler:           httpapi.NewServer(app.History, app.Serial, app.Logs, app.Logger),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
