package grpcapi

import (
	"context"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"dosensor-service/internal/core"
	"dosensor-service/internal/domain"
	"dosensor-service/internal/infra"
)

const (
	fieldDuration  = "duration"
	fieldMaxPoints = "max_points"
	fieldReadings  = "readings"

	requestIDKey    = "x-request-id"
	timestampLayout = "2006-01-02T15:04:05.000000Z07:00"
)

// NewServer constructs a gRPC server exposing SensorService.
func NewServer(history domain.HistoryService, serial domain.SerialController, logger *infra.Logger) *grpc.Server {
	metrics := serverMetrics(logger)
	interceptors := []grpc.UnaryServerInterceptor{
		correlationInterceptor(),
		loggingInterceptor(logger),
		infra.GRPCUnaryInterceptor(),
		metrics.UnaryServerInterceptor(),
	}

	server := grpc.NewServer(grpc.ChainUnaryInterceptor(interceptors...))
	RegisterSensorServiceServer(server, &sensorServer{history: history, serial: serial})
	metrics.InitializeMetrics(server)
	return server
}

// serverMetrics returns the per-method gRPC collectors, reusing the ones
// already registered by an earlier server in the same process.
func serverMetrics(logger *infra.Logger) *grpc_prometheus.ServerMetrics {
	metrics := grpc_prometheus.NewServerMetrics()
	if err := prometheus.Register(metrics); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(*grpc_prometheus.ServerMetrics); ok {
				return existing
			}
		}
		logger.Warnf(context.Background(), "grpc metrics not registered: %v", err)
	}
	return metrics
}

type sensorServer struct {
	history domain.HistoryService
	serial  domain.SerialController
}

func (s *sensorServer) GetData(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request must not be nil")
	}

	query := domain.HistoryQuery{
		Duration:  core.WindowFromMinutes(intField(req, fieldDuration, 0)),
		MaxPoints: intField(req, fieldMaxPoints, core.DefaultMaxPoints),
	}

	readings := s.history.Query(ctx, query)
	items := make([]any, len(readings))
	for i, reading := range readings {
		items[i] = map[string]any{
			"timestamp":   reading.Timestamp.Format(timestampLayout),
			"temperature": reading.Temperature,
			"do":          reading.DissolvedOxygen,
			"q":           reading.Quality,
		}
	}

	resp, err := structpb.NewStruct(map[string]any{fieldReadings: items})
	if err != nil {
		return nil, status.Error(codes.Internal, "internal server error")
	}
	return resp, nil
}

func (s *sensorServer) GetSerial(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	cfg := s.serial.Config()
	resp, err := structpb.NewStruct(map[string]any{
		"serial_port": cfg.Port,
		"baud_rate":   cfg.BaudRate,
	})
	if err != nil {
		return nil, status.Error(codes.Internal, "internal server error")
	}
	return resp, nil
}

// intField reads a numeric field, accepting numbers and numeric strings. Anything else yields fallback.
func intField(req *structpb.Struct, name string, fallback int) int {
	value, ok := req.GetFields()[name]
	if !ok {
		return fallback
	}
	switch kind := value.GetKind().(type) {
	case *structpb.Value_NumberValue:
		if math.IsNaN(kind.NumberValue) || math.IsInf(kind.NumberValue, 0) {
			return fallback
		}
		return int(kind.NumberValue)
	case *structpb.Value_StringValue:
		n, err := strconv.Atoi(strings.TrimSpace(kind.StringValue))
		if err != nil {
			return fallback
		}
		return n
	default:
		return fallback
	}
}

func correlationInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		id := ""
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if values := md.Get(requestIDKey); len(values) > 0 {
				id = values[0]
			}
		}
		if id == "" {
			id = uuid.NewString()
		}
		return handler(infra.WithCorrelationID(ctx, id), req)
	}
}

func loggingInterceptor(logger *infra.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		duration := time.Since(start)
		if err != nil {
			logger.Printf(ctx, "gRPC %s failed in %s: %v", info.FullMethod, duration, err)
		} else {
			logger.Debugf(ctx, "gRPC %s completed in %s", info.FullMethod, duration)
		}
		return resp, err
	}
}
