package infra

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// Rejection reasons used as the reason label of ReadingsRejectedTotal.
const (
	ReasonLinkUnavailable = "link_unavailable"
	ReasonTransientRead   = "transient_read"
	ReasonMalformed       = "malformed"
	ReasonOutOfRange      = "out_of_range"
)

var (
	// HTTP metrics
	HttpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dosensor_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"route"})
	HttpRequestErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dosensor_http_request_errors_total",
		Help: "Total number of HTTP responses with status >= 400",
	})
	ProcessingDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "dosensor_request_duration_seconds",
		Help:    "Duration of HTTP and gRPC request processing in seconds",
		Buckets: prometheus.DefBuckets,
	})
	GrpcRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dosensor_grpc_requests_total",
		Help: "Total number of gRPC requests by result code",
	}, []string{"code"})

	// Acquisition metrics
	CyclesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dosensor_acquisition_cycles_total",
		Help: "Total number of completed acquisition cycles",
	})
	CycleDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "dosensor_acquisition_cycle_duration_seconds",
		Help:    "Work time of one acquisition cycle in seconds",
		Buckets: []float64{0.25, 0.5, 0.75, 1, 1.5, 2, 3, 5, 10},
	})
	ReadingsAcceptedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dosensor_readings_accepted_total",
		Help: "Total number of readings stored in the buffer",
	})
	ReadingsRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dosensor_readings_rejected_total",
		Help: "Total number of discarded cycles by reason",
	}, []string{"reason"})
	BufferReadings = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dosensor_buffer_readings",
		Help: "Number of readings held in the rolling buffer",
	})
	SerialLinkState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dosensor_serial_link_state",
		Help: "Serial link state: 0 closed, 1 open, 2 degraded",
	})

	// Persistence metrics
	LogWriteFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dosensor_log_write_failures_total",
		Help: "Total number of failed log appends",
	})
	LogRotationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dosensor_log_rotations_total",
		Help: "Total number of size-triggered log rotations",
	})

	// Forwarding metrics
	ForwardFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dosensor_forward_failures_total",
		Help: "Total number of values no telemetry endpoint accepted",
	})

	registerOnce      sync.Once
	metricsServerOnce sync.Once
)

func init() {
	InitMetrics()
}

// InitMetrics registers all Prometheus collectors used by the application.
func InitMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HttpRequestsTotal,
			HttpRequestErrorsTotal,
			ProcessingDurationSeconds,
			GrpcRequestsTotal,
			CyclesTotal,
			CycleDurationSeconds,
			ReadingsAcceptedTotal,
			ReadingsRejectedTotal,
			BufferReadings,
			SerialLinkState,
			LogWriteFailuresTotal,
			LogRotationsTotal,
			ForwardFailuresTotal,
		)
	})
}

// Handler returns an HTTP handler that exposes the registered Prometheus metrics.
func Handler() http.Handler {
	InitMetrics()
	return promhttp.Handler()
}

// StartMetricsServer exposes Prometheus metrics on a dedicated port. An empty port disables it.
func StartMetricsServer(ctx context.Context, port string, logger *Logger) {
	if port == "" {
		return
	}
	InitMetrics()
	metricsServerOnce.Do(func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		server := &http.Server{
			Addr:              ":" + port,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()

		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Errorf(context.Background(), "metrics server error: %v", err)
			}
		}()
	})
}

// HTTPMiddleware instruments HTTP handlers with request/latency metrics.
func HTTPMiddleware(pathResolver func(*http.Request) string) func(http.Handler) http.Handler {
	InitMetrics()
	if pathResolver == nil {
		pathResolver = func(r *http.Request) string {
			return r.URL.Path
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r == nil {
				HttpRequestErrorsTotal.Inc()
				http.Error(w, "invalid request", http.StatusBadRequest)
				return
			}

			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()

			defer func() {
				ProcessingDurationSeconds.Observe(time.Since(start).Seconds())
				HttpRequestsTotal.WithLabelValues(pathResolver(r)).Inc()

				if recorder.Status() >= http.StatusBadRequest {
					HttpRequestErrorsTotal.Inc()
				}
			}()

			next.ServeHTTP(recorder, r)
		})
	}
}

// GRPCUnaryInterceptor instruments gRPC unary handlers with request/latency metrics.
func GRPCUnaryInterceptor() grpc.UnaryServerInterceptor {
	InitMetrics()
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		start := time.Now()

		defer func() {
			ProcessingDurationSeconds.Observe(time.Since(start).Seconds())
			GrpcRequestsTotal.WithLabelValues(status.Code(err).String()).Inc()
		}()

		return handler(ctx, req)
	}
}

// RecordCycle tracks a completed acquisition cycle.
func RecordCycle(duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	CyclesTotal.Inc()
	CycleDurationSeconds.Observe(duration.Seconds())
}

// RecordRejected counts a discarded cycle under the given reason.
func RecordRejected(reason string) {
	ReadingsRejectedTotal.WithLabelValues(reason).Inc()
}

// RecordAccepted counts a stored reading and publishes the buffer fill level.
func RecordAccepted(bufferLen int) {
	ReadingsAcceptedTotal.Inc()
	BufferReadings.Set(float64(bufferLen))
}

// SetLinkState publishes the serial link state gauge.
func SetLinkState(state int) {
	SerialLinkState.Set(float64(state))
}

// statusRecorder captures the response status code for instrumentation.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Status() int {
	return r.status
}

// Flush lets streamed downloads pass through the recorder.
func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
