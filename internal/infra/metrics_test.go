package infra

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestInitMetricsIdempotent(t *testing.T) {
	t.Log("Step 1: initialise metrics twice without panicking")
	assert.NotPanics(t, func() { InitMetrics() })
	assert.NotPanics(t, func() { InitMetrics() })
}

func TestMetricsHandlerServesContent(t *testing.T) {
	handler := Handler()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Result().StatusCode)
	assert.Contains(t, rr.Body.String(), "dosensor_acquisition_cycles_total")
}

func TestStartMetricsServerDisabledWithEmptyPort(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	assert.NotPanics(t, func() { StartMetricsServer(ctx, "", nil) })
}

func TestHTTPMiddlewareRecordsMetrics(t *testing.T) {
	t.Log("Step 1: read the counters before the request")
	beforeRequests := testutil.ToFloat64(HttpRequestsTotal.WithLabelValues("/items"))
	beforeErrors := testutil.ToFloat64(HttpRequestErrorsTotal)

	handler := HTTPMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/items", nil))

	t.Log("Step 2: compare after the request")
	assert.Equal(t, beforeRequests+1, testutil.ToFloat64(HttpRequestsTotal.WithLabelValues("/items")))
	assert.Equal(t, beforeErrors+1, testutil.ToFloat64(HttpRequestErrorsTotal))
}

func TestGRPCInterceptorCountsCodes(t *testing.T) {
	before := testutil.ToFloat64(GrpcRequestsTotal.WithLabelValues(codes.NotFound.String()))

	interceptor := GRPCUnaryInterceptor()
	_, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/svc/M"},
		func(context.Context, any) (any, error) {
			return nil, status.Error(codes.NotFound, "missing")
		})

	assert.Equal(t, codes.NotFound, status.Code(err))
	assert.Equal(t, before+1, testutil.ToFloat64(GrpcRequestsTotal.WithLabelValues(codes.NotFound.String())))
}

func TestRecordHelpers(t *testing.T) {
	cyclesBefore := testutil.ToFloat64(CyclesTotal)
	acceptedBefore := testutil.ToFloat64(ReadingsAcceptedTotal)
	rejectedBefore := testutil.ToFloat64(ReadingsRejectedTotal.WithLabelValues(ReasonMalformed))

	RecordCycle(-time.Second)
	RecordAccepted(42)
	RecordRejected(ReasonMalformed)
	SetLinkState(2)

	assert.Equal(t, cyclesBefore+1, testutil.ToFloat64(CyclesTotal))
	assert.Equal(t, acceptedBefore+1, testutil.ToFloat64(ReadingsAcceptedTotal))
	assert.Equal(t, rejectedBefore+1, testutil.ToFloat64(ReadingsRejectedTotal.WithLabelValues(ReasonMalformed)))
	assert.Equal(t, float64(42), testutil.ToFloat64(BufferReadings))
	assert.Equal(t, float64(2), testutil.ToFloat64(SerialLinkState))
}
