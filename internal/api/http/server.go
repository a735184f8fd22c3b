package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"dosensor-service/internal/domain"
	"dosensor-service/internal/infra"
)

// RequestIDHeader carries the correlation id of a request.
const RequestIDHeader = "X-Request-ID"

// Server exposes the HTTP transport for the sensor service.
type Server struct {
	handler http.Handler
}

// NewServer constructs a chi router serving every route at the root and under /api.
func NewServer(history domain.HistoryService, serial domain.SerialController, logs domain.LogFile, logger *infra.Logger) *Server {
	router := chi.NewRouter()
	h := &handler{history: history, serial: serial, logs: logs, logger: logger}

	router.Use(requestID)
	router.Use(infra.HTTPMiddleware(func(r *http.Request) string {
		if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
			if pattern := routeCtx.RoutePattern(); pattern != "" {
				return pattern
			}
		}
		return "unmatched"
	}))

	registerRoutes(router, h)
	router.Route("/api", func(r chi.Router) {
		registerRoutes(r, h)
	})
	router.Handle("/metrics", infra.Handler())

	return &Server{handler: router}
}

// Router returns the configured HTTP handler for reuse in tests or external HTTP servers.
func (s *Server) Router() http.Handler {
	return s.handler
}

// ServeHTTP allows Server to satisfy the http.Handler interface directly.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(RequestIDHeader))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(infra.WithCorrelationID(r.Context(), id)))
	})
}
