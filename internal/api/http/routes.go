package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"dosensor-service/internal/core"
	"dosensor-service/internal/domain"
	"dosensor-service/internal/infra"
)

const (
	queryDuration  = "duration"
	queryMaxPoints = "max_points"

	downloadName    = "sensor_data.csv"
	timestampLayout = "2006-01-02T15:04:05.000000Z07:00"
)

// handler contains the HTTP handlers and shared dependencies for the REST API.
type handler struct {
	history domain.HistoryService
	serial  domain.SerialController
	logs    domain.LogFile
	logger  *infra.Logger
}

func registerRoutes(router chi.Router, h *handler) {
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		h.logger.Debugf(r.Context(), "health check OK")
		writeStatusOK(w)
	})
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeStatusOK(w)
	})
	router.Get("/data", h.handleGetData)
	router.Get("/serial", h.handleGetSerial)
	router.Get("/serial/ports", h.handleListPorts)
	router.Post("/serial/select", h.handleSelectSerial)
	router.Get("/logs", h.handleDownloadLog)
	router.Post("/logs/delete", h.handleDeleteLogs)
}

type readingResponse struct {
	Timestamp   string  `json:"timestamp"`
	Temperature float64 `json:"temperature"`
	DO          float64 `json:"do"`
	Q           float64 `json:"q"`
}

type serialResponse struct {
	SerialPort string `json:"serial_port"`
	BaudRate   int    `json:"baud_rate"`
}

type selectRequest struct {
	Port string `json:"port"`
}

type resultResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	SerialPort string `json:"serial_port,omitempty"`
	BaudRate   int    `json:"baud_rate,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

func (h *handler) handleGetData(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	query := domain.HistoryQuery{
		Duration:  core.WindowFromMinutes(intParam(params.Get(queryDuration), 0)),
		MaxPoints: intParam(params.Get(queryMaxPoints), core.DefaultMaxPoints),
	}

	readings := h.history.Query(r.Context(), query)
	h.writeJSON(w, http.StatusOK, toReadingResponses(readings))
}

func (h *handler) handleGetSerial(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, toSerialResponse(h.serial.Config()))
}

func (h *handler) handleListPorts(w http.ResponseWriter, r *http.Request) {
	ports, err := h.serial.ListPorts()
	if err != nil {
		h.logger.Errorf(r.Context(), "list serial ports: %v", err)
		h.writeError(w, http.StatusInternalServerError, "failed to enumerate serial ports")
		return
	}
	if ports == nil {
		ports = []string{}
	}
	h.writeJSON(w, http.StatusOK, ports)
}

func (h *handler) handleSelectSerial(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	port := strings.TrimSpace(req.Port)
	if port == "" {
		h.writeError(w, http.StatusBadRequest, "port is required")
		return
	}

	previous := h.serial.Config()
	err := h.serial.Select(r.Context(), port)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrPortNotFound):
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("serial port %s does not exist", port))
		return
	default:
		h.logger.Errorf(r.Context(), "select serial port %s: %v", port, err)
		h.writeError(w, http.StatusInternalServerError,
			fmt.Sprintf("failed to open %s, reverted to %s", port, previous.Port))
		return
	}

	current := h.serial.Config()
	h.writeJSON(w, http.StatusOK, resultResponse{
		Success:    true,
		Message:    "Serial port set to " + current.Port,
		SerialPort: current.Port,
		BaudRate:   current.BaudRate,
	})
}

func (h *handler) handleDownloadLog(w http.ResponseWriter, r *http.Request) {
	file, err := h.logs.Open()
	if errors.Is(err, domain.ErrLogNotFound) {
		h.writeError(w, http.StatusNotFound, "No log file found")
		return
	}
	if err != nil {
		h.logger.Errorf(r.Context(), "open log: %v", err)
		h.writeError(w, http.StatusInternalServerError, "failed to open log file")
		return
	}
	defer file.Close()

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", downloadName))
	http.ServeContent(w, r, downloadName, file.ModTime(), file)
}

func (h *handler) handleDeleteLogs(w http.ResponseWriter, r *http.Request) {
	removed, err := h.logs.Delete()
	if err != nil {
		h.logger.Errorf(r.Context(), "delete logs: %v", err)
		h.writeJSON(w, http.StatusInternalServerError, resultResponse{Success: false, Message: err.Error()})
		return
	}

	message := "No log file to delete"
	if removed > 0 {
		message = "Log file deleted"
		h.logger.Printf(r.Context(), "deleted %d log files", removed)
	}
	h.writeJSON(w, http.StatusOK, resultResponse{Success: true, Message: message})
}

func (h *handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, errorResponse{Error: message, Code: status})
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeStatusOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// intParam parses a decimal query value, returning fallback when it is absent or not a number.
func intParam(raw string, fallback int) int {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}
	return value
}

func toReadingResponses(readings []domain.Reading) []readingResponse {
	out := make([]readingResponse, len(readings))
	for i, reading := range readings {
		out[i] = readingResponse{
			Timestamp:   reading.Timestamp.Format(timestampLayout),
			Temperature: reading.Temperature,
			DO:          reading.DissolvedOxygen,
			Q:           reading.Quality,
		}
	}
	return out
}

func toSerialResponse(cfg domain.SerialConfig) serialResponse {
	return serialResponse{SerialPort: cfg.Port, BaudRate: cfg.BaudRate}
}
