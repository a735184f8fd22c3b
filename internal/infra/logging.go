package infra

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

type contextKey string

const correlationIDKey contextKey = "correlation_id"

// Logger writes one JSON object per line with timestamp, level, message, service and trace_id.
type Logger struct {
	logger  *slog.Logger
	service string
}

// NewLogger builds a logger writing to out at the given level (debug, info, warn, error).
func NewLogger(out io.Writer, service string, level ...string) *Logger {
	if out == nil {
		out = io.Discard
	}
	lvl := "info"
	if len(level) > 0 {
		lvl = level[0]
	}
	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level:       parseLevel(lvl),
		ReplaceAttr: renameAttr,
	})

	service = strings.TrimSpace(service)
	logger := slog.New(handler)
	if service != "" {
		logger = logger.With("service", service)
	}
	return &Logger{logger: logger, service: service}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func renameAttr(_ []string, a slog.Attr) slog.Attr {
	switch a.Key {
	case slog.TimeKey:
		return slog.String("timestamp", a.Value.Time().UTC().Format(time.RFC3339Nano))
	case slog.LevelKey:
		if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == levelFatal {
			return slog.String("level", "fatal")
		}
		return slog.String("level", strings.ToLower(a.Value.String()))
	case slog.MessageKey:
		a.Key = "message"
	}
	return a
}

const levelFatal = slog.Level(12)

func WithCorrelationID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, correlationIDKey, strings.TrimSpace(id))
}

func CorrelationIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(correlationIDKey).(string); ok {
		return v
	}
	return ""
}

func (l *Logger) Printf(ctx context.Context, format string, v ...any) {
	l.log(ctx, slog.LevelInfo, fmt.Sprintf(format, v...))
}

func (l *Logger) Println(ctx context.Context, v ...any) {
	l.log(ctx, slog.LevelInfo, strings.TrimSpace(fmt.Sprintln(v...)))
}

func (l *Logger) Debugf(ctx context.Context, format string, v ...any) {
	l.log(ctx, slog.LevelDebug, fmt.Sprintf(format, v...))
}

func (l *Logger) Warnf(ctx context.Context, format string, v ...any) {
	l.log(ctx, slog.LevelWarn, fmt.Sprintf(format, v...))
}

func (l *Logger) Errorf(ctx context.Context, format string, v ...any) {
	l.log(ctx, slog.LevelError, fmt.Sprintf(format, v...))
}

func (l *Logger) Fatalf(ctx context.Context, format string, v ...any) {
	l.log(ctx, levelFatal, fmt.Sprintf(format, v...))
	os.Exit(1)
}

func (l *Logger) log(ctx context.Context, level slog.Level, msg string) {
	if l == nil || l.logger == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if !l.logger.Enabled(ctx, level) {
		return
	}
	if traceID := CorrelationIDFromContext(ctx); traceID != "" {
		l.logger.Log(ctx, level, msg, slog.String("trace_id", traceID))
		return
	}
	l.logger.Log(ctx, level, msg)
}
