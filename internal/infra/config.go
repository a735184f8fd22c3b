package infra

import (
	"context"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// DefaultTelemetryEndpoints are the mavlink2rest locations tried in order when none are configured.
var DefaultTelemetryEndpoints = []string{
	"http://host.docker.internal/mavlink2rest/mavlink",
	"http://blueos.internal/mavlink2rest/mavlink",
	"http://192.168.2.2/mavlink2rest/mavlink",
}

type Config struct {
	HTTPPort    string
	GRPCPort    string
	MetricsPort string
	LogLevel    string

	SerialPort         string
	BaudRate           int
	PollInterval       time.Duration
	SerialSettle       time.Duration
	SerialReadAttempts int
	SerialReadTimeout  time.Duration
	SerialReadGap      time.Duration
	ReconnectBackoff   time.Duration

	LogDir          string
	LogFile         string
	LogMaxSizeMB    int
	BufferCapacity  int
	SettingsFile    string
	TelemetryEnable bool

	TelemetryEndpoints      []string
	TelemetryTimeout        time.Duration
	TelemetryClockGuardYear int
}

func LoadConfig() Config {
	return Config{
		HTTPPort:    getEnv("HTTP_PORT", "6436"),
		GRPCPort:    getEnvOptional("GRPC_PORT", "50051"),
		MetricsPort: getEnvOptional("METRICS_PORT", "2112"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		SerialPort:         getEnv("SERIAL_PORT", "/dev/ttyUSB0"),
		BaudRate:           getEnvInt("BAUD_RATE", 9600),
		PollInterval:       getEnvMillis("POLL_INTERVAL_MS", 5000),
		SerialSettle:       getEnvMillis("SERIAL_SETTLE_MS", 500),
		SerialReadAttempts: getEnvInt("SERIAL_READ_ATTEMPTS", 5),
		SerialReadTimeout:  getEnvMillis("SERIAL_READ_TIMEOUT_MS", 200),
		SerialReadGap:      getEnvMillis("SERIAL_READ_GAP_MS", 100),
		ReconnectBackoff:   getEnvMillis("RECONNECT_BACKOFF_MS", 5000),

		LogDir:          getEnv("LOG_DIR", "/app/logs"),
		LogFile:         getEnv("LOG_FILE", "sensor_data.csv"),
		LogMaxSizeMB:    getEnvInt("LOG_MAX_SIZE_MB", 10),
		BufferCapacity:  getEnvInt("BUFFER_CAPACITY", 60),
		SettingsFile:    getEnv("SETTINGS_FILE", "/app/config/serial.yaml"),
		TelemetryEnable: getEnvBool("TELEMETRY_ENABLED", true),

		TelemetryEndpoints:      getEnvList("TELEMETRY_ENDPOINTS", DefaultTelemetryEndpoints),
		TelemetryTimeout:        getEnvMillis("TELEMETRY_TIMEOUT_MS", 500),
		TelemetryClockGuardYear: getEnvInt("TELEMETRY_CLOCK_GUARD_YEAR", 0),
	}
}

// BindFlags registers command-line overrides for the most commonly changed settings.
// Flags left at their defaults keep the environment-derived values.
func BindFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.HTTPPort, "http-port", cfg.HTTPPort, "HTTP listen port")
	fs.StringVar(&cfg.GRPCPort, "grpc-port", cfg.GRPCPort, "gRPC listen port (empty disables)")
	fs.StringVar(&cfg.MetricsPort, "metrics-port", cfg.MetricsPort, "dedicated metrics listen port (empty disables)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	fs.StringVar(&cfg.SerialPort, "serial-port", cfg.SerialPort, "sensor serial device path")
	fs.IntVar(&cfg.BaudRate, "baud-rate", cfg.BaudRate, "sensor baud rate")
	fs.StringVar(&cfg.LogDir, "log-dir", cfg.LogDir, "directory holding the reading log")
	fs.StringVar(&cfg.SettingsFile, "settings-file", cfg.SettingsFile, "file persisting the selected serial port")
}

func LogConfig(ctx context.Context, logger *Logger, cfg Config) {
	logger.Printf(ctx, "HTTP_PORT=%s", cfg.HTTPPort)
	logger.Printf(ctx, "GRPC_PORT=%s", emptyFallback(cfg.GRPCPort, "(disabled)"))
	logger.Printf(ctx, "METRICS_PORT=%s", emptyFallback(cfg.MetricsPort, "(disabled)"))
	logger.Printf(ctx, "LOG_LEVEL=%s", cfg.LogLevel)
	logger.Printf(ctx, "SERIAL_PORT=%s", emptyFallback(cfg.SerialPort, "(not set)"))
	logger.Printf(ctx, "BAUD_RATE=%d", cfg.BaudRate)
	logger.Printf(ctx, "POLL_INTERVAL=%s", cfg.PollInterval)
	logger.Printf(ctx, "SERIAL_SETTLE=%s", cfg.SerialSettle)
	logger.Printf(ctx, "SERIAL_READ_ATTEMPTS=%d", cfg.SerialReadAttempts)
	logger.Printf(ctx, "SERIAL_READ_TIMEOUT=%s", cfg.SerialReadTimeout)
	logger.Printf(ctx, "SERIAL_READ_GAP=%s", cfg.SerialReadGap)
	logger.Printf(ctx, "RECONNECT_BACKOFF=%s", cfg.ReconnectBackoff)
	logger.Printf(ctx, "LOG_DIR=%s", cfg.LogDir)
	logger.Printf(ctx, "LOG_FILE=%s", cfg.LogFile)
	logger.Printf(ctx, "LOG_MAX_SIZE_MB=%d", cfg.LogMaxSizeMB)
	logger.Printf(ctx, "BUFFER_CAPACITY=%d", cfg.BufferCapacity)
	logger.Printf(ctx, "SETTINGS_FILE=%s", cfg.SettingsFile)
	logger.Printf(ctx, "TELEMETRY_ENABLED=%t", cfg.TelemetryEnable)
	for i, endpoint := range cfg.TelemetryEndpoints {
		logger.Printf(ctx, "TELEMETRY_ENDPOINTS[%d]=%s", i, redactEndpoint(endpoint))
	}
	logger.Printf(ctx, "TELEMETRY_TIMEOUT=%s", cfg.TelemetryTimeout)
	if cfg.TelemetryClockGuardYear > 0 {
		logger.Printf(ctx, "TELEMETRY_CLOCK_GUARD_YEAR=%d", cfg.TelemetryClockGuardYear)
	}
}

// redactEndpoint hides credentials embedded in endpoint URLs (postgres DSNs mostly).
func redactEndpoint(endpoint string) string {
	parsed, err := url.Parse(endpoint)
	if err != nil || parsed.User == nil {
		return endpoint
	}
	if _, hasPassword := parsed.User.Password(); hasPassword {
		parsed.User = url.UserPassword(parsed.User.Username(), "redacted")
	}
	return parsed.String()
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// getEnvOptional treats an explicitly empty variable as "disabled" rather than "unset".
func getEnvOptional(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(value)
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvMillis(key string, fallback int) time.Duration {
	return time.Duration(getEnvInt(key, fallback)) * time.Millisecond
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return append([]string(nil), fallback...)
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func emptyFallback(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
