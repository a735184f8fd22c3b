// Package csvlog stores accepted readings in an append-only CSV file that
// rotates to a timestamped backup once it reaches a size cap.
package csvlog

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"dosensor-service/internal/domain"
	"dosensor-service/internal/infra"
)

const (
	// DefaultFileName is the active log name used by the dashboard download.
	DefaultFileName = "sensor_data.csv"
	// DefaultMaxSize is the rotation threshold when none is configured.
	DefaultMaxSize int64 = 10 << 20

	// TimestampLayout is ISO-8601 with microseconds and offset.
	TimestampLayout = "2006-01-02T15:04:05.000000Z07:00"

	backupStampLayout = "20060102T150405"
)

// Header is the first row of every log file.
var Header = []string{"timestamp", "temperature", "do", "q"}

// Config describes where and how the log is written.
type Config struct {
	Dir      string
	FileName string
	// MaxSize is the size in bytes at which the active file is rotated.
	MaxSize int64
	Logger  *infra.Logger
	// Now overrides the clock used for backup names.
	Now func() time.Time
}

// Log is the durable reading log. Append, rotation and Delete are serialised;
// readers open the file independently and never block the writer.
type Log struct {
	dir     string
	name    string
	maxSize int64
	logger  *infra.Logger
	now     func() time.Time

	mu sync.Mutex
}

// New creates a log writer. The directory is created lazily on first append.
func New(cfg Config) *Log {
	if cfg.FileName == "" {
		cfg.FileName = DefaultFileName
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Log{
		dir:     cfg.Dir,
		name:    cfg.FileName,
		maxSize: cfg.MaxSize,
		logger:  cfg.Logger,
		now:     cfg.Now,
	}
}

// Path returns the active log file path.
func (l *Log) Path() string {
	return filepath.Join(l.dir, l.name)
}

// FileName returns the active log file name.
func (l *Log) FileName() string {
	return l.name
}

// Append writes one reading and syncs it to storage before returning.
func (l *Log) Append(ctx context.Context, reading domain.Reading) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("%w: create log dir: %v", domain.ErrPersistence, err)
	}

	if err := l.rotateIfNeeded(ctx); err != nil {
		return fmt.Errorf("%w: rotate: %v", domain.ErrPersistence, err)
	}

	file, err := os.OpenFile(l.Path(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("%w: open: %v", domain.ErrPersistence, err)
	}

	if err := writeRecord(file, reading); err != nil {
		_ = file.Close()
		return fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}

	if err := file.Close(); err != nil {
		return fmt.Errorf("%w: close: %v", domain.ErrPersistence, err)
	}
	return nil
}

func writeRecord(file *os.File, reading domain.Reading) error {
	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat: %w", err)
	}

	writer := csv.NewWriter(file)
	if info.Size() == 0 {
		if err := writer.Write(Header); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	if err := writer.Write(EncodeRecord(reading)); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	return nil
}

// rotateIfNeeded must be called with mu held.
func (l *Log) rotateIfNeeded(ctx context.Context) error {
	info, err := os.Stat(l.Path())
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.Size() < l.maxSize {
		return nil
	}

	backup := l.backupPath(l.now())
	if err := os.Rename(l.Path(), backup); err != nil {
		return err
	}

	infra.LogRotationsTotal.Inc()
	l.logger.Printf(ctx, "log rotated: %s (%s) -> %s", l.Path(), humanize.IBytes(uint64(info.Size())), backup)
	return nil
}

func (l *Log) backupPath(at time.Time) string {
	ext := filepath.Ext(l.name)
	base := strings.TrimSuffix(l.name, ext)
	stamp := at.Format(backupStampLayout)

	candidate := filepath.Join(l.dir, fmt.Sprintf("%s_%s%s", base, stamp, ext))
	for i := 1; ; i++ {
		if _, err := os.Stat(candidate); errors.Is(err, fs.ErrNotExist) {
			return candidate
		}
		candidate = filepath.Join(l.dir, fmt.Sprintf("%s_%s_%d%s", base, stamp, i, ext))
	}
}

// Backups lists rotated backup files, oldest first.
func (l *Log) Backups() ([]string, error) {
	ext := filepath.Ext(l.name)
	base := strings.TrimSuffix(l.name, ext)
	pattern := filepath.Join(l.dir, base+"_*"+ext)

	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

// Scan streams every parseable row of the active log to fn, stopping early when fn
// returns false. Rows that cannot be parsed are skipped and counted.
func (l *Log) Scan(ctx context.Context, fn func(domain.Reading) bool) (int, error) {
	file, err := os.Open(l.Path())
	if errors.Is(err, fs.ErrNotExist) {
		return 0, domain.ErrLogNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("open log: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true

	skipped := 0
	for row := 0; ; row++ {
		if row%512 == 0 {
			if err := ctx.Err(); err != nil {
				return skipped, err
			}
		}

		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return skipped, nil
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				skipped++
				continue
			}
			return skipped, fmt.Errorf("read log: %w", err)
		}

		if isHeader(record) {
			continue
		}

		reading, err := DecodeRecord(record)
		if err != nil {
			skipped++
			continue
		}
		if !fn(reading) {
			return skipped, nil
		}
	}
}

func isHeader(record []string) bool {
	return len(record) > 0 && strings.TrimSpace(record[0]) == Header[0]
}

// Open returns the active log for streaming.
func (l *Log) Open() (domain.LogHandle, error) {
	file, err := os.Open(l.Path())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, domain.ErrLogNotFound
	}
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	return &handle{File: file, name: l.name, modTime: info.ModTime()}, nil
}

// Delete removes the active log and every backup. Missing files are not an error.
func (l *Log) Delete() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	backups, err := l.Backups()
	if err != nil {
		return 0, err
	}

	removed := 0
	var errs []error
	for _, path := range append([]string{l.Path()}, backups...) {
		err := os.Remove(path)
		switch {
		case err == nil:
			removed++
		case errors.Is(err, fs.ErrNotExist):
		default:
			errs = append(errs, err)
		}
	}
	return removed, errors.Join(errs...)
}

type handle struct {
	*os.File
	name    string
	modTime time.Time
}

func (h *handle) Name() string       { return h.name }
func (h *handle) ModTime() time.Time { return h.modTime }

// EncodeRecord renders a reading as a CSV row.
func EncodeRecord(reading domain.Reading) []string {
	return []string{
		reading.Timestamp.Format(TimestampLayout),
		strconv.FormatFloat(reading.Temperature, 'f', -1, 64),
		strconv.FormatFloat(reading.DissolvedOxygen, 'f', -1, 64),
		strconv.FormatFloat(reading.Quality, 'f', -1, 64),
	}
}

// DecodeRecord parses a CSV row written by EncodeRecord or by earlier
// releases that stored naive local timestamps.
func DecodeRecord(record []string) (domain.Reading, error) {
	if len(record) < len(Header) {
		return domain.Reading{}, fmt.Errorf("expected %d fields, got %d", len(Header), len(record))
	}

	timestamp, err := ParseTimestamp(record[0])
	if err != nil {
		return domain.Reading{}, err
	}

	values := make([]float64, 3)
	for i := range values {
		value, err := strconv.ParseFloat(strings.TrimSpace(record[i+1]), 64)
		if err != nil {
			return domain.Reading{}, fmt.Errorf("field %s: %w", Header[i+1], err)
		}
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return domain.Reading{}, fmt.Errorf("field %s: not finite", Header[i+1])
		}
		values[i] = value
	}

	return domain.Reading{
		Timestamp:       timestamp,
		Temperature:     values[0],
		DissolvedOxygen: values[1],
		Quality:         values[2],
	}, nil
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp accepts RFC 3339 timestamps and naive ISO-8601 ones, the
// latter interpreted in local time.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts, nil
	}
	for _, layout := range naiveLayouts {
		if ts, err := time.ParseInLocation(layout, value, time.Local); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", value)
}

var (
	_ domain.ReadingLog = (*Log)(nil)
	_ domain.LogFile    = (*Log)(nil)
)
