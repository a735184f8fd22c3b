package core

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"dosensor-service/internal/domain"
)

const frameFields = 5

// Field positions within a sensor frame. Time-of-day and battery voltage are ignored.
const (
	fieldTemperature     = 2
	fieldDissolvedOxygen = 3
	fieldQuality         = 4
)

// ParseFrame turns a raw sensor response into a reading stamped with now.
// When the response holds several lines only the last non-empty one is used.
// Range validation is left to the caller.
func ParseFrame(raw string, now time.Time) (domain.Reading, error) {
	line, ok := lastLine(raw)
	if !ok {
		return domain.Reading{}, fmt.Errorf("%w: %w", domain.ErrMalformedFrame, domain.ErrEmptyResponse)
	}

	fields := strings.Split(line, ",")
	if len(fields) < frameFields {
		return domain.Reading{}, fmt.Errorf("%w: %w: expected %d fields, got %d in %q",
			domain.ErrMalformedFrame, domain.ErrMalformedField, frameFields, len(fields), line)
	}

	temperature, err := parseField(fields, fieldTemperature)
	if err != nil {
		return domain.Reading{}, err
	}
	oxygen, err := parseField(fields, fieldDissolvedOxygen)
	if err != nil {
		return domain.Reading{}, err
	}
	quality, err := parseField(fields, fieldQuality)
	if err != nil {
		return domain.Reading{}, err
	}

	return domain.Reading{
		Timestamp:       now,
		Temperature:     temperature,
		DissolvedOxygen: oxygen,
		Quality:         quality,
	}, nil
}

func lastLine(raw string) (string, bool) {
	lines := strings.FieldsFunc(raw, func(r rune) bool { return r == '\n' || r == '\r' })
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line, true
		}
	}
	return "", false
}

func parseField(fields []string, index int) (float64, error) {
	text := strings.TrimSpace(fields[index])
	value, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("%w: %w: field %d %q", domain.ErrMalformedFrame, domain.ErrMalformedField, index, text)
	}
	return value, nil
}
