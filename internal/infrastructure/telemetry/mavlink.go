package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// NameLength is the fixed width of NAMED_VALUE_FLOAT.name.
const NameLength = 10

// Header fields identifying this service on the MAVLink network.
const (
	systemID    = 1
	componentID = 194
)

// EncodeName pads name with NUL to NameLength, truncating longer names.
func EncodeName(name string) string {
	if len(name) >= NameLength {
		return name[:NameLength]
	}
	return name + string(make([]byte, NameLength-len(name)))
}

type mavlinkHeader struct {
	SystemID    int `json:"system_id"`
	ComponentID int `json:"component_id"`
	Sequence    int `json:"sequence"`
}

type namedValueFloat struct {
	Type       string   `json:"type"`
	TimeBootMS uint32   `json:"time_boot_ms"`
	Value      float64  `json:"value"`
	Name       []string `json:"name"`
}

type mavlinkMessage struct {
	Header  mavlinkHeader   `json:"header"`
	Message namedValueFloat `json:"message"`
}

func newNamedValueFloat(name string, value float64, bootTime time.Duration) mavlinkMessage {
	encoded := EncodeName(name)
	chars := make([]string, NameLength)
	for i := 0; i < NameLength; i++ {
		chars[i] = string(encoded[i])
	}
	return mavlinkMessage{
		Header: mavlinkHeader{SystemID: systemID, ComponentID: componentID},
		Message: namedValueFloat{
			Type:       "NAMED_VALUE_FLOAT",
			TimeBootMS: uint32(bootTime.Milliseconds()),
			Value:      value,
			Name:       chars,
		},
	}
}

// httpSink posts NAMED_VALUE_FLOAT messages to a mavlink2rest endpoint.
type httpSink struct {
	url     string
	client  *http.Client
	started time.Time
}

func newHTTPSink(url string, client *http.Client) *httpSink {
	return &httpSink{url: url, client: client, started: time.Now()}
}

func (s *httpSink) Send(ctx context.Context, name string, value float64, _ time.Time) error {
	body, err := json.Marshal(newNamedValueFloat(name, value, time.Since(s.started)))
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (s *httpSink) Target() string { return s.url }

func (s *httpSink) Close() error { return nil }
