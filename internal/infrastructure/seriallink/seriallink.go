// Package seriallink owns the serial connection to the sensor and implements
// the poll/retry/reconnect state machine around it.
package seriallink

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"dosensor-service/internal/domain"
	"dosensor-service/internal/infra"
)

// Command asks the sensor for one measurement frame.
const Command = "MDOT\r\n"

// Defaults applied when Config leaves a field unset.
const (
	DefaultBaudRate         = 9600
	DefaultSettle           = 500 * time.Millisecond
	DefaultReadAttempts     = 5
	DefaultReadTimeout      = 200 * time.Millisecond
	DefaultReadGap          = 100 * time.Millisecond
	DefaultReconnectBackoff = 5 * time.Second
)

// Port is the subset of serial.Port the manager relies on.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	ResetInputBuffer() error
	SetReadTimeout(t time.Duration) error
	Close() error
}

// Opener opens a device at the given baud rate.
type Opener func(path string, baudRate int) (Port, error)

// Config describes the link and its timing. Negative durations select the
// defaults; zero Settle, ReadGap and ReconnectBackoff are honoured as is.
type Config struct {
	Port             string
	BaudRate         int
	Settle           time.Duration
	ReadAttempts     int
	ReadTimeout      time.Duration
	ReadGap          time.Duration
	ReconnectBackoff time.Duration

	Logger *infra.Logger
	// Opener overrides serial.Open, mainly for tests.
	Opener Opener
	// Lister overrides port enumeration.
	Lister func() ([]string, error)
	Now    func() time.Time
}

// Manager serialises every use of the connection behind one mutex.
type Manager struct {
	cfg Config

	mu          sync.Mutex
	port        Port
	state       domain.LinkState
	lastFailure time.Time

	cfgMu    sync.RWMutex
	path     string
	baudRate int
}

// New creates a closed link. The device is opened by Open or lazily by Poll.
func New(cfg Config) *Manager {
	if cfg.BaudRate <= 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.Settle < 0 {
		cfg.Settle = DefaultSettle
	}
	if cfg.ReadAttempts <= 0 {
		cfg.ReadAttempts = DefaultReadAttempts
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.ReadGap < 0 {
		cfg.ReadGap = DefaultReadGap
	}
	if cfg.ReconnectBackoff < 0 {
		cfg.ReconnectBackoff = DefaultReconnectBackoff
	}
	if cfg.Opener == nil {
		cfg.Opener = OpenSerial
	}
	if cfg.Lister == nil {
		cfg.Lister = listSerialPorts
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	m := &Manager{cfg: cfg, path: cfg.Port, baudRate: cfg.BaudRate}
	m.setState(domain.LinkClosed)
	return m
}

// OpenSerial opens path as 8N1 at baudRate.
func OpenSerial(path string, baudRate int) (Port, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}
	return port, nil
}

// Open makes the first connection attempt. A failure leaves the link closed and
// Poll retries after the reconnect backoff.
func (m *Manager) Open(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.port != nil {
		return nil
	}
	if err := m.connectLocked(ctx); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrLinkUnavailable, err)
	}
	return nil
}

// Poll sends one measurement command and collects the response.
func (m *Manager) Poll(ctx context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.port == nil {
		if !m.lastFailure.IsZero() && m.cfg.Now().Sub(m.lastFailure) < m.cfg.ReconnectBackoff {
			return nil, fmt.Errorf("%w: waiting for reconnect backoff", domain.ErrLinkUnavailable)
		}
		if err := m.connectLocked(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrLinkUnavailable, err)
		}
	}

	if err := m.port.ResetInputBuffer(); err != nil {
		m.degradeLocked(ctx, err)
		return nil, fmt.Errorf("%w: reset input: %v", domain.ErrLinkUnavailable, err)
	}
	if _, err := m.port.Write([]byte(Command)); err != nil {
		m.degradeLocked(ctx, err)
		return nil, fmt.Errorf("%w: write: %v", domain.ErrLinkUnavailable, err)
	}

	if err := sleep(ctx, m.cfg.Settle); err != nil {
		return nil, err
	}

	if err := m.port.SetReadTimeout(m.cfg.ReadTimeout); err != nil {
		m.degradeLocked(ctx, err)
		return nil, fmt.Errorf("%w: set read timeout: %v", domain.ErrTransientRead, err)
	}

	var response []byte
	chunk := make([]byte, 256)
	for attempt := 0; attempt < m.cfg.ReadAttempts; attempt++ {
		n, err := m.port.Read(chunk)
		if err != nil {
			m.degradeLocked(ctx, err)
			return nil, fmt.Errorf("%w: read: %v", domain.ErrTransientRead, err)
		}
		response = append(response, chunk[:n]...)
		if plausiblyComplete(response) {
			return response, nil
		}
		if attempt < m.cfg.ReadAttempts-1 {
			if err := sleep(ctx, m.cfg.ReadGap); err != nil {
				return nil, err
			}
		}
	}

	if len(bytes.TrimSpace(response)) == 0 {
		return nil, fmt.Errorf("%w: no response after %d reads", domain.ErrTransientRead, m.cfg.ReadAttempts)
	}
	return response, nil
}

// plausiblyComplete reports whether the accumulated text looks like a whole frame.
func plausiblyComplete(response []byte) bool {
	return bytes.IndexByte(response, ',') >= 0 && bytes.HasSuffix(response, []byte("\n"))
}

// connectLocked must be called with mu held.
func (m *Manager) connectLocked(ctx context.Context) error {
	path, baudRate := m.target()

	port, err := m.cfg.Opener(path, baudRate)
	if err != nil {
		m.lastFailure = m.cfg.Now()
		m.setState(domain.LinkClosed)
		m.cfg.Logger.Warnf(ctx, "serial: open %s failed: %v", path, err)
		return err
	}

	m.port = port
	m.lastFailure = time.Time{}
	m.setState(domain.LinkOpen)
	m.cfg.Logger.Printf(ctx, "serial: connected to %s @ %d", path, baudRate)
	return nil
}

// degradeLocked drops the failed handle and reconnects once right away.
func (m *Manager) degradeLocked(ctx context.Context, cause error) {
	m.setState(domain.LinkDegraded)
	m.cfg.Logger.Warnf(ctx, "serial: i/o failure, reconnecting: %v", cause)

	if m.port != nil {
		_ = m.port.Close()
		m.port = nil
	}
	_ = m.connectLocked(ctx)
}

// Select switches the link to path. The old handle is released first; if the
// new device cannot be opened the previous device is reopened.
func (m *Manager) Select(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w: %s", domain.ErrPortNotFound, path)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	previous, baudRate := m.target()
	if m.port != nil {
		_ = m.port.Close()
		m.port = nil
	}

	port, err := m.cfg.Opener(path, baudRate)
	if err != nil {
		m.cfg.Logger.Warnf(ctx, "serial: open %s failed, restoring %s: %v", path, previous, err)
		_ = m.connectLocked(ctx)
		return fmt.Errorf("%w: %s: %v", domain.ErrConnectFailed, path, err)
	}

	m.cfgMu.Lock()
	m.path = path
	m.cfgMu.Unlock()

	m.port = port
	m.lastFailure = time.Time{}
	m.setState(domain.LinkOpen)
	m.cfg.Logger.Printf(ctx, "serial: connected to %s @ %d", path, baudRate)
	return nil
}

// Config returns the current device path and baud rate.
func (m *Manager) Config() domain.SerialConfig {
	path, baudRate := m.target()
	return domain.SerialConfig{Port: path, BaudRate: baudRate}
}

// ListPorts returns the candidate device paths.
func (m *Manager) ListPorts() ([]string, error) {
	return m.cfg.Lister()
}

// State returns the current link state.
func (m *Manager) State() domain.LinkState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Close releases the device.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.port == nil {
		return nil
	}
	err := m.port.Close()
	m.port = nil
	m.setState(domain.LinkClosed)
	return err
}

func (m *Manager) target() (string, int) {
	m.cfgMu.RLock()
	defer m.cfgMu.RUnlock()
	return m.path, m.baudRate
}

func (m *Manager) setState(state domain.LinkState) {
	m.state = state
	infra.SetLinkState(int(state))
}

func listSerialPorts() ([]string, error) {
	detailed, err := enumerator.GetDetailedPortsList()
	if err == nil && len(detailed) > 0 {
		names := make([]string, 0, len(detailed))
		for _, p := range detailed {
			names = append(names, p.Name)
		}
		sort.Strings(names)
		return names, nil
	}

	names, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("enumerate ports: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var (
	_ domain.SensorLink       = (*Manager)(nil)
	_ domain.SerialController = (*Manager)(nil)
)
