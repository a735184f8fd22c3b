package core

import (
	"context"
	"fmt"
	"strings"

	"dosensor-service/internal/domain"
)

// PortManager is the serial link surface used to reconfigure the device.
type PortManager interface {
	domain.SerialController
}

// SettingsStore persists the chosen serial configuration across restarts.
type SettingsStore interface {
	Save(cfg domain.SerialConfig) error
}

// SerialControl switches the serial device and records the choice.
type SerialControl struct {
	ports    PortManager
	settings SettingsStore
	logger   Logger
}

// NewSerialControl creates the control service. A nil store skips persistence.
func NewSerialControl(ports PortManager, settings SettingsStore, logger Logger) *SerialControl {
	return &SerialControl{ports: ports, settings: settings, logger: logger}
}

func (s *SerialControl) Config() domain.SerialConfig {
	return s.ports.Config()
}

func (s *SerialControl) ListPorts() ([]string, error) {
	return s.ports.ListPorts()
}

// Select switches to port. On failure the previous device stays active. A
// settings write failure is logged; the new device remains selected.
func (s *SerialControl) Select(ctx context.Context, port string) error {
	port = strings.TrimSpace(port)
	if port == "" {
		return fmt.Errorf("%w: empty path", domain.ErrPortNotFound)
	}

	previous := s.ports.Config()
	if err := s.ports.Select(ctx, port); err != nil {
		s.warn(ctx, "serial: select %s failed, keeping %s: %v", port, previous.Port, err)
		return err
	}

	current := s.ports.Config()
	if s.settings != nil {
		if err := s.settings.Save(current); err != nil {
			s.warn(ctx, "serial: persisting selection %s failed: %v", current.Port, err)
		}
	}
	if s.logger != nil {
		s.logger.Printf(ctx, "serial: switched %s -> %s", previous.Port, current.Port)
	}
	return nil
}

func (s *SerialControl) warn(ctx context.Context, format string, v ...any) {
	if s.logger != nil {
		s.logger.Warnf(ctx, format, v...)
	}
}

var _ domain.SerialController = (*SerialControl)(nil)
