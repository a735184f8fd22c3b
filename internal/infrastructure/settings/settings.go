// Package settings persists the selected serial device between restarts.
package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"dosensor-service/internal/domain"
)

type record struct {
	SerialPort string `yaml:"serial_port"`
	BaudRate   int    `yaml:"baud_rate"`
}

// Store reads and writes the settings file.
type Store struct {
	path string
	mu   sync.Mutex
}

func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the settings file location.
func (s *Store) Path() string {
	return s.path
}

// Load returns the stored configuration. ok is false when no file exists.
func (s *Store) Load() (cfg domain.SerialConfig, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.SerialConfig{}, false, nil
	}
	if err != nil {
		return domain.SerialConfig{}, false, fmt.Errorf("read settings: %w", err)
	}

	var rec record
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return domain.SerialConfig{}, false, fmt.Errorf("parse settings %s: %w", s.path, err)
	}
	if strings.TrimSpace(rec.SerialPort) == "" {
		return domain.SerialConfig{}, false, nil
	}
	return domain.SerialConfig{Port: rec.SerialPort, BaudRate: rec.BaudRate}, true, nil
}

// Save atomically replaces the settings file.
func (s *Store) Save(cfg domain.SerialConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := yaml.Marshal(record{SerialPort: cfg.Port, BaudRate: cfg.BaudRate})
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp settings: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write settings: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close settings: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace settings: %w", err)
	}
	return nil
}

// Apply overlays a stored configuration onto defaults. A zero stored baud rate keeps the default.
func Apply(defaults, stored domain.SerialConfig) domain.SerialConfig {
	out := defaults
	if stored.Port != "" {
		out.Port = stored.Port
	}
	if stored.BaudRate > 0 {
		out.BaudRate = stored.BaudRate
	}
	return out
}
