// Package settings holds the daemon's persisted configuration: which
// hypervisor driver to use and where backend state lives. Settings
// validation failures are a distinct error class from backend
// instantiation failures, so startup diagnostics can tell a bad config
// file from a broken hypervisor.
package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DriverKey is the settings key selecting the backend. A matching
// environment variable exists but is deliberately not honored; see
// internal/platform.
const DriverKey = "driver"

// Settings is the daemon configuration, loaded once at startup.
type Settings struct {
	// Driver selects the hypervisor backend: qemu, libvirt or lxd.
	// Empty selects the platform default. Matched case-insensitively.
	Driver string `yaml:"driver,omitempty"`

	// StoragePath is where backend state (disk images, seed ISOs,
	// instance records) lives.
	StoragePath string `yaml:"storage_path"`

	// ShutdownGrace is how long a graceful guest shutdown may take
	// before the backend escalates to a forced destroy, as a duration
	// string ("2m", "90s"). Empty keeps each backend's default.
	ShutdownGrace string `yaml:"shutdown_grace,omitempty"`
}

// GraceWindow parses ShutdownGrace. Validation guarantees it parses, so the
// zero duration only comes back for the unset default.
func (s *Settings) GraceWindow() time.Duration {
	if s.ShutdownGrace == "" {
		return 0
	}
	d, err := time.ParseDuration(s.ShutdownGrace)
	if err != nil {
		return 0
	}
	return d
}

// InvalidSettingError reports a settings value that failed validation.
type InvalidSettingError struct {
	// Key is the offending settings key.
	Key string

	// Value is the rejected value.
	Value string

	// Reason says what is wrong with it.
	Reason string
}

func (e *InvalidSettingError) Error() string {
	return fmt.Sprintf("invalid setting %s=%q: %s", e.Key, e.Value, e.Reason)
}

// Default returns the settings used when no file exists.
func Default() *Settings {
	return &Settings{
		StoragePath: "/var/lib/crucible",
	}
}

// LoadFromFile reads and validates settings from a YAML file. A missing file
// yields defaults rather than an error: a fresh host has no settings yet.
func LoadFromFile(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file %s: %w", path, err)
	}

	s := Default()
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks the settings for structural errors. Driver membership in
// the platform's support matrix is checked later by the driver resolver;
// here only the value's shape is vetted.
func (s *Settings) Validate() error {
	if strings.ContainsAny(s.Driver, " \t\n") {
		return &InvalidSettingError{Key: DriverKey, Value: s.Driver, Reason: "driver must be a single word"}
	}

	if s.StoragePath == "" {
		return &InvalidSettingError{Key: "storage_path", Value: "", Reason: "storage path is required"}
	}
	if !filepath.IsAbs(s.StoragePath) {
		return &InvalidSettingError{Key: "storage_path", Value: s.StoragePath, Reason: "storage path must be absolute"}
	}

	if s.ShutdownGrace != "" {
		d, err := time.ParseDuration(s.ShutdownGrace)
		if err != nil {
			return &InvalidSettingError{Key: "shutdown_grace", Value: s.ShutdownGrace, Reason: "not a duration"}
		}
		if d < 0 {
			return &InvalidSettingError{Key: "shutdown_grace", Value: s.ShutdownGrace, Reason: "grace window cannot be negative"}
		}
	}

	return nil
}

// SaveToFile persists the settings as YAML.
func (s *Settings) SaveToFile(path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write settings file %s: %w", path, err)
	}
	return nil
}
