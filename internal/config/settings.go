// Package config loads the ground-station settings file. Fields omitted
// from the JSON keep their defaults, so partial configs are safe.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Settings is the root configuration. All fields are pointers so a partial
// JSON file only overrides what it names; the Get* accessors supply
// defaults for the rest.
type Settings struct {
	// Serial link params
	BaudRate       *int    `json:"baud_rate,omitempty"`
	CommandTimeout *string `json:"command_timeout,omitempty"` // duration string like "5s"
	PollInterval   *string `json:"poll_interval,omitempty"`   // duration string like "10ms"

	// Discovery params: VID/PID pairs, upper-case hex without 0x
	DeviceVID *string `json:"device_vid,omitempty"`
	DevicePID *string `json:"device_pid,omitempty"`
	RadioVID  *string `json:"radio_vid,omitempty"`
	RadioPID  *string `json:"radio_pid,omitempty"`

	// Streaming params
	QueueCapacity *int `json:"queue_capacity,omitempty"`

	// Storage params
	DatabasePath *string `json:"database_path,omitempty"`
}

// Empty returns a Settings with every field unset.
func Empty() *Settings {
	return &Settings{}
}

// Load reads a Settings from a JSON file. The path must carry a .json
// extension and stay under the max file size.
func Load(path string) (*Settings, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that set values are usable.
func (s *Settings) Validate() error {
	if s.BaudRate != nil && *s.BaudRate <= 0 {
		return fmt.Errorf("baud_rate must be positive, got %d", *s.BaudRate)
	}
	if s.QueueCapacity != nil && *s.QueueCapacity <= 0 {
		return fmt.Errorf("queue_capacity must be positive, got %d", *s.QueueCapacity)
	}
	if s.CommandTimeout != nil && *s.CommandTimeout != "" {
		if _, err := time.ParseDuration(*s.CommandTimeout); err != nil {
			return fmt.Errorf("invalid command_timeout '%s': %w", *s.CommandTimeout, err)
		}
	}
	if s.PollInterval != nil && *s.PollInterval != "" {
		if _, err := time.ParseDuration(*s.PollInterval); err != nil {
			return fmt.Errorf("invalid poll_interval '%s': %w", *s.PollInterval, err)
		}
	}
	return nil
}

// GetBaudRate returns the baud_rate value or the default.
func (s *Settings) GetBaudRate() int {
	if s.BaudRate == nil {
		return 115200
	}
	return *s.BaudRate
}

// GetCommandTimeout parses and returns the command_timeout as a duration.
func (s *Settings) GetCommandTimeout() time.Duration {
	if s.CommandTimeout == nil || *s.CommandTimeout == "" {
		return 5 * time.Second
	}
	d, err := time.ParseDuration(*s.CommandTimeout)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// GetPollInterval parses and returns the poll_interval as a duration.
func (s *Settings) GetPollInterval() time.Duration {
	if s.PollInterval == nil || *s.PollInterval == "" {
		return 10 * time.Millisecond
	}
	d, err := time.ParseDuration(*s.PollInterval)
	if err != nil {
		return 10 * time.Millisecond
	}
	return d
}

// GetQueueCapacity returns the queue_capacity value or the default.
func (s *Settings) GetQueueCapacity() int {
	if s.QueueCapacity == nil {
		return 100
	}
	return *s.QueueCapacity
}

// GetDatabasePath returns the database_path value or the default.
func (s *Settings) GetDatabasePath() string {
	if s.DatabasePath == nil || *s.DatabasePath == "" {
		return "telemetry.db"
	}
	return *s.DatabasePath
}

// GetDeviceID returns the device channel VID/PID pair, defaulted to the
// STM32F401 CDC interface.
func (s *Settings) GetDeviceID() (vid, pid string) {
	vid, pid = "0483", "5740"
	if s.DeviceVID != nil && *s.DeviceVID != "" {
		vid = *s.DeviceVID
	}
	if s.DevicePID != nil && *s.DevicePID != "" {
		pid = *s.DevicePID
	}
	return vid, pid
}

// GetRadioID returns the radio-link VID/PID pair, defaulted to the
// STM32F103 CDC interface.
func (s *Settings) GetRadioID() (vid, pid string) {
	vid, pid = "0483", "5741"
	if s.RadioVID != nil && *s.RadioVID != "" {
		vid = *s.RadioVID
	}
	if s.RadioPID != nil && *s.RadioPID != "" {
		pid = *s.RadioPID
	}
	return vid, pid
}
