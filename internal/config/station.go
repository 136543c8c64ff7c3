// Package config loads the optional JSON station configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/telemetry.report/internal/units"
)

// ExampleConfigPath is the example station configuration shipped with the repo.
const ExampleConfigPath = "config/station.example.json"

// DefaultFrequencies are the receive channels used when none are configured.
var DefaultFrequencies = []float64{436350000, 436550000, 436750000}

// StationConfig is the optional JSON configuration for the telemetry
// service. Every field is optional; command-line flags take precedence and
// the Get* methods supply defaults for anything left unset.
type StationConfig struct {
	Listen string `json:"listen,omitempty"`
	DBPath string `json:"db_path,omitempty"`

	LogDir    *string `json:"log_dir,omitempty"` // empty string disables the record log
	LogPrefix *string `json:"log_prefix,omitempty"`

	// Demodulator source: a command, a serial port or a replayed capture.
	DemodCommand   *string   `json:"demod_command,omitempty"`
	Frequencies    []float64 `json:"frequencies,omitempty"`
	SerialPort     *string   `json:"serial_port,omitempty"`
	BaudRate       *int      `json:"baud_rate,omitempty"`
	ReplayPath     *string   `json:"replay_path,omitempty"`
	ReplayInterval *string   `json:"replay_interval,omitempty"` // duration string like "100ms"
	ReplayLoop     *bool     `json:"replay_loop,omitempty"`

	QueueCapacity    *int `json:"queue_capacity,omitempty"`
	SubscriberBuffer *int `json:"subscriber_buffer,omitempty"`

	SpeedUnits  *string `json:"speed_units,omitempty"`
	HeightUnits *string `json:"height_units,omitempty"`
}

// LoadStationConfig loads a StationConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadStationConfig(path string) (*StationConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &StationConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *StationConfig) Validate() error {
	for _, f := range c.Frequencies {
		if f <= 0 {
			return fmt.Errorf("frequencies must be positive, got %f", f)
		}
	}

	if c.ReplayInterval != nil && *c.ReplayInterval != "" {
		if _, err := time.ParseDuration(*c.ReplayInterval); err != nil {
			return fmt.Errorf("invalid replay_interval '%s': %w", *c.ReplayInterval, err)
		}
	}

	if c.QueueCapacity != nil && *c.QueueCapacity < 0 {
		return fmt.Errorf("queue_capacity must be non-negative, got %d", *c.QueueCapacity)
	}
	if c.SubscriberBuffer != nil && *c.SubscriberBuffer < 0 {
		return fmt.Errorf("subscriber_buffer must be non-negative, got %d", *c.SubscriberBuffer)
	}
	if c.BaudRate != nil && *c.BaudRate < 0 {
		return fmt.Errorf("baud_rate must be non-negative, got %d", *c.BaudRate)
	}

	if c.SpeedUnits != nil && !units.IsValidSpeed(*c.SpeedUnits) {
		return fmt.Errorf("invalid speed_units %q: must be one of %s", *c.SpeedUnits, units.GetValidSpeedUnitsString())
	}
	if c.HeightUnits != nil && !units.IsValidHeight(*c.HeightUnits) {
		return fmt.Errorf("invalid height_units %q", *c.HeightUnits)
	}
	return nil
}

func (c *StationConfig) GetListen() string {
	if c.Listen == "" {
		return ":8084"
	}
	return c.Listen
}

func (c *StationConfig) GetDBPath() string {
	if c.DBPath == "" {
		return "telemetry.db"
	}
	return c.DBPath
}

func (c *StationConfig) GetLogDir() string {
	if c.LogDir == nil {
		return "logs"
	}
	return *c.LogDir
}

func (c *StationConfig) GetLogPrefix() string {
	if c.LogPrefix == nil || *c.LogPrefix == "" {
		return "log"
	}
	return *c.LogPrefix
}

func (c *StationConfig) GetDemodCommand() string {
	if c.DemodCommand == nil || *c.DemodCommand == "" {
		return "gfsk"
	}
	return *c.DemodCommand
}

func (c *StationConfig) GetFrequencies() []float64 {
	if len(c.Frequencies) == 0 {
		return DefaultFrequencies
	}
	return c.Frequencies
}

func (c *StationConfig) GetSerialPort() string {
	if c.SerialPort == nil {
		return ""
	}
	return *c.SerialPort
}

// GetBaudRate returns 0 when unset so the serial layer applies its own default.
func (c *StationConfig) GetBaudRate() int {
	if c.BaudRate == nil {
		return 0
	}
	return *c.BaudRate
}

func (c *StationConfig) GetReplayPath() string {
	if c.ReplayPath == nil {
		return ""
	}
	return *c.ReplayPath
}

// GetReplayInterval parses ReplayInterval, returning 0 when unset or invalid.
func (c *StationConfig) GetReplayInterval() time.Duration {
	if c.ReplayInterval == nil || *c.ReplayInterval == "" {
		return 0
	}
	d, err := time.ParseDuration(*c.ReplayInterval)
	if err != nil {
		return 0
	}
	return d
}

func (c *StationConfig) GetReplayLoop() bool {
	if c.ReplayLoop == nil {
		return false
	}
	return *c.ReplayLoop
}

func (c *StationConfig) GetQueueCapacity() int {
	if c.QueueCapacity == nil {
		return 0
	}
	return *c.QueueCapacity
}

func (c *StationConfig) GetSubscriberBuffer() int {
	if c.SubscriberBuffer == nil {
		return 0
	}
	return *c.SubscriberBuffer
}

func (c *StationConfig) GetSpeedUnits() string {
	if c.SpeedUnits == nil {
		return units.MPS
	}
	return *c.SpeedUnits
}

func (c *StationConfig) GetHeightUnits() string {
	if c.HeightUnits == nil {
		return units.Metres
	}
	return *c.HeightUnits
}
