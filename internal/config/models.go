package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
)

// OutputMode selects which files a capture leaves behind.
type OutputMode string

const (
	OutputRaw  OutputMode = "raw"  // keep the raw capture only, no conversion
	OutputPNG  OutputMode = "png"  // convert and delete the raw capture
	OutputBoth OutputMode = "both" // convert and keep the raw capture
)

// ParseOutputMode accepts the config spellings of an output mode.
func ParseOutputMode(s string) (OutputMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "raw", "bmp", "raw_only":
		return OutputRaw, nil
	case "png", "compressed", "compressed_only":
		return OutputPNG, nil
	case "both":
		return OutputBoth, nil
	default:
		return "", fmt.Errorf("invalid output format %q (use raw, png or both)", s)
	}
}

// Converts reports whether raw captures are handed to the conversion pipeline.
func (o OutputMode) Converts() bool {
	return o == OutputPNG || o == OutputBoth
}

// PreserveRaw reports whether raw files survive a successful conversion.
func (o OutputMode) PreserveRaw() bool {
	return o != OutputPNG
}

// CaptureConfig controls the capture loop and frame source
type CaptureConfig struct {
	Backend         string        `json:"backend" yaml:"backend" mapstructure:"backend"`
	Display         int           `json:"display" yaml:"display" mapstructure:"display"`
	PollInterval    time.Duration `json:"poll_interval" yaml:"poll_interval" mapstructure:"poll_interval"`
	MaxPendingTicks int           `json:"max_pending_ticks" yaml:"max_pending_ticks" mapstructure:"max_pending_ticks"`
}

// InputConfig controls hotkey polling
type InputConfig struct {
	Backend     string `json:"backend" yaml:"backend" mapstructure:"backend"`
	TriggerKey  string `json:"trigger_key" yaml:"trigger_key" mapstructure:"trigger_key"`
	ModifierKey string `json:"modifier_key" yaml:"modifier_key" mapstructure:"modifier_key"`
}

// OutputConfig controls where and how captures are written
type OutputConfig struct {
	Destination    string     `json:"destination" yaml:"destination" mapstructure:"destination"`
	Format         OutputMode `json:"format" yaml:"format" mapstructure:"format"`
	PNGCompression string     `json:"png_compression" yaml:"png_compression" mapstructure:"png_compression"`
}

// ConversionConfig controls the background raw to PNG workers
type ConversionConfig struct {
	Workers        int           `json:"workers" yaml:"workers" mapstructure:"workers"`
	EnqueueTimeout time.Duration `json:"enqueue_timeout" yaml:"enqueue_timeout" mapstructure:"enqueue_timeout"`
	SweepThrottle  time.Duration `json:"sweep_throttle" yaml:"sweep_throttle" mapstructure:"sweep_throttle"`
}

// Config represents the application configuration
type Config struct {
	Capture    CaptureConfig    `json:"capture" yaml:"capture" mapstructure:"capture"`
	Input      InputConfig      `json:"input" yaml:"input" mapstructure:"input"`
	Output     OutputConfig     `json:"output" yaml:"output" mapstructure:"output"`
	Conversion ConversionConfig `json:"conversion" yaml:"conversion" mapstructure:"conversion"`
	APIPort    int              `json:"api_port" yaml:"api_port" mapstructure:"api_port"`
	LogLevel   string           `json:"log_level" yaml:"log_level" mapstructure:"log_level"`
}

// DefaultPollInterval is the capture loop cadence (~60 Hz).
const DefaultPollInterval = time.Second / 60

// MinPollInterval keeps the capture loop from spinning.
const MinPollInterval = time.Millisecond

// DefaultDestination is <Pictures>/Screenshots for the current user.
func DefaultDestination() string {
	return filepath.Join(xdg.UserDirs.Pictures, "Screenshots")
}

// DefaultConfigPath is $XDG_CONFIG_HOME/silentshot/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(xdg.ConfigHome, "silentshot", "config.yaml")
}

// Defaults returns a Config populated with standard defaults.
func Defaults() *Config {
	return &Config{
		Capture: CaptureConfig{
			Backend:         "auto",
			Display:         0,
			PollInterval:    DefaultPollInterval,
			MaxPendingTicks: 60,
		},
		Input: InputConfig{
			Backend:     "x11",
			TriggerKey:  "Print",
			ModifierKey: "Alt",
		},
		Output: OutputConfig{
			Destination:    DefaultDestination(),
			Format:         OutputPNG,
			PNGCompression: "default",
		},
		Conversion: ConversionConfig{
			Workers:        0,
			EnqueueTimeout: 250 * time.Millisecond,
			SweepThrottle:  100 * time.Millisecond,
		},
		APIPort:  0,
		LogLevel: "info",
	}
}

// Validate clamps/normalizes values to safe ranges.
func (c *Config) Validate() error {
	d := Defaults()

	if c.Capture.Backend == "" {
		c.Capture.Backend = d.Capture.Backend
	}
	if c.Capture.Display < 0 {
		c.Capture.Display = 0
	}
	if c.Capture.PollInterval <= 0 {
		c.Capture.PollInterval = d.Capture.PollInterval
	}
	if c.Capture.PollInterval < MinPollInterval {
		return fmt.Errorf("poll_interval %v is below the %v minimum", c.Capture.PollInterval, MinPollInterval)
	}
	if c.Capture.MaxPendingTicks <= 0 {
		c.Capture.MaxPendingTicks = d.Capture.MaxPendingTicks
	}

	if c.Input.Backend == "" {
		c.Input.Backend = d.Input.Backend
	}
	if c.Input.TriggerKey == "" {
		c.Input.TriggerKey = d.Input.TriggerKey
	}
	if c.Input.ModifierKey == "" {
		c.Input.ModifierKey = d.Input.ModifierKey
	}

	if c.Output.Destination == "" {
		c.Output.Destination = d.Output.Destination
	}
	if !filepath.IsAbs(c.Output.Destination) {
		abs, err := filepath.Abs(c.Output.Destination)
		if err != nil {
			return fmt.Errorf("failed to resolve destination %q: %w", c.Output.Destination, err)
		}
		c.Output.Destination = abs
	}
	if c.Output.Format == "" {
		c.Output.Format = d.Output.Format
	}
	mode, err := ParseOutputMode(string(c.Output.Format))
	if err != nil {
		return err
	}
	c.Output.Format = mode
	switch c.Output.PNGCompression {
	case "default", "speed", "best", "none":
	case "":
		c.Output.PNGCompression = d.Output.PNGCompression
	default:
		return fmt.Errorf("invalid png_compression %q (use default, speed, best or none)", c.Output.PNGCompression)
	}

	if c.Conversion.Workers < 0 {
		c.Conversion.Workers = 0
	}
	if c.Conversion.EnqueueTimeout <= 0 {
		c.Conversion.EnqueueTimeout = d.Conversion.EnqueueTimeout
	}
	if c.Conversion.SweepThrottle < 0 {
		c.Conversion.SweepThrottle = 0
	}

	if c.APIPort < 0 || c.APIPort > 65535 {
		return fmt.Errorf("invalid api_port %d", c.APIPort)
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	return nil
}
