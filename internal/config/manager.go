package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bryanchriswhite/SilentShot/internal/logger"
	"github.com/fsnotify/fsnotify"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// keyKinds lists every settable key and how its value is coerced.
var keyKinds = map[string]reflect.Kind{
	"capture.backend":            reflect.String,
	"capture.display":            reflect.Int,
	"capture.poll_interval":      reflect.Int64,
	"capture.max_pending_ticks":  reflect.Int,
	"input.backend":              reflect.String,
	"input.trigger_key":          reflect.String,
	"input.modifier_key":         reflect.String,
	"output.destination":         reflect.String,
	"output.format":              reflect.String,
	"output.png_compression":     reflect.String,
	"conversion.workers":         reflect.Int,
	"conversion.enqueue_timeout": reflect.Int64,
	"conversion.sweep_throttle":  reflect.Int64,
	"api_port":                   reflect.Int,
	"log_level":                  reflect.String,
}

// Overrides are command-line values applied on top of the file without
// being persisted.
type Overrides struct {
	Destination string
	Format      string
	LogLevel    string
}

// Manager handles configuration. It is the single writer of the
// destination folder; readers take a copy through Destination.
type Manager struct {
	configPath string
	v          *viper.Viper
	config     *Config
	overrides  Overrides
	listeners  []func(*Config)
	mu         sync.RWMutex
}

// NewManager creates a new configuration manager
func NewManager(configFile string) (*Manager, error) {
	actualConfigPath := DefaultConfigPath()
	if configFile != "" {
		actualConfigPath = configFile
	}

	if err := os.MkdirAll(filepath.Dir(actualConfigPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(actualConfigPath)
	v.SetConfigType("yaml")

	m := &Manager{
		configPath: actualConfigPath,
		v:          v,
	}

	if _, err := os.Stat(actualConfigPath); errors.Is(err, fs.ErrNotExist) {
		logger.WithComponent("config").Info().
			Str("path", m.configPath).
			Msg("Config file not found, creating new config")
		m.config = Defaults()
		if err := m.Save(); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	}

	if err := m.load(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Str("destination", m.config.Output.Destination).
		Str("format", string(m.config.Output.Format)).
		Msg("Config loaded")

	return m, nil
}

// setDefaults registers defaults so missing keys in the file still decode.
func (m *Manager) setDefaults() {
	d := Defaults()
	m.v.SetDefault("capture.backend", d.Capture.Backend)
	m.v.SetDefault("capture.display", d.Capture.Display)
	m.v.SetDefault("capture.poll_interval", d.Capture.PollInterval)
	m.v.SetDefault("capture.max_pending_ticks", d.Capture.MaxPendingTicks)
	m.v.SetDefault("input.backend", d.Input.Backend)
	m.v.SetDefault("input.trigger_key", d.Input.TriggerKey)
	m.v.SetDefault("input.modifier_key", d.Input.ModifierKey)
	m.v.SetDefault("output.destination", d.Output.Destination)
	m.v.SetDefault("output.format", string(d.Output.Format))
	m.v.SetDefault("output.png_compression", d.Output.PNGCompression)
	m.v.SetDefault("conversion.workers", d.Conversion.Workers)
	m.v.SetDefault("conversion.enqueue_timeout", d.Conversion.EnqueueTimeout)
	m.v.SetDefault("conversion.sweep_throttle", d.Conversion.SweepThrottle)
	m.v.SetDefault("api_port", d.APIPort)
	m.v.SetDefault("log_level", d.LogLevel)
}

// outputModeHook validates output modes while viper decodes the file.
func outputModeHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(OutputMode("")) || from.Kind() != reflect.String {
			return data, nil
		}
		return ParseOutputMode(data.(string))
	}
}

// decode turns the current viper state into a validated Config.
func (m *Manager) decode() (*Config, error) {
	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		outputModeHook(),
	))
	if err := m.v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// load reads the configuration from disk
func (m *Manager) load() error {
	m.setDefaults()
	if err := m.v.ReadInConfig(); err != nil {
		return err
	}
	cfg, err := m.decode()
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.config = cfg
	m.applyOverridesLocked()
	m.mu.Unlock()
	return nil
}

func (m *Manager) applyOverridesLocked() {
	if m.overrides.Destination != "" {
		if abs, err := filepath.Abs(m.overrides.Destination); err == nil {
			m.config.Output.Destination = abs
		}
	}
	if m.overrides.Format != "" {
		if mode, err := ParseOutputMode(m.overrides.Format); err == nil {
			m.config.Output.Format = mode
		}
	}
	if m.overrides.LogLevel != "" {
		m.config.LogLevel = m.overrides.LogLevel
	}
}

// Override applies command-line values for this process only.
func (m *Manager) Override(o Overrides) error {
	if o.Format != "" {
		if _, err := ParseOutputMode(o.Format); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.overrides = o
	m.applyOverridesLocked()
	m.mu.Unlock()
	return nil
}

// Get returns a copy of the current configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.config == nil {
		return Defaults()
	}
	cfg := *m.config
	return &cfg
}

// Destination returns a snapshot of the destination folder.
func (m *Manager) Destination() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.Output.Destination
}

// OutputMode returns the current output mode.
func (m *Manager) OutputMode() OutputMode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.Output.Format
}

// SetDestination changes the destination folder and persists it.
func (m *Manager) SetDestination(path string) error {
	if path == "" {
		return fmt.Errorf("destination must not be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve destination: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return fmt.Errorf("failed to create destination: %w", err)
	}

	m.mu.Lock()
	m.config.Output.Destination = abs
	m.overrides.Destination = ""
	m.v.Set("output.destination", abs)
	m.mu.Unlock()

	logger.WithComponent("config").Info().
		Str("destination", abs).
		Msg("Destination folder changed")

	m.notify()
	return m.Save()
}

// Set coerces value to the type of key, applies it and persists the result.
func (m *Manager) Set(key, value string) error {
	kind, ok := keyKinds[key]
	if !ok {
		return fmt.Errorf("unknown configuration key: %s", key)
	}

	var coerced interface{}
	var err error
	switch kind {
	case reflect.Int:
		coerced, err = cast.ToIntE(value)
	case reflect.Int64:
		// A bare number would be read as nanoseconds.
		if _, numErr := strconv.ParseFloat(strings.TrimSpace(value), 64); numErr == nil {
			return fmt.Errorf("invalid value for %s: %q needs a unit such as ms or s", key, value)
		}
		coerced, err = cast.ToDurationE(value)
	default:
		coerced = value
	}
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}

	m.mu.Lock()
	previous := m.v.Get(key)
	m.v.Set(key, coerced)
	cfg, err := m.decode()
	if err != nil {
		m.v.Set(key, previous)
		m.mu.Unlock()
		return err
	}
	m.config = cfg
	m.applyOverridesLocked()
	m.mu.Unlock()

	m.notify()
	return m.Save()
}

// Lookup returns the raw value stored under key.
func (m *Manager) Lookup(key string) (interface{}, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.v.IsSet(key) {
		return nil, false
	}
	val := m.v.Get(key)
	if d, ok := val.(time.Duration); ok {
		return d.String(), true
	}
	return val, true
}

// Save saves the current configuration to disk
func (m *Manager) Save() error {
	m.mu.RLock()
	var cfg *Config
	if m.config == nil {
		cfg = Defaults()
	} else {
		c := *m.config
		cfg = &c
		// Overrides never reach the file.
		if m.overrides.Destination != "" {
			cfg.Output.Destination = m.v.GetString("output.destination")
		}
		if m.overrides.Format != "" {
			cfg.Output.Format = OutputMode(m.v.GetString("output.format"))
		}
		if m.overrides.LogLevel != "" {
			cfg.LogLevel = m.v.GetString("log_level")
		}
	}
	m.mu.RUnlock()

	configDir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("config_dir", configDir).
			Msg("Failed to create config directory")
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("path", m.configPath).
			Msg("Failed to write config")
		return err
	}

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Msg("Config saved")
	return nil
}

// OnChange registers fn to run after every reload or setter.
func (m *Manager) OnChange(fn func(*Config)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

func (m *Manager) notify() {
	m.mu.RLock()
	listeners := append([]func(*Config){}, m.listeners...)
	m.mu.RUnlock()

	cfg := m.Get()
	for _, fn := range listeners {
		fn(cfg)
	}
}

// Watch reloads the file whenever it changes on disk.
func (m *Manager) Watch() {
	log := logger.WithComponent("config")
	m.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		m.mu.Lock()
		cfg, err := m.decode()
		if err != nil {
			m.mu.Unlock()
			log.Warn().Err(err).Str("path", e.Name).Msg("Ignoring invalid config change")
			return
		}
		m.config = cfg
		m.applyOverridesLocked()
		m.mu.Unlock()

		log.Info().
			Str("destination", cfg.Output.Destination).
			Str("format", string(cfg.Output.Format)).
			Msg("Config reloaded")
		m.notify()
	})
	m.v.WatchConfig()
}

// GetViper exposes the underlying viper instance
func (m *Manager) GetViper() *viper.Viper {
	return m.v
}

// GetConfigPath returns the path to the config file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}
