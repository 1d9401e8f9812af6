// Package config loads and validates the daemon configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/kernwatch/kernd/internal/domain"
)

// TemperatureConfig holds the global thermal thresholds.
// Critical triggers emergency mode; warning triggers pre-emptive cooling.
type TemperatureConfig struct {
	Warning  float64 `mapstructure:"warning"`
	Critical float64 `mapstructure:"critical"`
}

// NotificationConfig controls the notification gate.
type NotificationConfig struct {
	Enabled             bool `mapstructure:"enabled"`
	ShowOnKill          bool `mapstructure:"show_on_kill"`
	ShowOnProfileSwitch bool `mapstructure:"show_on_profile_switch"`
}

// Config is the top-level daemon configuration.
type Config struct {
	DefaultProfile     string             `mapstructure:"default_profile"`
	MonitorInterval    int                `mapstructure:"monitor_interval"`
	Temperature        TemperatureConfig  `mapstructure:"temperature"`
	Limits             domain.Limits      `mapstructure:"limits"`
	ProtectedProcesses []string           `mapstructure:"protected_processes"`
	KillGraceful       bool               `mapstructure:"kill_graceful"`
	Notifications      NotificationConfig `mapstructure:"notifications"`
}

// Interval returns the polling interval as a duration.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.MonitorInterval) * time.Second
}

// ConfigDir returns the kernd config directory following XDG.
func ConfigDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "kernd")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "kernd")
	}
	return "/etc/kernd"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("default_profile", "normal")
	v.SetDefault("monitor_interval", 2)
	v.SetDefault("temperature.warning", 75.0)
	v.SetDefault("temperature.critical", 85.0)
	v.SetDefault("limits.max_cpu_percent", 90.0)
	v.SetDefault("limits.max_ram_percent", 85.0)
	v.SetDefault("limits.max_temp", 85.0)
	v.SetDefault("protected_processes", []string{"systemd", "gnome-shell", "kernd"})
	v.SetDefault("kill_graceful", true)
	v.SetDefault("notifications.enabled", true)
	v.SetDefault("notifications.show_on_kill", true)
	v.SetDefault("notifications.show_on_profile_switch", true)
}

// Load reads kern.yaml from the user config directory, then /etc/kernd,
// falling back to compiled-in defaults when no file exists.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("kern")
	v.SetConfigType("yaml")
	v.AddConfigPath(ConfigDir())
	v.AddConfigPath("/etc/kernd")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// No config file: defaults apply.
	}

	return unmarshal(v)
}

// LoadFile reads configuration from an explicit path (for tests and
// the --config flag).
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks ranges and threshold ordering.
func (c *Config) Validate() error {
	if c.MonitorInterval < 1 || c.MonitorInterval > 3600 {
		return fmt.Errorf("invalid monitor_interval %d: must be 1-3600 seconds", c.MonitorInterval)
	}
	if c.Limits.MaxCPUPercent < 0 || c.Limits.MaxCPUPercent > 100 {
		return fmt.Errorf("invalid limits.max_cpu_percent %.1f: must be 0-100", c.Limits.MaxCPUPercent)
	}
	if c.Limits.MaxRAMPercent < 0 || c.Limits.MaxRAMPercent > 100 {
		return fmt.Errorf("invalid limits.max_ram_percent %.1f: must be 0-100", c.Limits.MaxRAMPercent)
	}
	if c.Temperature.Warning < 0 || c.Temperature.Warning > 120 {
		return fmt.Errorf("invalid temperature.warning %.1f: must be 0-120", c.Temperature.Warning)
	}
	if c.Temperature.Critical < 0 || c.Temperature.Critical > 120 {
		return fmt.Errorf("invalid temperature.critical %.1f: must be 0-120", c.Temperature.Critical)
	}
	if c.Temperature.Critical <= c.Temperature.Warning {
		return fmt.Errorf("invalid temperature thresholds: critical (%.1f) must be > warning (%.1f)",
			c.Temperature.Critical, c.Temperature.Warning)
	}
	return nil
}
