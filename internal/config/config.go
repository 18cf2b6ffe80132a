package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds daemon settings. User facing watch settings live in WatchConfig.
type Config struct {
	DatabasePath   string `mapstructure:"database_path"`
	SocketPath     string `mapstructure:"socket_path"`
	SettingsPath   string `mapstructure:"settings_path"`
	Provider       string `mapstructure:"provider"` // "auto", "x11", "windows" or "none"
	PollIntervalMs int    `mapstructure:"poll_interval_ms"`
	DebounceMs     int    `mapstructure:"debounce_ms"`
	DialogDelayMs  int    `mapstructure:"dialog_delay_ms"`
	StatusRevertMs int    `mapstructure:"status_revert_ms"`
}

func LoadConfig(configPath string) (*Config, error) {
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.config/autosave")
		viper.AddConfigPath("/etc/autosave/")
	}

	viper.SetEnvPrefix("AUTOSAVE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("database_path", DefaultDatabasePath())
	viper.SetDefault("socket_path", DefaultSocketPath())
	viper.SetDefault("settings_path", DefaultSettingsPath())
	viper.SetDefault("provider", "auto")
	viper.SetDefault("poll_interval_ms", 2000)
	viper.SetDefault("debounce_ms", 100)
	viper.SetDefault("dialog_delay_ms", 1000)
	viper.SetDefault("status_revert_ms", 2000)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("Config file not found, using defaults.")
		} else {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.normalize()

	log.Printf("Configuration loaded: %+v", cfg)
	return &cfg, nil
}

func (c *Config) normalize() {
	if c.PollIntervalMs < 100 {
		log.Printf("Warning: poll_interval_ms %d too low, setting to 100", c.PollIntervalMs)
		c.PollIntervalMs = 100
	}
	if c.DebounceMs < 0 {
		log.Printf("Warning: debounce_ms %d is negative, setting to 0", c.DebounceMs)
		c.DebounceMs = 0
	}
	if c.DialogDelayMs < 0 {
		log.Printf("Warning: dialog_delay_ms %d is negative, setting to 0", c.DialogDelayMs)
		c.DialogDelayMs = 0
	}
	if c.StatusRevertMs < 100 {
		log.Printf("Warning: status_revert_ms %d too low, setting to 100", c.StatusRevertMs)
		c.StatusRevertMs = 100
	}
	switch c.Provider {
	case "auto", "x11", "windows", "none":
	default:
		log.Printf("Warning: invalid provider '%s', defaulting to 'auto'", c.Provider)
		c.Provider = "auto"
	}
}

func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}
func (c Config) DebounceDelay() time.Duration {
	return time.Duration(c.DebounceMs) * time.Millisecond
}
func (c Config) DialogDelay() time.Duration {
	return time.Duration(c.DialogDelayMs) * time.Millisecond
}
func (c Config) StatusRevertDelay() time.Duration {
	return time.Duration(c.StatusRevertMs) * time.Millisecond
}

// DefaultSocketPath prefers the per-user runtime dir.
func DefaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "autosave.sock")
	}
	return fmt.Sprintf("/tmp/autosave-%d.sock", os.Getuid())
}

// DefaultSettingsPath sits next to config.yaml, so it must not be named
// config.* or the daemon config search would pick it up.
func DefaultSettingsPath() string {
	return filepath.Join(userConfigDir(), "autosave", "settings.json")
}

func DefaultDatabasePath() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "autosave", "journal.db")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "autosave", "journal.db")
	}
	return "autosave.db"
}

func userConfigDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "."
	}
	return dir
}
