package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

const (
	MinAutoSaveInterval    = 1
	MaxAutoSaveInterval    = 60
	MinSmartBackupInterval = 1
	MaxSmartBackupInterval = 1440
)

var ErrIntervalOutOfRange = errors.New("interval out of range")

// WatchConfig is the user facing settings document, persisted as JSON.
type WatchConfig struct {
	MonitoredApps              []string `mapstructure:"monitored_apps" json:"monitored_apps"`
	AutoSaveEnabled            bool     `mapstructure:"auto_save_enabled" json:"auto_save_enabled"`
	AutoSaveIntervalSeconds    int      `mapstructure:"auto_save_interval" json:"auto_save_interval"`
	SmartBackupEnabled         bool     `mapstructure:"smart_backup_enabled" json:"smart_backup_enabled"`
	SmartBackupIntervalMinutes int      `mapstructure:"smart_backup_interval" json:"smart_backup_interval"`
	StartWithSystem            bool     `mapstructure:"start_with_system" json:"start_with_system"`
}

// ConfigPatch is a partial update. Nil fields are left unchanged.
type ConfigPatch struct {
	MonitoredApps              *[]string `mapstructure:"monitored_apps"`
	AutoSaveEnabled            *bool     `mapstructure:"auto_save_enabled"`
	AutoSaveIntervalSeconds    *int      `mapstructure:"auto_save_interval"`
	SmartBackupEnabled         *bool     `mapstructure:"smart_backup_enabled"`
	SmartBackupIntervalMinutes *int      `mapstructure:"smart_backup_interval"`
	StartWithSystem            *bool     `mapstructure:"start_with_system"`
}

func DefaultWatchConfig() WatchConfig {
	return WatchConfig{
		MonitoredApps: []string{
			"photoshop.exe", "afterfx.exe", "premiere.exe", "illustrator.exe",
			"indesign.exe", "acrobat.exe", "animate.exe", "lightroom.exe",
			"audition.exe", "figma.exe", "resolve.exe", "capcut.exe",
		},
		AutoSaveEnabled:            true,
		AutoSaveIntervalSeconds:    3,
		SmartBackupEnabled:         false,
		SmartBackupIntervalMinutes: 60,
		StartWithSystem:            false,
	}
}

func (c WatchConfig) Validate() error {
	if c.AutoSaveIntervalSeconds < MinAutoSaveInterval || c.AutoSaveIntervalSeconds > MaxAutoSaveInterval {
		return fmt.Errorf("auto_save_interval %d not in [%d,%d]: %w",
			c.AutoSaveIntervalSeconds, MinAutoSaveInterval, MaxAutoSaveInterval, ErrIntervalOutOfRange)
	}
	if c.SmartBackupIntervalMinutes < MinSmartBackupInterval || c.SmartBackupIntervalMinutes > MaxSmartBackupInterval {
		return fmt.Errorf("smart_backup_interval %d not in [%d,%d]: %w",
			c.SmartBackupIntervalMinutes, MinSmartBackupInterval, MaxSmartBackupInterval, ErrIntervalOutOfRange)
	}
	return nil
}

// IsMonitored reports whether processName is on the watch-list.
func (c WatchConfig) IsMonitored(processName string) bool {
	name := strings.ToLower(strings.TrimSpace(processName))
	if name == "" {
		return false
	}
	for _, app := range c.MonitoredApps {
		if strings.ToLower(strings.TrimSpace(app)) == name {
			return true
		}
	}
	return false
}

// Clone returns a copy that does not share the watch-list slice.
func (c WatchConfig) Clone() WatchConfig {
	out := c
	out.MonitoredApps = append([]string(nil), c.MonitoredApps...)
	return out
}

// Apply returns c with every non-nil field of p applied. c is not modified.
func (c WatchConfig) Apply(p ConfigPatch) WatchConfig {
	out := c.Clone()
	if p.MonitoredApps != nil {
		out.MonitoredApps = normalizeApps(*p.MonitoredApps)
	}
	if p.AutoSaveEnabled != nil {
		out.AutoSaveEnabled = *p.AutoSaveEnabled
	}
	if p.AutoSaveIntervalSeconds != nil {
		out.AutoSaveIntervalSeconds = *p.AutoSaveIntervalSeconds
	}
	if p.SmartBackupEnabled != nil {
		out.SmartBackupEnabled = *p.SmartBackupEnabled
	}
	if p.SmartBackupIntervalMinutes != nil {
		out.SmartBackupIntervalMinutes = *p.SmartBackupIntervalMinutes
	}
	if p.StartWithSystem != nil {
		out.StartWithSystem = *p.StartWithSystem
	}
	return out
}

func (p ConfigPatch) IsEmpty() bool {
	return p == ConfigPatch{}
}

// NormalizeExecutable turns a path or name into a watch-list entry:
// base name, lowercased.
func NormalizeExecutable(executable string) string {
	s := strings.TrimSpace(executable)
	if s == "" {
		return ""
	}
	// Windows paths come in over IPC too.
	if i := strings.LastIndexAny(s, `/\`); i >= 0 {
		s = s[i+1:]
	}
	if s == "" || s == "." || s == ".." {
		return ""
	}
	return strings.ToLower(filepath.Base(s))
}

func normalizeApps(apps []string) []string {
	out := make([]string, 0, len(apps))
	seen := make(map[string]bool, len(apps))
	for _, a := range apps {
		n := NormalizeExecutable(a)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
