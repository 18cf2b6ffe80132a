package config

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

// Store reads and writes the WatchConfig JSON file.
type Store struct {
	path string
	fs   afero.Fs

	mu       sync.Mutex
	lastSeen []byte // file content we last wrote or loaded
}

func NewStore(path string, fs afero.Fs) *Store {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Store{path: path, fs: fs}
}

func (s *Store) newViper() *viper.Viper {
	v := viper.New()
	v.SetFs(s.fs)
	v.SetConfigFile(s.path)
	v.SetConfigType("json")
	return v
}

// Load reads the settings file. A missing or malformed file is replaced with
// defaults; missing keys take their default value and unknown keys are dropped.
func (s *Store) Load() (WatchConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := afero.Exists(s.fs, s.path)
	if err != nil {
		return WatchConfig{}, fmt.Errorf("stat settings %s: %w", s.path, err)
	}
	if !exists {
		log.Printf("Settings file %s not found, writing defaults.", s.path)
		cfg := DefaultWatchConfig()
		return cfg, s.saveLocked(cfg)
	}

	cfg, err := s.read()
	if err != nil {
		log.Printf("Warning: settings file %s unreadable (%v), resetting to defaults.", s.path, err)
		cfg = DefaultWatchConfig()
		return cfg, s.saveLocked(cfg)
	}
	if content, err := afero.ReadFile(s.fs, s.path); err == nil {
		s.lastSeen = content
	}
	return cfg, nil
}

func (s *Store) read() (WatchConfig, error) {
	v := s.newViper()
	def := DefaultWatchConfig()
	v.SetDefault("monitored_apps", def.MonitoredApps)
	v.SetDefault("auto_save_enabled", def.AutoSaveEnabled)
	v.SetDefault("auto_save_interval", def.AutoSaveIntervalSeconds)
	v.SetDefault("smart_backup_enabled", def.SmartBackupEnabled)
	v.SetDefault("smart_backup_interval", def.SmartBackupIntervalMinutes)
	v.SetDefault("start_with_system", def.StartWithSystem)

	if err := v.ReadInConfig(); err != nil {
		return WatchConfig{}, err
	}
	var cfg WatchConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return WatchConfig{}, err
	}
	cfg.MonitoredApps = normalizeApps(cfg.MonitoredApps)

	if cfg.AutoSaveIntervalSeconds < MinAutoSaveInterval || cfg.AutoSaveIntervalSeconds > MaxAutoSaveInterval {
		log.Printf("Warning: auto_save_interval %d out of range, using %d", cfg.AutoSaveIntervalSeconds, def.AutoSaveIntervalSeconds)
		cfg.AutoSaveIntervalSeconds = def.AutoSaveIntervalSeconds
	}
	if cfg.SmartBackupIntervalMinutes < MinSmartBackupInterval || cfg.SmartBackupIntervalMinutes > MaxSmartBackupInterval {
		log.Printf("Warning: smart_backup_interval %d out of range, using %d", cfg.SmartBackupIntervalMinutes, def.SmartBackupIntervalMinutes)
		cfg.SmartBackupIntervalMinutes = def.SmartBackupIntervalMinutes
	}
	return cfg, nil
}

func (s *Store) Save(cfg WatchConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(cfg)
}

func (s *Store) saveLocked(cfg WatchConfig) error {
	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	v := s.newViper()
	apps := cfg.MonitoredApps
	if apps == nil {
		apps = []string{}
	}
	v.Set("monitored_apps", apps)
	v.Set("auto_save_enabled", cfg.AutoSaveEnabled)
	v.Set("auto_save_interval", cfg.AutoSaveIntervalSeconds)
	v.Set("smart_backup_enabled", cfg.SmartBackupEnabled)
	v.Set("smart_backup_interval", cfg.SmartBackupIntervalMinutes)
	v.Set("start_with_system", cfg.StartWithSystem)
	if err := v.WriteConfigAs(s.path); err != nil {
		return fmt.Errorf("write settings %s: %w", s.path, err)
	}
	if content, err := afero.ReadFile(s.fs, s.path); err == nil {
		s.lastSeen = content
	}
	return nil
}

// Watch blocks until ctx is done, calling onChange after every external edit
// of the settings file. Writes made through Save are not reported.
func (s *Store) Watch(ctx context.Context, onChange func(WatchConfig)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create settings watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory; editors often replace the file instead of writing it.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(s.path), err)
	}
	target := filepath.Clean(s.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if cfg, changed := s.reloadIfChanged(); changed {
				onChange(cfg)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("Settings watcher error: %v", err)
		}
	}
}

func (s *Store) reloadIfChanged() (WatchConfig, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	content, err := afero.ReadFile(s.fs, s.path)
	if err != nil || len(bytes.TrimSpace(content)) == 0 {
		// Mid-write or removed; the next event will carry the content.
		return WatchConfig{}, false
	}
	if bytes.Equal(content, s.lastSeen) {
		return WatchConfig{}, false
	}
	cfg, err := s.read()
	if err != nil {
		log.Printf("Warning: ignoring invalid settings edit: %v", err)
		return WatchConfig{}, false
	}
	s.lastSeen = content
	return cfg, true
}
