package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSettingsPath = "/home/user/.config/autosave/settings.json"

func TestStoreLoadMissingWritesDefaults(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewStore(testSettingsPath, fs)

	cfg, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultWatchConfig(), cfg)

	exists, err := afero.Exists(fs, testSettingsPath)
	require.NoError(t, err)
	assert.True(t, exists, "defaults should be persisted")
}

func TestStoreLoadMalformedResetsToDefaults(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, testSettingsPath, []byte("{not json"), 0o644))
	store := NewStore(testSettingsPath, fs)

	cfg, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultWatchConfig(), cfg)

	reloaded, err := NewStore(testSettingsPath, fs).Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultWatchConfig(), reloaded)
}

func TestStoreLoadMergesMissingKeys(t *testing.T) {
	fs := afero.NewMemMapFs()
	body := `{"monitored_apps": ["Blender.EXE"], "auto_save_interval": 10, "unknown_key": 42}`
	require.NoError(t, afero.WriteFile(fs, testSettingsPath, []byte(body), 0o644))

	cfg, err := NewStore(testSettingsPath, fs).Load()
	require.NoError(t, err)

	def := DefaultWatchConfig()
	assert.Equal(t, []string{"blender.exe"}, cfg.MonitoredApps)
	assert.Equal(t, 10, cfg.AutoSaveIntervalSeconds)
	assert.Equal(t, def.AutoSaveEnabled, cfg.AutoSaveEnabled)
	assert.Equal(t, def.SmartBackupIntervalMinutes, cfg.SmartBackupIntervalMinutes)
}

func TestStoreLoadClampsOutOfRange(t *testing.T) {
	fs := afero.NewMemMapFs()
	body := `{"auto_save_interval": 0, "smart_backup_interval": 5000}`
	require.NoError(t, afero.WriteFile(fs, testSettingsPath, []byte(body), 0o644))

	cfg, err := NewStore(testSettingsPath, fs).Load()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.AutoSaveIntervalSeconds)
	assert.Equal(t, 60, cfg.SmartBackupIntervalMinutes)
}

func TestStoreSaveRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewStore(testSettingsPath, fs)

	want := WatchConfig{
		MonitoredApps:              []string{"krita.exe"},
		AutoSaveEnabled:            false,
		AutoSaveIntervalSeconds:    45,
		SmartBackupEnabled:         true,
		SmartBackupIntervalMinutes: 15,
		StartWithSystem:            true,
	}
	require.NoError(t, store.Save(want))

	got, err := NewStore(testSettingsPath, fs).Load()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestStoreSaveFailsOnReadOnlyFs(t *testing.T) {
	store := NewStore(testSettingsPath, afero.NewReadOnlyFs(afero.NewMemMapFs()))
	err := store.Save(DefaultWatchConfig())
	assert.Error(t, err)
}

func TestStoreWatchReportsExternalEdits(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	store := NewStore(path, afero.NewOsFs())
	_, err := store.Load()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan WatchConfig, 8)
	done := make(chan error, 1)
	go func() {
		done <- store.Watch(ctx, func(cfg WatchConfig) { changes <- cfg })
	}()

	edit := []byte(`{"monitored_apps": ["gimp"], "auto_save_interval": 7}`)
	var got WatchConfig
	require.Eventually(t, func() bool {
		// Rewrite until the watcher is attached and reports it.
		_ = os.WriteFile(path, edit, 0o644)
		select {
		case got = <-changes:
			return true
		default:
			return false
		}
	}, 5*time.Second, 50*time.Millisecond)
	assert.Equal(t, []string{"gimp"}, got.MonitoredApps)
	assert.Equal(t, 7, got.AutoSaveIntervalSeconds)

	// Drain duplicates from the retry loop, then check our own write is ignored.
	time.Sleep(100 * time.Millisecond)
	for len(changes) > 0 {
		<-changes
	}
	require.NoError(t, store.Save(DefaultWatchConfig()))
	assert.Never(t, func() bool { return len(changes) > 0 }, 300*time.Millisecond, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}
