package app

import (
	"context"
	"fmt"
	"log"
	"slices"

	"autosave/internal/config"
	"autosave/internal/event"
	"autosave/internal/ipc"
	"autosave/internal/session"
	"autosave/internal/timers"
)

// UpdateConfig validates and applies a partial settings update, then
// persists it. A persistence error is returned but the update stays live.
func (a *App) UpdateConfig(ctx context.Context, patch config.ConfigPatch) error {
	var err error
	if doErr := a.do(ctx, func() { err = a.updateConfig(patch) }); doErr != nil {
		return doErr
	}
	return err
}

func (a *App) updateConfig(patch config.ConfigPatch) error {
	next := a.watch.Apply(patch)
	if err := next.Validate(); err != nil {
		return err
	}
	if patch.IsEmpty() {
		return nil
	}
	if err := a.commit(next); err != nil {
		return err
	}
	a.emit(event.EventTypeConfigChange, "Settings updated.", event.SeveritySuccess, a.tracker.Current())
	return nil
}

// AddMonitoredApp puts the base name of executable on the watch-list.
func (a *App) AddMonitoredApp(ctx context.Context, executable string) error {
	name := config.NormalizeExecutable(executable)
	if name == "" {
		return fmt.Errorf("invalid executable %q", executable)
	}
	var err error
	if doErr := a.do(ctx, func() {
		if a.watch.IsMonitored(name) {
			return
		}
		next := a.watch.Clone()
		next.MonitoredApps = append(next.MonitoredApps, name)
		if err = a.commit(next); err == nil {
			a.emit(event.EventTypeConfigChange, "Added to watchlist: "+name, event.SeveritySuccess, a.tracker.Current())
		}
	}); doErr != nil {
		return doErr
	}
	return err
}

func (a *App) RemoveMonitoredApp(ctx context.Context, name string) error {
	name = config.NormalizeExecutable(name)
	if name == "" {
		return fmt.Errorf("invalid app name")
	}
	var err error
	if doErr := a.do(ctx, func() {
		if !a.watch.IsMonitored(name) {
			return
		}
		next := a.watch.Clone()
		next.MonitoredApps = slices.DeleteFunc(next.MonitoredApps, func(s string) bool {
			return config.NormalizeExecutable(s) == name
		})
		if err = a.commit(next); err == nil {
			a.emit(event.EventTypeConfigChange, "Removed from watchlist: "+name, event.SeverityInfo, a.tracker.Current())
		}
	}); doErr != nil {
		return doErr
	}
	return err
}

// Config returns a copy of the live watch settings.
func (a *App) Config(ctx context.Context) (config.WatchConfig, error) {
	var cfg config.WatchConfig
	err := a.do(ctx, func() { cfg = a.watch.Clone() })
	return cfg, err
}

// Status snapshots the loop state for get_status.
func (a *App) Status(ctx context.Context) (ipc.StatusData, error) {
	var st ipc.StatusData
	err := a.do(ctx, func() {
		cur := a.tracker.Current()
		st = ipc.StatusData{
			State:     "idle",
			Status:    a.status,
			Sampler:   string(a.sampler.Mode()),
			Provider:  a.backend,
			Config:    a.watch.Clone(),
			RecentLog: slices.Clone(a.recentLog),
		}
		if cur.Active() {
			st.State = "active"
			st.App = cur.App
			st.Process = cur.Process
			st.SessionID = cur.ID.String()
			st.Since = cur.StartedAt.Format("2006-01-02 15:04:05")
		}
	})
	return st, err
}

// commit makes next the live settings, persists them and applies the
// effects on the session and timers. A failed save is reported and returned.
func (a *App) commit(next config.WatchConfig) error {
	prev := a.watch
	a.watch = next

	if prev.StartWithSystem != next.StartWithSystem {
		if err := a.registrar.SetEnabled(next.StartWithSystem); err != nil {
			log.Printf("Warning: failed to update startup entry: %v", err)
			a.emit(event.EventTypeLog, "Failed to update startup entry.", event.SeverityWarning, session.Session{})
		}
	}

	var saveErr error
	if err := a.settings.Save(next); err != nil {
		a.unsaved = true
		log.Printf("Settings save error: %v", err)
		a.emit(event.EventTypeConfigChange, "Failed to save settings.", event.SeverityError, a.tracker.Current())
		saveErr = fmt.Errorf("save settings: %w", err)
	} else {
		a.unsaved = false
	}

	a.reconcile(prev)
	return saveErr
}

// applyConfig takes settings edited outside the daemon.
func (a *App) applyConfig(next config.WatchConfig, msg string) {
	if sameWatch(a.watch, next) {
		return
	}
	prev := a.watch
	a.watch = next
	a.unsaved = false
	if prev.StartWithSystem != next.StartWithSystem {
		if err := a.registrar.SetEnabled(next.StartWithSystem); err != nil {
			log.Printf("Warning: failed to update startup entry: %v", err)
		}
	}
	a.reconcile(prev)
	a.emit(event.EventTypeConfigChange, msg, event.SeverityInfo, a.tracker.Current())
}

// reconcile re-evaluates the focused window against the new watch-list and
// restarts a timer slot only when its own settings changed.
func (a *App) reconcile(prev config.WatchConfig) {
	if a.lastSample != nil && a.handleSample(*a.lastSample) != session.None {
		return
	}
	if !a.tracker.Current().Active() {
		return
	}
	for _, k := range []timers.Kind{timers.Save, timers.Backup} {
		if timers.Enabled(k, prev) != timers.Enabled(k, a.watch) ||
			timers.IntervalFor(k, prev) != timers.IntervalFor(k, a.watch) {
			a.timers.StartKind(k, a.watch)
		}
	}
	if a.status.Kind != event.StatusSaved {
		a.setStatus(a.liveStatus())
	}
}

func sameWatch(x, y config.WatchConfig) bool {
	return slices.Equal(x.MonitoredApps, y.MonitoredApps) &&
		x.AutoSaveEnabled == y.AutoSaveEnabled &&
		x.AutoSaveIntervalSeconds == y.AutoSaveIntervalSeconds &&
		x.SmartBackupEnabled == y.SmartBackupEnabled &&
		x.SmartBackupIntervalMinutes == y.SmartBackupIntervalMinutes &&
		x.StartWithSystem == y.StartWithSystem
}
