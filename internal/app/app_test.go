package app

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autosave/internal/collector"
	"autosave/internal/config"
	"autosave/internal/event"
	"autosave/internal/ipc"
	"autosave/internal/timers"

	sqlitestore "autosave/internal/storage/sqlite"
)

var epoch = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

type fakeProvider struct {
	mu         sync.Mutex
	sample     event.Sample
	ok         bool
	subscribed bool
	released   bool
	closed     bool
}

func (p *fakeProvider) set(process, title string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sample = event.Sample{ProcessName: process, WindowTitle: title}
	p.ok = process != ""
}

func (p *fakeProvider) Current() (event.Sample, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sample, p.ok, nil
}

func (p *fakeProvider) Subscribe(ctx context.Context, _ func()) error {
	p.mu.Lock()
	p.subscribed = true
	p.mu.Unlock()
	go func() {
		<-ctx.Done()
		p.mu.Lock()
		p.released = true
		p.mu.Unlock()
	}()
	return nil
}

func (p *fakeProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakeProvider) state() (released, closed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.released, p.closed
}

type fakeKeys struct {
	mu    sync.Mutex
	calls []string
	fail  bool
}

func (k *fakeKeys) record(call string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.calls = append(k.calls, call)
	if k.fail {
		return errors.New("input rejected")
	}
	return nil
}

func (k *fakeKeys) PressSaveCombo() error      { return k.record("save") }
func (k *fakeKeys) PressSaveAsCombo() error    { return k.record("save_as") }
func (k *fakeKeys) TypeText(text string) error { return k.record("type:" + text) }
func (k *fakeKeys) PressEnter() error          { return k.record("enter") }

func (k *fakeKeys) Calls() []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]string(nil), k.calls...)
}

func (k *fakeKeys) count(call string) int {
	n := 0
	for _, c := range k.Calls() {
		if c == call {
			n++
		}
	}
	return n
}

type fakeSettings struct {
	mu      sync.Mutex
	cfg     config.WatchConfig
	saves   int
	saveErr error
}

func (s *fakeSettings) Load() (config.WatchConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Clone(), nil
}

func (s *fakeSettings) Save(cfg config.WatchConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves++
	s.cfg = cfg.Clone()
	return nil
}

func (s *fakeSettings) Watch(ctx context.Context, _ func(config.WatchConfig)) error {
	<-ctx.Done()
	return nil
}

func (s *fakeSettings) stored() config.WatchConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Clone()
}

type fakeRegistrar struct {
	mu    sync.Mutex
	calls []bool
}

func (r *fakeRegistrar) SetEnabled(enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, enabled)
	return nil
}

type logLine struct {
	msg string
	sev event.Severity
}

type recorder struct {
	mu       sync.Mutex
	logs     []logLine
	statuses []event.Status
}

func (r *recorder) OnLogEvent(msg string, sev event.Severity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, logLine{msg, sev})
}

func (r *recorder) OnStatusChange(st event.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, st)
}

func (r *recorder) logged(msg string, sev event.Severity) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.logs {
		if l.msg == msg && l.sev == sev {
			return true
		}
	}
	return false
}

type harness struct {
	app      *App
	clock    *clockwork.FakeClock
	provider *fakeProvider
	keys     *fakeKeys
	settings *fakeSettings
	reg      *fakeRegistrar
	fs       afero.Fs
	obs      *recorder
	dbPath   string
}

func newHarness(t *testing.T, watch config.WatchConfig) *harness {
	t.Helper()
	h := &harness{
		clock:    clockwork.NewFakeClockAt(epoch),
		provider: &fakeProvider{},
		keys:     &fakeKeys{},
		settings: &fakeSettings{cfg: watch},
		reg:      &fakeRegistrar{},
		fs:       afero.NewMemMapFs(),
		obs:      &recorder{},
		dbPath:   filepath.Join(t.TempDir(), "journal.db"),
	}
	cfg := &config.Config{
		DatabasePath:   h.dbPath,
		SocketPath:     filepath.Join(t.TempDir(), "a.sock"),
		Provider:       "none",
		PollIntervalMs: 2000,
		DebounceMs:     100,
		DialogDelayMs:  1000,
		StatusRevertMs: 2000,
	}
	a, err := NewApp(cfg, Deps{
		Backend:   "fake",
		Provider:  h.provider,
		Keys:      h.keys,
		Settings:  h.settings,
		Registrar: h.reg,
		Clock:     h.clock,
		Fs:        h.fs,
		Observers: []Observer{h.obs},
	})
	require.NoError(t, err)
	h.app = a
	a.Start()
	t.Cleanup(func() { _ = a.Stop() })

	require.Eventually(t, func() bool { return a.sampler.Mode() == collector.ModeEvent },
		time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return h.obs.logged("AutoSave started.", event.SeverityStartup) },
		time.Second, 5*time.Millisecond)
	return h
}

func testWatch() config.WatchConfig {
	cfg := config.DefaultWatchConfig()
	cfg.MonitoredApps = []string{"photoshop.exe", "figma.exe"}
	return cfg
}

// focus changes the foreground window and hands the sample to the loop.
func (h *harness) focus(t *testing.T, process, title string) {
	t.Helper()
	h.provider.set(process, title)
	u := collector.Update{Sample: event.Sample{ProcessName: process, WindowTitle: title}, OK: process != ""}
	select {
	case h.app.samples <- u:
	case <-time.After(time.Second):
		t.Fatal("sample not accepted")
	}
	require.Eventually(t, func() bool {
		var seen bool
		h.onLoop(t, func() { seen = h.app.lastSample != nil && *h.app.lastSample == u })
		return seen
	}, time.Second, 5*time.Millisecond)
}

func (h *harness) status(t *testing.T) ipc.StatusData {
	t.Helper()
	st, err := h.app.Status(context.Background())
	require.NoError(t, err)
	return st
}

func (h *harness) waitFor(t *testing.T, cond func(ipc.StatusData) bool) {
	t.Helper()
	require.Eventually(t, func() bool { return cond(h.status(t)) }, time.Second, 5*time.Millisecond)
}

// onLoop runs fn on the coordination loop.
func (h *harness) onLoop(t *testing.T, fn func()) {
	t.Helper()
	require.NoError(t, h.app.do(context.Background(), fn))
}

func TestSessionSaveAndStop(t *testing.T) {
	h := newHarness(t, testWatch())

	h.focus(t, "photoshop.exe", "report.psd - Photoshop")
	h.waitFor(t, func(st ipc.StatusData) bool { return st.State == "active" })

	st := h.status(t)
	assert.Equal(t, "Photoshop", st.App)
	assert.Equal(t, event.StatusActive, st.Status.Kind)
	assert.True(t, h.obs.logged("Active application: Photoshop", event.SeverityActive))

	h.clock.Advance(3 * time.Second)
	require.Eventually(t, func() bool { return h.keys.count("save") == 1 }, time.Second, 5*time.Millisecond)
	h.waitFor(t, func(st ipc.StatusData) bool { return st.Status.Label == "Saved!" })
	assert.True(t, h.obs.logged("Auto-saved in Photoshop", event.SeveritySave))

	// Saved! falls back to the live status.
	h.clock.Advance(2 * time.Second)
	h.waitFor(t, func(st ipc.StatusData) bool { return st.Status.Kind == event.StatusActive })

	h.focus(t, "", "")
	h.waitFor(t, func(st ipc.StatusData) bool { return st.State == "idle" })
	assert.Equal(t, event.StatusWaiting, h.status(t).Status.Kind)
	assert.True(t, h.obs.logged("Stopped monitoring Photoshop", event.SeverityInfo))

	h.onLoop(t, func() {
		assert.False(t, h.app.timers.Live(timers.Save))
		assert.False(t, h.app.timers.Live(timers.Backup))
	})

	require.NoError(t, h.app.Stop())

	store := sqlitestore.NewSQLiteStore(h.dbPath)
	require.NoError(t, store.Init(context.Background()))
	defer store.Close()
	events, err := store.GetEvents(context.Background(), epoch.Add(-time.Hour), epoch.Add(time.Hour))
	require.NoError(t, err)
	var types []event.EventType
	for _, e := range events {
		types = append(types, e.Type)
	}
	assert.Equal(t, []event.EventType{
		event.EventTypeAppStart, event.EventTypeSessionStart, event.EventTypeSave,
		event.EventTypeSessionStop, event.EventTypeAppStop,
	}, types)
	assert.NotEmpty(t, events[1].SessionID)
	assert.Equal(t, events[1].SessionID, events[2].SessionID)
}

func TestSwitchBetweenWatchedApps(t *testing.T) {
	h := newHarness(t, testWatch())

	h.focus(t, "photoshop.exe", "a.psd - Photoshop")
	h.waitFor(t, func(st ipc.StatusData) bool { return st.App == "Photoshop" })
	first := h.status(t).SessionID

	h.focus(t, "figma.exe", "Figma")
	h.waitFor(t, func(st ipc.StatusData) bool { return st.App == "Figma" })
	assert.NotEqual(t, first, h.status(t).SessionID)
	assert.True(t, h.obs.logged("Stopped monitoring Photoshop", event.SeverityInfo))

	h.onLoop(t, func() {
		assert.Equal(t, 2, h.app.timers.Starts(timers.Save))
		assert.True(t, h.app.timers.Live(timers.Save))
	})
}

func TestDisablingAutoSaveKeepsBackupRunning(t *testing.T) {
	watch := testWatch()
	watch.SmartBackupEnabled = true
	watch.SmartBackupIntervalMinutes = 5
	h := newHarness(t, watch)

	h.focus(t, "photoshop.exe", "a.psd - Photoshop")
	h.waitFor(t, func(st ipc.StatusData) bool { return st.State == "active" })

	off := false
	require.NoError(t, h.app.UpdateConfig(context.Background(), config.ConfigPatch{AutoSaveEnabled: &off}))

	h.onLoop(t, func() {
		assert.False(t, h.app.timers.Live(timers.Save))
		assert.True(t, h.app.timers.Live(timers.Backup))
		assert.Equal(t, 1, h.app.timers.Starts(timers.Backup))
	})
	st := h.status(t)
	assert.Equal(t, event.StatusPaused, st.Status.Kind)
	assert.Equal(t, "Paused", st.Status.Label)
	assert.False(t, h.settings.stored().AutoSaveEnabled)
	assert.True(t, h.obs.logged("Settings updated.", event.SeveritySuccess))

	h.clock.Advance(10 * time.Second)
	assert.Never(t, func() bool { return h.keys.count("save") > 0 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestRepeatedUpdatesLeaveOneTimer(t *testing.T) {
	h := newHarness(t, testWatch())

	h.focus(t, "photoshop.exe", "a.psd - Photoshop")
	h.waitFor(t, func(st ipc.StatusData) bool { return st.State == "active" })

	for i := 4; i <= 8; i++ {
		n := i
		require.NoError(t, h.app.UpdateConfig(context.Background(), config.ConfigPatch{AutoSaveIntervalSeconds: &n}))
	}
	h.onLoop(t, func() {
		assert.Equal(t, 6, h.app.timers.Starts(timers.Save))
		assert.Equal(t, 8*time.Second, h.app.timers.Interval(timers.Save))
	})

	h.clock.Advance(8 * time.Second)
	require.Eventually(t, func() bool { return h.keys.count("save") == 1 }, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return h.keys.count("save") > 1 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestUpdateConfigRejectsOutOfRange(t *testing.T) {
	h := newHarness(t, testWatch())

	for _, v := range []int{0, 61} {
		n := v
		err := h.app.UpdateConfig(context.Background(), config.ConfigPatch{AutoSaveIntervalSeconds: &n})
		assert.ErrorIs(t, err, config.ErrIntervalOutOfRange)
	}

	cfg, err := h.app.Config(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.AutoSaveIntervalSeconds)
	assert.Equal(t, 0, h.settings.saves)
}

func TestPersistFailureKeepsUpdateApplied(t *testing.T) {
	h := newHarness(t, testWatch())
	h.settings.mu.Lock()
	h.settings.saveErr = errors.New("disk full")
	h.settings.mu.Unlock()

	n := 10
	err := h.app.UpdateConfig(context.Background(), config.ConfigPatch{AutoSaveIntervalSeconds: &n})
	require.Error(t, err)

	cfg, err := h.app.Config(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.AutoSaveIntervalSeconds)
	assert.True(t, h.obs.logged("Failed to save settings.", event.SeverityError))

	// The unsaved value survives a session start.
	h.focus(t, "photoshop.exe", "a.psd - Photoshop")
	h.waitFor(t, func(st ipc.StatusData) bool { return st.State == "active" })
	assert.Equal(t, 10, h.status(t).Config.AutoSaveIntervalSeconds)
}

func TestStartWithSystemRegisters(t *testing.T) {
	h := newHarness(t, testWatch())

	on := true
	require.NoError(t, h.app.UpdateConfig(context.Background(), config.ConfigPatch{StartWithSystem: &on}))
	require.NoError(t, h.app.UpdateConfig(context.Background(), config.ConfigPatch{StartWithSystem: &on}))

	h.reg.mu.Lock()
	defer h.reg.mu.Unlock()
	assert.Equal(t, []bool{true}, h.reg.calls)
}

func TestAddAndRemoveMonitoredApp(t *testing.T) {
	h := newHarness(t, testWatch())

	h.focus(t, "blender", "scene.blend - Blender")
	h.waitFor(t, func(st ipc.StatusData) bool { return st.Status.Kind == event.StatusWaiting })

	require.NoError(t, h.app.AddMonitoredApp(context.Background(), "/usr/bin/Blender"))
	h.waitFor(t, func(st ipc.StatusData) bool { return st.State == "active" })
	assert.Equal(t, "Blender", h.status(t).App)
	assert.Contains(t, h.settings.stored().MonitoredApps, "blender")
	assert.True(t, h.obs.logged("Added to watchlist: blender", event.SeveritySuccess))

	// Idempotent.
	require.NoError(t, h.app.AddMonitoredApp(context.Background(), "blender"))
	assert.Equal(t, 1, h.settings.saves)

	require.NoError(t, h.app.RemoveMonitoredApp(context.Background(), "Blender"))
	h.waitFor(t, func(st ipc.StatusData) bool { return st.State == "idle" })
	assert.NotContains(t, h.settings.stored().MonitoredApps, "blender")

	assert.Error(t, h.app.AddMonitoredApp(context.Background(), "  "))
}

func TestExternalSettingsEditIsApplied(t *testing.T) {
	h := newHarness(t, testWatch())

	h.focus(t, "photoshop.exe", "a.psd - Photoshop")
	h.waitFor(t, func(st ipc.StatusData) bool { return st.State == "active" })

	edited := testWatch()
	edited.MonitoredApps = []string{"figma.exe"}
	h.app.configChanged <- edited

	h.waitFor(t, func(st ipc.StatusData) bool { return st.State == "idle" })
	assert.True(t, h.obs.logged("Settings reloaded from disk.", event.SeverityInfo))
}

func TestSmartBackup(t *testing.T) {
	watch := testWatch()
	watch.AutoSaveEnabled = false
	watch.SmartBackupEnabled = true
	watch.SmartBackupIntervalMinutes = 1
	h := newHarness(t, watch)
	require.NoError(t, afero.WriteFile(h.fs, "/work/report.psd", []byte("psd"), 0o644))

	h.focus(t, "photoshop.exe", "/work/report*.psd @ 50% - Photoshop")
	h.waitFor(t, func(st ipc.StatusData) bool { return st.State == "active" })

	h.clock.Advance(time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	// The executor waits for the save-as dialog.
	require.NoError(t, h.clock.BlockUntilContext(ctx, 1))
	h.clock.Advance(time.Second)

	h.waitFor(t, func(st ipc.StatusData) bool { return st.Status.Label == "Backup!" })
	dest := filepath.Join("/work", "Smart Backup", "report-20240102-030505.psd")
	assert.Equal(t, []string{"save_as", "type:" + dest, "enter"}, h.keys.Calls())
	assert.True(t, h.obs.logged("Smart Backup created: report-20240102-030505.psd", event.SeveritySuccess))

	exists, err := afero.DirExists(h.fs, "/work/Smart Backup")
	require.NoError(t, err)
	assert.True(t, exists)

	h.onLoop(t, func() { assert.True(t, h.app.timers.Live(timers.Backup)) })
}

func TestBackupWithoutSourceWarns(t *testing.T) {
	watch := testWatch()
	watch.AutoSaveEnabled = false
	watch.SmartBackupEnabled = true
	watch.SmartBackupIntervalMinutes = 1
	h := newHarness(t, watch)

	h.focus(t, "photoshop.exe", "Untitled-1* @ 50% - Photoshop")
	h.waitFor(t, func(st ipc.StatusData) bool { return st.State == "active" })

	h.clock.Advance(time.Minute)
	require.Eventually(t, func() bool {
		return h.obs.logged("Backup failed: Cannot determine file path.", event.SeverityWarning)
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, h.keys.Calls())
}

func TestSaveFailureKeepsRecurrence(t *testing.T) {
	h := newHarness(t, testWatch())
	h.keys.mu.Lock()
	h.keys.fail = true
	h.keys.mu.Unlock()

	h.focus(t, "photoshop.exe", "a.psd - Photoshop")
	h.waitFor(t, func(st ipc.StatusData) bool { return st.State == "active" })

	h.clock.Advance(3 * time.Second)
	require.Eventually(t, func() bool {
		return h.obs.logged("Auto-Save command failed.", event.SeverityError)
	}, time.Second, 5*time.Millisecond)
	h.waitFor(t, func(st ipc.StatusData) bool { return st.Status.Kind == event.StatusActive })
	h.onLoop(t, func() { assert.True(t, h.app.timers.Live(timers.Save)) })
}

func TestStopReleasesProviderAndTimers(t *testing.T) {
	h := newHarness(t, testWatch())

	h.focus(t, "photoshop.exe", "a.psd - Photoshop")
	h.waitFor(t, func(st ipc.StatusData) bool { return st.State == "active" })

	require.NoError(t, h.app.Stop())
	_, closed := h.provider.state()
	assert.True(t, closed)
	require.Eventually(t, func() bool { released, _ := h.provider.state(); return released },
		time.Second, 5*time.Millisecond)

	h.clock.Advance(time.Hour)
	assert.Never(t, func() bool { return len(h.keys.Calls()) > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	_, err := h.app.Status(context.Background())
	assert.ErrorIs(t, err, ErrStopped)
}

func TestRecentLogIsBounded(t *testing.T) {
	h := newHarness(t, testWatch())

	h.onLoop(t, func() {
		for i := 0; i < recentLogSize+20; i++ {
			h.app.emit(event.EventTypeLog, "line", event.SeverityInfo, h.app.tracker.Current())
		}
	})
	assert.Len(t, h.status(t).RecentLog, recentLogSize)
}

func TestProcessCommand(t *testing.T) {
	h := newHarness(t, testWatch())

	resp := h.app.processCommand(ipc.Command{Name: ipc.CmdPing})
	assert.True(t, resp.Success)
	assert.Equal(t, "pong", resp.Message)

	resp = h.app.processCommand(ipc.Command{
		Name: ipc.CmdUpdateConfig,
		Args: map[string]interface{}{"auto_save_interval": "10", "smart_backup_enabled": "true"},
	})
	require.True(t, resp.Success, resp.Message)
	cfg, err := h.app.Config(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.AutoSaveIntervalSeconds)
	assert.True(t, cfg.SmartBackupEnabled)

	resp = h.app.processCommand(ipc.Command{Name: ipc.CmdUpdateConfig, Args: map[string]interface{}{"bogus": 1}})
	assert.False(t, resp.Success)

	resp = h.app.processCommand(ipc.Command{Name: ipc.CmdAddApp, Args: map[string]interface{}{"name": ""}})
	assert.False(t, resp.Success)

	resp = h.app.processCommand(ipc.Command{Name: ipc.CmdAddApp, Args: map[string]interface{}{"name": `C:\Apps\Krita.exe`}})
	require.True(t, resp.Success, resp.Message)
	assert.Contains(t, h.settings.stored().MonitoredApps, "krita.exe")

	resp = h.app.processCommand(ipc.Command{Name: ipc.CmdGetStatus})
	require.True(t, resp.Success)
	st, ok := resp.Data.(ipc.StatusData)
	require.True(t, ok)
	assert.Equal(t, "fake", st.Provider)
	assert.Equal(t, "idle", st.State)

	resp = h.app.processCommand(ipc.Command{Name: "explode"})
	assert.False(t, resp.Success)
}

func TestSocketRoundTrip(t *testing.T) {
	h := newHarness(t, testWatch())

	require.NoError(t, h.app.setupSocket())
	h.app.wg.Go(h.app.listenForCommands)
	t.Cleanup(func() { h.app.listener.Close() })

	conn, err := net.Dial("unix", h.app.socketPath)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, json.NewEncoder(conn).Encode(ipc.Command{Name: ipc.CmdPing}))
	var resp ipc.Response
	require.NoError(t, json.NewDecoder(conn).Decode(&resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "pong", resp.Message)

	// A second instance must not take over the socket.
	assert.Error(t, h.app.setupSocket())
}
