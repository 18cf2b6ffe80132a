package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sourcegraph/conc"
	"github.com/spf13/afero"
	"go.uber.org/multierr"

	"autosave/internal/actions"
	"autosave/internal/collector"
	"autosave/internal/config"
	"autosave/internal/event"
	"autosave/internal/platform"
	"autosave/internal/session"
	"autosave/internal/startup"
	"autosave/internal/storage"
	"autosave/internal/timers"

	sqlitestore "autosave/internal/storage/sqlite"
)

const recentLogSize = 100

var ErrStopped = errors.New("app is shutting down")

// Observer receives what a UI would show: log lines and the status line.
// Calls come from the coordination loop and must not block.
type Observer interface {
	OnLogEvent(message string, severity event.Severity)
	OnStatusChange(status event.Status)
}

// SettingsStore persists the user watch settings.
type SettingsStore interface {
	Load() (config.WatchConfig, error)
	Save(config.WatchConfig) error
	Watch(ctx context.Context, onChange func(config.WatchConfig)) error
}

// Deps are the collaborators of App. Nil fields get the production default.
type Deps struct {
	Backend   string
	Provider  collector.Provider
	Keys      actions.KeySynthesizer
	Settings  SettingsStore
	Storage   storage.Storage
	Registrar startup.Registrar
	Clock     clockwork.Clock
	Fs        afero.Fs
	Observers []Observer
}

type App struct {
	cfg       *config.Config
	storage   storage.Storage
	settings  SettingsStore
	registrar startup.Registrar
	provider  collector.Provider
	backend   string
	clock     clockwork.Clock
	observers []Observer

	sampler  *collector.Sampler
	executor *actions.Executor

	// Owned by mainLoop.
	tracker    *session.Tracker
	timers     *timers.Orchestrator
	watch      config.WatchConfig
	unsaved    bool // in-memory watch settings failed to persist
	status     event.Status
	revert     clockwork.Timer
	lastSample *collector.Update
	recentLog  []event.LogEntry
	final      session.Session

	// --- Socket Handling ---
	socketPath string
	listener   *net.UnixListener

	// Communication channels
	samples       chan collector.Update
	commands      chan command
	jobs          chan actionJob
	results       chan actionResult
	configChanged chan config.WatchConfig
	eventChan     chan event.Event

	wg       conc.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	started  bool
	stopOnce sync.Once
	stopErr  error
}

// command is a closure run on the coordination loop.
type command struct {
	run  func()
	done chan struct{}
}

type actionJob struct {
	firing  timers.Firing
	session session.Session
}

type actionResult struct {
	job    actionJob
	title  string
	backup actions.BackupResult
	err    error
}

func NewApp(cfg *config.Config, deps Deps) (*App, error) {
	ctx, cancel := context.WithCancel(context.Background())

	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Fs == nil {
		deps.Fs = afero.NewOsFs()
	}

	a := &App{
		cfg:           cfg,
		clock:         deps.Clock,
		observers:     deps.Observers,
		tracker:       session.NewTracker(deps.Clock),
		timers:        timers.New(deps.Clock),
		status:        event.Status{Label: "Initializing", Kind: event.StatusInitializing},
		socketPath:    cfg.SocketPath,
		samples:       make(chan collector.Update, 16),
		commands:      make(chan command),
		jobs:          make(chan actionJob, 4),
		results:       make(chan actionResult, 4),
		configChanged: make(chan config.WatchConfig, 1),
		eventChan:     make(chan event.Event, 100),
		ctx:           ctx,
		cancel:        cancel,
	}

	// Initialize Storage
	a.storage = deps.Storage
	if a.storage == nil {
		a.storage = sqlitestore.NewSQLiteStore(cfg.DatabasePath)
	}
	if err := a.storage.Init(ctx); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	a.settings = deps.Settings
	if a.settings == nil {
		a.settings = config.NewStore(cfg.SettingsPath, deps.Fs)
	}
	watch, err := a.settings.Load()
	if err != nil {
		log.Printf("Warning: failed to load settings, using defaults: %v", err)
		watch = config.DefaultWatchConfig()
	}
	a.watch = watch

	a.registrar = deps.Registrar
	if a.registrar == nil {
		if runtime.GOOS == "windows" {
			a.registrar = startup.NopRegistrar{}
		} else {
			a.registrar = startup.NewXDGRegistrar(deps.Fs)
		}
	}

	a.provider, a.backend = deps.Provider, deps.Backend
	keys := deps.Keys
	if a.provider == nil {
		b, err := platform.Open(cfg.Provider)
		if err != nil {
			a.storage.Close()
			cancel()
			return nil, fmt.Errorf("failed to open %s provider: %w", cfg.Provider, err)
		}
		a.provider, a.backend = b.Provider, b.Name
		if keys == nil {
			keys = b.Keys
		}
	}
	if keys == nil {
		keys = actions.NopKeyboard{}
	}

	a.sampler = collector.NewSampler(a.provider,
		collector.WithClock(deps.Clock),
		collector.WithPollInterval(cfg.PollInterval()),
		collector.WithDebounce(cfg.DebounceDelay()),
		collector.WithFallbackHandler(a.onSamplerFallback),
	)
	a.executor = actions.NewExecutor(keys,
		actions.WithFs(deps.Fs),
		actions.WithClock(deps.Clock),
		actions.WithDialogDelay(cfg.DialogDelay()),
	)

	return a, nil
}

// Start launches the engine goroutines. It does not open the control socket.
func (a *App) Start() {
	if a.started {
		return
	}
	a.started = true

	a.wg.Go(a.processEvents)
	a.wg.Go(a.mainLoop)
	a.wg.Go(a.actionWorker)
	a.wg.Go(func() {
		if err := a.sampler.Run(a.ctx, a.samples); err != nil {
			log.Printf("Window sampler error: %v", err)
		}
		log.Println("Window sampler stopped.")
	})
	a.wg.Go(func() {
		err := a.settings.Watch(a.ctx, func(cfg config.WatchConfig) {
			select {
			case a.configChanged <- cfg:
			case <-a.ctx.Done():
			}
		})
		if err != nil {
			log.Printf("Warning: settings file watch disabled: %v", err)
		}
	})

	a.post(func() {
		a.emit(event.EventTypeAppStart, "AutoSave started.", event.SeverityStartup, session.Session{})
	})
}

// Stop shuts the engine down and releases every resource. Later calls
// return the first result.
func (a *App) Stop() error {
	a.stopOnce.Do(func() {
		a.cancel()
		if a.started {
			a.wg.Wait()
		}
		a.stopErr = a.cleanup()
	})
	return a.stopErr
}

func (a *App) Run() error {
	log.Println("Starting AutoSave (Daemon Mode)...")
	log.Printf("Config: %+v", a.cfg)
	log.Printf("Foreground provider: %s", a.backend)

	if err := a.setupSocket(); err != nil {
		a.cancel()
		return multierr.Append(fmt.Errorf("failed to set up socket: %w", err), a.cleanup())
	}

	a.handleSignals()
	a.Start()
	a.wg.Go(a.listenForCommands)

	log.Println("AutoSave daemon running. Send commands via autosave-cli or socket.")
	<-a.ctx.Done()

	log.Println("Shutdown signal received, waiting for components...")

	// Close the listener *before* waiting for goroutines to allow accept() to return
	if a.listener != nil {
		log.Println("Closing command socket listener...")
		if err := a.listener.Close(); err != nil {
			log.Printf("Error closing socket listener: %v", err)
		}
	}

	waitChan := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(waitChan)
	}()

	select {
	case <-waitChan:
		log.Println("All application goroutines finished.")
	case <-time.After(5 * time.Second):
		log.Println("Warning: Timeout waiting for application goroutines to stop.")
	}

	a.stopOnce.Do(func() { a.stopErr = a.cleanup() })
	log.Println("AutoSave finished.")
	return a.stopErr
}

// mainLoop owns the tracker, the timers and the status line.
func (a *App) mainLoop() {
	defer log.Println("Main application loop stopped.")
	defer a.stopLoop()

	a.setStatus(a.liveStatus())

	for {
		var revertC <-chan time.Time
		if a.revert != nil {
			revertC = a.revert.Chan()
		}

		select {
		case <-a.ctx.Done():
			return

		case u := <-a.samples:
			a.lastSample = &u
			a.handleSample(u)

		case cmd := <-a.commands:
			cmd.run()
			close(cmd.done)

		case <-a.timers.C(timers.Save):
			a.fire(timers.Save)

		case <-a.timers.C(timers.Backup):
			a.fire(timers.Backup)

		case res := <-a.results:
			a.handleResult(res)

		case <-revertC:
			a.revert = nil
			a.setStatus(a.liveStatus())

		case cfg := <-a.configChanged:
			a.applyConfig(cfg, "Settings reloaded from disk.")
		}
	}
}

func (a *App) stopLoop() {
	a.timers.Stop()
	if a.revert != nil {
		a.revert.Stop()
		a.revert = nil
	}
	a.final = a.tracker.Current()
}

func (a *App) handleSample(u collector.Update) session.TransitionKind {
	tx := a.tracker.Observe(u.Sample, u.OK, a.watch)
	switch tx.Kind {
	case session.Started:
		a.startSession(tx.Current)
	case session.Switched:
		a.emit(event.EventTypeSessionStop, "Stopped monitoring "+tx.Previous.App, event.SeverityInfo, tx.Previous)
		a.timers.Stop()
		a.startSession(tx.Current)
	case session.Stopped:
		a.emit(event.EventTypeSessionStop, "Stopped monitoring "+tx.Previous.App, event.SeverityInfo, tx.Previous)
		a.setStatus(a.liveStatus())
		a.timers.Stop()
	}
	return tx.Kind
}

func (a *App) startSession(s session.Session) {
	a.reloadSettings()
	a.emit(event.EventTypeSessionStart, "Active application: "+s.App, event.SeverityActive, s)
	a.setStatus(a.liveStatus())
	a.timers.Start(a.watch)
}

// reloadSettings refreshes the snapshot from disk at session start, unless
// the in-memory copy has changes that never made it to disk.
func (a *App) reloadSettings() {
	if a.unsaved {
		return
	}
	cfg, err := a.settings.Load()
	if err != nil {
		log.Printf("Warning: failed to reload settings: %v", err)
		return
	}
	a.watch = cfg
}

func (a *App) fire(kind timers.Kind) {
	f := a.timers.Fired(kind)
	cur := a.tracker.Current()
	if !cur.Active() {
		return
	}
	select {
	case a.jobs <- actionJob{firing: f, session: cur}:
	default:
		log.Printf("Warning: action worker busy, skipping this %s cycle", kind)
		a.timers.Reschedule(f, true, a.watch)
	}
}

// actionWorker runs keystroke sequences one at a time, off the loop.
func (a *App) actionWorker() {
	defer log.Println("Action worker stopped.")
	for {
		select {
		case <-a.ctx.Done():
			return
		case job := <-a.jobs:
			res := a.runJob(job)
			select {
			case a.results <- res:
			case <-a.ctx.Done():
				return
			}
		}
	}
}

func (a *App) runJob(job actionJob) actionResult {
	res := actionResult{job: job}
	switch job.firing.Kind {
	case timers.Save:
		res.err = a.executor.Save(a.ctx)
	case timers.Backup:
		sample, ok := a.sampler.Sample()
		if !ok || sample.ProcessName != job.session.Process {
			// Focus moved away since the timer fired; nothing to back up.
			res.err = actions.ErrNoUnsavedChanges
			return res
		}
		res.title = sample.WindowTitle
		res.backup, res.err = a.executor.Backup(a.ctx, sample.WindowTitle)
	}
	return res
}

func (a *App) handleResult(res actionResult) {
	s := res.job.session
	current := a.tracker.Current().ID == s.ID

	switch res.job.firing.Kind {
	case timers.Save:
		if res.err != nil {
			log.Printf("Auto-save error: %v", res.err)
			a.emit(event.EventTypeSaveFailed, "Auto-Save command failed.", event.SeverityError, s)
			break
		}
		a.emit(event.EventTypeSave, "Auto-saved in "+s.App, event.SeveritySave, s)
		if current {
			a.setStatus(event.Status{Label: "Saved!", Kind: event.StatusSaved, AppName: s.App})
		}

	case timers.Backup:
		switch {
		case res.err == nil:
			msg := "Smart Backup created: " + filepath.Base(res.backup.Destination)
			a.emitTitled(event.EventTypeBackup, msg, event.SeveritySuccess, s, res.title)
			if current {
				a.setStatus(event.Status{Label: "Backup!", Kind: event.StatusSaved, AppName: s.App})
			}
		case errors.Is(res.err, actions.ErrNoUnsavedChanges):
			// Nothing changed since the last save.
		case errors.Is(res.err, actions.ErrSourceNotFound):
			log.Printf("Backup skipped: %v", res.err)
			a.emitTitled(event.EventTypeBackupFailed, "Backup failed: Cannot determine file path.", event.SeverityWarning, s, res.title)
		case errors.Is(res.err, context.Canceled):
		default:
			log.Printf("Backup error: %v", res.err)
			a.emitTitled(event.EventTypeBackupFailed, "Backup failed unexpectedly.", event.SeverityError, s, res.title)
		}
	}

	a.timers.Reschedule(res.job.firing, a.tracker.Current().Active(), a.watch)
}

// liveStatus derives the status line from the current session and settings.
func (a *App) liveStatus() event.Status {
	cur := a.tracker.Current()
	switch {
	case !cur.Active():
		return event.Status{Label: "Waiting", Kind: event.StatusWaiting}
	case a.watch.AutoSaveEnabled:
		return event.Status{Label: "Active", Kind: event.StatusActive, AppName: cur.App}
	default:
		return event.Status{Label: "Paused", Kind: event.StatusPaused, AppName: cur.App}
	}
}

func (a *App) setStatus(st event.Status) {
	if a.revert != nil {
		a.revert.Stop()
		a.revert = nil
	}
	if st.Kind == event.StatusSaved {
		a.revert = a.clock.NewTimer(a.cfg.StatusRevertDelay())
	}
	if st == a.status {
		return
	}
	a.status = st
	for _, o := range a.observers {
		o.OnStatusChange(st)
	}
}

func (a *App) emit(t event.EventType, msg string, sev event.Severity, s session.Session) {
	a.emitTitled(t, msg, sev, s, "")
}

// emitTitled logs a line, tells observers and journals it.
func (a *App) emitTitled(t event.EventType, msg string, sev event.Severity, s session.Session, title string) {
	now := a.clock.Now()
	log.Printf("[%s] %s", strings.ToUpper(string(sev)), msg)

	a.recentLog = append(a.recentLog, event.LogEntry{Timestamp: now, Message: msg, Severity: sev})
	if len(a.recentLog) > recentLogSize {
		a.recentLog = a.recentLog[len(a.recentLog)-recentLogSize:]
	}
	for _, o := range a.observers {
		o.OnLogEvent(msg, sev)
	}

	e := event.Event{
		Timestamp:   now,
		Type:        t,
		AppName:     s.App,
		WindowTitle: title,
		Severity:    sev,
		Message:     msg,
	}
	if s.Active() {
		e.SessionID = s.ID.String()
	}
	select {
	case a.eventChan <- e:
	default:
		log.Printf("Warning: journal queue full, dropping %s event", t)
	}
}

func (a *App) onSamplerFallback(err error) {
	a.post(func() {
		log.Printf("Foreground subscription unavailable: %v", err)
		a.emit(event.EventTypeLog, "Focus notifications unavailable, checking every "+a.cfg.PollInterval().String()+".",
			event.SeverityInfo, session.Session{})
	})
}

// post queues fn on the loop without waiting for it to run.
func (a *App) post(fn func()) {
	a.wg.Go(func() {
		_ = a.do(a.ctx, fn)
	})
}

// do runs fn on the coordination loop and waits for it.
func (a *App) do(ctx context.Context, fn func()) error {
	cmd := command{run: fn, done: make(chan struct{})}
	select {
	case a.commands <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-a.ctx.Done():
		return ErrStopped
	}
	select {
	case <-cmd.done:
		return nil
	case <-a.ctx.Done():
		// The loop may have exited without running it.
		select {
		case <-cmd.done:
			return nil
		default:
			return ErrStopped
		}
	}
}

// processEvents writes journal events until shutdown, then drains the queue.
func (a *App) processEvents() {
	defer log.Println("Event processor stopped.")

	for {
		select {
		case <-a.ctx.Done():
			return
		case e := <-a.eventChan:
			a.saveEvent(a.ctx, e)
		}
	}
}

func (a *App) saveEvent(ctx context.Context, e event.Event) {
	if _, err := a.storage.SaveEvent(ctx, e); err != nil {
		log.Printf("Error saving event (Type: %s): %v", e.Type, err)
	}
}

func (a *App) handleSignals() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			log.Printf("Received signal: %v. Initiating shutdown...", sig)
			a.cancel()
		case <-a.ctx.Done():
		}
		signal.Stop(sigChan)
	}()
}

// cleanup flushes the journal and closes every resource. Only call it once
// all goroutines have stopped.
func (a *App) cleanup() error {
	log.Println("Running cleanup...")

	saveCtx, saveCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer saveCancel()

	// Events queued before shutdown.
	for drained := false; !drained; {
		select {
		case e := <-a.eventChan:
			a.saveEvent(saveCtx, e)
		default:
			drained = true
		}
	}

	now := a.clock.Now()
	if a.final.Active() {
		a.saveEvent(saveCtx, event.Event{
			Timestamp: now, Type: event.EventTypeSessionStop, SessionID: a.final.ID.String(),
			AppName: a.final.App, Severity: event.SeverityInfo, Message: "Stopped monitoring " + a.final.App,
		})
	}
	a.saveEvent(saveCtx, event.Event{Timestamp: now, Type: event.EventTypeAppStop, Severity: event.SeverityInfo, Message: "AutoSave stopped."})

	var err error
	if a.provider != nil {
		err = multierr.Append(err, a.provider.Close())
	}
	if a.storage != nil {
		err = multierr.Append(err, a.storage.Close())
	}

	if a.listener != nil {
		if _, statErr := os.Stat(a.socketPath); statErr == nil {
			log.Printf("Removing socket file: %s", a.socketPath)
			if rmErr := os.Remove(a.socketPath); rmErr != nil {
				err = multierr.Append(err, fmt.Errorf("remove socket file %s: %w", a.socketPath, rmErr))
			}
		}
	}

	if err != nil {
		log.Printf("Cleanup finished with errors: %v", err)
	} else {
		log.Println("Cleanup finished.")
	}
	return err
}
