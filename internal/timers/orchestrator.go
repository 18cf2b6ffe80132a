// Package timers keeps the save and backup schedules. It is not safe for
// concurrent use; the coordination loop owns it and reads the timer channels.
package timers

import (
	"log"
	"time"

	"github.com/jonboulle/clockwork"

	"autosave/internal/config"
)

type Kind string

const (
	Save   Kind = "save"
	Backup Kind = "backup"
)

// Firing identifies one expiry of a slot. Generation lets a late result be
// told apart from one that belongs to the current schedule.
type Firing struct {
	Kind       Kind
	Generation uint64
}

type slot struct {
	timer      clockwork.Timer
	interval   time.Duration
	generation uint64
	starts     int
	stops      int
}

type Orchestrator struct {
	clock  clockwork.Clock
	save   slot
	backup slot
}

func New(clock clockwork.Clock) *Orchestrator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Orchestrator{clock: clock}
}

func (o *Orchestrator) slot(k Kind) *slot {
	if k == Backup {
		return &o.backup
	}
	return &o.save
}

// Start stops both slots and arms each one whose flag is enabled.
func (o *Orchestrator) Start(cfg config.WatchConfig) {
	o.StartKind(Save, cfg)
	o.StartKind(Backup, cfg)
}

// StartKind restarts one slot from cfg: it is stopped, then armed if its
// flag is enabled.
func (o *Orchestrator) StartKind(k Kind, cfg config.WatchConfig) {
	o.StopKind(k)
	if !Enabled(k, cfg) {
		return
	}
	o.arm(k, IntervalFor(k, cfg))
	o.slot(k).starts++
}

func (o *Orchestrator) Stop() {
	o.StopKind(Save)
	o.StopKind(Backup)
}

// StopKind cancels one slot. Stopping an idle slot only bumps its generation.
func (o *Orchestrator) StopKind(k Kind) {
	s := o.slot(k)
	s.generation++
	if s.timer == nil {
		return
	}
	if !s.timer.Stop() {
		select {
		case <-s.timer.Chan():
		default:
		}
	}
	s.timer = nil
	s.stops++
	log.Printf("Timers: stopped %s timer", k)
}

// C returns the slot's expiry channel, or nil when the slot is idle so a
// select on it blocks forever.
func (o *Orchestrator) C(k Kind) <-chan time.Time {
	s := o.slot(k)
	if s.timer == nil {
		return nil
	}
	return s.timer.Chan()
}

// Fired is called after C(k) delivered. The slot becomes idle until the
// firing is rescheduled.
func (o *Orchestrator) Fired(k Kind) Firing {
	s := o.slot(k)
	s.timer = nil
	return Firing{Kind: k, Generation: s.generation}
}

// Reschedule re-arms the slot of f with the current interval if f still
// belongs to the live schedule, the session is active and the flag is on.
func (o *Orchestrator) Reschedule(f Firing, active bool, cfg config.WatchConfig) bool {
	s := o.slot(f.Kind)
	if f.Generation != s.generation || s.timer != nil || !active {
		return false
	}
	if !Enabled(f.Kind, cfg) {
		return false
	}
	o.arm(f.Kind, IntervalFor(f.Kind, cfg))
	return true
}

func (o *Orchestrator) arm(k Kind, d time.Duration) {
	s := o.slot(k)
	s.generation++
	s.interval = d
	s.timer = o.clock.NewTimer(d)
	log.Printf("Timers: %s timer armed for %s", k, d)
}

func (o *Orchestrator) Live(k Kind) bool { return o.slot(k).timer != nil }
func (o *Orchestrator) Interval(k Kind) time.Duration { return o.slot(k).interval }
func (o *Orchestrator) Starts(k Kind) int { return o.slot(k).starts }
func (o *Orchestrator) Stops(k Kind) int { return o.slot(k).stops }

func Enabled(k Kind, cfg config.WatchConfig) bool {
	if k == Backup {
		return cfg.SmartBackupEnabled
	}
	return cfg.AutoSaveEnabled
}

// IntervalFor returns the slot interval, clamped to the configured bounds.
func IntervalFor(k Kind, cfg config.WatchConfig) time.Duration {
	if k == Backup {
		return backupInterval(cfg)
	}
	return saveInterval(cfg)
}

func saveInterval(cfg config.WatchConfig) time.Duration {
	secs := clamp(cfg.AutoSaveIntervalSeconds, config.MinAutoSaveInterval, config.MaxAutoSaveInterval)
	return time.Duration(secs) * time.Second
}

func backupInterval(cfg config.WatchConfig) time.Duration {
	mins := clamp(cfg.SmartBackupIntervalMinutes, config.MinSmartBackupInterval, config.MaxSmartBackupInterval)
	return time.Duration(mins) * time.Minute
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
