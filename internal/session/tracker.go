// Package session decides, sample by sample, whether a monitored application
// holds focus. It has no side effects; callers apply the returned Transition.
package session

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"autosave/internal/config"
	"autosave/internal/event"
)

// Session is one continuous period of focus on a monitored app. The zero
// value means Idle.
type Session struct {
	App       string // display name, e.g. "Photoshop"
	Process   string // process name as sampled, e.g. "photoshop.exe"
	ID        uuid.UUID
	StartedAt time.Time
}

func (s Session) Active() bool { return s.Process != "" }

type TransitionKind int

const (
	None TransitionKind = iota
	Started
	Switched
	Stopped
)

func (k TransitionKind) String() string {
	switch k {
	case Started:
		return "started"
	case Switched:
		return "switched"
	case Stopped:
		return "stopped"
	default:
		return "none"
	}
}

// Transition describes what a sample changed. Previous is set for Switched
// and Stopped, Current for Started and Switched.
type Transition struct {
	Kind     TransitionKind
	Previous Session
	Current  Session
}

type Tracker struct {
	clock   clockwork.Clock
	current Session
}

func NewTracker(clock clockwork.Clock) *Tracker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Tracker{clock: clock}
}

func (t *Tracker) Current() Session { return t.current }

// Observe feeds one sample. ok == false is a "none" sample and counts as
// not monitored.
func (t *Tracker) Observe(sample event.Sample, ok bool, cfg config.WatchConfig) Transition {
	name := ""
	if ok {
		name = strings.ToLower(strings.TrimSpace(sample.ProcessName))
	}

	if !cfg.IsMonitored(name) {
		if !t.current.Active() {
			return Transition{Kind: None}
		}
		prev := t.current
		t.current = Session{}
		return Transition{Kind: Stopped, Previous: prev}
	}

	if t.current.Process == name {
		return Transition{Kind: None, Current: t.current}
	}

	next := Session{
		App:       DisplayName(name),
		Process:   name,
		ID:        uuid.New(),
		StartedAt: t.clock.Now(),
	}
	prev := t.current
	t.current = next
	if prev.Active() {
		return Transition{Kind: Switched, Previous: prev, Current: next}
	}
	return Transition{Kind: Started, Current: next}
}

// Stop ends the current session, if any. Used on shutdown.
func (t *Tracker) Stop() Transition {
	if !t.current.Active() {
		return Transition{Kind: None}
	}
	prev := t.current
	t.current = Session{}
	return Transition{Kind: Stopped, Previous: prev}
}

// DisplayName strips a trailing ".exe" and title-cases the rest:
// "photoshop.exe" becomes "Photoshop".
func DisplayName(process string) string {
	name := strings.TrimSpace(process)
	if strings.HasSuffix(strings.ToLower(name), ".exe") {
		name = name[:len(name)-len(".exe")]
	}
	if name == "" {
		return ""
	}
	// Casers keep state, so one per call.
	return cases.Title(language.Und).String(name)
}
