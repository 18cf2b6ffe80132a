package event

import "time"

type EventType string

const (
	EventTypeAppStart     EventType = "app_start"
	EventTypeAppStop      EventType = "app_stop"
	EventTypeSessionStart EventType = "session_start"
	EventTypeSessionStop  EventType = "session_stop"
	EventTypeSave         EventType = "save"
	EventTypeSaveFailed   EventType = "save_failed"
	EventTypeBackup       EventType = "backup"
	EventTypeBackupFailed EventType = "backup_failed"
	EventTypeConfigChange EventType = "config_change"
	EventTypeLog          EventType = "log" // Anything not covered above
)

// Event structure to store in DB
type Event struct {
	ID          int64     `db:"id"`
	Timestamp   time.Time `db:"timestamp"`
	Type        EventType `db:"type"`
	SessionID   string    `db:"session_id"` // Empty outside of a monitored session
	AppName     string    `db:"app_name"`
	WindowTitle string    `db:"window_title"`
	Severity    Severity  `db:"severity"`
	Message     string    `db:"message"`
}

// Sample is one observation of the foreground window.
type Sample struct {
	ProcessName string // lowercase, e.g. "photoshop.exe"
	WindowTitle string
}

// Severity of a log event, mirrors what the UI shows next to each line.
type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
	SeverityInfo    Severity = "info"
	SeverityStartup Severity = "startup"
	SeverityActive  Severity = "active"
	SeveritySave    Severity = "save"
)

type StatusKind string

const (
	StatusInitializing StatusKind = "INITIALIZING"
	StatusWaiting      StatusKind = "WAITING"
	StatusActive       StatusKind = "ACTIVE"
	StatusPaused       StatusKind = "PAUSED"
	StatusSaved        StatusKind = "SAVED"
)

// Status is what the presentation layer shows as the current state line.
type Status struct {
	Label   string     `json:"label"`
	Kind    StatusKind `json:"kind"`
	AppName string     `json:"app_name,omitempty"`
}

// LogEntry is a single observer log line kept in memory for status queries.
type LogEntry struct {
	Timestamp time.Time `json:"ts"`
	Message   string    `json:"message"`
	Severity  Severity  `json:"severity"`
}
