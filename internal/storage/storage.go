package storage

import (
	"context"
	"time"

	"autosave/internal/event"
)

// Storage is the append-only activity journal.
type Storage interface {
	Init(ctx context.Context) error
	SaveEvent(ctx context.Context, e event.Event) (int64, error)
	GetEvents(ctx context.Context, start, end time.Time, eventTypes ...event.EventType) ([]event.Event, error)
	// CountBySession returns how many events of type t each session produced.
	CountBySession(ctx context.Context, t event.EventType, since time.Time) (map[string]int, error)
	Close() error
}
