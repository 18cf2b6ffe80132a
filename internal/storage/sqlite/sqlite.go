package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"autosave/internal/event"
	"autosave/internal/storage"
)

type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

func NewSQLiteStore(dbPath string) storage.Storage {
	return &SQLiteStore{dbPath: dbPath}
}

const createEventsTableSQL = `
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp DATETIME NOT NULL,
	type TEXT NOT NULL,
	session_id TEXT,
	app_name TEXT,
	window_title TEXT,
	severity TEXT,
	message TEXT
);
CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events (timestamp);
CREATE INDEX IF NOT EXISTS idx_events_type ON events (type);
CREATE INDEX IF NOT EXISTS idx_events_session ON events (session_id);
`

func (s *SQLiteStore) Init(ctx context.Context) error {
	dir := filepath.Dir(s.dbPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return errors.Wrapf(err, "failed to create db directory %s", dir)
	}

	log.Printf("Initializing SQLite database at: %s", s.dbPath)
	db, err := sql.Open("sqlite3", s.dbPath+"?_journal=WAL&_timeout=5000&_fk=true")
	if err != nil {
		return errors.Wrap(err, "failed to open sqlite database")
	}
	s.db = db

	// One writer connection; the daemon and the CLI history reader share the file via WAL.
	s.db.SetMaxOpenConns(1)
	s.db.SetMaxIdleConns(1)
	s.db.SetConnMaxLifetime(time.Minute * 5)

	if err := s.db.PingContext(ctx); err != nil {
		s.db.Close()
		return errors.Wrap(err, "failed to ping database")
	}

	if _, err := s.db.ExecContext(ctx, createEventsTableSQL); err != nil {
		s.db.Close()
		return errors.Wrap(err, "failed to create events table")
	}
	log.Println("Database initialized successfully.")
	return nil
}

func (s *SQLiteStore) SaveEvent(ctx context.Context, e event.Event) (int64, error) {
	query := `INSERT INTO events (timestamp, type, session_id, app_name, window_title, severity, message)
	          VALUES (?, ?, ?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, query, e.Timestamp.UTC(), e.Type, e.SessionID, e.AppName, e.WindowTitle, e.Severity, e.Message)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to insert %s event", e.Type)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get last insert ID")
	}
	return id, nil
}

func (s *SQLiteStore) GetEvents(ctx context.Context, start, end time.Time, eventTypes ...event.EventType) ([]event.Event, error) {
	query := `SELECT id, timestamp, type, session_id, app_name, window_title, severity, message
	          FROM events
	          WHERE timestamp >= ? AND timestamp <= ?`
	// Stored as UTC text, so bounds must be UTC too.
	args := []interface{}{start.UTC(), end.UTC()}

	if len(eventTypes) > 0 {
		placeholders := strings.Repeat("?,", len(eventTypes)-1) + "?"
		query += fmt.Sprintf(" AND type IN (%s)", placeholders)
		for _, et := range eventTypes {
			args = append(args, et)
		}
	}

	query += " ORDER BY timestamp ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query events")
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		var e event.Event
		var sessionID, appName, windowTitle, severity, message sql.NullString

		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Type, &sessionID, &appName, &windowTitle, &severity, &message); err != nil {
			return nil, errors.Wrap(err, "failed to scan event row")
		}
		e.SessionID = sessionID.String
		e.AppName = appName.String
		e.WindowTitle = windowTitle.String
		e.Severity = event.Severity(severity.String)
		e.Message = message.String
		events = append(events, e)
	}

	if err = rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating event rows")
	}

	return events, nil
}

func (s *SQLiteStore) CountBySession(ctx context.Context, t event.EventType, since time.Time) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, COUNT(*) FROM events
		 WHERE type = ? AND timestamp >= ? AND session_id IS NOT NULL AND session_id != ''
		 GROUP BY session_id`, t, since.UTC())
	if err != nil {
		return nil, errors.Wrap(err, "failed to count events by session")
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, errors.Wrap(err, "failed to scan session count")
		}
		counts[id] = n
	}
	return counts, errors.Wrap(rows.Err(), "error iterating session counts")
}

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		log.Println("Closing database connection.")
		return s.db.Close()
	}
	return nil
}
