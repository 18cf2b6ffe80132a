// Package actions sends the save and backup keystroke sequences to the
// foreground application.
package actions

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sourcegraph/conc/panics"
	"github.com/spf13/afero"
)

const (
	BackupDirName    = "Smart Backup"
	backupTimeLayout = "20060102-150405"
)

var (
	ErrNoUnsavedChanges = errors.New("window title has no unsaved-changes marker")
	ErrSourceNotFound   = errors.New("cannot determine file path")
)

// KeySynthesizer delivers synthetic keyboard input to the focused window.
type KeySynthesizer interface {
	PressSaveCombo() error
	PressSaveAsCombo() error
	TypeText(text string) error
	PressEnter() error
}

type BackupResult struct {
	Source      string
	Destination string
}

type Executor struct {
	keys        KeySynthesizer
	fs          afero.Fs
	clock       clockwork.Clock
	dialogDelay time.Duration
}

type Option func(*Executor)

func WithFs(fs afero.Fs) Option { return func(e *Executor) { e.fs = fs } }

func WithClock(c clockwork.Clock) Option { return func(e *Executor) { e.clock = c } }

// WithDialogDelay sets how long to wait for the save-as dialog before typing.
func WithDialogDelay(d time.Duration) Option { return func(e *Executor) { e.dialogDelay = d } }

func NewExecutor(keys KeySynthesizer, opts ...Option) *Executor {
	e := &Executor{
		keys:        keys,
		fs:          afero.NewOsFs(),
		clock:       clockwork.NewRealClock(),
		dialogDelay: time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Save presses the save combination once.
func (e *Executor) Save(ctx context.Context) error {
	return guard(func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.keys.PressSaveCombo(); err != nil {
			return fmt.Errorf("press save combo: %w", err)
		}
		return nil
	})
}

// Backup writes a timestamped copy of the document named in title next to
// the original, by driving the application's save-as dialog.
func (e *Executor) Backup(ctx context.Context, title string) (BackupResult, error) {
	var res BackupResult
	err := guard(func() error {
		var err error
		res, err = e.backup(ctx, title)
		return err
	})
	return res, err
}

func (e *Executor) backup(ctx context.Context, title string) (BackupResult, error) {
	if !strings.Contains(title, "*") {
		return BackupResult{}, ErrNoUnsavedChanges
	}

	source := CandidatePath(title)
	if source == "" {
		return BackupResult{}, ErrSourceNotFound
	}
	info, err := e.fs.Stat(source)
	if err != nil || !info.Mode().IsRegular() {
		return BackupResult{}, fmt.Errorf("%w: %q", ErrSourceNotFound, source)
	}

	dest := BackupPath(source, e.clock.Now())
	if err := e.fs.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return BackupResult{}, fmt.Errorf("create backup dir: %w", err)
	}

	if err := e.keys.PressSaveAsCombo(); err != nil {
		return BackupResult{}, fmt.Errorf("press save-as combo: %w", err)
	}
	select {
	case <-e.clock.After(e.dialogDelay):
	case <-ctx.Done():
		return BackupResult{}, ctx.Err()
	}
	if err := e.keys.TypeText(dest); err != nil {
		return BackupResult{}, fmt.Errorf("type backup path: %w", err)
	}
	if err := e.keys.PressEnter(); err != nil {
		return BackupResult{}, fmt.Errorf("confirm save-as: %w", err)
	}
	return BackupResult{Source: source, Destination: dest}, nil
}

// CandidatePath pulls a document path out of a window title such as
// "report*.psd @ 50% - Photoshop". Only " @" starts the zoom suffix, so
// names like "logo@2x.psd" survive.
func CandidatePath(title string) string {
	s := title
	if i := strings.Index(s, " @"); i >= 0 {
		s = strings.TrimRight(s[:i], " ")
	}
	if i := strings.LastIndex(s, " - "); i >= 0 {
		s = s[:i]
	}
	s = strings.ReplaceAll(s, "*", "")
	return strings.TrimSpace(s)
}

// BackupPath returns <dir>/Smart Backup/<stem>-<yyyyMMdd-HHmmss><ext>.
func BackupPath(source string, at time.Time) string {
	dir := filepath.Dir(source)
	ext := filepath.Ext(source)
	stem := strings.TrimSuffix(filepath.Base(source), ext)
	name := fmt.Sprintf("%s-%s%s", stem, at.Format(backupTimeLayout), ext)
	return filepath.Join(dir, BackupDirName, name)
}

func guard(fn func() error) error {
	var err error
	if r := panics.Try(func() { err = fn() }); r != nil {
		return r.AsError()
	}
	return err
}
