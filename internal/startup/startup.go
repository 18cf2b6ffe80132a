// Package startup registers the daemon to start with the desktop session.
package startup

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kardianos/osext"
	"github.com/spf13/afero"
)

const desktopFileName = "autosave.desktop"

type Registrar interface {
	SetEnabled(enabled bool) error
}

// XDGRegistrar manages an XDG autostart entry.
type XDGRegistrar struct {
	fs         afero.Fs
	dir        string
	executable func() (string, error)
}

type Option func(*XDGRegistrar)

func WithDir(dir string) Option { return func(r *XDGRegistrar) { r.dir = dir } }

func WithExecutable(fn func() (string, error)) Option {
	return func(r *XDGRegistrar) { r.executable = fn }
}

func NewXDGRegistrar(fs afero.Fs, opts ...Option) *XDGRegistrar {
	r := &XDGRegistrar{
		fs:         fs,
		dir:        autostartDir(),
		executable: osext.Executable,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func autostartDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "autostart")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "autostart")
	}
	return filepath.Join(".config", "autostart")
}

func (r *XDGRegistrar) Path() string { return filepath.Join(r.dir, desktopFileName) }

func (r *XDGRegistrar) SetEnabled(enabled bool) error {
	if !enabled {
		err := r.fs.Remove(r.Path())
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove autostart entry: %w", err)
		}
		return nil
	}

	exe, err := r.executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}
	if err := r.fs.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("create autostart dir: %w", err)
	}
	if err := afero.WriteFile(r.fs, r.Path(), []byte(desktopEntry(exe)), 0o644); err != nil {
		return fmt.Errorf("write autostart entry: %w", err)
	}
	return nil
}

func (r *XDGRegistrar) Enabled() (bool, error) {
	return afero.Exists(r.fs, r.Path())
}

func desktopEntry(exe string) string {
	var b strings.Builder
	b.WriteString("[Desktop Entry]\n")
	b.WriteString("Type=Application\n")
	b.WriteString("Name=AutoSave\n")
	b.WriteString("Comment=Periodically saves documents in watched applications\n")
	fmt.Fprintf(&b, "Exec=%s -d\n", quoteExec(exe))
	b.WriteString("Terminal=false\n")
	b.WriteString("X-GNOME-Autostart-enabled=true\n")
	return b.String()
}

// quoteExec quotes a path for the Exec key of a desktop entry.
func quoteExec(s string) string {
	if !strings.ContainsAny(s, " \t\"'\\$`") {
		return s
	}
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "`", "\\`", `$`, `\$`)
	return `"` + r.Replace(s) + `"`
}

// NopRegistrar is used where autostart management is not supported.
type NopRegistrar struct{}

func (NopRegistrar) SetEnabled(bool) error { return nil }
