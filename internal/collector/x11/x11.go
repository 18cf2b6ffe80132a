package x11

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil"
	"github.com/BurntSushi/xgbutil/ewmh"
	"github.com/BurntSushi/xgbutil/icccm"
	"github.com/BurntSushi/xgbutil/xprop"
	"github.com/BurntSushi/xgbutil/xwindow"
	"github.com/sourcegraph/conc"
	"go.uber.org/atomic"

	"autosave/internal/collector"
	"autosave/internal/event"
)

// Provider reads the EWMH active window and resolves its process.
type Provider struct {
	X          *xgbutil.XUtil
	procRoot   string
	subscribed *atomic.Bool
	wg         conc.WaitGroup
	closed     chan struct{}
	closeOnce  sync.Once
}

func NewProvider() (*Provider, error) {
	X, err := xgbutil.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}

	// _NET_ACTIVE_WINDOW needs an EWMH window manager.
	if _, err := ewmh.CurrentDesktopGet(X); err != nil {
		log.Printf("Warning: EWMH potentially not supported by Window Manager: %v", err)
	}

	return &Provider{
		X:          X,
		procRoot:   "/proc",
		subscribed: atomic.NewBool(false),
		closed:     make(chan struct{}),
	}, nil
}

func (p *Provider) Current() (event.Sample, bool, error) {
	win, err := ewmh.ActiveWindowGet(p.X)
	if err != nil {
		return event.Sample{}, false, fmt.Errorf("could not get active window ID: %w", err)
	}
	if win == 0 {
		return event.Sample{}, false, nil
	}

	// _NET_WM_NAME preferred, WM_NAME as fallback.
	title, err := ewmh.WmNameGet(p.X, win)
	if err != nil || title == "" {
		title, _ = icccm.WmNameGet(p.X, win)
	}

	name := p.processName(win)
	if name == "" {
		return event.Sample{}, false, nil
	}
	return event.Sample{ProcessName: name, WindowTitle: title}, true, nil
}

// processName resolves _NET_WM_PID through /proc, falling back to the
// WM_CLASS instance.
func (p *Provider) processName(win xproto.Window) string {
	if pid, err := ewmh.WmPidGet(p.X, win); err == nil && pid > 0 {
		if name := p.procName(pid); name != "" {
			return name
		}
	}
	if class, err := icccm.WmClassGet(p.X, win); err == nil && class != nil {
		return strings.ToLower(class.Instance)
	}
	return ""
}

func (p *Provider) procName(pid uint) string {
	dir := filepath.Join(p.procRoot, strconv.FormatUint(uint64(pid), 10))
	// comm is cut at 15 bytes; the exe link has the full name when readable.
	if exe, err := os.Readlink(filepath.Join(dir, "exe")); err == nil {
		return strings.ToLower(filepath.Base(strings.TrimSuffix(exe, " (deleted)")))
	}
	comm, err := os.ReadFile(filepath.Join(dir, "comm"))
	if err != nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(string(comm)))
}

// Subscribe listens for _NET_ACTIVE_WINDOW changes on the root window. The
// events are read on a second connection so closing it never races the
// request connection used by Current.
func (p *Provider) Subscribe(ctx context.Context, onChange func()) error {
	if !p.subscribed.CAS(false, true) {
		return fmt.Errorf("x11: already subscribed")
	}
	atom, err := xprop.Atm(p.X, "_NET_ACTIVE_WINDOW")
	if err != nil {
		p.subscribed.Store(false)
		return fmt.Errorf("%w: %v", collector.ErrSubscribeUnsupported, err)
	}
	evX, err := xgbutil.NewConn()
	if err != nil {
		p.subscribed.Store(false)
		return fmt.Errorf("%w: event connection: %v", collector.ErrSubscribeUnsupported, err)
	}
	root := evX.RootWin()
	if err := xwindow.New(evX, root).Listen(xproto.EventMaskPropertyChange); err != nil {
		evX.Conn().Close()
		p.subscribed.Store(false)
		return fmt.Errorf("%w: listen on root: %v", collector.ErrSubscribeUnsupported, err)
	}

	p.wg.Go(func() {
		for {
			ev, err := evX.Conn().WaitForEvent()
			if ev == nil && err == nil {
				return // connection closed
			}
			if err != nil {
				continue
			}
			if pn, ok := ev.(xproto.PropertyNotifyEvent); ok && pn.Atom == atom {
				onChange()
			}
		}
	})
	p.wg.Go(func() {
		select {
		case <-ctx.Done():
		case <-p.closed:
		}
		evX.Conn().Close()
		p.subscribed.Store(false)
		log.Println("X11 foreground subscription released.")
	})
	return nil
}

func (p *Provider) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	p.wg.Wait()
	p.X.Conn().Close()
	return nil
}
