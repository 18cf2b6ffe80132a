//go:build windows

// Package win reads the foreground window through user32 and synthesizes
// keyboard input with SendInput.
package win

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"unsafe"

	"github.com/sourcegraph/conc"
	"go.uber.org/atomic"
	"golang.org/x/sys/windows"

	"autosave/internal/collector"
	"autosave/internal/event"
)

var (
	user32 = windows.NewLazySystemDLL("user32.dll")

	procGetWindowTextW     = user32.NewProc("GetWindowTextW")
	procSetWinEventHook    = user32.NewProc("SetWinEventHook")
	procUnhookWinEvent     = user32.NewProc("UnhookWinEvent")
	procGetMessageW        = user32.NewProc("GetMessageW")
	procPostThreadMessageW = user32.NewProc("PostThreadMessageW")
	procSendInput          = user32.NewProc("SendInput")
)

const (
	eventSystemForeground = 0x0003
	winEventOutOfContext  = 0x0000
	wmQuit                = 0x0012
)

type Provider struct {
	subscribed *atomic.Bool
	wg         conc.WaitGroup
	closed     chan struct{}
	closeOnce  sync.Once
}

func NewProvider() (*Provider, error) {
	if err := user32.Load(); err != nil {
		return nil, fmt.Errorf("load user32: %w", err)
	}
	return &Provider{subscribed: atomic.NewBool(false), closed: make(chan struct{})}, nil
}

func (p *Provider) Current() (event.Sample, bool, error) {
	hwnd := windows.GetForegroundWindow()
	if hwnd == 0 {
		return event.Sample{}, false, nil
	}
	var pid uint32
	if _, err := windows.GetWindowThreadProcessId(hwnd, &pid); err != nil {
		return event.Sample{}, false, fmt.Errorf("GetWindowThreadProcessId: %w", err)
	}
	name, err := processImageName(pid)
	if err != nil {
		return event.Sample{}, false, err
	}
	return event.Sample{ProcessName: name, WindowTitle: windowText(hwnd)}, true, nil
}

func processImageName(pid uint32) (string, error) {
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, pid)
	if err != nil {
		return "", fmt.Errorf("OpenProcess %d: %w", pid, err)
	}
	defer windows.CloseHandle(h)

	buf := make([]uint16, windows.MAX_LONG_PATH)
	size := uint32(len(buf))
	if err := windows.QueryFullProcessImageName(h, 0, &buf[0], &size); err != nil {
		return "", fmt.Errorf("QueryFullProcessImageName %d: %w", pid, err)
	}
	return strings.ToLower(filepath.Base(windows.UTF16ToString(buf[:size]))), nil
}

func windowText(hwnd windows.HWND) string {
	buf := make([]uint16, 512)
	n, _, _ := procGetWindowTextW.Call(uintptr(hwnd), uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
	return windows.UTF16ToString(buf[:n])
}

// Subscribe installs an EVENT_SYSTEM_FOREGROUND hook. The hook and its
// message loop live on one locked OS thread.
func (p *Provider) Subscribe(ctx context.Context, onChange func()) error {
	if !p.subscribed.CAS(false, true) {
		return fmt.Errorf("win: already subscribed")
	}

	type started struct {
		tid uint32
		err error
	}
	ready := make(chan started, 1)

	p.wg.Go(func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		defer p.subscribed.Store(false)

		cb := windows.NewCallback(func(hook, ev, hwnd, idObject, idChild, thread, ts uintptr) uintptr {
			onChange()
			return 0
		})
		hook, _, err := procSetWinEventHook.Call(eventSystemForeground, eventSystemForeground, 0, cb, 0, 0, winEventOutOfContext)
		if hook == 0 {
			ready <- started{err: fmt.Errorf("%w: SetWinEventHook: %v", collector.ErrSubscribeUnsupported, err)}
			return
		}
		defer func() {
			procUnhookWinEvent.Call(hook)
			log.Println("Foreground hook released.")
		}()
		ready <- started{tid: windows.GetCurrentThreadId()}

		var msg [48]byte // MSG
		for {
			r, _, _ := procGetMessageW.Call(uintptr(unsafe.Pointer(&msg[0])), 0, 0, 0)
			if int32(r) <= 0 {
				return
			}
		}
	})

	s := <-ready
	if s.err != nil {
		return s.err
	}
	p.wg.Go(func() {
		select {
		case <-ctx.Done():
		case <-p.closed:
		}
		procPostThreadMessageW.Call(uintptr(s.tid), wmQuit, 0, 0)
	})
	return nil
}

func (p *Provider) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	p.wg.Wait()
	return nil
}

const (
	inputKeyboard   = 1
	keyEventKeyUp   = 0x0002
	keyEventUnicode = 0x0004

	vkControl = 0x11
	vkShift   = 0x10
	vkReturn  = 0x0D
	vkS       = 0x53
)

type keyboardInput struct {
	vk        uint16
	scan      uint16
	flags     uint32
	time      uint32
	extraInfo uintptr
}

// input mirrors INPUT with the keyboard arm of the union.
type input struct {
	typ     uint32
	ki      keyboardInput
	padding uint64
}

type Keyboard struct{}

func NewKeyboard() *Keyboard { return &Keyboard{} }

func (Keyboard) PressSaveCombo() error { return sendVKs(vkControl, vkS) }

func (Keyboard) PressSaveAsCombo() error { return sendVKs(vkControl, vkShift, vkS) }

func (Keyboard) PressEnter() error { return sendVKs(vkReturn) }

func (Keyboard) TypeText(text string) error {
	units, err := windows.UTF16FromString(text)
	if err != nil {
		return err
	}
	var in []input
	for _, u := range units {
		if u == 0 {
			continue
		}
		in = append(in,
			input{typ: inputKeyboard, ki: keyboardInput{scan: u, flags: keyEventUnicode}},
			input{typ: inputKeyboard, ki: keyboardInput{scan: u, flags: keyEventUnicode | keyEventKeyUp}},
		)
	}
	return send(in)
}

func sendVKs(vks ...uint16) error {
	in := make([]input, 0, 2*len(vks))
	for _, vk := range vks {
		in = append(in, input{typ: inputKeyboard, ki: keyboardInput{vk: vk}})
	}
	for i := len(vks) - 1; i >= 0; i-- {
		in = append(in, input{typ: inputKeyboard, ki: keyboardInput{vk: vks[i], flags: keyEventKeyUp}})
	}
	return send(in)
}

func send(in []input) error {
	if len(in) == 0 {
		return nil
	}
	n, _, err := procSendInput.Call(uintptr(len(in)), uintptr(unsafe.Pointer(&in[0])), unsafe.Sizeof(in[0]))
	if int(n) != len(in) {
		return fmt.Errorf("SendInput sent %d of %d events: %v", n, len(in), err)
	}
	return nil
}
