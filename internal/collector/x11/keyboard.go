package x11

import (
	"fmt"
	"sync"
	"unicode"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgb/xtest"
	"github.com/BurntSushi/xgbutil"
	"github.com/BurntSushi/xgbutil/keybind"
)

// Keyboard synthesizes key events with the XTEST extension. Typed text
// assumes a US layout for punctuation.
type Keyboard struct {
	X  *xgbutil.XUtil
	mu sync.Mutex
}

func NewKeyboard(X *xgbutil.XUtil) (*Keyboard, error) {
	if err := xtest.Init(X.Conn()); err != nil {
		return nil, fmt.Errorf("XTEST extension unavailable: %w", err)
	}
	keybind.Initialize(X)
	return &Keyboard{X: X}, nil
}

func (k *Keyboard) PressSaveCombo() error {
	return k.chord("Control_L", "s")
}

func (k *Keyboard) PressSaveAsCombo() error {
	return k.chord("Control_L", "Shift_L", "s")
}

func (k *Keyboard) PressEnter() error {
	return k.chord("Return")
}

func (k *Keyboard) TypeText(text string) error {
	for _, r := range text {
		sym, shift, ok := keysymFor(r)
		if !ok {
			return fmt.Errorf("no key for %q", r)
		}
		var err error
		if shift {
			err = k.chord("Shift_L", sym)
		} else {
			err = k.chord(sym)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// chord presses the keys in order and releases them in reverse.
func (k *Keyboard) chord(keysyms ...string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	codes := make([]xproto.Keycode, 0, len(keysyms))
	for _, sym := range keysyms {
		kc := keybind.StrToKeycodes(k.X, sym)
		if len(kc) == 0 {
			return fmt.Errorf("no keycode for keysym %s", sym)
		}
		codes = append(codes, kc[0])
	}
	for _, c := range codes {
		if err := k.fake(xproto.KeyPress, c); err != nil {
			return err
		}
	}
	for i := len(codes) - 1; i >= 0; i-- {
		if err := k.fake(xproto.KeyRelease, codes[i]); err != nil {
			return err
		}
	}
	return nil
}

func (k *Keyboard) fake(typ byte, code xproto.Keycode) error {
	err := xtest.FakeInputChecked(k.X.Conn(), typ, byte(code), 0, k.X.RootWin(), 0, 0, 0).Check()
	if err != nil {
		return fmt.Errorf("xtest fake input: %w", err)
	}
	return nil
}

var plainKeysyms = map[rune]string{
	' ': "space", '/': "slash", '\\': "backslash", '.': "period", '-': "minus",
	',': "comma", ';': "semicolon", '\'': "apostrophe", '=': "equal",
	'[': "bracketleft", ']': "bracketright", '`': "grave",
}

var shiftedKeysyms = map[rune]string{
	':': "semicolon", '_': "minus", '(': "9", ')': "0", '~': "grave", '!': "1",
	'@': "2", '#': "3", '$': "4", '%': "5", '^': "6", '&': "7", '*': "8",
	'+': "equal", '{': "bracketleft", '}': "bracketright", '"': "apostrophe",
	'<': "comma", '>': "period", '?': "slash", '|': "backslash",
}

// keysymFor maps a character to the keysym of its key and whether Shift is
// held.
func keysymFor(r rune) (string, bool, bool) {
	switch {
	case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		return string(r), false, true
	case r >= 'A' && r <= 'Z':
		return string(unicode.ToLower(r)), true, true
	}
	if sym, ok := plainKeysyms[r]; ok {
		return sym, false, true
	}
	if sym, ok := shiftedKeysyms[r]; ok {
		return sym, true, true
	}
	return "", false, false
}
