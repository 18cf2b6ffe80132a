//go:build !windows

package platform

import (
	"fmt"
	"log"
	"runtime"

	"autosave/internal/actions"
	"autosave/internal/collector/x11"
)

// Open returns the backend for kind ("auto", "x11", "windows" or "none").
// "auto" degrades to the null backend when no X server is reachable.
func Open(kind string) (Backend, error) {
	switch kind {
	case "none":
		return nullBackend(), nil
	case "windows":
		return Backend{}, fmt.Errorf("provider %q not available on %s", kind, runtime.GOOS)
	}

	p, err := x11.NewProvider()
	if err != nil {
		if kind == "x11" {
			return Backend{}, err
		}
		log.Printf("Warning: X11 unavailable (%v). Focus tracking disabled.", err)
		return nullBackend(), nil
	}

	var keys actions.KeySynthesizer
	kb, err := x11.NewKeyboard(p.X)
	if err != nil {
		log.Printf("Warning: %v. Keystrokes disabled.", err)
		keys = actions.NopKeyboard{}
	} else {
		keys = kb
	}
	return Backend{Name: "x11", Provider: p, Keys: keys}, nil
}
