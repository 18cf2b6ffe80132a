//go:build windows

package platform

import (
	"fmt"
	"log"

	"autosave/internal/collector/win"
)

func Open(kind string) (Backend, error) {
	switch kind {
	case "none":
		return nullBackend(), nil
	case "x11":
		return Backend{}, fmt.Errorf("provider %q not available on windows", kind)
	}

	p, err := win.NewProvider()
	if err != nil {
		if kind == "windows" {
			return Backend{}, err
		}
		log.Printf("Warning: foreground window API unavailable (%v). Focus tracking disabled.", err)
		return nullBackend(), nil
	}
	return Backend{Name: "windows", Provider: p, Keys: win.NewKeyboard()}, nil
}
