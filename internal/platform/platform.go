// Package platform picks the foreground-window provider and key synthesizer
// for the running OS.
package platform

import (
	"autosave/internal/actions"
	"autosave/internal/collector"
)

type Backend struct {
	Name     string
	Provider collector.Provider
	Keys     actions.KeySynthesizer
}

func nullBackend() Backend {
	return Backend{Name: "none", Provider: collector.NullProvider{}, Keys: actions.NopKeyboard{}}
}
