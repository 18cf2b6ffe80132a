package collector

import (
	"context"
	"errors"

	"autosave/internal/event"
)

// ErrSubscribeUnsupported is returned by Provider.Subscribe when the platform
// cannot notify about foreground changes. The Sampler falls back to polling.
var ErrSubscribeUnsupported = errors.New("foreground change notifications not supported")

// Provider reports the foreground window. Implementations must be safe to
// call from several goroutines.
type Provider interface {
	// Current returns ok == false when there is no foreground window or its
	// process cannot be resolved.
	Current() (sample event.Sample, ok bool, err error)
	// Subscribe registers onChange for foreground changes. The registration
	// is released when ctx is done.
	Subscribe(ctx context.Context, onChange func()) error
	Close() error
}

// NullProvider never sees a foreground window. Used where no platform
// provider exists.
type NullProvider struct{}

func (NullProvider) Current() (event.Sample, bool, error) { return event.Sample{}, false, nil }

func (NullProvider) Subscribe(context.Context, func()) error { return ErrSubscribeUnsupported }

func (NullProvider) Close() error { return nil }
