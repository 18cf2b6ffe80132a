package collector

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/atomic"

	"autosave/internal/event"
)

type Mode string

const (
	ModeIdle  Mode = "idle"
	ModeEvent Mode = "event"
	ModePoll  Mode = "poll"
)

// Update is one delivery from the Sampler. OK == false is a "none" sample.
type Update struct {
	Sample event.Sample
	OK     bool
}

type Sampler struct {
	provider     Provider
	clock        clockwork.Clock
	pollInterval time.Duration
	debounce     time.Duration
	onFallback   func(error)

	running *atomic.Bool
	mode    *atomic.String
}

type SamplerOption func(*Sampler)

func WithClock(c clockwork.Clock) SamplerOption { return func(s *Sampler) { s.clock = c } }

func WithPollInterval(d time.Duration) SamplerOption {
	return func(s *Sampler) { s.pollInterval = d }
}

func WithDebounce(d time.Duration) SamplerOption { return func(s *Sampler) { s.debounce = d } }

// WithFallbackHandler is called once when the Sampler switches to polling.
func WithFallbackHandler(fn func(error)) SamplerOption {
	return func(s *Sampler) { s.onFallback = fn }
}

func NewSampler(p Provider, opts ...SamplerOption) *Sampler {
	s := &Sampler{
		provider:     p,
		clock:        clockwork.NewRealClock(),
		pollInterval: 2 * time.Second,
		debounce:     100 * time.Millisecond,
		running:      atomic.NewBool(false),
		mode:         atomic.NewString(string(ModeIdle)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sampler) Mode() Mode { return Mode(s.mode.Load()) }

// Sample reads the foreground window once. Provider errors count as "none".
func (s *Sampler) Sample() (event.Sample, bool) {
	sample, ok, err := s.provider.Current()
	if err != nil {
		log.Printf("Debug: foreground lookup failed: %v", err)
		return event.Sample{}, false
	}
	if !ok {
		return event.Sample{}, false
	}
	sample.ProcessName = strings.ToLower(strings.TrimSpace(sample.ProcessName))
	return sample, sample.ProcessName != ""
}

// Run pushes samples to out until ctx is done. An initial sample is always
// pushed first.
func (s *Sampler) Run(ctx context.Context, out chan<- Update) error {
	if !s.running.CAS(false, true) {
		return errors.New("sampler already running")
	}
	defer s.running.Store(false)
	defer s.mode.Store(string(ModeIdle))

	first, ok := s.Sample()
	if !s.push(ctx, out, Update{Sample: first, OK: ok}) {
		return nil
	}

	notify := make(chan struct{}, 1)
	err := s.provider.Subscribe(ctx, func() {
		select {
		case notify <- struct{}{}:
		default:
		}
	})
	if err != nil {
		if !errors.Is(err, ErrSubscribeUnsupported) {
			log.Printf("Warning: foreground subscription failed: %v", err)
		}
		log.Printf("Foreground notifications unavailable, polling every %s", s.pollInterval)
		if s.onFallback != nil {
			s.onFallback(err)
		}
		s.mode.Store(string(ModePoll))
		return s.poll(ctx, out, first.ProcessName)
	}

	s.mode.Store(string(ModeEvent))
	return s.listen(ctx, out, notify)
}

func (s *Sampler) listen(ctx context.Context, out chan<- Update, notify <-chan struct{}) error {
	var debounce clockwork.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		var fire <-chan time.Time
		if debounce != nil {
			fire = debounce.Chan()
		}
		select {
		case <-ctx.Done():
			return nil
		case <-notify:
			// Re-arm so the new window can finish activating.
			if debounce != nil {
				debounce.Stop()
			}
			debounce = s.clock.NewTimer(s.debounce)
		case <-fire:
			debounce = nil
			sample, ok := s.Sample()
			if !s.push(ctx, out, Update{Sample: sample, OK: ok}) {
				return nil
			}
		}
	}
}

func (s *Sampler) poll(ctx context.Context, out chan<- Update, last string) error {
	ticker := s.clock.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			sample, ok := s.Sample()
			name := ""
			if ok {
				name = sample.ProcessName
			}
			if name == last {
				continue
			}
			last = name
			if !s.push(ctx, out, Update{Sample: sample, OK: ok}) {
				return nil
			}
		}
	}
}

func (s *Sampler) push(ctx context.Context, out chan<- Update, u Update) bool {
	select {
	case out <- u:
		return true
	case <-ctx.Done():
		return false
	}
}
