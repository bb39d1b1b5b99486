package vad

import (
	"sync"
	"time"
)

// Config holds the hysteresis parameters. EndThreshold sits below
// StartThreshold so the detector does not chatter around a single noisy
// level, and Hangover keeps trailing words from being clipped.
type Config struct {
	StartThreshold float64
	EndThreshold   float64
	Hangover       time.Duration
}

func DefaultConfig() Config {
	return Config{
		StartThreshold: 0.02,
		EndThreshold:   0.015,
		Hangover:       600 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.StartThreshold <= 0 {
		c.StartThreshold = d.StartThreshold
	}
	if c.EndThreshold <= 0 || c.EndThreshold > c.StartThreshold {
		c.EndThreshold = c.StartThreshold * 0.75
	}
	if c.Hangover <= 0 {
		c.Hangover = d.Hangover
	}
	return c
}

// PermitFunc reports whether the owning controller currently allows turn
// boundary detection. Samples arriving while detection is not permitted are
// dropped for boundary purposes but still feed the level meter.
type PermitFunc func() bool

type Events struct {
	OnSpeechStart func()
	OnSpeechEnd   func()
	OnLevel       func(rms float64)
}

// Detector classifies a stream of RMS samples into speech-start/speech-end
// boundaries using two thresholds plus a hangover grace period. At most one
// hangover timer is outstanding at a time.
type Detector struct {
	cfg    Config
	permit PermitFunc
	events Events

	mu       sync.Mutex
	speaking bool
	hangover *time.Timer
	gen      uint64
}

func New(cfg Config, permit PermitFunc, events Events) *Detector {
	if permit == nil {
		permit = func() bool { return true }
	}
	return &Detector{
		cfg:    cfg.withDefaults(),
		permit: permit,
		events: events,
	}
}

// Speaking reports whether the detector currently considers speech ongoing.
func (d *Detector) Speaking() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.speaking
}

// Process consumes one RMS sample at the mic's native callback cadence.
func (d *Detector) Process(rms float64) {
	if d.events.OnLevel != nil {
		d.events.OnLevel(rms)
	}

	var started bool

	// Evaluated before taking the lock: the permit func may itself lock the
	// owning controller.
	permitted := rms >= d.cfg.StartThreshold && d.permit()

	d.mu.Lock()
	if !d.speaking {
		if permitted {
			d.speaking = true
			d.cancelHangoverLocked()
			started = true
		}
	} else {
		if rms >= d.cfg.EndThreshold {
			// Speech continues; a pending hangover is stale.
			d.cancelHangoverLocked()
		} else if d.hangover == nil {
			gen := d.gen
			d.hangover = time.AfterFunc(d.cfg.Hangover, func() {
				d.hangoverFired(gen)
			})
		}
	}
	d.mu.Unlock()

	if started && d.events.OnSpeechStart != nil {
		d.events.OnSpeechStart()
	}
}

func (d *Detector) hangoverFired(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || !d.speaking {
		d.mu.Unlock()
		return
	}
	d.speaking = false
	d.hangover = nil
	d.gen++
	d.mu.Unlock()

	if d.events.OnSpeechEnd != nil {
		d.events.OnSpeechEnd()
	}
}

// Reset cancels any pending hangover and returns to the not-speaking state
// without emitting events. Called by the controller when a transition (for
// example interrupt or teardown) supersedes the current turn.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.speaking = false
	d.cancelHangoverLocked()
}

func (d *Detector) cancelHangoverLocked() {
	if d.hangover != nil {
		d.hangover.Stop()
		d.hangover = nil
	}
	d.gen++
}
