package vad

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestDetectorEmitsSpeechStartAboveThreshold(t *testing.T) {
	var starts atomic.Int32
	d := New(DefaultConfig(), nil, Events{
		OnSpeechStart: func() { starts.Add(1) },
	})

	d.Process(0.005)
	if d.Speaking() {
		t.Fatalf("Speaking() = true before any loud sample")
	}

	d.Process(0.05)
	if !d.Speaking() {
		t.Fatalf("Speaking() = false after 0.05 sample, want true")
	}
	if got := starts.Load(); got != 1 {
		t.Fatalf("speech starts = %d, want 1", got)
	}

	// Staying loud must not re-emit speech-start.
	d.Process(0.06)
	d.Process(0.04)
	if got := starts.Load(); got != 1 {
		t.Fatalf("speech starts after continued speech = %d, want 1", got)
	}
}

func TestDetectorHangoverEmitsSpeechEndOnce(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Hangover = 30 * time.Millisecond

	var ends atomic.Int32
	d := New(cfg, nil, Events{
		OnSpeechEnd: func() { ends.Add(1) },
	})

	d.Process(0.05)
	d.Process(0.005)
	d.Process(0.005) // must not stack a second hangover timer

	time.Sleep(80 * time.Millisecond)
	if d.Speaking() {
		t.Fatalf("Speaking() = true after hangover elapsed")
	}
	if got := ends.Load(); got != 1 {
		t.Fatalf("speech ends = %d, want 1", got)
	}
}

func TestDetectorLoudSampleCancelsHangover(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Hangover = 40 * time.Millisecond

	var ends atomic.Int32
	d := New(cfg, nil, Events{
		OnSpeechEnd: func() { ends.Add(1) },
	})

	d.Process(0.05)
	d.Process(0.005)
	time.Sleep(15 * time.Millisecond)
	d.Process(0.03) // above end threshold, speech continues

	time.Sleep(60 * time.Millisecond)
	if !d.Speaking() {
		t.Fatalf("Speaking() = false, want true after hangover was cancelled")
	}
	if got := ends.Load(); got != 0 {
		t.Fatalf("speech ends = %d, want 0", got)
	}
}

func TestDetectorPermissionGatesBoundaryNotLevel(t *testing.T) {
	permitted := atomic.Bool{}
	var levels atomic.Int32
	d := New(DefaultConfig(), permitted.Load, Events{
		OnLevel: func(float64) { levels.Add(1) },
	})

	d.Process(0.08)
	if d.Speaking() {
		t.Fatalf("Speaking() = true while detection not permitted")
	}
	if got := levels.Load(); got != 1 {
		t.Fatalf("level samples = %d, want 1 (meter fed regardless of permission)", got)
	}

	permitted.Store(true)
	d.Process(0.08)
	if !d.Speaking() {
		t.Fatalf("Speaking() = false once detection permitted")
	}
}

func TestDetectorResetSuppressesPendingHangover(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Hangover = 20 * time.Millisecond

	var ends atomic.Int32
	d := New(cfg, nil, Events{
		OnSpeechEnd: func() { ends.Add(1) },
	})

	d.Process(0.05)
	d.Process(0.005)
	d.Reset()

	time.Sleep(60 * time.Millisecond)
	if got := ends.Load(); got != 0 {
		t.Fatalf("speech ends after Reset = %d, want 0", got)
	}
	if d.Speaking() {
		t.Fatalf("Speaking() = true after Reset")
	}
}

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{StartThreshold: 0.04}.withDefaults()
	if cfg.EndThreshold >= cfg.StartThreshold {
		t.Fatalf("EndThreshold = %v, want below StartThreshold %v", cfg.EndThreshold, cfg.StartThreshold)
	}
	if cfg.Hangover != DefaultConfig().Hangover {
		t.Fatalf("Hangover = %v, want default", cfg.Hangover)
	}
}
