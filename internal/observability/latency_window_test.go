package observability

import (
	"testing"
	"time"
)

func TestLatencyWindowSnapshot(t *testing.T) {
	w := NewLatencyWindow(8)
	w.Observe(StageSpeechEndToFirstAudio, 500*time.Millisecond)
	w.Observe(StageSpeechEndToFirstAudio, 700*time.Millisecond)
	w.Observe(StageSpeechEndToFirstAudio, 900*time.Millisecond)
	w.ObserveIndicator("barge_in")
	w.ObserveIndicator("barge_in")

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Stage != StageSpeechEndToFirstAudio {
		t.Fatalf("Stage = %q, want %q", s.Stage, StageSpeechEndToFirstAudio)
	}
	if s.Samples != 3 {
		t.Fatalf("Samples = %d, want 3", s.Samples)
	}
	if s.LastMS != 900 {
		t.Fatalf("LastMS = %.2f, want 900", s.LastMS)
	}
	if s.P50MS != 700 {
		t.Fatalf("P50MS = %.2f, want 700", s.P50MS)
	}
	if s.P95MS <= 700 || s.P95MS > 900 {
		t.Fatalf("P95MS = %.2f, want (700,900]", s.P95MS)
	}
	if s.TargetP95MS != 1400 {
		t.Fatalf("TargetP95MS = %.2f, want 1400", s.TargetP95MS)
	}
	if len(snap.Indicators) != 1 {
		t.Fatalf("len(Indicators) = %d, want 1", len(snap.Indicators))
	}
	if snap.Indicators[0].Name != "barge_in" {
		t.Fatalf("Indicators[0].Name = %q, want %q", snap.Indicators[0].Name, "barge_in")
	}
	if snap.Indicators[0].Count != 2 {
		t.Fatalf("Indicators[0].Count = %d, want %d", snap.Indicators[0].Count, 2)
	}
}

func TestLatencyWindowWraps(t *testing.T) {
	w := NewLatencyWindow(4)
	for i := 0; i < 10; i++ {
		w.Observe(StageConnectToReady, time.Duration(i+1)*100*time.Millisecond)
	}
	snap := w.Snapshot()
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	if snap.Stages[0].Samples != 4 {
		t.Fatalf("Samples = %d, want 4", snap.Stages[0].Samples)
	}
	if snap.Stages[0].LastMS != 1000 {
		t.Fatalf("LastMS = %.2f, want 1000", snap.Stages[0].LastMS)
	}
}

func TestLatencyWindowIgnoresNegative(t *testing.T) {
	w := NewLatencyWindow(4)
	w.Observe(StageConnectToReady, -time.Second)
	snap := w.Snapshot()
	if len(snap.Stages) != 0 {
		t.Fatalf("len(Stages) = %d, want 0", len(snap.Stages))
	}
}
