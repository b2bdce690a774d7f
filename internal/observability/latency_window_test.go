package observability

import (
	"testing"
	"time"
)

func TestLatencyWindowSnapshot(t *testing.T) {
	w := NewLatencyWindow(8)
	for _, ms := range []int{900, 500, 700} {
		w.Observe("audio", StageFirstAudio, time.Duration(ms)*time.Millisecond)
	}
	w.Observe("text", StageFirstAudio, 2*time.Second)
	w.Count("utterance_dropped")
	w.Count("utterance_dropped")
	w.Count("  ")

	snap := w.Snapshot()
	if snap.Window != 8 {
		t.Fatalf("Window = %d, want 8", snap.Window)
	}
	if len(snap.Stages) != 2 {
		t.Fatalf("len(Stages) = %d, want 2", len(snap.Stages))
	}
	audio, text := snap.Stages[0], snap.Stages[1]
	if audio.Graph != "audio" || text.Graph != "text" {
		t.Fatalf("graphs = %q, %q, want audio then text", audio.Graph, text.Graph)
	}
	if audio.Observed != 3 || audio.LastMS != 700 || audio.P50MS != 700 || audio.P95MS != 900 {
		t.Fatalf("audio stats = %+v", audio)
	}
	if audio.BudgetP95MS != 1400 || audio.OverBudget {
		t.Fatalf("audio budget = %+v, want 1400 and within budget", audio)
	}
	if !text.OverBudget {
		t.Fatalf("text stats = %+v, want over budget", text)
	}
	if len(snap.Counters) != 1 || snap.Counters["utterance_dropped"] != 2 {
		t.Fatalf("Counters = %v, want utterance_dropped=2", snap.Counters)
	}
}

func TestLatencyWindowKeepsMostRecent(t *testing.T) {
	w := NewLatencyWindow(2)
	for _, ms := range []int{10, 20, 30} {
		w.Observe("text", StageFirstText, time.Duration(ms)*time.Millisecond)
	}
	s := w.Snapshot().Stages[0]
	if s.Observed != 3 || s.Retained != 2 || s.MeanMS != 25 {
		t.Fatalf("stats = %+v, want 3 observed, 2 retained averaging 25", s)
	}
	if s.BudgetP95MS != 900 {
		t.Fatalf("BudgetP95MS = %.2f, want 900", s.BudgetP95MS)
	}

	w.Reset()
	snap := w.Snapshot()
	if len(snap.Stages) != 0 || snap.Counters != nil {
		t.Fatalf("snapshot after Reset = %+v, want empty", snap)
	}
}

func TestNilWindowIgnoresObservations(t *testing.T) {
	var w *LatencyWindow
	w.Observe("text", StageFirstText, time.Millisecond)
	w.Count("x")
	w.Reset()
}
