package observability

import (
	"cmp"
	"math"
	"slices"
	"strings"
	"sync"
	"time"
)

// Interaction stages, measured from the moment a graph is dispatched.
const (
	StageFirstText   = "first_text"
	StageFirstAudio  = "first_audio"
	StageInteraction = "interaction_total"
)

// stageBudgets are the p95 latencies an interaction stage should stay under.
var stageBudgets = map[string]time.Duration{
	StageFirstText:   900 * time.Millisecond,
	StageFirstAudio:  1400 * time.Millisecond,
	StageInteraction: 4 * time.Second,
}

// StageStats summarizes the retained samples of one stage of one graph.
// Observed counts every sample ever recorded; Retained only those still in
// the window.
type StageStats struct {
	Graph       string  `json:"graph"`
	Stage       string  `json:"stage"`
	Observed    int     `json:"observed"`
	Retained    int     `json:"retained"`
	LastMS      float64 `json:"last_ms"`
	MeanMS      float64 `json:"mean_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	P99MS       float64 `json:"p99_ms"`
	BudgetP95MS float64 `json:"budget_p95_ms,omitempty"`
	OverBudget  bool    `json:"over_budget,omitempty"`
}

type LatencySnapshot struct {
	At       time.Time      `json:"at"`
	Window   int            `json:"window"`
	Stages   []StageStats   `json:"stages"`
	Counters map[string]int `json:"counters,omitempty"`
}

type stageKey struct {
	graph string
	stage string
}

type stageSamples struct {
	recent   []time.Duration
	observed int
}

// LatencyWindow keeps the most recent interaction latencies per graph and
// stage, plus counters for notable events that carry no duration.
type LatencyWindow struct {
	mu       sync.Mutex
	window   int
	stages   map[stageKey]*stageSamples
	counters map[string]int
}

func NewLatencyWindow(window int) *LatencyWindow {
	if window <= 0 {
		window = 256
	}
	return &LatencyWindow{
		window:   window,
		stages:   make(map[stageKey]*stageSamples),
		counters: make(map[string]int),
	}
}

// Observe records how long stage took in an interaction of graph.
func (w *LatencyWindow) Observe(graph, stage string, d time.Duration) {
	if w == nil || stage == "" || d < 0 {
		return
	}
	k := stageKey{graph: graph, stage: stage}

	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.stages[k]
	if s == nil {
		s = &stageSamples{recent: make([]time.Duration, 0, w.window)}
		w.stages[k] = s
	}
	if len(s.recent) == w.window {
		s.recent = append(s.recent[:0], s.recent[1:]...)
	}
	s.recent = append(s.recent, d)
	s.observed++
}

// Count bumps the named counter.
func (w *LatencyWindow) Count(name string) {
	name = strings.TrimSpace(name)
	if w == nil || name == "" {
		return
	}
	w.mu.Lock()
	w.counters[name]++
	w.mu.Unlock()
}

// Snapshot reports every graph and stage with samples, ordered by graph then
// stage.
func (w *LatencyWindow) Snapshot() LatencySnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap := LatencySnapshot{At: time.Now().UTC(), Window: w.window, Stages: []StageStats{}}
	for k, s := range w.stages {
		snap.Stages = append(snap.Stages, summarize(k, s))
	}
	slices.SortFunc(snap.Stages, func(a, b StageStats) int {
		return cmp.Or(cmp.Compare(a.Graph, b.Graph), cmp.Compare(a.Stage, b.Stage))
	})
	if len(w.counters) > 0 {
		snap.Counters = make(map[string]int, len(w.counters))
		for name, n := range w.counters {
			snap.Counters[name] = n
		}
	}
	return snap
}

func (w *LatencyWindow) Reset() {
	if w == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	clear(w.stages)
	clear(w.counters)
}

func summarize(k stageKey, s *stageSamples) StageStats {
	sorted := slices.Clone(s.recent)
	slices.Sort(sorted)
	var total time.Duration
	for _, d := range sorted {
		total += d
	}
	st := StageStats{
		Graph:    k.graph,
		Stage:    k.stage,
		Observed: s.observed,
		Retained: len(sorted),
		LastMS:   millis(s.recent[len(s.recent)-1]),
		MeanMS:   millis(total / time.Duration(len(sorted))),
		P50MS:    millis(nearestRank(sorted, 0.50)),
		P95MS:    millis(nearestRank(sorted, 0.95)),
		P99MS:    millis(nearestRank(sorted, 0.99)),
	}
	if budget, ok := stageBudgets[k.stage]; ok {
		st.BudgetP95MS = millis(budget)
		st.OverBudget = st.P95MS > st.BudgetP95MS
	}
	return st
}

// nearestRank returns the smallest sample at or above the q-th fraction of
// sorted, which must not be empty.
func nearestRank(sorted []time.Duration, q float64) time.Duration {
	rank := int(math.Ceil(q * float64(len(sorted))))
	return sorted[max(rank-1, 0)]
}

func millis(d time.Duration) float64 {
	return math.Round(float64(d)/float64(time.Millisecond)*100) / 100
}
