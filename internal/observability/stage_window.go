package observability

import (
	"math"
	"slices"
	"sync"
	"time"
)

// Stage names one timed step of an interaction.
type Stage string

const (
	// StageTranscode covers decoding and re-encoding recorded audio.
	StageTranscode Stage = "transcode"
	// StageSubmit is the agent round trip alone.
	StageSubmit Stage = "submit"
	// StageSubmitTotal spans a whole Submit, from input to the assistant entry.
	StageSubmitTotal Stage = "submit_total"
)

// stageTargets lists every tracked stage with its p95 budget, in report order.
var stageTargets = []struct {
	stage  Stage
	target time.Duration
}{
	{StageTranscode, 150 * time.Millisecond},
	{StageSubmit, 4 * time.Second},
	{StageSubmitTotal, 4500 * time.Millisecond},
}

type StageStats struct {
	Stage       Stage   `json:"stage"`
	Samples     int     `json:"samples"`
	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	MaxMS       float64 `json:"max_ms"`
	TargetP95MS float64 `json:"target_p95_ms"`
	// OverTarget counts windowed samples slower than the p95 budget.
	OverTarget int `json:"over_target"`
}

type StageSnapshot struct {
	GeneratedAt time.Time    `json:"generated_at"`
	WindowSize  int          `json:"window_size"`
	Stages      []StageStats `json:"stages"`
}

// latencyRing holds the most recent durations of one stage.
type latencyRing struct {
	target  time.Duration
	samples []time.Duration
	next    int
	count   int
}

func (r *latencyRing) add(d time.Duration) {
	r.samples[r.next] = d
	r.next = (r.next + 1) % len(r.samples)
	if r.count < len(r.samples) {
		r.count++
	}
}

func (r *latencyRing) last() time.Duration {
	return r.samples[(r.next-1+len(r.samples))%len(r.samples)]
}

func (r *latencyRing) stats(stage Stage) StageStats {
	window := make([]time.Duration, r.count)
	copy(window, r.samples[:r.count])
	slices.Sort(window)

	var sum time.Duration
	over := 0
	for _, d := range window {
		sum += d
		if d > r.target {
			over++
		}
	}
	return StageStats{
		Stage:       stage,
		Samples:     r.count,
		LastMS:      toMS(r.last()),
		AvgMS:       toMS(sum / time.Duration(r.count)),
		P50MS:       toMS(nearestRank(window, 0.50)),
		P95MS:       toMS(nearestRank(window, 0.95)),
		MaxMS:       toMS(window[len(window)-1]),
		TargetP95MS: toMS(r.target),
		OverTarget:  over,
	}
}

// stageWindow keeps the last size durations of each known stage.
type stageWindow struct {
	mu    sync.Mutex
	size  int
	rings map[Stage]*latencyRing
}

func newStageWindow(size int) *stageWindow {
	if size <= 0 {
		size = 256
	}
	w := &stageWindow{size: size}
	w.reset()
	return w
}

func (w *stageWindow) reset() {
	w.rings = make(map[Stage]*latencyRing, len(stageTargets))
	for _, st := range stageTargets {
		w.rings[st.stage] = &latencyRing{target: st.target, samples: make([]time.Duration, w.size)}
	}
}

// observe drops unknown stages and negative durations.
func (w *stageWindow) observe(stage Stage, d time.Duration) {
	if d < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if ring, ok := w.rings[stage]; ok {
		ring.add(d)
	}
}

// snapshot reports stages with at least one sample, in stageTargets order.
func (w *stageWindow) snapshot() StageSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	stats := make([]StageStats, 0, len(stageTargets))
	for _, st := range stageTargets {
		if ring := w.rings[st.stage]; ring.count > 0 {
			stats = append(stats, ring.stats(st.stage))
		}
	}
	return StageSnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.size,
		Stages:      stats,
	}
}

func (w *stageWindow) clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.reset()
}

// nearestRank returns the q-quantile of a sorted, non-empty slice.
func nearestRank(sorted []time.Duration, q float64) time.Duration {
	idx := int(math.Ceil(q*float64(len(sorted)))) - 1
	return sorted[max(0, min(idx, len(sorted)-1))]
}

func toMS(d time.Duration) float64 {
	return math.Round(float64(d.Microseconds())/10) / 100
}
