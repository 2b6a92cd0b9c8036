package extract

import (
	"slices"
	"sync"
	"time"
)

type sample struct {
	at         time.Time
	durationMs int64
	outcome    string
}

// outcomeOK marks a sample from a successful call; failures use their Kind.
const outcomeOK = "ok"

// StatsSnapshot aggregates the extraction calls seen in the window.
type StatsSnapshot struct {
	Count    int            `json:"count"`
	Outcomes map[string]int `json:"outcomes"`
	MinMs    int64          `json:"min_ms"`
	MaxMs    int64          `json:"max_ms"`
	AvgMs    float64        `json:"avg_ms"`
	P50Ms    float64        `json:"p50_ms"`
	P95Ms    float64        `json:"p95_ms"`
	P99Ms    float64        `json:"p99_ms"`
}

// ServiceStats keeps a rolling window of extraction call latencies and
// outcomes. Safe for concurrent use.
type ServiceStats struct {
	mu      sync.Mutex
	window  time.Duration
	samples []sample
}

func NewServiceStats(window time.Duration) *ServiceStats {
	if window <= 0 {
		window = time.Hour
	}
	return &ServiceStats{window: window}
}

// Record adds one finished call. err is the call's error, nil on success.
func (s *ServiceStats) Record(durationMs int64, err error) {
	outcome := outcomeOK
	if err != nil {
		outcome = string(KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
	}
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.expire(now)
	s.samples = append(s.samples, sample{at: now, durationMs: max(durationMs, 0), outcome: outcome})
}

func (s *ServiceStats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expire(time.Now())

	snap := StatsSnapshot{Count: len(s.samples), Outcomes: map[string]int{}}
	if snap.Count == 0 {
		return snap
	}

	durations := make([]int64, len(s.samples))
	var total int64
	for i, sm := range s.samples {
		durations[i] = sm.durationMs
		total += sm.durationMs
		snap.Outcomes[sm.outcome]++
	}
	slices.Sort(durations)

	snap.MinMs = durations[0]
	snap.MaxMs = durations[len(durations)-1]
	snap.AvgMs = float64(total) / float64(len(durations))
	snap.P50Ms = interpolate(durations, 0.50)
	snap.P95Ms = interpolate(durations, 0.95)
	snap.P99Ms = interpolate(durations, 0.99)
	return snap
}

// expire drops samples older than the window. Samples are appended in time
// order, so the expired ones form a prefix.
func (s *ServiceStats) expire(now time.Time) {
	cutoff := now.Add(-s.window)
	i := 0
	for i < len(s.samples) && s.samples[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		s.samples = slices.Delete(s.samples, 0, i)
	}
}

// interpolate returns the q-quantile (0..1) of sorted using linear
// interpolation between closest ranks.
func interpolate(sorted []int64, q float64) float64 {
	pos := q * float64(len(sorted)-1)
	lo := int(pos)
	if lo >= len(sorted)-1 {
		return float64(sorted[len(sorted)-1])
	}
	frac := pos - float64(lo)
	return float64(sorted[lo]) + frac*float64(sorted[lo+1]-sorted[lo])
}
