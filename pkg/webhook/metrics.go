package webhook

import (
	"sort"
	"sync"
	"time"
)

// StatsTracker keeps per-source delivery statistics for the status reply
type StatsTracker struct {
	stats map[Source]*SourceStats
	mu    sync.RWMutex
}

// NewStatsTracker creates a new stats tracker
func NewStatsTracker() *StatsTracker {
	return &StatsTracker{
		stats: make(map[Source]*SourceStats),
	}
}

// Track records one delivery
func (st *StatsTracker) Track(source Source, success bool, durationMs float64) {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, exists := st.stats[source]
	if !exists {
		s = &SourceStats{Source: source}
		st.stats[source] = s
	}

	s.TotalRequests++
	if success {
		s.SuccessCount++
	} else {
		s.FailureCount++
	}

	// running average
	s.AverageResponseTime = (s.AverageResponseTime*float64(s.TotalRequests-1) + durationMs) / float64(s.TotalRequests)
	s.LastRequestAt = time.Now().UnixMilli()
}

// All returns a copy of every source's stats, ordered by source
func (st *StatsTracker) All() []SourceStats {
	st.mu.RLock()
	defer st.mu.RUnlock()

	result := make([]SourceStats, 0, len(st.stats))
	for _, s := range st.stats {
		result = append(result, *s)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Source < result[j].Source })
	return result
}
