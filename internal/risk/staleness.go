package risk

import (
	"sync"
	"time"
)

// StalenessMonitor tracks the last market-data update per (venue, symbol).
// A symbol never seen at all is treated as stale.
type StalenessMonitor struct {
	mu   sync.RWMutex
	last map[string]time.Time
}

func NewStalenessMonitor() *StalenessMonitor {
	return &StalenessMonitor{last: make(map[string]time.Time)}
}

func staleKey(venue, symbol string) string {
	return venue + "|" + symbol
}

func (m *StalenessMonitor) Update(venue, symbol string, at time.Time) {
	m.mu.Lock()
	m.last[staleKey(venue, symbol)] = at
	m.mu.Unlock()
}

func (m *StalenessMonitor) IsStale(venue, symbol string, maxAge time.Duration, now time.Time) bool {
	if maxAge <= 0 {
		return false
	}
	m.mu.RLock()
	last, ok := m.last[staleKey(venue, symbol)]
	m.mu.RUnlock()
	if !ok {
		return true
	}
	return now.Sub(last) > maxAge
}
