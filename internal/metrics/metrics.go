package metrics

import (
	"sync"
	"sync/atomic"
)

// engineStats holds counters for one engine, keyed by outcome status.
// Kept simple/thread-safe for use from services and exposition.
type engineStats struct {
	total    uint64
	mu       sync.Mutex
	byStatus map[string]uint64
}

func (s *engineStats) inc(status string) {
	if status == "" {
		status = "unknown"
	}
	atomic.AddUint64(&s.total, 1)
	s.mu.Lock()
	if s.byStatus == nil {
		s.byStatus = make(map[string]uint64)
	}
	s.byStatus[status]++
	s.mu.Unlock()
}

func (s *engineStats) snapshot() (total uint64, by map[string]uint64) {
	total = atomic.LoadUint64(&s.total)
	s.mu.Lock()
	defer s.mu.Unlock()
	by = make(map[string]uint64, len(s.byStatus))
	for k, v := range s.byStatus {
		by[k] = v
	}
	return total, by
}

var (
	recurring  engineStats
	automation engineStats
	rl         engineStats
)

// IncRecurringExecution increments recurring execution counters.
// Status is one of "success", "failed", "rejected".
func IncRecurringExecution(status string) {
	recurring.inc(status)
}

// RecurringSnapshot returns a copy of the recurring counters.
func RecurringSnapshot() (total uint64, by map[string]uint64) {
	return recurring.snapshot()
}

// IncAutomationRun increments automation run counters.
// Status is one of "success", "failed".
func IncAutomationRun(status string) {
	automation.inc(status)
}

// AutomationSnapshot returns a copy of the automation counters.
func AutomationSnapshot() (total uint64, by map[string]uint64) {
	return automation.snapshot()
}

// IncRateLimitDrop increments drop counters for the given prefix.
// Use prefix "global" for global limiter rejections.
func IncRateLimitDrop(prefix string) {
	if prefix == "" {
		prefix = "global"
	}
	rl.inc(prefix)
}

// RateLimitSnapshot returns a copy of the current counters.
func RateLimitSnapshot() (total uint64, by map[string]uint64) {
	return rl.snapshot()
}
