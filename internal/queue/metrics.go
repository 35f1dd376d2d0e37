package queue

import (
	"sync"
	"time"
)

// Metrics tracks task throughput for one worker manager.
type Metrics struct {
	Processed       int64
	Failed          int64
	TotalDuration   time.Duration
	AverageDuration time.Duration
	mutex           sync.RWMutex
}

// NewMetrics creates an empty metrics tracker.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// Record adds one finished task.
func (m *Metrics) Record(d time.Duration, failed bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.Processed++
	m.TotalDuration += d
	if failed {
		m.Failed++
	}
	m.AverageDuration = m.TotalDuration / time.Duration(m.Processed)
}

// Snapshot returns a copy of the current values.
func (m *Metrics) Snapshot() Metrics {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return Metrics{
		Processed:       m.Processed,
		Failed:          m.Failed,
		TotalDuration:   m.TotalDuration,
		AverageDuration: m.AverageDuration,
	}
}
