package build

import (
	"maps"
	"sync"
	"time"
)

// BuildMetrics counts builds by outcome. Degraded builds produced output but
// collected render failures; they count as successful too.
type BuildMetrics struct {
	TotalBuilds      int64
	SuccessfulBuilds int64
	FailedBuilds     int64
	DegradedBuilds   int64
	CacheHits        int64
	AverageDuration  time.Duration
	TotalDuration    time.Duration
	// FailuresByCode counts collected failures per error code.
	FailuresByCode map[string]int64

	mutex sync.RWMutex
}

// NewBuildMetrics creates an empty tracker.
func NewBuildMetrics() *BuildMetrics {
	return &BuildMetrics{FailuresByCode: make(map[string]int64)}
}

// RecordBuild adds result to the counters.
func (bm *BuildMetrics) RecordBuild(result BuildResult) {
	bm.mutex.Lock()
	defer bm.mutex.Unlock()

	bm.TotalBuilds++
	bm.TotalDuration += result.Duration
	bm.AverageDuration = bm.TotalDuration / time.Duration(bm.TotalBuilds)
	if result.CacheHit {
		bm.CacheHits++
	}

	if result.Error != nil {
		bm.FailedBuilds++
		return
	}
	bm.SuccessfulBuilds++
	if len(result.Failures) > 0 {
		bm.DegradedBuilds++
	}
	for _, f := range result.Failures {
		bm.FailuresByCode[f.Code]++
	}
}

// GetSnapshot returns a copy that is safe to read without locking.
func (bm *BuildMetrics) GetSnapshot() BuildMetrics {
	bm.mutex.RLock()
	defer bm.mutex.RUnlock()
	return BuildMetrics{
		TotalBuilds:      bm.TotalBuilds,
		SuccessfulBuilds: bm.SuccessfulBuilds,
		FailedBuilds:     bm.FailedBuilds,
		DegradedBuilds:   bm.DegradedBuilds,
		CacheHits:        bm.CacheHits,
		AverageDuration:  bm.AverageDuration,
		TotalDuration:    bm.TotalDuration,
		FailuresByCode:   maps.Clone(bm.FailuresByCode),
	}
}

// GetSuccessRate returns the share of builds that produced output, in percent.
func (bm *BuildMetrics) GetSuccessRate() float64 {
	bm.mutex.RLock()
	defer bm.mutex.RUnlock()
	if bm.TotalBuilds == 0 {
		return 0
	}
	return float64(bm.SuccessfulBuilds) / float64(bm.TotalBuilds) * 100
}
