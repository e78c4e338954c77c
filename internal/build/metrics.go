package build

import (
	"sync"
	"time"
)

// BuildMetrics tracks build performance
type BuildMetrics struct {
	TotalBuilds        int64
	SuccessfulBuilds   int64
	FailedBuilds       int64
	NoArtifactBuilds   int64
	EvaluationFailures int64
	RenderFailures     int64
	AverageDuration    time.Duration
	TotalDuration      time.Duration
	mutex              sync.RWMutex
}

// NewBuildMetrics creates a new build metrics tracker
func NewBuildMetrics() *BuildMetrics {
	return &BuildMetrics{}
}

// RecordBuild records a build result in the metrics
func (bm *BuildMetrics) RecordBuild(result Result) {
	bm.mutex.Lock()
	defer bm.mutex.Unlock()

	bm.TotalBuilds++
	bm.TotalDuration += result.Duration

	switch result.Outcome() {
	case OutcomeSuccess:
		bm.SuccessfulBuilds++
	case OutcomeNoArtifact:
		bm.NoArtifactBuilds++
	case OutcomeEvaluationFailed:
		bm.FailedBuilds++
		bm.EvaluationFailures++
	case OutcomeRenderFailed:
		bm.FailedBuilds++
		bm.RenderFailures++
	default:
		bm.FailedBuilds++
	}

	bm.AverageDuration = bm.TotalDuration / time.Duration(bm.TotalBuilds)
}

// GetSnapshot returns a snapshot of current metrics
func (bm *BuildMetrics) GetSnapshot() BuildMetrics {
	bm.mutex.RLock()
	defer bm.mutex.RUnlock()

	return BuildMetrics{
		TotalBuilds:        bm.TotalBuilds,
		SuccessfulBuilds:   bm.SuccessfulBuilds,
		FailedBuilds:       bm.FailedBuilds,
		NoArtifactBuilds:   bm.NoArtifactBuilds,
		EvaluationFailures: bm.EvaluationFailures,
		RenderFailures:     bm.RenderFailures,
		AverageDuration:    bm.AverageDuration,
		TotalDuration:      bm.TotalDuration,
	}
}

// Reset resets all metrics
func (bm *BuildMetrics) Reset() {
	bm.mutex.Lock()
	defer bm.mutex.Unlock()

	bm.TotalBuilds = 0
	bm.SuccessfulBuilds = 0
	bm.FailedBuilds = 0
	bm.NoArtifactBuilds = 0
	bm.EvaluationFailures = 0
	bm.RenderFailures = 0
	bm.AverageDuration = 0
	bm.TotalDuration = 0
}

// GetSuccessRate returns the success rate as a percentage
func (bm *BuildMetrics) GetSuccessRate() float64 {
	bm.mutex.RLock()
	defer bm.mutex.RUnlock()

	if bm.TotalBuilds == 0 {
		return 0.0
	}

	return float64(bm.SuccessfulBuilds) / float64(bm.TotalBuilds) * 100.0
}
