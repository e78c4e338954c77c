// Package metrics exposes build observations to monitoring systems.
//
// Components hold a Recorder and default to NoopRecorder, so metrics can be
// switched on by injecting a PrometheusRecorder without touching call sites.
package metrics

import "time"

// Recorder defines observability hooks for script builds. outcome is one of
// success, no_artifact, evaluation_failed, render_failed or failed.
type Recorder interface {
	ObserveBuildDuration(outcome string, d time.Duration)
	IncBuildOutcome(outcome string)
	IncChangeDetected(kind string)
	SetLastBuildTimestamp(t time.Time)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveBuildDuration(string, time.Duration) {}
func (NoopRecorder) IncBuildOutcome(string)                     {}
func (NoopRecorder) IncChangeDetected(string)                   {}
func (NoopRecorder) SetLastBuildTimestamp(time.Time)            {}
