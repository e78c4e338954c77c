package build

import (
	"time"

	"github.com/conneroisu/quicktex/internal/errors"
)

// Outcome labels the final state of one build.
type Outcome string

const (
	OutcomeSuccess          Outcome = "success"
	OutcomeNoArtifact       Outcome = "no_artifact"
	OutcomeEvaluationFailed Outcome = "evaluation_failed"
	OutcomeRenderFailed     Outcome = "render_failed"
	OutcomeFailed           Outcome = "failed"
)

// Result represents the result of building one script
type Result struct {
	ID       string
	Script   string
	Artifact string
	Duration time.Duration
	Err      error
	// NoArtifact is set when the engine exited cleanly without writing a
	// document.
	NoArtifact bool
}

// Success reports whether the build produced an artifact.
func (r Result) Success() bool {
	return r.Err == nil && !r.NoArtifact
}

// Outcome classifies the result.
func (r Result) Outcome() Outcome {
	switch {
	case r.Err == nil && r.NoArtifact:
		return OutcomeNoArtifact
	case r.Err == nil:
		return OutcomeSuccess
	}

	switch errors.KindOf(r.Err) {
	case errors.KindEvaluation:
		return OutcomeEvaluationFailed
	case errors.KindRender:
		return OutcomeRenderFailed
	default:
		return OutcomeFailed
	}
}

// Summary aggregates the results of a one-shot build.
type Summary struct {
	Results    []Result
	Succeeded  int
	Failed     int
	NoArtifact int
	Duration   time.Duration
}

// Total returns the number of attempted builds.
func (s Summary) Total() int {
	return len(s.Results)
}

func (s *Summary) add(r Result) {
	s.Results = append(s.Results, r)
	switch {
	case r.Err != nil:
		s.Failed++
	case r.NoArtifact:
		s.NoArtifact++
	default:
		s.Succeeded++
	}
}
