package build

import (
	"testing"
	"time"

	"github.com/conneroisu/quicktex/internal/errors"
	"github.com/stretchr/testify/assert"
)

func TestBuildMetrics(t *testing.T) {
	bm := NewBuildMetrics()
	assert.Equal(t, 0.0, bm.GetSuccessRate())

	bm.RecordBuild(Result{Duration: 100 * time.Millisecond})
	bm.RecordBuild(Result{Duration: 300 * time.Millisecond, NoArtifact: true})
	bm.RecordBuild(Result{Duration: 200 * time.Millisecond, Err: errors.Evaluation("EVAL_FAILED", "boom", nil)})
	bm.RecordBuild(Result{Duration: 200 * time.Millisecond, Err: errors.Render("ENGINE_FAILED", "boom", nil)})

	snap := bm.GetSnapshot()
	assert.Equal(t, int64(4), snap.TotalBuilds)
	assert.Equal(t, int64(1), snap.SuccessfulBuilds)
	assert.Equal(t, int64(1), snap.NoArtifactBuilds)
	assert.Equal(t, int64(2), snap.FailedBuilds)
	assert.Equal(t, int64(1), snap.EvaluationFailures)
	assert.Equal(t, int64(1), snap.RenderFailures)
	assert.Equal(t, 200*time.Millisecond, snap.AverageDuration)
	assert.Equal(t, 25.0, bm.GetSuccessRate())

	bm.Reset()
	assert.Equal(t, int64(0), bm.GetSnapshot().TotalBuilds)
}

func TestResultOutcome(t *testing.T) {
	tests := []struct {
		name   string
		result Result
		want   Outcome
	}{
		{"success", Result{}, OutcomeSuccess},
		{"no artifact", Result{NoArtifact: true}, OutcomeNoArtifact},
		{"evaluation", Result{Err: errors.Evaluation("X", "x", nil)}, OutcomeEvaluationFailed},
		{"render", Result{Err: errors.Render("X", "x", nil)}, OutcomeRenderFailed},
		{"other", Result{Err: assert.AnError}, OutcomeFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.result.Outcome())
		})
	}
}
