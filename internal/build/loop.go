// Package build drives the evaluate-then-render pipeline for document
// scripts.
//
// A Loop processes one script at a time. RunOnce walks the source tree and
// builds every script it finds; Watch builds each script a change source
// reports until its context is cancelled. Per-script failures are logged,
// counted and handed to callbacks, and never stop the loop.
package build

import (
	"context"
	stderrors "errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"github.com/conneroisu/quicktex/internal/errors"
	"github.com/conneroisu/quicktex/internal/logging"
	"github.com/conneroisu/quicktex/internal/metrics"
	"github.com/conneroisu/quicktex/internal/renderer"
	"github.com/conneroisu/quicktex/internal/script"
	"github.com/conneroisu/quicktex/internal/watcher"
	"github.com/google/uuid"
)

// DefaultExtension is the suffix of document scripts.
const DefaultExtension = ".kts"

// Renderer turns an evaluated document into an artifact in outDir.
type Renderer interface {
	Render(ctx context.Context, doc script.Document, outDir, baseName string) (renderer.Artifact, error)
}

// BuildCallback is called when a build completes
type BuildCallback func(result Result)

// Options configures a Loop.
type Options struct {
	Evaluator script.Evaluator
	Renderer  Renderer
	OutDir    string
	Extension string
	Logger    logging.Logger
	Recorder  metrics.Recorder
}

// Loop builds scripts sequentially. It is safe to register callbacks while
// a build runs, but builds themselves never overlap.
type Loop struct {
	evaluator script.Evaluator
	renderer  Renderer
	outDir    string
	extension string
	logger    logging.Logger
	recorder  metrics.Recorder
	metrics   *BuildMetrics

	buildMu   sync.Mutex
	mu        sync.RWMutex
	callbacks []BuildCallback
}

// NewLoop creates a build loop. Evaluator and Renderer are required.
func NewLoop(opts Options) (*Loop, error) {
	if opts.Evaluator == nil {
		return nil, errors.Internal("NO_EVALUATOR", "build loop needs a script evaluator", nil)
	}
	if opts.Renderer == nil {
		return nil, errors.Internal("NO_RENDERER", "build loop needs a renderer", nil)
	}

	ext := opts.Extension
	if ext == "" {
		ext = DefaultExtension
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	recorder := opts.Recorder
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}

	return &Loop{
		evaluator: opts.Evaluator,
		renderer:  opts.Renderer,
		outDir:    opts.OutDir,
		extension: ext,
		logger:    logger.WithComponent("build"),
		recorder:  recorder,
		metrics:   NewBuildMetrics(),
	}, nil
}

// AddCallback registers a callback invoked after every build.
func (l *Loop) AddCallback(callback BuildCallback) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.callbacks = append(l.callbacks, callback)
}

// Metrics returns the loop's counters.
func (l *Loop) Metrics() *BuildMetrics {
	return l.metrics
}

// BuildFile evaluates the script at path and, if that succeeds, renders it.
// The returned result is also logged, counted and passed to callbacks.
func (l *Loop) BuildFile(ctx context.Context, path string) Result {
	l.buildMu.Lock()
	defer l.buildMu.Unlock()

	result := Result{ID: uuid.NewString(), Script: path}
	logger := l.logger.With("build_id", result.ID, "script", path)
	perf := logging.StartOperation(logger, "build")

	logger.Info(ctx, "Building script")

	doc, err := l.evaluator.Evaluate(ctx, path)
	if err == nil {
		var artifact renderer.Artifact
		artifact, err = l.renderer.Render(ctx, doc, l.outDir, script.BaseName(path, l.extension))
		result.Artifact = artifact.Path
		result.NoArtifact = err == nil && artifact.Missing
	}
	result.Err = err
	result.Duration = perf.Elapsed()

	l.report(ctx, logger, result)
	return result
}

func (l *Loop) report(ctx context.Context, logger logging.Logger, result Result) {
	outcome := result.Outcome()

	switch outcome {
	case OutcomeSuccess:
		logger.Info(ctx, "Build succeeded", "artifact", result.Artifact, "duration", result.Duration)
	case OutcomeNoArtifact:
		logger.Warn(ctx, nil, "Build finished without an artifact", "duration", result.Duration)
	default:
		fields := []interface{}{"outcome", string(outcome), "duration", result.Duration}
		var berr *errors.Error
		if stderrors.As(result.Err, &berr) {
			if detail := berr.Detail(); detail != "" {
				fields = append(fields, "diagnostics", detail)
			}
		}
		logger.Error(ctx, result.Err, "Build failed", fields...)
	}

	l.metrics.RecordBuild(result)
	l.recorder.ObserveBuildDuration(string(outcome), result.Duration)
	l.recorder.IncBuildOutcome(string(outcome))
	l.recorder.SetLastBuildTimestamp(time.Now())

	l.mu.RLock()
	callbacks := append([]BuildCallback(nil), l.callbacks...)
	l.mu.RUnlock()

	for _, callback := range callbacks {
		callback(result)
	}
}

// Discover returns every script under root in lexical walk order.
func (l *Loop) Discover(ctx context.Context, root string) ([]string, error) {
	var scripts []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if path == root {
				return err
			}
			l.logger.Warn(ctx, err, "Skipping unreadable path", "path", path)
			return nil
		}
		if !d.IsDir() && script.HasExtension(path, l.extension) {
			abs, err := filepath.Abs(path)
			if err != nil {
				return err
			}
			scripts = append(scripts, abs)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", root, err)
	}

	return scripts, nil
}

// RunOnce builds every script under root once. Per-script failures are in
// the summary; the returned error is non-nil only when the tree could not
// be walked or ctx was cancelled.
func (l *Loop) RunOnce(ctx context.Context, root string) (Summary, error) {
	start := time.Now()
	var summary Summary

	scripts, err := l.Discover(ctx, root)
	if err != nil {
		return summary, err
	}

	l.logger.Info(ctx, "Starting one-shot build", "source", root, "scripts", len(scripts))

	for _, path := range scripts {
		if err := ctx.Err(); err != nil {
			summary.Duration = time.Since(start)
			return summary, err
		}
		summary.add(l.BuildFile(ctx, path))
	}

	summary.Duration = time.Since(start)
	l.logger.Info(ctx, "One-shot build finished",
		"total", summary.Total(),
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"no_artifact", summary.NoArtifact,
		"duration", summary.Duration,
	)

	return summary, nil
}

// Watch builds each script reported by source until ctx is cancelled or
// source stops. Notifications are accepted one at a time, so a build is
// never started while another is running.
func (l *Loop) Watch(ctx context.Context, source watcher.Source) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	changes := make(chan watcher.Change)
	done := make(chan error, 1)
	go func() {
		done <- source.Run(ctx, changes)
	}()

	l.logger.Info(ctx, "Watching for changes")

	for {
		select {
		case change := <-changes:
			l.recorder.IncChangeDetected(change.Kind.String())
			l.logger.Debug(ctx, "Change detected", "path", change.Path, "kind", change.Kind.String())
			l.BuildFile(ctx, change.Path)
		case err := <-done:
			if err != nil {
				return fmt.Errorf("change source stopped: %w", err)
			}
			l.logger.Info(ctx, "Stopped watching")
			return nil
		}
	}
}
