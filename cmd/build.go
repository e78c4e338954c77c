package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/conneroisu/quicktex/internal/build"
	"github.com/conneroisu/quicktex/internal/config"
	"github.com/conneroisu/quicktex/internal/logging"
	"github.com/conneroisu/quicktex/internal/metrics"
	"github.com/conneroisu/quicktex/internal/renderer"
	"github.com/conneroisu/quicktex/internal/script"
	"github.com/spf13/cobra"
)

func newBuildCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "build",
		Aliases: []string{"b"},
		Short:   "Build every script once",
		Long: `Build every document script under the source directory once and exit.

Scripts are built in walk order. A script that fails to evaluate or render
is reported and skipped; the remaining scripts are still built.

Examples:
  quicktex build -s docs -o build
  quicktex build -s docs -o build --tectonic /opt/tectonic/bin/tectonic`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runBuild(cmd)
		},
	}
}

// pipeline bundles the components assembled from a resolved config.
type pipeline struct {
	cfg    *config.Config
	logger logging.Logger
	loop   *build.Loop
}

func (a *app) newPipeline(cmd *cobra.Command, recorder metrics.Recorder) (*pipeline, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cmd, cfg)
	if err != nil {
		return nil, err
	}

	evaluator, err := script.NewCommandEvaluator(cfg.Script.Command)
	if err != nil {
		return nil, err
	}

	loop, err := build.NewLoop(build.Options{
		Evaluator: evaluator,
		Renderer: renderer.New(renderer.Options{
			EnginePath: cfg.Engine.Path,
			Args:       cfg.Engine.Args,
			Timeout:    cfg.Engine.Timeout,
			Logger:     logger,
		}),
		OutDir:    cfg.Out,
		Extension: cfg.Script.Extension,
		Logger:    logger,
		Recorder:  recorder,
	})
	if err != nil {
		return nil, err
	}

	return &pipeline{cfg: cfg, logger: logger, loop: loop}, nil
}

func (a *app) runBuild(cmd *cobra.Command) error {
	p, err := a.newPipeline(cmd, nil)
	if err != nil {
		return err
	}

	summary, err := p.loop.RunOnce(commandContext(cmd), p.cfg.Source)
	if err != nil {
		return fmt.Errorf("build aborted: %w", err)
	}

	printSummary(cmd.OutOrStdout(), summary)
	return nil
}

func printSummary(w io.Writer, summary build.Summary) {
	fmt.Fprintf(w, "Built %d of %d script(s) in %s", summary.Succeeded, summary.Total(), summary.Duration.Round(time.Millisecond))
	if summary.Failed > 0 {
		fmt.Fprintf(w, ", %d failed", summary.Failed)
	}
	if summary.NoArtifact > 0 {
		fmt.Fprintf(w, ", %d produced no document", summary.NoArtifact)
	}
	fmt.Fprintln(w)

	for _, r := range summary.Results {
		switch r.Outcome() {
		case build.OutcomeSuccess:
			fmt.Fprintf(w, "  ok      %s -> %s\n", r.Script, r.Artifact)
		case build.OutcomeNoArtifact:
			fmt.Fprintf(w, "  empty   %s\n", r.Script)
		default:
			fmt.Fprintf(w, "  failed  %s: %v\n", r.Script, r.Err)
		}
	}
}
