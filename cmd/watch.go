package cmd

import (
	"os/signal"
	"syscall"

	"github.com/conneroisu/quicktex/internal/config"
	"github.com/conneroisu/quicktex/internal/logging"
	"github.com/conneroisu/quicktex/internal/metrics"
	"github.com/conneroisu/quicktex/internal/server"
	"github.com/conneroisu/quicktex/internal/watcher"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

func newWatchCmd(a *app) *cobra.Command {
	watchCmd := &cobra.Command{
		Use:     "watch",
		Aliases: []string{"w"},
		Short:   "Rebuild scripts as they are created or modified",
		Long: `Watch the source directory and rebuild every script that is created or
modified until interrupted with Ctrl+C.

By default changes are taken from filesystem notifications and nothing is
built at startup. With --poll the tree is rescanned every --interval and a
script is rebuilt only when its content changed; the first scan builds
every script.

With --server-addr a status server publishes /healthz, /metrics and a
WebSocket stream of build results on /ws.

Examples:
  quicktex watch -s docs -o build
  quicktex watch -s docs -o build --poll --interval 500ms
  quicktex watch -s docs -o build --server-addr localhost:8090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a.v.Set(config.KeyWatchEnabled, true)
			return a.runWatch(cmd)
		},
	}

	watchCmd.Flags().BoolP("poll", "p", false, "detect changes by polling instead of filesystem events")
	watchCmd.Flags().Duration("interval", config.DefaultPollInterval, "polling interval")
	watchCmd.Flags().String("server-addr", "", "serve build status on this address (e.g. localhost:8090)")

	return watchCmd
}

func (a *app) runWatch(cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prom.NewRegistry()
	recorder := metrics.NewPrometheusRecorder(reg)

	p, err := a.newPipeline(cmd, recorder)
	if err != nil {
		return err
	}

	if p.cfg.Server.Addr != "" {
		srv := server.New(server.Options{
			Addr:     p.cfg.Server.Addr,
			Registry: reg,
			Metrics:  p.loop.Metrics(),
			Logger:   p.logger,
		})
		if err := srv.Start(ctx); err != nil {
			return err
		}
		p.loop.AddCallback(srv.Notify)
	}

	source, err := newSource(p.cfg, p.logger)
	if err != nil {
		return err
	}

	p.logger.Info(ctx, "Watching source tree",
		"source", p.cfg.Source,
		"out", p.cfg.Out,
		"poll", p.cfg.Watch.Poll,
	)

	return p.loop.Watch(ctx, source)
}

// newSource returns the change source selected by cfg.
func newSource(cfg *config.Config, logger logging.Logger) (watcher.Source, error) {
	filter := watcher.ExtensionFilter(cfg.Script.Extension)

	if cfg.Watch.Poll {
		return watcher.NewPollSource(cfg.Source, cfg.Watch.Interval, logger, filter)
	}
	return watcher.NewEventSource(cfg.Source, logger, filter)
}
