// Package cmd provides the quicktex command-line interface.
//
// Configuration is resolved from, in order of precedence:
//
//  1. Command-line flags (--source, --out, --tectonic, ...)
//  2. QUICKTEX_* environment variables (QUICKTEX_ENGINE_PATH, QUICKTEX_WATCH_POLL, ...)
//  3. A config file: --config, then QUICKTEX_CONFIG_FILE, then ./.quicktex.yml
//  4. Built-in defaults
package cmd

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"strings"

	"github.com/conneroisu/quicktex/internal/config"
	"github.com/conneroisu/quicktex/internal/errors"
	"github.com/conneroisu/quicktex/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by quicktex.
const EnvPrefix = "QUICKTEX"

// app carries the state shared by one command tree.
type app struct {
	v       *viper.Viper
	cfgFile string
}

// Execute runs the quicktex command tree against os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}

// NewRootCmd builds the quicktex command tree with a fresh configuration.
func NewRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	rootCmd := &cobra.Command{
		Use:   "quicktex",
		Short: "Build PDF documents from scripts, once or on every change",
		Long: `quicktex evaluates document scripts (*.kts) from a source directory,
pipes the resulting markup into tectonic and writes <name>.pdf to the
output directory.

Without --watch every script is built once. With --watch quicktex keeps
running and rebuilds each script that is created or modified, using
filesystem events or, with --poll, periodic content fingerprints.

Examples:
  quicktex -s docs -o build              # Build every script once
  quicktex -s docs -o build -w           # Rebuild on filesystem events
  quicktex -s docs -o build -w -p        # Rebuild by polling every second
  quicktex watch -s docs -o build --poll --interval 2s`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.initConfig(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.v.GetBool(config.KeyWatchEnabled) {
				return a.runWatch(cmd)
			}
			if a.v.GetBool(config.KeyWatchPoll) {
				fmt.Fprintln(cmd.ErrOrStderr(), "Warning: --poll has no effect without --watch")
			}
			return a.runBuild(cmd)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (default is .quicktex.yml, can also use QUICKTEX_CONFIG_FILE env var)")
	pf.StringP("source", "s", "", "directory containing document scripts")
	pf.StringP("out", "o", "", "directory receiving the built documents")
	pf.StringP("tectonic", "t", config.DefaultEnginePath, "path to the tectonic executable")
	pf.String("extension", ".kts", "file extension of document scripts")
	pf.String("evaluator", "kotlinc -script", "command that evaluates a script into markup")
	pf.Duration("engine-timeout", 0, "abort an engine run after this long (0 disables)")
	pf.String("log-level", "info", "log level (debug, info, warn, error)")
	pf.String("log-format", "text", "log format (text, json)")

	rootCmd.Flags().BoolP("watch", "w", false, "keep running and rebuild changed scripts")
	rootCmd.Flags().BoolP("poll", "p", false, "detect changes by polling instead of filesystem events (with --watch)")
	rootCmd.Flags().Duration("interval", config.DefaultPollInterval, "polling interval")
	rootCmd.Flags().String("server-addr", "", "serve build status on this address while watching (e.g. localhost:8090)")

	rootCmd.AddCommand(
		newBuildCmd(a),
		newWatchCmd(a),
		newConfigCmd(a),
		newVersionCmd(),
	)

	return rootCmd
}

// flagKeys maps flag names to configuration keys.
var flagKeys = map[string]string{
	"source":         config.KeySource,
	"out":            config.KeyOut,
	"tectonic":       config.KeyEnginePath,
	"extension":      config.KeyScriptExt,
	"evaluator":      config.KeyScriptCommand,
	"engine-timeout": config.KeyEngineTimeout,
	"log-level":      config.KeyLogLevel,
	"log-format":     config.KeyLogFormat,
	"watch":          config.KeyWatchEnabled,
	"poll":           config.KeyWatchPoll,
	"interval":       config.KeyWatchInterval,
	"server-addr":    config.KeyServerAddr,
}

// initConfig reads the config file and binds the flags of the command being
// run to their configuration keys.
func (a *app) initConfig(cmd *cobra.Command) error {
	v := a.v

	if a.cfgFile != "" {
		v.SetConfigFile(a.cfgFile)
	} else if envConfigFile := os.Getenv(EnvPrefix + "_CONFIG_FILE"); envConfigFile != "" {
		v.SetConfigFile(envConfigFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName(".quicktex")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !stderrors.As(err, &notFound) {
			return errors.Precondition("CONFIG_UNREADABLE", "could not read config file", err)
		}
	}

	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok || bindErr != nil {
			return
		}
		bindErr = v.BindPFlag(key, f)
	})

	return bindErr
}

// loadConfig resolves and validates the configuration and checks every
// precondition of the build loop.
func (a *app) loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFrom(a.v)
	if err != nil {
		return nil, errors.Precondition("CONFIG_INVALID", "configuration is invalid", err)
	}

	if err := cfg.CheckPreconditions(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func newLogger(cmd *cobra.Command, cfg *config.Config) (logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, errors.Precondition("LOG_LEVEL_INVALID", "invalid log level", err)
	}

	return logging.NewLogger(&logging.LoggerConfig{
		Level:  level,
		Format: cfg.Log.Format,
		Output: cmd.ErrOrStderr(),
	}), nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
