// Package config provides configuration management for quicktex using Viper
// for flexible loading from command-line flags, QUICKTEX_ environment
// variables, and an optional .quicktex.yml file.
//
// Besides decoding, the package owns the pre-flight checks that must succeed
// before any build runs: the source tree must be a readable directory, the
// output directory must exist (it is created) and be writable, and the
// typesetting engine must be present.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Configuration keys shared by flags, environment variables and files.
const (
	KeySource         = "source"
	KeyOut            = "out"
	KeyEnginePath     = "engine.path"
	KeyEngineArgs     = "engine.args"
	KeyEngineTimeout  = "engine.timeout"
	KeyScriptExt      = "script.extension"
	KeyScriptCommand  = "script.command"
	KeyWatchEnabled   = "watch.enabled"
	KeyWatchPoll      = "watch.poll"
	KeyWatchInterval  = "watch.interval"
	KeyLogLevel       = "log.level"
	KeyLogFormat      = "log.format"
	KeyServerAddr     = "server.addr"
	DefaultEnginePath = "/usr/bin/tectonic"
)

// DefaultPollInterval is the pause between two scans in polling mode.
const DefaultPollInterval = time.Second

// Config is the resolved quicktex configuration.
type Config struct {
	Source string       `mapstructure:"source" yaml:"source"`
	Out    string       `mapstructure:"out" yaml:"out"`
	Engine EngineConfig `mapstructure:"engine" yaml:"engine"`
	Script ScriptConfig `mapstructure:"script" yaml:"script"`
	Watch  WatchConfig  `mapstructure:"watch" yaml:"watch"`
	Log    LogConfig    `mapstructure:"log" yaml:"log"`
	Server ServerConfig `mapstructure:"server" yaml:"server"`
}

// EngineConfig describes the typesetting engine invocation.
type EngineConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
	// Args are passed before the output directory and stdin marker.
	Args []string `mapstructure:"args" yaml:"args"`
	// Timeout bounds a single engine run. Zero waits forever.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// ScriptConfig selects scripts and the evaluator that runs them.
type ScriptConfig struct {
	Extension string   `mapstructure:"extension" yaml:"extension"`
	Command   []string `mapstructure:"command" yaml:"command"`
}

// WatchConfig controls watch mode and change detection.
type WatchConfig struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	Poll     bool          `mapstructure:"poll" yaml:"poll"`
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
}

// LogConfig sets the operator log level and format.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// ServerConfig configures the optional build status server.
type ServerConfig struct {
	// Addr enables the build status server in watch mode when non-empty.
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyEnginePath, DefaultEnginePath)
	v.SetDefault(KeyEngineArgs, []string{"-c", "minimal"})
	v.SetDefault(KeyEngineTimeout, time.Duration(0))
	v.SetDefault(KeyScriptExt, ".kts")
	v.SetDefault(KeyScriptCommand, []string{"kotlinc", "-script"})
	v.SetDefault(KeyWatchEnabled, false)
	v.SetDefault(KeyWatchPoll, false)
	v.SetDefault(KeyWatchInterval, DefaultPollInterval)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "text")
	v.SetDefault(KeyServerAddr, "")
}

// Load decodes the global viper instance into a Config.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom decodes v into a Config, applies defaults for anything left unset
// and validates the static values. Filesystem preconditions are checked
// separately by CheckPreconditions.
func LoadFrom(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Slices arriving from env vars or flags are a single comma or space
	// separated string.
	if raw, ok := v.Get(KeyEngineArgs).(string); ok {
		config.Engine.Args = splitList(raw)
	}
	if raw, ok := v.Get(KeyScriptCommand).(string); ok {
		config.Script.Command = splitList(raw)
	}

	if config.Script.Extension != "" && !strings.HasPrefix(config.Script.Extension, ".") {
		config.Script.Extension = "." + config.Script.Extension
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func splitList(raw string) []string {
	return strings.Fields(strings.ReplaceAll(raw, ",", " "))
}

// validateConfig validates configuration values that need no filesystem access
func validateConfig(config *Config) error {
	if strings.TrimSpace(config.Source) == "" {
		return fmt.Errorf("source directory is required")
	}
	if strings.TrimSpace(config.Out) == "" {
		return fmt.Errorf("output directory is required")
	}
	if config.Engine.Path == "" {
		return fmt.Errorf("engine path cannot be empty")
	}
	if config.Engine.Timeout < 0 {
		return fmt.Errorf("engine timeout cannot be negative: %s", config.Engine.Timeout)
	}
	if config.Script.Extension == "" || config.Script.Extension == "." {
		return fmt.Errorf("script extension cannot be empty")
	}
	if len(config.Script.Command) == 0 {
		return fmt.Errorf("script command cannot be empty")
	}
	if config.Watch.Poll && config.Watch.Interval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", config.Watch.Interval)
	}
	switch config.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log format must be text or json, got %q", config.Log.Format)
	}
	return nil
}
