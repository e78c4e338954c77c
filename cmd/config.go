package cmd

import (
	"fmt"

	"github.com/conneroisu/quicktex/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd(a *app) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect quicktex configuration",
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the resolved configuration",
		Long: `Display the configuration after merging the config file, QUICKTEX_*
environment variables, command-line flags and defaults.

The configuration is validated but filesystem preconditions are not
checked, so this works before the output directory exists.

Examples:
  quicktex config show -s docs -o build
  QUICKTEX_ENGINE_PATH=/opt/tectonic quicktex config show -s docs -o build`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFrom(a.v)
			if err != nil {
				return err
			}

			data, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to encode configuration: %w", err)
			}

			if used := a.v.ConfigFileUsed(); used != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "# config file: %s\n", used)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	})

	return configCmd
}
