package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var configCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a configuration file from the example template.",
	Long: `Create a new configuration file from the example template also used by "config edit".

An existing configuration file is never overwritten.`,
	Example: `
  # Create default config at $HOME/.metricboard.yaml
  metricboard config create

  # Create a project-local config
  metricboard --configFile ./.metricboard.yaml config create
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return saveDefaultConfig()
	},
}

func saveDefaultConfig() error {
	path, err := configTargetPath(cfgFile, viper.ConfigFileUsed())
	if err != nil {
		return err
	}

	created, err := writeExampleConfig(path)
	if err != nil {
		return err
	}
	if created {
		fmt.Printf("New config file created at: %s\n", path)
		return nil
	}
	fmt.Printf("Config file already exists at: %s\n", path)
	return nil
}

func init() {
	configCmd.AddCommand(configCreateCmd)
}
