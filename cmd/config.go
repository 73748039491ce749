package cmd

import "github.com/spf13/cobra"

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage metricboard configuration file values.",
	Long: `Create, edit and display the metricboard configuration file.

The configuration stores application-wide values:
- database.path
- server.port
- import.max_upload_mb
- dashboard.default_days / dashboard.forms_url
- log.level / log.format

Every key can be overridden by an environment variable, for example
METRICBOARD_SERVER_PORT=9090.`,
	Example: `
  # Create default config in $HOME/.metricboard.yaml
  metricboard config create

  # Show active config and source file
  metricboard config show

  # Open active config in editor (creates example if missing)
  metricboard config edit
`,
}

func init() {
	rootCmd.AddCommand(configCmd)
}
