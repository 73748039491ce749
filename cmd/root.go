/*
Copyright © 2025 riad@rsworld.eu

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"metricboard/config"
	"metricboard/internal/logging"
	"metricboard/storage"
)

var (
	cfgFile string
	dbPath  string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "metricboard",
	Short: "Import daily performance metrics from spreadsheets and serve per-subject dashboards.",
	Long: `
**********************************************
*              METRICBOARD                   *
**********************************************

This CLI keeps a catalog of metric types and subjects in a local SQLite database,
imports one metric type per spreadsheet (Excel or CSV), records every import as an
audited batch, and serves a JSON dashboard API with targets and unmet days.

Supported input formats:
- Excel: .xlsx, .xlsm
- CSV: .csv (comma or semicolon separated)
`,
	Example: `
  # Create configuration file
  metricboard config create

  # Register a metric type and a subject
  metricboard metric add --code tma --name "Tempo médio de atendimento" --unit min --target 10 --better-when lower
  metricboard subject add --id 1001 --name "Ana Souza" --team "Suporte"

  # Import one spreadsheet for that metric type
  metricboard import -i ./tma-2024-03.xlsx --metric tma --actor alice

  # Inspect the audit trail
  metricboard batch list

  # Export records of March
  metricboard export --from 2024-03-01 --to 2024-03-31 --output ./records.xlsx

  # Serve the JSON API
  metricboard serve --port 9090
`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	config.SetDefaults()

	rootCmd.PersistentFlags().StringVar(&cfgFile, "configFile", "", "Config file override (default discovery: $HOME/.metricboard.yaml, then ./.metricboard.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Path to SQLite database (overrides database.path from config)")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".metricboard")
	}

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.SetEnvPrefix("metricboard")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		fmt.Fprintln(os.Stderr, "No config file found, using defaults. Create one with: metricboard config create")
	}
}

// runtimeEnv is what most commands need: validated config, an open store and
// a logger. close releases the store and flushes the logger.
type runtimeEnv struct {
	cfg    *config.Config
	store  *storage.SQLiteStore
	logger *zap.Logger
}

func openRuntime() (*runtimeEnv, error) {
	cfg, err := config.LoadAndValidate()
	if err != nil {
		return nil, err
	}
	if path := strings.TrimSpace(dbPath); path != "" {
		cfg.Database.Path = path
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	store, err := storage.OpenSQLite(cfg.Database.Path)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return &runtimeEnv{cfg: cfg, store: store, logger: logger}, nil
}

func (e *runtimeEnv) close() {
	_ = e.store.Close()
	_ = e.logger.Sync()
}
