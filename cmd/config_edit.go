package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"metricboard/config"
)

const defaultConfigName = ".metricboard.yaml"

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open the active config in an editor.",
	Long: `Open the active metricboard config file in your editor ($VISUAL, then $EDITOR, then vi).

A missing config file is created from the example template first. After the
editor exits the file is validated; an invalid file is reported but kept.`,
	Example: `
  # Edit active config
  metricboard config edit

  # Edit a project-local config with a specific editor
  EDITOR="code --wait" metricboard --configFile ./.metricboard.yaml config edit
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := configTargetPath(cfgFile, viper.ConfigFileUsed())
		if err != nil {
			return err
		}
		created, err := writeExampleConfig(path)
		if err != nil {
			return err
		}
		if created {
			fmt.Printf("Created example config at: %s\n", path)
		}

		editor, err := editorCommand(os.Getenv, path)
		if err != nil {
			return err
		}
		editor.Stdin, editor.Stdout, editor.Stderr = os.Stdin, os.Stdout, os.Stderr
		if err := editor.Run(); err != nil {
			return fmt.Errorf("run editor %s: %w", editor.Path, err)
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read edited config: %w", err)
		}
		cfg, err := config.ValidateYAMLContent(content)
		if err != nil {
			return fmt.Errorf("config %s is invalid: %w", path, err)
		}
		fmt.Printf("Configuration saved and validated: %s (database: %s)\n", path, cfg.Database.Path)
		return nil
	},
}

// configTargetPath picks the file config commands act on: the --configFile
// flag, then the file viper loaded, then $HOME/.metricboard.yaml.
func configTargetPath(flagValue, loaded string) (string, error) {
	for _, candidate := range []string{flagValue, loaded} {
		if strings.TrimSpace(candidate) != "" {
			return candidate, nil
		}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, defaultConfigName), nil
}

// writeExampleConfig writes config.ExampleYAML to path unless a file exists.
func writeExampleConfig(path string) (bool, error) {
	_, err := os.Stat(path)
	switch {
	case err == nil:
		return false, nil
	case !errors.Is(err, fs.ErrNotExist):
		return false, fmt.Errorf("stat config file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(config.ExampleYAML()), 0o600); err != nil {
		return false, fmt.Errorf("write example config: %w", err)
	}
	return true, nil
}

func editorCommand(getenv func(string) string, path string) (*exec.Cmd, error) {
	value := "vi"
	for _, key := range []string{"VISUAL", "EDITOR"} {
		if candidate := strings.TrimSpace(getenv(key)); candidate != "" {
			value = candidate
			break
		}
	}
	fields := strings.Fields(value)
	if len(fields) == 0 {
		return nil, errors.New("editor command is empty")
	}
	return exec.Command(fields[0], append(fields[1:], path)...), nil
}

func init() {
	configCmd.AddCommand(configEditCmd)
}
