// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"librifetch/pkg/datasets"
)

// DefaultConfig returns the default configuration.
func DefaultConfig() map[string]any {
	return map[string]any{
		"data-dir":        "data",
		"work-dir":        "",
		"keep-archives":   false,
		"retries":         4,
		"backoff-initial": "400ms",
		"backoff-max":     "10s",
	}
}

// applySettingsDefaults fills Settings from (in order of precedence)
// CLI flags, the config file, and LIBRIFETCH_* environment variables.
// A .env file in the working directory is honored for the env step.
func applySettingsDefaults(cmd *cobra.Command, ro *RootOpts, dst *datasets.Settings) error {
	// .env is optional; missing file is not an error
	_ = godotenv.Load()

	cfg, err := loadConfigFile(ro.Config)
	if err != nil {
		return err
	}

	setStr := func(flagName, envName string, set func(string)) {
		if cmd.Flags().Changed(flagName) {
			return
		}
		if v, ok := cfg[flagName]; ok && v != nil {
			set(fmt.Sprint(v))
			return
		}
		if envName != "" {
			if v := os.Getenv(envName); v != "" {
				set(v)
			}
		}
	}
	setInt := func(flagName string, set func(int)) {
		if cmd.Flags().Changed(flagName) {
			return
		}
		if v, ok := cfg[flagName]; ok && v != nil {
			var x int
			fmt.Sscan(fmt.Sprint(v), &x)
			set(x)
		}
	}
	setBool := func(flagName string, set func(bool)) {
		if cmd.Flags().Changed(flagName) {
			return
		}
		if v, ok := cfg[flagName]; ok && v != nil {
			set(fmt.Sprint(v) == "true")
		}
	}

	setStr("data-dir", "LIBRIFETCH_DATA_DIR", func(v string) { dst.DataDir = v })
	setStr("work-dir", "LIBRIFETCH_WORK_DIR", func(v string) { dst.WorkDir = v })
	setBool("keep-archives", func(v bool) { dst.KeepArchives = v })
	setInt("retries", func(v int) { dst.Retries = v })
	setStr("backoff-initial", "", func(v string) { dst.BackoffInitial = v })
	setStr("backoff-max", "", func(v string) { dst.BackoffMax = v })

	return nil
}

// defaultConfigPath checks ~/.config/librifetch.{json,yaml,yml} in order and
// returns the first file that exists. When none exist, it returns the .json
// path (where `config init` would create one) and found == false.
func defaultConfigPath() (path string, found bool) {
	home, _ := os.UserHomeDir()
	configDir := filepath.Join(home, ".config")
	for _, name := range []string{"librifetch.json", "librifetch.yaml", "librifetch.yml"} {
		p := filepath.Join(configDir, name)
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}
	return filepath.Join(configDir, "librifetch.json"), false
}

// loadConfigFile reads the config file at path, or the default
// ~/.config/librifetch.{json,yaml,yml} when path is empty. A missing file
// yields an empty map.
func loadConfigFile(path string) (map[string]any, error) {
	if path == "" {
		p, found := defaultConfigPath()
		if !found {
			return map[string]any{}, nil
		}
		path = p
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg map[string]any
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("invalid YAML config file: %w", err)
		}
	default: // .json or unknown
		if err := json.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("invalid JSON config file: %w", err)
		}
	}
	if cfg == nil {
		cfg = map[string]any{}
	}
	return cfg, nil
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigPathCmd())

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var (
		force   bool
		useYAML bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a default configuration file",
		Long: `Creates a default configuration file at ~/.config/librifetch.json (or .yaml)

The configuration file sets default values for all command flags.
CLI flags always override config file values.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := os.UserHomeDir()
			if err != nil {
				return fmt.Errorf("could not find home directory: %w", err)
			}

			configDir := filepath.Join(home, ".config")
			ext := ".json"
			if useYAML {
				ext = ".yaml"
			}
			configPath := filepath.Join(configDir, "librifetch"+ext)

			if _, err := os.Stat(configPath); err == nil && !force {
				return fmt.Errorf("config file already exists: %s\nUse --force to overwrite", configPath)
			}

			if err := os.MkdirAll(configDir, 0o755); err != nil {
				return fmt.Errorf("could not create config directory: %w", err)
			}

			cfg := DefaultConfig()
			var data []byte
			if useYAML {
				data, err = yaml.Marshal(cfg)
			} else {
				data, err = json.MarshalIndent(cfg, "", "  ")
			}
			if err != nil {
				return err
			}

			if err := os.WriteFile(configPath, data, 0o644); err != nil {
				return fmt.Errorf("could not write config file: %w", err)
			}

			fmt.Printf("Created config file: %s\n", configPath)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing config file")
	cmd.Flags().BoolVar(&useYAML, "yaml", false, "Create YAML config instead of JSON")

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, found := defaultConfigPath()
			if !found {
				fmt.Println("No config file found.")
				fmt.Printf("Run 'librifetch config init' to create one at:\n  %s\n", configPath)
				return nil
			}

			data, err := os.ReadFile(configPath)
			if err != nil {
				return err
			}

			fmt.Printf("Config file: %s\n\n", configPath)
			fmt.Println(string(data))

			return nil
		},
	}
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Run: func(cmd *cobra.Command, args []string) {
			configPath, _ := defaultConfigPath()
			fmt.Println(configPath)
		},
	}
}
