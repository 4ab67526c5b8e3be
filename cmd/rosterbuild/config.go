package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/rosterbuild/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify rosterbuild configuration.

Without arguments, displays every key and its effective value.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the value in the user config file.

Configuration is stored at ~/.config/rosterbuild/config.yaml
Project-specific overrides can be placed in .rosterbuild.yaml
Environment variables use the ROSTERBUILD_ prefix, e.g.
ROSTERBUILD_PIPELINE_DEADLINE=90s. API keys are also read from
OPENAI_API_KEY, ANTHROPIC_API_KEY and TAVILY_API_KEY.`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		switch len(args) {
		case 0:
			return displayAllConfig(appConfig)
		case 1:
			value, err := config.GetKey(appConfig, args[0])
			if err != nil {
				return err
			}
			fmt.Println(formatValue(value))
			return nil
		default:
			return setConfigKey(args[0], args[1])
		}
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show which config files are in use",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("user:    %s\n", config.GetUserConfigPath())
		project := config.GetProjectConfigPath()
		if project == "" {
			project = "(none)"
		}
		fmt.Printf("project: %s\n", project)
		active := config.ActiveConfigPath()
		if configPath != "" {
			active = configPath
		}
		if active == "" {
			active = "(defaults only)"
		}
		fmt.Printf("active:  %s\n", active)
	},
}

func init() {
	configCmd.AddCommand(configPathCmd)
}

// displayAllConfig prints all configuration values. API keys are masked.
func displayAllConfig(cfg *config.Config) error {
	for _, key := range config.Keys() {
		value, err := config.GetKey(cfg, key)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s\n", key, formatValue(value))
	}
	return nil
}

// setConfigKey writes key to the --config file, or the user config file.
func setConfigKey(key, value string) error {
	path := configPath
	if path == "" {
		path = config.GetUserConfigPath()
	}
	if err := config.SetKey(path, key, value); err != nil {
		return err
	}

	// Validate what the change produces before declaring success.
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		printStatus("!", fmt.Sprintf("Saved, but the config is now invalid: %v", err), color.FgYellow)
		return nil
	}
	printStatus("✓", fmt.Sprintf("Set %s = %s in %s", key, value, path), color.FgGreen)
	return nil
}

func formatValue(v any) string {
	if v == nil {
		return "(not set)"
	}
	return fmt.Sprint(v)
}
