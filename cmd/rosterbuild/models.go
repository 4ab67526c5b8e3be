package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List model backends and local Ollama models",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := appConfig
		reg := newRegistry(cmd.Context(), cfg, logger)

		fmt.Println("Backends:")
		for _, name := range reg.Names() {
			marker := " "
			if name == cfg.Models.Default {
				marker = "*"
			}
			fmt.Printf("  %s %s\n", marker, name)
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		local, err := newOllamaClient(cfg).ListModels(ctx)
		if err != nil {
			fmt.Println()
			printStatus("!", fmt.Sprintf("Ollama at %s: %v", cfg.Ollama.BaseURL, err), color.FgYellow)
			return nil
		}

		fmt.Printf("\nOllama models (%s):\n", cfg.Ollama.BaseURL)
		for _, m := range local {
			marker := " "
			if m == cfg.Ollama.Model {
				marker = "*"
			}
			fmt.Printf("  %s %s\n", marker, m)
		}
		return nil
	},
}
