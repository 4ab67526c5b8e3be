package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/rosterbuild/internal/health"
	"github.com/ShayCichocki/rosterbuild/internal/loadgen"
)

var (
	healthURL     string
	healthTimeout time.Duration
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check model backend reachability",
	Long: `Probe every configured model backend and report which are reachable.

With --url the probe runs on a live server via GET /models/health;
otherwise the backends are probed directly from this machine.`,
	RunE: runHealth,
}

func init() {
	healthCmd.Flags().StringVar(&healthURL, "url", "", "Server base URL (default: probe locally)")
	healthCmd.Flags().DurationVar(&healthTimeout, "timeout", health.DefaultTimeout, "Per-backend probe timeout")
}

func runHealth(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	var status map[string]bool
	var available []string
	if healthURL != "" {
		remote, err := remoteHealth(ctx, healthURL)
		if err != nil {
			return err
		}
		status, available = remote.Status, remote.Available
	} else {
		checker := health.NewChecker(healthTimeout)
		checker.AddProviders(newRegistry(ctx, appConfig, logger))
		report := checker.Check(ctx)
		status, available = report.Status, report.Available
	}

	names := make([]string, 0, len(status))
	for name := range status {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if status[name] {
			printStatus("✓", name, color.FgGreen)
		} else {
			printStatus("✗", name+" unreachable", color.FgRed)
		}
	}

	if len(available) == 0 {
		return fmt.Errorf("no model backend is reachable")
	}
	return nil
}

// remoteHealth unpacks the flattened /models/health body.
func remoteHealth(ctx context.Context, baseURL string) (health.Report, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	body, err := loadgen.NewClient(baseURL, 0).ModelsHealth(ctx)
	if err != nil {
		return health.Report{}, err
	}
	report := health.Report{Status: make(map[string]bool)}
	for k, v := range body {
		switch val := v.(type) {
		case bool:
			report.Status[k] = val
		case []any:
			for _, m := range val {
				if s, ok := m.(string); ok {
					report.Available = append(report.Available, s)
				}
			}
		}
	}
	return report, nil
}
