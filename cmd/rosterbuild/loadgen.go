package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/rosterbuild/internal/loadgen"
)

var (
	loadgenCount       int
	loadgenURL         string
	loadgenConcurrency int
	loadgenDelay       time.Duration
	loadgenSeed        uint64
	loadgenModel       string
	loadgenTimeout     time.Duration
	loadgenOut         string
)

var loadgenCmd = &cobra.Command{
	Use:   "loadgen",
	Short: "Send synthetic roster requests to a running server",
	Long: `Generate random but realistic roster requests and post them to
/build-roster, then print a summary of success rate, latency and output
size. The same --seed always produces the same requests.`,
	RunE: runLoadgen,
}

func init() {
	loadgenCmd.Flags().IntVarP(&loadgenCount, "count", "n", 10, "Number of requests")
	loadgenCmd.Flags().StringVar(&loadgenURL, "url", "http://localhost:8000", "Server base URL")
	loadgenCmd.Flags().IntVar(&loadgenConcurrency, "concurrency", 1, "Requests in flight")
	loadgenCmd.Flags().DurationVar(&loadgenDelay, "delay", time.Second, "Pause between requests per worker")
	loadgenCmd.Flags().Uint64Var(&loadgenSeed, "seed", 0, "Random seed (default: time based)")
	loadgenCmd.Flags().StringVar(&loadgenModel, "model", "", "model_type to send (default: server default)")
	loadgenCmd.Flags().DurationVar(&loadgenTimeout, "timeout", loadgen.DefaultRequestTimeout, "Per-request timeout")
	loadgenCmd.Flags().StringVar(&loadgenOut, "out", "", "Write full results as JSON to this file")
}

func runLoadgen(cmd *cobra.Command, args []string) error {
	if loadgenCount < 1 {
		return fmt.Errorf("--count must be at least 1")
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := loadgen.NewClient(loadgenURL, loadgenTimeout)
	if err := client.Health(ctx); err != nil {
		printStatus("✗", fmt.Sprintf("Server at %s is not healthy: %v", loadgenURL, err), color.FgRed)
		return err
	}
	printStatus("✓", fmt.Sprintf("Server at %s is healthy", loadgenURL), color.FgGreen)

	seed := loadgenSeed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	items := loadgen.NewGenerator(seed).WithModel(loadgenModel).Generate(loadgenCount)
	logger.Info("load run starting", "requests", len(items), "concurrency", loadgenConcurrency, "seed", seed)

	results := loadgen.Run(ctx, client, items, loadgen.Options{
		Concurrency: loadgenConcurrency,
		Delay:       loadgenDelay,
		OnResult: func(r loadgen.Result) {
			req := r.Request
			label := fmt.Sprintf("#%d %s %s (%s)", r.ID, req.Team, req.Season, req.Strategy)
			switch {
			case !r.Response.Success:
				printStatus("✗", label+": "+r.Response.Error, color.FgRed)
			case len(r.Response.DegradedStages) > 0:
				printStatus("!", fmt.Sprintf("%s: %.1fs, degraded %v", label, r.Response.Duration.Seconds(), r.Response.DegradedStages), color.FgYellow)
			default:
				printStatus("✓", fmt.Sprintf("%s: %.1fs, %d chars", label, r.Response.Duration.Seconds(), r.Response.RosterLength), color.FgGreen)
			}
		},
	})

	fmt.Println()
	loadgen.Summarize(results).Write(os.Stdout)

	if loadgenOut != "" {
		if err := loadgen.SaveResults(loadgenOut, results); err != nil {
			return err
		}
		fmt.Printf("\nResults saved to %s\n", loadgenOut)
	}
	return nil
}
