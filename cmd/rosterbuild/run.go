package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/rosterbuild/internal/tui"
	"github.com/ShayCichocki/rosterbuild/pkg/models"
)

var (
	runTeam       string
	runSeason     string
	runStrategy   string
	runPriorities []string
	runCapTarget  string
	runModel      string
	runDeadline   time.Duration
	runTUI        bool
	runJSON       bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Build one roster in the terminal",
	Long: `Run the pipeline once and print the roster plan.

Examples:
  rosterbuild run --team "Las Vegas Aces" --season 2025 --strategy championship
  rosterbuild run --team "Chicago Sky" --season 2025 --strategy rebuild \
      --priority "young talent" --priority defense --cap-target "Under cap" --tui`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runTeam, "team", "", "Team to plan for (required)")
	runCmd.Flags().StringVar(&runSeason, "season", "", "Season, e.g. 2025 (required)")
	runCmd.Flags().StringVar(&runStrategy, "strategy", "", "Team-building strategy (required)")
	runCmd.Flags().StringArrayVar(&runPriorities, "priority", nil, "Priority tag (repeatable)")
	runCmd.Flags().StringVar(&runCapTarget, "cap-target", "", "Salary cap approach")
	runCmd.Flags().StringVar(&runModel, "model", "", "Model backend (default: models.default)")
	runCmd.Flags().DurationVar(&runDeadline, "deadline", 0, "Run deadline (default: pipeline.deadline)")
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "Show live stage progress")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Print the outcome as JSON")
	_ = runCmd.MarkFlagRequired("team")
	_ = runCmd.MarkFlagRequired("season")
	_ = runCmd.MarkFlagRequired("strategy")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg := appConfig
	req := models.Request{
		Team:       runTeam,
		Season:     runSeason,
		Strategy:   runStrategy,
		Priorities: runPriorities,
		CapTarget:  runCapTarget,
		ModelType:  runModel,
	}
	if req.ModelType == "" {
		req.ModelType = cfg.Models.Default
	}
	deadline := runDeadline
	if deadline <= 0 {
		deadline = cfg.Pipeline.Deadline
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := appOptions{}
	if runTUI {
		opts.eventBuffer = 64
	}
	a, err := newApp(ctx, cfg, logger, opts)
	if err != nil {
		return err
	}
	defer a.close()

	var out models.Outcome
	if runTUI {
		out, err = runWithTUI(ctx, a, req, deadline)
		if err != nil {
			return err
		}
	} else {
		out = a.envelope.Run(ctx, req, deadline)
	}

	if runJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return err
		}
	} else {
		printOutcome(out)
	}

	if !out.Succeeded() {
		return fmt.Errorf("run %s: %s", out.Kind, out.Description)
	}
	return nil
}

// runWithTUI drives the live view while the run executes. Quitting the view
// cancels the run.
func runWithTUI(ctx context.Context, a *app, req models.Request, deadline time.Duration) (models.Outcome, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	title := fmt.Sprintf("%s %s (%s)", req.Team, req.Season, req.Strategy)
	program, view := tui.NewRunProgram(title, a.orch.Stages(), tea.WithAltScreen())
	view.SetCancel(cancel)

	go tui.Forward(a.events.Events(), program.Send)

	result := make(chan models.Outcome, 1)
	go func() {
		out := a.envelope.Run(ctx, req, deadline)
		result <- out
		program.Send(tui.DoneMsg{Outcome: out})
	}()

	if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		cancel()
		<-result
		return models.Outcome{}, fmt.Errorf("tui: %w", err)
	}
	cancel()
	return <-result, nil
}

func printOutcome(out models.Outcome) {
	switch out.Kind {
	case models.OutcomeSuccess:
		printStatus("✓", fmt.Sprintf("Roster built with %s in %s (run %s)",
			out.ModelUsed, out.Duration.Round(time.Millisecond), out.RunID), color.FgGreen)
		for _, stage := range out.Degraded {
			printStatus("!", fmt.Sprintf("%s degraded", stage), color.FgYellow)
		}
		fmt.Println()
		fmt.Println(out.Artifact)
	case models.OutcomeTimeout:
		printStatus("⏱", out.Description, color.FgYellow)
	default:
		printStatus("✗", out.Description, color.FgRed)
	}
}

// printStatus prints a status line with a colored symbol
func printStatus(symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Printf("%s %s\n", c.Sprint(symbol), message)
}
