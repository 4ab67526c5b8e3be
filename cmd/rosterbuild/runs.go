package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/rosterbuild/internal/loadgen"
)

var (
	runsURL   string
	runsLimit int
)

// The run ledger is in-memory, so this reads it from a running server.
var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent runs from a running server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		runs, err := loadgen.NewClient(runsURL, 0).Runs(ctx, runsLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No runs recorded yet.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTARTED\tTEAM\tSEASON\tMODEL\tKIND\tDURATION\tDEGRADED")
		for _, r := range runs {
			degraded := "-"
			if len(r.Degraded) > 0 {
				degraded = strings.Join(r.Degraded, ",")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				r.ID, r.StartedAt.Local().Format(time.DateTime), r.Team, r.Season,
				r.ModelType, r.Kind, r.Duration.Round(time.Millisecond), degraded)
		}
		return w.Flush()
	},
}

func init() {
	runsCmd.Flags().StringVar(&runsURL, "url", "http://localhost:8000", "Server base URL")
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "Number of runs to show")
}
