package loadgen

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
)

// Summary aggregates a load run.
type Summary struct {
	Total          int
	Successful     int
	Failed         int
	Degraded       int
	TotalDuration  time.Duration
	AvgDuration    time.Duration
	TotalChars     int
	AvgChars       float64
	TeamCounts     map[string]int
	StrategyCounts map[string]int
}

// SuccessRate is the successful share in percent.
func (s Summary) SuccessRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Successful) / float64(s.Total) * 100
}

// Summarize computes the summary of results.
func Summarize(results []Result) Summary {
	s := Summary{
		Total:          len(results),
		TeamCounts:     make(map[string]int),
		StrategyCounts: make(map[string]int),
	}
	for _, r := range results {
		s.TotalDuration += r.Response.Duration
		s.TeamCounts[r.Request.Team]++
		s.StrategyCounts[r.Request.Strategy]++
		if !r.Response.Success {
			s.Failed++
			continue
		}
		s.Successful++
		s.TotalChars += r.Response.RosterLength
		if len(r.Response.DegradedStages) > 0 {
			s.Degraded++
		}
	}
	if s.Total > 0 {
		s.AvgDuration = s.TotalDuration / time.Duration(s.Total)
	}
	if s.Successful > 0 {
		s.AvgChars = float64(s.TotalChars) / float64(s.Successful)
	}
	return s
}

// Write prints the summary in a human-readable form.
func (s Summary) Write(w io.Writer) {
	fmt.Fprintln(w, "WNBA ROSTER BUILDER SUMMARY")
	fmt.Fprintln(w, strings.Repeat("=", 60))
	fmt.Fprintf(w, "Total Requests: %d\n", s.Total)
	fmt.Fprintf(w, "Successful: %d\n", s.Successful)
	fmt.Fprintf(w, "Failed: %d\n", s.Failed)
	fmt.Fprintf(w, "Degraded: %d\n", s.Degraded)
	fmt.Fprintf(w, "Success Rate: %.1f%%\n", s.SuccessRate())
	fmt.Fprintf(w, "Average Duration: %.1f seconds\n", s.AvgDuration.Seconds())
	fmt.Fprintf(w, "Total Characters Generated: %d\n", s.TotalChars)
	fmt.Fprintf(w, "Average Characters per Roster: %.0f\n", s.AvgChars)
	fmt.Fprintf(w, "Total Test Duration: %.1f seconds\n", s.TotalDuration.Seconds())

	fmt.Fprintln(w)
	fmt.Fprintln(w, "TEAM DISTRIBUTION:")
	writeCounts(w, s.TeamCounts)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "STRATEGY DISTRIBUTION:")
	writeCounts(w, s.StrategyCounts)
}

func writeCounts(w io.Writer, counts map[string]int) {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "   %s: %d requests\n", k, counts[k])
	}
}
