package loadgen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/ShayCichocki/rosterbuild/pkg/models"
)

// Builder is what the runner drives. *Client implements it.
type Builder interface {
	BuildRoster(ctx context.Context, r models.Request) (Response, error)
}

// Outcome is the measured reply to one generated request.
type Outcome struct {
	Success        bool          `json:"success"`
	Duration       time.Duration `json:"duration"`
	RosterLength   int           `json:"roster_length"`
	Result         string        `json:"result,omitempty"`
	AgentType      string        `json:"agent_type,omitempty"`
	DegradedStages []string      `json:"degraded_stages,omitempty"`
	Error          string        `json:"error,omitempty"`
}

// Result pairs a generated item with its outcome.
type Result struct {
	Item
	Response Outcome `json:"response"`
}

// Options controls a load run.
type Options struct {
	// Concurrency is the number of requests in flight. Values below 1 mean 1.
	Concurrency int
	// Delay is the pause each worker takes between requests.
	Delay time.Duration
	// OnResult is called after every request, from the worker goroutine.
	OnResult func(Result)
}

// Run sends every item through b and returns results in item order.
// Cancelling ctx stops dispatching; items never sent are reported as failed.
func Run(ctx context.Context, b Builder, items []Item, opts Options) []Result {
	workers := opts.Concurrency
	if workers < 1 {
		workers = 1
	}

	results := make([]Result, len(items))
	jobs := make(chan int)
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				res := Result{Item: items[i], Response: send(ctx, b, items[i].Request)}
				results[i] = res
				if opts.OnResult != nil {
					opts.OnResult(res)
				}
				if opts.Delay > 0 {
					select {
					case <-ctx.Done():
					case <-time.After(opts.Delay):
					}
				}
			}
		}()
	}

	sent := 0
dispatch:
	for i := range items {
		if ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
			break dispatch
		case jobs <- i:
			sent++
		}
	}
	close(jobs)
	wg.Wait()

	for i := sent; i < len(items); i++ {
		results[i] = Result{Item: items[i], Response: Outcome{Error: "not sent: " + ctx.Err().Error()}}
	}
	return results
}

func send(ctx context.Context, b Builder, req models.Request) Outcome {
	start := time.Now()
	resp, err := b.BuildRoster(ctx, req)
	elapsed := time.Since(start)
	if err != nil {
		msg := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			msg = "Request timeout"
		}
		return Outcome{Duration: elapsed, Error: msg}
	}
	return Outcome{
		Success:        true,
		Duration:       elapsed,
		RosterLength:   utf8.RuneCountInString(resp.Result),
		Result:         resp.Result,
		AgentType:      resp.AgentType,
		DegradedStages: resp.DegradedStages,
	}
}

// SaveResults writes results as indented JSON.
func SaveResults(path string, results []Result) error {
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write results: %w", err)
	}
	return nil
}
