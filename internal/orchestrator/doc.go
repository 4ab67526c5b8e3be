// Package orchestrator runs a fixed set of analysis stages as a dependency graph.
//
// The orchestrator package provides functionality for:
//   - Scheduling: stages with satisfied dependencies start concurrently, and each
//     completion immediately promotes any stage it unblocks
//   - Result state: one write-once output slot per stage plus an append-only message log
//   - Failure isolation: a stage that errors or panics records a degraded placeholder
//     instead of aborting the run
//
// A run is done when the single terminal stage (the graph's only sink) is done.
// The caller bounds the run with its context; cancellation abandons in-flight
// stages and Run returns the context error.
//
// Example usage:
//
//	orch, err := orchestrator.New([]orchestrator.Stage{
//		{Name: "a", Run: runA},
//		{Name: "b", Run: runB},
//		{Name: "c", DependsOn: []string{"a", "b"}, Run: runC},
//	})
//	results, err := orch.Run(ctx, req)
//	final, _ := results.Get(orch.Terminal())
package orchestrator
