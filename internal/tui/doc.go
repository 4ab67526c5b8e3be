// Package tui provides the live terminal view for a single roster build.
//
// The view lists every stage with its status, a progress bar, and a short
// activity log fed by orchestrator events. It is read-only: q or Ctrl+C
// cancels a run in flight, or exits once the outcome is shown.
//
// Usage:
//
//	program, app := tui.NewRunProgram("Las Vegas Aces 2025", stageNames)
//	app.SetCancel(cancel)
//	go tui.Forward(emitter.Events(), program.Send)
//	go func() {
//	    out := envelope.Run(ctx, req, deadline)
//	    program.Send(tui.DoneMsg{Outcome: out})
//	}()
//	_, err := program.Run()
package tui
