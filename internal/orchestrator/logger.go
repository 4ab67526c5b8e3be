package orchestrator

import (
	"fmt"
	"io"
	"log/slog"
)

// debugLogger adapts l to the printf-style hook used by the graph and the
// event emitter. A nil logger yields a no-op.
func debugLogger(l *slog.Logger, component string) func(format string, args ...interface{}) {
	if l == nil {
		return func(string, ...interface{}) {}
	}
	return func(format string, args ...interface{}) {
		l.Debug(fmt.Sprintf(format, args...), "component", component)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
