// Package engine executes validated programs on a modeled memory
// hierarchy: a byte-addressable memory system, a completion-token manager,
// and a cooperative single-threaded scheduler over the task graph.
package engine

import (
	"context"
	"log/slog"
)

// LevelTrace sits below Debug so per-task dispatch logging stays out of
// normal output unless explicitly enabled.
const LevelTrace slog.Level = slog.LevelDebug - 4

// Trace emits a scheduler trace record.
func Trace(msg string, args ...any) {
	slog.Log(context.Background(), LevelTrace, msg, args...)
}
