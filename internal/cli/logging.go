package cli

import (
	"log/slog"
	"os"
)

// newLogger builds the process-wide logger: a JSON handler for
// non-interactive invocations (piped output, cron-dispatch under a
// scheduler) and a text handler when errOut is an interactive terminal,
// matching the teacher's own interactive-vs-piped presentation split.
func newLogger(errOut *os.File) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}

	if errOut != nil && IsTerminal(errOut.Fd()) {
		return slog.New(slog.NewTextHandler(errOut, opts))
	}

	out := errOut
	if out == nil {
		out = os.Stderr
	}
	return slog.New(slog.NewJSONHandler(out, opts))
}
