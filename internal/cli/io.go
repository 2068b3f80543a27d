package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/mattn/go-isatty"
)

// IO handles command output with the same LLM-friendly warning visibility
// as the teacher's own CLI: warnings are printed to stderr at both the
// start and end of output, so they survive truncation or a piped `head`.
type IO struct {
	out      io.Writer
	errOut   io.Writer
	warnings []string
	started  bool

	// JSON selects machine-readable output for commands that support the
	// --json flag. When false, commands render a human table instead.
	JSON bool
}

// NewIO creates a new IO instance. out/errOut are plain io.Writers;
// isatty.IsTerminal is used only outside IO (see logging.go), never inside
// IO itself.
func NewIO(out, errOut io.Writer) *IO {
	return &IO{out: out, errOut: errOut}
}

// IsTerminal reports whether fd looks like an interactive terminal, used
// by logging.go to pick the slog handler.
func IsTerminal(fd uintptr) bool {
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// WarnLLM records an actionable warning: what went wrong and what the
// caller should do about it. Any warning raises IO.Finish()'s exit code.
func (o *IO) WarnLLM(issue, action string) {
	o.warnings = append(o.warnings, fmt.Sprintf("%s: %s", issue, action))
}

// Println writes to stdout, flushing any pending start-of-output warnings
// first.
func (o *IO) Println(a ...any) {
	o.flushWarningsStart()
	_, _ = fmt.Fprintln(o.out, a...)
}

// Printf writes formatted output to stdout, flushing pending warnings
// first.
func (o *IO) Printf(format string, a ...any) {
	o.flushWarningsStart()
	_, _ = fmt.Fprintf(o.out, format, a...)
}

// ErrPrintln writes directly to stderr, bypassing the warning-flush
// ordering (used for command errors, which always terminate output).
func (o *IO) ErrPrintln(a ...any) {
	_, _ = fmt.Fprintln(o.errOut, a...)
}

// PrintJSON marshals v as indented JSON to stdout.
func (o *IO) PrintJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	o.flushWarningsStart()
	_, err = fmt.Fprintln(o.out, string(data))
	return err
}

// Finish prints any remaining warnings to stderr and returns the exit
// code: 1 if any warning was recorded, 0 otherwise.
func (o *IO) Finish() int {
	o.flushWarningsStart()

	for _, w := range o.warnings {
		_, _ = fmt.Fprintln(o.errOut, "warning:", w)
	}

	if len(o.warnings) > 0 {
		return 1
	}
	return 0
}

func (o *IO) flushWarningsStart() {
	if !o.started && len(o.warnings) > 0 {
		for _, w := range o.warnings {
			_, _ = fmt.Fprintln(o.errOut, "warning:", w)
		}
		o.started = true
	}
}
