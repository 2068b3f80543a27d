// Package cli implements the kanban-workflow command surface: one Command
// per external operation, dispatched by a top-level Run the same shape as
// the teacher's own CLI front door, adapted to this repository's closed
// exit-code scheme (0 success, 1 user-visible failure, 2 unknown command).
package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/clawban/kanban-workflow/clawerr"
)

// Command defines a CLI command with unified help generation and error
// presentation.
type Command struct {
	// Flags defines command-specific flags. The FlagSet's own name is
	// never shown; command identity comes from Usage.
	Flags *flag.FlagSet

	// Usage is the freeform usage string shown after "kanban-workflow" in
	// help, e.g. "start --id <id>".
	Usage string

	// Short is a one-line description for the global help listing.
	Short string

	// Long is the full description shown in command help. Short is used
	// when Long is empty.
	Long string

	// Exec runs the command after flags are parsed.
	Exec func(ctx context.Context, o *IO, args []string) error
}

// Name returns the command name: the first word of Usage.
func (c *Command) Name() string {
	name, _, _ := strings.Cut(c.Usage, " ")
	return name
}

// HelpLine returns the short help line shown in the global usage listing.
func (c *Command) HelpLine() string {
	return fmt.Sprintf("  %-28s %s", c.Usage, c.Short)
}

// PrintHelp prints the full help text for "kanban-workflow <cmd> --help".
func (c *Command) PrintHelp(o *IO) {
	o.Println("Usage: kanban-workflow", c.Usage)
	o.Println()

	desc := c.Long
	if desc == "" {
		desc = c.Short
	}
	o.Println(desc)

	if c.Flags != nil && c.Flags.HasFlags() {
		o.Println()
		o.Println("Flags:")
		var buf strings.Builder
		c.Flags.SetOutput(&buf)
		c.Flags.PrintDefaults()
		o.Printf("%s", buf.String())
	}
}

// Run parses flags and executes the command, returning a 0/1 exit code.
// Command-internal failures are always user-visible (exit 1); unknown
// command resolution happens one level up, in Run's dispatcher.
func (c *Command) Run(ctx context.Context, o *IO, args []string) int {
	c.Flags.SetOutput(&strings.Builder{})

	if err := c.Flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			c.PrintHelp(o)
			return 0
		}
		o.ErrPrintln("error:", err)
		return 1
	}

	if err := c.Exec(ctx, o, c.Flags.Args()); err != nil {
		presentError(o, err)
		return 1
	}

	return 0
}

// presentError writes err's message to stderr and, when err carries a
// clawerr.Error, follows it with a "what next" hint line.
func presentError(o *IO, err error) {
	o.ErrPrintln("error:", err)

	var ce *clawerr.Error
	if errors.As(err, &ce) && ce.Hint != "" {
		o.ErrPrintln("what next:", ce.Hint)
	}
}
