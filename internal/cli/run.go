package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	flag "github.com/spf13/pflag"
)

// Run is the top-level entry point: parses the global flags, builds the
// command table, dispatches, and returns the process exit code. Exit codes
// follow the closed scheme this repository defines: 0 success, 1 any
// user-visible failure, 2 unknown command.
func Run(_ io.Reader, out, errOut io.Writer, args []string, env map[string]string, sigCh <-chan os.Signal) int {
	globalFlags := flag.NewFlagSet("kanban-workflow", flag.ContinueOnError)
	globalFlags.SetInterspersed(false)
	globalFlags.Usage = func() {}
	globalFlags.SetOutput(&strings.Builder{})
	flagHelp := globalFlags.BoolP("help", "h", false, "show help")
	flagJSON := globalFlags.Bool("json", false, "machine-readable JSON output")

	if err := globalFlags.Parse(args[1:]); err != nil {
		fprintln(errOut, "error:", err)
		printGlobalOptions(errOut)
		return 1
	}

	logger := newLogger(asFile(errOut))
	commands := allCommands(logger)

	commandMap := make(map[string]*Command, len(commands))
	for _, cmd := range commands {
		commandMap[cmd.Name()] = cmd
	}

	commandAndArgs := globalFlags.Args()

	if *flagHelp || (len(commandAndArgs) == 0 && globalFlags.NFlag() == 0) {
		printUsage(out, commands)
		return 0
	}

	if len(commandAndArgs) == 0 {
		fprintln(errOut, "error: no command provided")
		printUsage(errOut, commands)
		return 1
	}

	cmdName := commandAndArgs[0]
	cmd, ok := commandMap[cmdName]
	if !ok {
		fprintln(errOut, "error: unknown command:", cmdName)
		printUsage(errOut, commands)
		return 2
	}

	cmdIO := NewIO(out, errOut)
	cmdIO.JSON = *flagJSON

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan int, 1)
	go func() {
		done <- cmd.Run(ctx, cmdIO, commandAndArgs[1:])
	}()

	select {
	case exitCode := <-done:
		if exitCode != 0 {
			return exitCode
		}
		return cmdIO.Finish()
	case <-sigCh:
		fprintln(errOut, "shutting down with 5s timeout...")
		cancel()
	}

	select {
	case <-done:
		fprintln(errOut, "graceful shutdown ok (130)")
		return 130
	case <-time.After(5 * time.Second):
		fprintln(errOut, "graceful shutdown timed out, forced exit (130)")
		return 130
	case <-sigCh:
		fprintln(errOut, "graceful shutdown interrupted, forced exit (130)")
		return 130
	}
}

// allCommands returns every command in display order.
func allCommands(logger *slog.Logger) []*Command {
	return []*Command{
		SetupCmd(),
		NextCmd(),
		ShowCmd(),
		StartCmd(),
		UpdateCmd(),
		AskCmd(),
		CompleteCmd(),
		CreateCmd(),
		AutopilotTickCmd(logger),
		CronDispatchCmd(logger),
	}
}

func fprintln(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}

// asFile returns w as an *os.File when it is one, so newLogger can probe
// whether it is an interactive terminal; any other io.Writer (a buffer in
// tests, for instance) is treated as non-interactive.
func asFile(w io.Writer) *os.File {
	f, _ := w.(*os.File)
	return f
}

const globalOptionsHelp = `  -h, --help    show help
  --json        machine-readable JSON output`

func printGlobalOptions(w io.Writer) {
	fprintln(w, "Usage: kanban-workflow [flags] <command> [args]")
	fprintln(w)
	fprintln(w, "Global flags:")
	fprintln(w, globalOptionsHelp)
	fprintln(w)
	fprintln(w, "Run 'kanban-workflow --help' for a list of commands.")
}

func printUsage(w io.Writer, commands []*Command) {
	fprintln(w, "kanban-workflow - autopilot for a kanban-style work queue")
	fprintln(w)
	fprintln(w, "Usage: kanban-workflow [flags] <command> [args]")
	fprintln(w)
	fprintln(w, "Flags:")
	fprintln(w, globalOptionsHelp)
	fprintln(w)
	fprintln(w, "Commands:")

	for _, cmd := range commands {
		fprintln(w, cmd.HelpLine())
	}
}
