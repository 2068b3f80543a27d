// Command kanban-workflow drives a single kanban ticket through an
// autopilot loop: pick the next assigned backlog item, dispatch a worker
// agent against it, and fold the worker's terminal command back into both
// the platform board and this process's own session bookkeeping.
package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/clawban/kanban-workflow/internal/cli"
)

func main() {
	environ := os.Environ()
	env := make(map[string]string, len(environ))
	for _, e := range environ {
		if k, v, ok := strings.Cut(e, "="); ok {
			env[k] = v
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	exitCode := cli.Run(os.Stdin, os.Stdout, os.Stderr, os.Args, env, sigCh)
	os.Exit(exitCode)
}
