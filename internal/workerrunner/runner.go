// Package workerrunner dispatches the worker agent's turn, either as a
// subprocess CLI invocation or as a direct Anthropic API call, behind one
// Runner interface so the rest of the autopilot never cares which mode is
// active.
package workerrunner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/clawban/kanban-workflow/clawerr"
)

// Mode selects how the worker's turn is dispatched.
type Mode string

const (
	ModeCLI  Mode = "cli"
	ModeAPI  Mode = "api"
	ModeAuto Mode = "auto"
)

// Result is one worker turn's raw output.
type Result struct {
	Output   string
	Duration time.Duration
}

// Runner dispatches one worker turn given the rendered instruction text.
type Runner interface {
	Run(ctx context.Context, instruction string, workDir string) (Result, error)
}

// ResolveMode turns ModeAuto into a concrete mode: API mode is chosen when
// an API key is present in the environment, otherwise CLI mode, mirroring
// how an operator without API credentials still gets a working setup as
// long as the CLI binary is on PATH.
func ResolveMode(mode Mode, apiKeyEnv string) Mode {
	if mode != ModeAuto {
		return mode
	}
	if apiKeyEnv != "" && os.Getenv(apiKeyEnv) != "" {
		return ModeAPI
	}
	return ModeCLI
}

// CLIRunner dispatches a worker turn by shelling out to a CLI binary
// (e.g. `claude --print`), writing the instruction on stdin and capturing
// stdout as the worker's response.
type CLIRunner struct {
	BinaryPath string
	Args       []string
	Timeout    time.Duration
}

// NewCLIRunner resolves binaryName via PATH if it isn't already absolute.
func NewCLIRunner(binaryName string, args []string, timeout time.Duration) *CLIRunner {
	path := binaryName
	if resolved, err := exec.LookPath(binaryName); err == nil {
		path = resolved
	}
	return &CLIRunner{BinaryPath: path, Args: args, Timeout: timeout}
}

// Run executes the CLI with instruction on stdin. A missing binary and a
// non-zero exit are both reported as clawerr.KindAdapterCLI so the CLI
// presentation layer can offer the same "install X and ensure on PATH" or
// "run manually to see full error" hints as the platform adapters do.
func (r *CLIRunner) Run(ctx context.Context, instruction string, workDir string) (Result, error) {
	start := time.Now()

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.BinaryPath, r.Args...)
	cmd.Dir = workDir
	cmd.Stdin = strings.NewReader(instruction)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return Result{}, clawerr.Wrap(clawerr.KindAdapterCLI, fmt.Sprintf("launching worker binary %s", r.BinaryPath), err).
				WithHint(fmt.Sprintf("install %s and ensure it is on PATH", r.BinaryPath))
		}
		return Result{}, clawerr.Wrap(clawerr.KindAdapterCLI, "worker process exited with an error", fmt.Errorf("%w: %s", err, stderr.String())).
			WithHint("run the worker command manually to see the full error")
	}

	return Result{Output: stdout.String(), Duration: time.Since(start)}, nil
}
