package adapter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/clawban/kanban-workflow/clawerr"
)

// RunCLI runs name with args, capturing stdout and stderr separately. It
// translates a missing binary or non-zero exit into an AdapterCliError
// (clawerr.KindAdapterCLI) carrying the command line and stderr, the same
// shape the teacher's git worktree manager uses for its own subprocess
// calls, generalized here to any platform CLI (gh, linear-cli, ...).
func RunCLI(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), nil
	}

	commandLine := strings.Join(append([]string{name}, args...), " ")

	var execErr *exec.Error
	if errors.As(err, &execErr) {
		return nil, clawerr.Wrap(clawerr.KindAdapterCLI,
			fmt.Sprintf("%s is not on PATH", name), err).
			WithHint(fmt.Sprintf("install %s and ensure it is on PATH", name))
	}

	return nil, clawerr.Wrap(clawerr.KindAdapterCLI,
		fmt.Sprintf("command failed: %s", commandLine),
		fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))).
		WithHint(fmt.Sprintf("run %q manually to see the full error", commandLine))
}
