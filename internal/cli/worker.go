package cli

import (
	"os"
	"time"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/clawban/kanban-workflow/internal/workerrunner"
)

// Environment variables read only by the worker runner, per the external
// interfaces list: the dispatcher core never reads them directly.
const (
	anthropicAPIKeyEnv = "ANTHROPIC_API_KEY"
	agentPathEnv       = "KANBAN_WORKFLOW_AGENT_PATH"
)

// buildWorkerRunner resolves auto mode the same way the teacher's spawner
// factory does: API when an Anthropic key is present, CLI otherwise. agent
// overrides the CLI binary path; an empty value falls back to
// KANBAN_WORKFLOW_AGENT_PATH, then to "claude" on PATH.
func buildWorkerRunner(agent string) (workerrunner.Runner, error) {
	mode := workerrunner.ResolveMode(workerrunner.ModeAuto, anthropicAPIKeyEnv)
	if mode == workerrunner.ModeAPI {
		return workerrunner.NewAPIRunner(anthropicAPIKeyEnv, anthropic.Model(""), 0)
	}

	binary := agent
	if binary == "" {
		binary = os.Getenv(agentPathEnv)
	}
	if binary == "" {
		binary = "claude"
	}
	return workerrunner.NewCLIRunner(binary, []string{"--print"}, 30*time.Minute), nil
}
