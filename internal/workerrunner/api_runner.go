package workerrunner

import (
	"context"
	"os"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/clawban/kanban-workflow/clawerr"
)

// DefaultAPIModel is used when the caller does not override it.
const DefaultAPIModel = anthropic.Model("claude-sonnet-4-5")

// DefaultMaxTokens bounds a single worker turn's reply.
const DefaultMaxTokens int64 = 8192

// APIRunner dispatches a worker turn as a single-shot message to the
// Anthropic API, for operators who would rather not shell out to a local
// CLI binary.
type APIRunner struct {
	client  anthropic.Client
	model   anthropic.Model
	timeout time.Duration
}

// NewAPIRunner builds a runner from an API key read out of apiKeyEnv. A
// missing key is not validated here; it surfaces as an API auth error on
// the first call, the same way a malformed key would.
func NewAPIRunner(apiKeyEnv string, model anthropic.Model, timeout time.Duration) (*APIRunner, error) {
	if model == "" {
		model = DefaultAPIModel
	}
	client := anthropic.NewClient(option.WithAPIKey(os.Getenv(apiKeyEnv)))
	return &APIRunner{client: client, model: model, timeout: timeout}, nil
}

// Run sends instruction as a single user message and returns the model's
// text reply as the worker's output.
func (r *APIRunner) Run(ctx context.Context, instruction string, workDir string) (Result, error) {
	start := time.Now()

	timeout := r.timeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msg, err := r.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     r.model,
		MaxTokens: DefaultMaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(instruction)),
		},
	})
	if err != nil {
		return Result{}, clawerr.Wrap(clawerr.KindAdapterProtocol, "calling the Anthropic API for the worker turn", err)
	}

	var text string
	for _, block := range msg.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			text += tb.Text
		}
	}

	return Result{Output: text, Duration: time.Since(start)}, nil
}
