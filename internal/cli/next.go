package cli

import (
	"context"
	"fmt"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/clawban/kanban-workflow/clawerr"
	"github.com/clawban/kanban-workflow/kanban"
)

// NextCmd prints the next backlog ticket's details as JSON. It is a pure
// read: no stage is mutated. It is a WorkflowViolation to call it while
// anything is in-progress.
func NextCmd() *Command {
	flags := flag.NewFlagSet("next", flag.ContinueOnError)
	configPath := flags.String("config", DefaultConfigPath, "configuration file")

	return &Command{
		Flags: flags,
		Usage: "next",
		Short: "print the next backlog ticket's details",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			a, err := loadApp(*configPath)
			if err != nil {
				return err
			}

			inProgress, err := a.adapter.ListIDsByStage(ctx, kanban.StageInProgress)
			if err != nil {
				return clawerr.Wrap(clawerr.KindAdapterProtocol, "listing in-progress items", err)
			}
			if len(inProgress) > 0 {
				return clawerr.New(clawerr.KindWorkflow, fmt.Sprintf("next: %d ticket(s) already in progress", len(inProgress))).
					WithHint("finish or reopen the in-progress ticket before requesting the next one")
			}

			backlog, err := a.adapter.ListBacklogIDsInOrder(ctx)
			if err != nil {
				return clawerr.Wrap(clawerr.KindAdapterProtocol, "listing backlog", err)
			}
			if len(backlog) == 0 {
				return clawerr.New(clawerr.KindWorkflow, "next: backlog is empty")
			}

			now := time.Now()
			// Best-effort: keep the snapshot cache warm so a live failure
			// below has something recent to fall back to.
			_, _ = a.fetchSnapshot(ctx, now)

			details, err := a.adapter.GetWorkItem(ctx, backlog[0])
			if err != nil {
				item, ok := a.cachedWorkItem(ctx, backlog[0], now)
				if !ok {
					return clawerr.Wrap(clawerr.KindAdapterProtocol, fmt.Sprintf("fetching %s", backlog[0]), err)
				}
				o.WarnLLM(fmt.Sprintf("live fetch of %s failed", backlog[0]),
					"showing a cached snapshot with no comments/attachments; re-run once connectivity is restored")
				details = kanban.WorkItemDetails{WorkItem: item}
			}

			if o.JSON {
				return o.PrintJSON(details)
			}
			printWorkItemTable(o, details)
			return nil
		},
	}
}
