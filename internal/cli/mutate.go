package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/clawban/kanban-workflow/clawerr"
	"github.com/clawban/kanban-workflow/kanban"
)

// StartCmd manually transitions a ticket todo -> in-progress.
func StartCmd() *Command {
	flags := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := flags.String("config", DefaultConfigPath, "configuration file")
	id := flags.String("id", "", "ticket id")

	return &Command{
		Flags: flags,
		Usage: "start --id <id>",
		Short: "move a ticket to in-progress",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if *id == "" {
				return clawerr.New(clawerr.KindWorkflow, "--id is required")
			}
			a, err := loadApp(*configPath)
			if err != nil {
				return err
			}
			if err := a.adapter.SetStage(ctx, *id, kanban.StageInProgress); err != nil {
				return clawerr.Wrap(clawerr.KindAdapterProtocol, fmt.Sprintf("starting %s", *id), err)
			}
			a.invalidateCache(ctx)
			o.Println("started", *id)
			return nil
		},
	}
}

// UpdateCmd posts a progress note without changing stage.
func UpdateCmd() *Command {
	flags := flag.NewFlagSet("update", flag.ContinueOnError)
	configPath := flags.String("config", DefaultConfigPath, "configuration file")
	id := flags.String("id", "", "ticket id")
	text := flags.String("text", "", "progress note")

	return &Command{
		Flags: flags,
		Usage: "update --id <id> --text <text>",
		Short: "post a progress note on a ticket",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if *id == "" {
				return clawerr.New(clawerr.KindWorkflow, "--id is required")
			}
			if strings.TrimSpace(*text) == "" {
				return clawerr.New(clawerr.KindWorkflow, "--text must be non-empty")
			}
			a, err := loadApp(*configPath)
			if err != nil {
				return err
			}
			if err := a.adapter.AddComment(ctx, *id, *text); err != nil {
				return clawerr.Wrap(clawerr.KindAdapterProtocol, fmt.Sprintf("updating %s", *id), err)
			}
			a.invalidateCache(ctx)
			o.Println("updated", *id)
			return nil
		},
	}
}

// AskCmd moves a ticket to blocked with an explanatory comment.
func AskCmd() *Command {
	flags := flag.NewFlagSet("ask", flag.ContinueOnError)
	configPath := flags.String("config", DefaultConfigPath, "configuration file")
	id := flags.String("id", "", "ticket id")
	text := flags.String("text", "", "what is blocking progress")

	return &Command{
		Flags: flags,
		Usage: "ask --id <id> --text <text>",
		Short: "move a ticket to blocked and explain why",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if *id == "" {
				return clawerr.New(clawerr.KindWorkflow, "--id is required")
			}
			if strings.TrimSpace(*text) == "" {
				return clawerr.New(clawerr.KindWorkflow, "--text must be non-empty")
			}
			a, err := loadApp(*configPath)
			if err != nil {
				return err
			}
			if err := a.adapter.AddComment(ctx, *id, *text); err != nil {
				return clawerr.Wrap(clawerr.KindAdapterProtocol, fmt.Sprintf("commenting on %s", *id), err)
			}
			if err := a.adapter.SetStage(ctx, *id, kanban.StageBlocked); err != nil {
				return clawerr.Wrap(clawerr.KindAdapterProtocol, fmt.Sprintf("blocking %s", *id), err)
			}
			a.invalidateCache(ctx)
			o.Println("blocked", *id)
			return nil
		},
	}
}

// CompleteCmd is the operator's manual completion override: it moves a
// ticket to in-review directly, without the tick engine's automated
// proof gate (the operator is asserting completion themselves).
func CompleteCmd() *Command {
	flags := flag.NewFlagSet("complete", flag.ContinueOnError)
	configPath := flags.String("config", DefaultConfigPath, "configuration file")
	id := flags.String("id", "", "ticket id")
	result := flags.String("result", "", "summary of the finished work")

	return &Command{
		Flags: flags,
		Usage: "complete --id <id> --result <text>",
		Short: "move a ticket to in-review with a completion summary",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if *id == "" {
				return clawerr.New(clawerr.KindWorkflow, "--id is required")
			}
			if strings.TrimSpace(*result) == "" {
				return clawerr.New(clawerr.KindWorkflow, "--result must be non-empty")
			}
			a, err := loadApp(*configPath)
			if err != nil {
				return err
			}
			if err := a.adapter.AddComment(ctx, *id, "Completed: "+*result); err != nil {
				return clawerr.Wrap(clawerr.KindAdapterProtocol, fmt.Sprintf("commenting on %s", *id), err)
			}
			if err := a.adapter.SetStage(ctx, *id, kanban.StageInReview); err != nil {
				return clawerr.Wrap(clawerr.KindAdapterProtocol, fmt.Sprintf("completing %s", *id), err)
			}
			a.invalidateCache(ctx)
			o.Println("completed", *id)
			return nil
		},
	}
}

// CreateCmd creates a new backlog ticket assigned to the authenticated
// identity.
func CreateCmd() *Command {
	flags := flag.NewFlagSet("create", flag.ContinueOnError)
	configPath := flags.String("config", DefaultConfigPath, "configuration file")
	title := flags.String("title", "", "ticket title")
	body := flags.String("body", "", "ticket body")

	return &Command{
		Flags: flags,
		Usage: "create --title <title> [--body <text>]",
		Short: "create a new backlog ticket assigned to self",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if strings.TrimSpace(*title) == "" {
				return clawerr.New(clawerr.KindWorkflow, "--title must be non-empty")
			}
			a, err := loadApp(*configPath)
			if err != nil {
				return err
			}
			res, err := a.adapter.CreateInBacklogAndAssignToSelf(ctx, *title, *body)
			if err != nil {
				return clawerr.Wrap(clawerr.KindAdapterProtocol, "creating ticket", err)
			}
			a.invalidateCache(ctx)
			if o.JSON {
				return o.PrintJSON(res)
			}
			o.Println("created", res.ID, res.URL)
			return nil
		},
	}
}

// ShowCmd prints one ticket's full details.
func ShowCmd() *Command {
	flags := flag.NewFlagSet("show", flag.ContinueOnError)
	configPath := flags.String("config", DefaultConfigPath, "configuration file")
	id := flags.String("id", "", "ticket id")

	return &Command{
		Flags: flags,
		Usage: "show --id <id>",
		Short: "print a ticket's full details",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if *id == "" {
				return clawerr.New(clawerr.KindWorkflow, "--id is required")
			}
			a, err := loadApp(*configPath)
			if err != nil {
				return err
			}

			now := time.Now()
			// Best-effort: keep the snapshot cache warm so a live failure
			// below has something recent to fall back to.
			_, _ = a.fetchSnapshot(ctx, now)

			details, err := a.adapter.GetWorkItem(ctx, *id)
			if err != nil {
				item, ok := a.cachedWorkItem(ctx, *id, now)
				if !ok {
					return clawerr.Wrap(clawerr.KindAdapterProtocol, fmt.Sprintf("fetching %s", *id), err)
				}
				o.WarnLLM(fmt.Sprintf("live fetch of %s failed", *id),
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
