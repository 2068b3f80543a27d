package cli

import (
	"context"
	"log/slog"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/clawban/kanban-workflow/adapter"
	"github.com/clawban/kanban-workflow/autopilot"
	"github.com/clawban/kanban-workflow/clawerr"
	"github.com/clawban/kanban-workflow/contract"
	"github.com/clawban/kanban-workflow/internal/workerrunner"
	"github.com/clawban/kanban-workflow/kanban"
	"github.com/clawban/kanban-workflow/session"
)

// DispatchEnvelope is the JSON/table output of `cron-dispatch`.
type DispatchEnvelope struct {
	Tick       TickEnvelope       `json:"tick"`
	Dispatched []DispatchedTicket `json:"dispatched"`
}

// DispatchedTicket records one worker turn cron-dispatch ran and what the
// worker reported back.
type DispatchedTicket struct {
	TicketID string `json:"ticketId"`
	Verb     string `json:"verb,omitempty"`
	Applied  string `json:"applied"`
	Error    string `json:"error,omitempty"`
}

// CronDispatchCmd runs one tick, then dispatches the worker agent for
// every resulting "work" action and folds its terminal command back into
// both the session map and the platform stage.
func CronDispatchCmd(logger *slog.Logger) *Command {
	flags := flag.NewFlagSet("cron-dispatch", flag.ContinueOnError)
	configPath := flags.String("config", DefaultConfigPath, "configuration file")
	agent := flags.String("agent", "", "worker CLI binary (overrides KANBAN_WORKFLOW_AGENT_PATH)")
	statusAddr := flags.String("status-addr", "", "start the read-only status server on this address for the run's lifetime")

	return &Command{
		Flags: flags,
		Usage: "cron-dispatch [--agent <path>]",
		Short: "run one tick and dispatch the worker agent for whatever it produces",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			a, err := loadApp(*configPath)
			if err != nil {
				return err
			}

			handle, err := maybeStartStatusServer(*statusAddr)
			if err != nil {
				return err
			}
			defer handle.stop()

			tickEnv, err := runTick(ctx, a, logger, handle, false)
			if err != nil {
				return err
			}
			if tickEnv.Action != "none" || len(tickEnv.ReopenedIDs) > 0 || len(tickEnv.ProgressPostedIDs) > 0 {
				a.invalidateCache(ctx)
			}

			runner, err := buildWorkerRunner(*agent)
			if err != nil {
				return err
			}

			dispatched, err := dispatchTick(ctx, a.adapter, runner, logger, tickEnv, DefaultSessionMapPath)
			if err != nil {
				return err
			}
			if len(dispatched) > 0 {
				a.invalidateCache(ctx)
			}

			env := DispatchEnvelope{Tick: tickEnv, Dispatched: dispatched}
			if o.JSON {
				return o.PrintJSON(env)
			}
			printDispatchEnvelope(o, env)
			return nil
		},
	}
}

// dispatchTick turns one tick's outcome (and its optional preview of the
// next backlog pick) into session-map plan(s), runs the worker for every
// resulting work action, and folds each worker's terminal command back
// into both the session map and the platform stage.
func dispatchTick(ctx context.Context, a adapter.Port, runner workerrunner.Runner, logger *slog.Logger, tickEnv TickEnvelope, sessionMapPath string) ([]DispatchedTicket, error) {
	now := time.Now()

	sm, err := loadSessionMap(sessionMapPath)
	if err != nil {
		return nil, err
	}

	var dispatched []DispatchedTicket

	sm, actions, err := planAndAppend(ctx, a, sm, now, tickEnv.Tick)
	if err != nil {
		return nil, err
	}

	if tickEnv.NextTicket != nil {
		var nextActions []session.Action
		sm, nextActions, err = planAndAppend(ctx, a, sm, now, *tickEnv.NextTicket)
		if err != nil {
			return nil, err
		}
		actions = append(actions, nextActions...)
	}

	if err := saveSessionMap(sessionMapPath, sm); err != nil {
		return nil, err
	}

	for _, act := range actions {
		if act.Kind != session.ActionWork {
			continue
		}

		result, runErr := runner.Run(ctx, act.Instruction, ".")
		if runErr != nil {
			logger.Error("worker run failed", "id", act.TicketID, "error", runErr)
			dispatched = append(dispatched, DispatchedTicket{TicketID: act.TicketID, Applied: "none", Error: runErr.Error()})
			continue
		}

		cmd := contract.ExtractTerminalCommand(result.Output)
		if cmd == nil {
			logger.Warn("worker output had no valid terminal command", "id", act.TicketID)
			dispatched = append(dispatched, DispatchedTicket{TicketID: act.TicketID, Applied: "none", Error: "worker output had no valid terminal command"})
			continue
		}

		sm = session.ApplyWorkerCommandToSessionMap(sm, act.TicketID, *cmd, time.Now())
		if err := saveSessionMap(sessionMapPath, sm); err != nil {
			return nil, err
		}

		applied, applyErr := applyWorkerCommand(ctx, a, act.TicketID, *cmd)
		entry := DispatchedTicket{TicketID: act.TicketID, Verb: string(cmd.Verb), Applied: applied}
		if applyErr != nil {
			entry.Error = applyErr.Error()
			logger.Error("applying worker command failed", "id", act.TicketID, "verb", cmd.Verb, "error", applyErr)
		}
		dispatched = append(dispatched, entry)
	}

	return dispatched, nil
}

// planAndAppend builds the ticket context for outcome.ID (when it carries
// one) and threads it through BuildDispatcherPlan against sm.
func planAndAppend(ctx context.Context, a adapter.Port, sm session.Map, now time.Time, outcome autopilot.Outcome) (session.Map, []session.Action, error) {
	if outcome.ID == "" {
		next, actions, _ := session.BuildDispatcherPlan(sm, now, outcome, session.TicketContext{})
		return next, actions, nil
	}

	tc, err := buildTicketContext(ctx, a, outcome.ID)
	if err != nil {
		return sm, nil, err
	}

	next, actions, _ := session.BuildDispatcherPlan(sm, now, outcome, tc)
	return next, actions, nil
}

// buildTicketContext assembles the full TicketContext a dispatch embeds in
// the worker's instruction. GetWorkItem already resolves comments and
// linked items; attachments require a separate call.
func buildTicketContext(ctx context.Context, a adapter.Port, id string) (session.TicketContext, error) {
	details, err := a.GetWorkItem(ctx, id)
	if err != nil {
		return session.TicketContext{}, clawerr.Wrap(clawerr.KindAdapterProtocol, "fetching ticket for dispatch", err)
	}
	attachments, err := a.ListAttachments(ctx, id)
	if err != nil {
		return session.TicketContext{}, clawerr.Wrap(clawerr.KindAdapterProtocol, "fetching attachments for dispatch", err)
	}
	return session.TicketContext{
		ID:          details.ID,
		Title:       details.Title,
		Body:        details.Body,
		URL:         details.URL,
		Comments:    details.Comments,
		Attachments: attachments,
		Links:       details.Links,
	}, nil
}

// applyWorkerCommand performs the platform stage mutation a worker's
// terminal command implies. contract.Validate's evidence/concrete-execution
// gate is itself the proof gate for a worker-emitted completion; no
// additional autopilot check applies here.
func applyWorkerCommand(ctx context.Context, a adapter.Port, ticketID string, cmd contract.Command) (string, error) {
	switch cmd.Verb {
	case contract.VerbContinue:
		if err := a.AddComment(ctx, ticketID, cmd.Text); err != nil {
			return "", clawerr.Wrap(clawerr.KindAdapterProtocol, "posting worker progress note", err)
		}
		return "update", nil

	case contract.VerbBlocked:
		if err := a.AddComment(ctx, ticketID, cmd.Text); err != nil {
			return "", clawerr.Wrap(clawerr.KindAdapterProtocol, "posting worker blocker note", err)
		}
		if err := a.SetStage(ctx, ticketID, kanban.StageBlocked); err != nil {
			return "", clawerr.Wrap(clawerr.KindAdapterProtocol, "blocking ticket from worker command", err)
		}
		return "ask", nil

	case contract.VerbCompleted:
		if err := a.AddComment(ctx, ticketID, "Completed: "+cmd.Text); err != nil {
			return "", clawerr.Wrap(clawerr.KindAdapterProtocol, "posting worker completion note", err)
		}
		if err := a.SetStage(ctx, ticketID, kanban.StageInReview); err != nil {
			return "", clawerr.Wrap(clawerr.KindAdapterProtocol, "completing ticket from worker command", err)
		}
		return "complete", nil

	default:
		return "none", nil
	}
}

func printDispatchEnvelope(o *IO, env DispatchEnvelope) {
	printTickEnvelope(o, env.Tick)
	if len(env.Dispatched) == 0 {
		o.Println("dispatched: none")
		return
	}
	o.Println("dispatched:")
	for _, d := range env.Dispatched {
		if d.Error != "" {
			o.Printf("  %s: error: %s\n", d.TicketID, d.Error)
			continue
		}
		o.Printf("  %s: %s -> %s\n", d.TicketID, d.Verb, d.Applied)
	}
}
