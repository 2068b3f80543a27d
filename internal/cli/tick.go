package cli

import (
	"context"
	"log/slog"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/clawban/kanban-workflow/adapter"
	"github.com/clawban/kanban-workflow/autopilot"
	"github.com/clawban/kanban-workflow/clawerr"
	"github.com/clawban/kanban-workflow/config"
	"github.com/clawban/kanban-workflow/internal/statusserver"
	"github.com/clawban/kanban-workflow/kanban"
	"github.com/clawban/kanban-workflow/progress"
	"github.com/clawban/kanban-workflow/reopen"
)

// TickEnvelope is the JSON/table output of `autopilot-tick`.
type TickEnvelope struct {
	Tick              autopilot.Outcome  `json:"tick"`
	NextTicket        *autopilot.Outcome `json:"nextTicket,omitempty"`
	HaltOptions       []string           `json:"haltOptions"`
	Action            string             `json:"action"`
	DryRun            bool               `json:"dryRun"`
	ReopenedIDs       []string           `json:"reopenedIds,omitempty"`
	ProgressPostedIDs []string           `json:"progressPostedIds,omitempty"`
}

// AutopilotTickCmd runs one decision cycle and, unless --dry-run is set,
// applies the follow-up mutation the outcome implies.
func AutopilotTickCmd(logger *slog.Logger) *Command {
	flags := flag.NewFlagSet("autopilot-tick", flag.ContinueOnError)
	configPath := flags.String("config", DefaultConfigPath, "configuration file")
	dryRun := flags.Bool("dry-run", false, "preview the outcome without mutating anything")
	statusAddr := flags.String("status-addr", "", "start the read-only status server on this address for the tick's lifetime")

	return &Command{
		Flags: flags,
		Usage: "autopilot-tick [--dry-run]",
		Short: "run one tick of the decision engine",
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

			env, err := runTick(ctx, a, logger, handle, *dryRun)
			if err != nil {
				return err
			}
			if env.Action != "none" || len(env.ReopenedIDs) > 0 || len(env.ProgressPostedIDs) > 0 {
				a.invalidateCache(ctx)
			}

			if o.JSON {
				return o.PrintJSON(env)
			}
			printTickEnvelope(o, env)
			return nil
		},
	}
}

// runTick acquires the lock, runs one decision cycle, and — unless dryRun —
// applies the follow-up mutation consistent with the outcome.
func runTick(ctx context.Context, a *app, logger *slog.Logger, handle *statusServerHandle, dryRun bool) (TickEnvelope, error) {
	now := time.Now()
	tuning := a.cfg.Tuning

	start := time.Now()
	outcome, err := autopilot.Tick(ctx, autopilot.Params{
		Adapter:          a.adapter,
		Now:              now,
		LockPath:         DefaultLockPath,
		LockTTL:          tuning.LockTTL(),
		CommentScanLimit: tuning.CommentScanLimit,
		StaleThreshold:   tuning.StaleThreshold(),
	})
	handle.metrics.TicksTotal.Inc()
	handle.metrics.TickDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return TickEnvelope{}, err
	}
	logger.Info("tick", "kind", outcome.Kind, "id", outcome.ID, "reasonCode", outcome.ReasonCode)

	action := "none"
	if !dryRun {
		action, err = applyOutcome(ctx, a.adapter, outcome)
		if err != nil {
			return TickEnvelope{}, err
		}
		logger.Debug("applied tick mutation", "action", action, "id", outcome.ID)
	}

	handle.metrics.TickOutcomes.WithLabelValues(string(outcome.Kind)).Inc()
	handle.metrics.InProgressGauge.Set(float64(len(outcome.InProgressIDs)))
	handle.holder.set(statusSnapshot(outcome, now))

	var reopenedIDs, progressPostedIDs []string
	if !dryRun {
		reopenedIDs, err = runAutoReopen(ctx, a.adapter, now)
		if err != nil {
			return TickEnvelope{}, err
		}
		for _, id := range reopenedIDs {
			logger.Info("auto-reopened ticket", "id", id)
		}

		progressPostedIDs, err = runProgressPoster(ctx, a.adapter, tuning, now)
		if err != nil {
			return TickEnvelope{}, err
		}
	}

	env := TickEnvelope{
		Tick:              outcome,
		HaltOptions:       haltOptionsFor(outcome, action),
		Action:            action,
		DryRun:            dryRun,
		ReopenedIDs:       reopenedIDs,
		ProgressPostedIDs: progressPostedIDs,
	}

	if !dryRun && (outcome.Kind == autopilot.OutcomeBlocked || outcome.Kind == autopilot.OutcomeCompleted) {
		if next, err := autopilot.PeekNextBacklog(ctx, a.adapter); err == nil && next.Kind == autopilot.OutcomeStarted {
			env.NextTicket = &next
		}
	}

	return env, nil
}

// runAutoReopen scans blocked/in-review tickets for a newest human reply
// and moves any it finds back to todo, persisting the updated comment
// cursor so a later tick doesn't re-trigger on the same reply.
func runAutoReopen(ctx context.Context, a adapter.Port, now time.Time) ([]string, error) {
	cursors, err := loadReopenCursors(DefaultReopenCursorPath)
	if err != nil {
		return nil, err
	}

	next, triggers, err := reopen.Run(ctx, reopen.Params{
		Adapter:          a,
		Cursors:          cursors,
		CommentScanLimit: reopen.DefaultCommentScanLimit,
	})
	if err != nil {
		return nil, err
	}
	if err := saveReopenCursors(DefaultReopenCursorPath, next); err != nil {
		return nil, err
	}

	ids := make([]string, len(triggers))
	for i, t := range triggers {
		ids[i] = t.TicketID
	}
	return ids, nil
}

// runProgressPoster posts a throttled "still working" comment on every
// in-progress ticket whose last auto-post is missing or stale, persisting
// the updated per-ticket timestamps.
func runProgressPoster(ctx context.Context, a adapter.Port, tuning config.Tuning, now time.Time) ([]string, error) {
	state, err := loadProgressState(DefaultProgressPath)
	if err != nil {
		return nil, err
	}

	next, posted, err := progress.Run(ctx, progress.Params{
		Adapter:  a,
		Now:      now,
		State:    state,
		Interval: tuning.ProgressInterval(),
	})
	if err != nil {
		return nil, err
	}
	if err := saveProgressState(DefaultProgressPath, next); err != nil {
		return nil, err
	}
	return posted, nil
}

// statusSnapshot builds the /status payload for a just-completed tick.
func statusSnapshot(outcome autopilot.Outcome, now time.Time) statusserver.Status {
	return statusserver.Status{
		ActiveTicketID: outcome.ID,
		LastTickAt:     now,
		LastOutcome:    string(outcome.Kind),
	}
}

// applyOutcome performs the single stage mutation a tick outcome implies,
// honoring the completion proof gate: a weak completion signal is held,
// never auto-transitioned to in-review.
func applyOutcome(ctx context.Context, a adapter.Port, outcome autopilot.Outcome) (string, error) {
	switch outcome.Kind {
	case autopilot.OutcomeStarted:
		if err := a.SetStage(ctx, outcome.ID, kanban.StageInProgress); err != nil {
			return "", clawerr.Wrap(clawerr.KindAdapterProtocol, "starting next ticket", err)
		}
		return "start", nil

	case autopilot.OutcomeBlocked:
		if err := a.SetStage(ctx, outcome.ID, kanban.StageBlocked); err != nil {
			return "", clawerr.Wrap(clawerr.KindAdapterProtocol, "blocking ticket", err)
		}
		return "ask", nil

	case autopilot.OutcomeCompleted:
		if !autopilot.PassesProofGate(outcome) {
			return "hold", nil
		}
		if err := a.SetStage(ctx, outcome.ID, kanban.StageInReview); err != nil {
			return "", clawerr.Wrap(clawerr.KindAdapterProtocol, "completing ticket", err)
		}
		return "complete", nil

	default:
		return "none", nil
	}
}

// haltOptionsFor reports which CLI verbs make sense to run next, given the
// outcome and mutation just applied.
func haltOptionsFor(outcome autopilot.Outcome, action string) []string {
	switch outcome.Kind {
	case autopilot.OutcomeStarted, autopilot.OutcomeInProgress:
		return []string{"update", "ask", "complete"}
	case autopilot.OutcomeBlocked:
		return []string{"show"}
	case autopilot.OutcomeCompleted:
		if action == "hold" {
			return []string{"complete", "ask"}
		}
		return []string{"show"}
	case autopilot.OutcomeNoWork:
		return []string{"create"}
	default:
		return nil
	}
}

func printTickEnvelope(o *IO, env TickEnvelope) {
	o.Printf("outcome: %s", env.Tick.Kind)
	if env.Tick.ID != "" {
		o.Printf(" (%s)", env.Tick.ID)
	}
	o.Println()
	if env.Tick.ReasonCode != "" {
		o.Printf("reason:  %s\n", env.Tick.ReasonCode)
	}
	o.Printf("action:  %s", env.Action)
	if env.DryRun {
		o.Printf(" (dry-run)")
	}
	o.Println()
	if len(env.HaltOptions) > 0 {
		o.Println("next:   ", env.HaltOptions)
	}
	if env.NextTicket != nil {
		o.Printf("queued next: %s\n", env.NextTicket.ID)
	}
	if len(env.ReopenedIDs) > 0 {
		o.Println("reopened:", env.ReopenedIDs)
	}
	if len(env.ProgressPostedIDs) > 0 {
		o.Println("progress posted:", env.ProgressPostedIDs)
	}
}
