package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/clawban/kanban-workflow/adapter"
	"github.com/clawban/kanban-workflow/clawerr"
	"github.com/clawban/kanban-workflow/config"
	"github.com/clawban/kanban-workflow/kanban"
)

// SetupCmd validates connectivity against the selected platform and
// atomically writes config/clawban.json.
func SetupCmd() *Command {
	flags := flag.NewFlagSet("setup", flag.ContinueOnError)
	configPath := flags.String("config", DefaultConfigPath, "configuration file to write")
	force := flags.Bool("force", false, "overwrite an existing configuration file")
	adapterKind := flags.String("adapter", "", "github|linear|plane|planka")
	stageMapJSON := flags.String("stage-map-json", "", `platform state -> canonical stage, e.g. {"Backlog":"todo","Doing":"in-progress"}`)

	githubRepo := flags.String("github-repo", "", "owner/name (github adapter)")

	linearTeamKey := flags.String("linear-team-key", "", "team key (linear adapter)")
	linearAPIKeyEnv := flags.String("linear-api-key-env", "", "env var holding the Linear API key")

	planeWorkspace := flags.String("plane-workspace", "", "workspace slug (plane adapter)")
	planeProjectIDs := flags.StringSlice("plane-project-ids", nil, "project ids, in dispatch order (plane adapter)")
	planeAPIKeyEnv := flags.String("plane-api-key-env", "", "env var holding the Plane API key")
	planeFilterMine := flags.Bool("plane-filter-mine-at-adapter", false, "filter the backlog to items assigned to the authenticated user inside the adapter")

	plankaBaseURL := flags.String("planka-base-url", "", "base URL (planka adapter)")
	plankaBoardID := flags.String("planka-board-id", "", "board id (planka adapter)")
	plankaUserEnv := flags.String("planka-user-env", "", "env var holding the Planka user")
	plankaPassEnv := flags.String("planka-pass-env", "", "env var holding the Planka password")

	return &Command{
		Flags: flags,
		Usage: "setup --adapter <kind> --stage-map-json <json> [flags]",
		Short: "validate platform connectivity and write the configuration file",
		Exec: func(ctx context.Context, o *IO, args []string) error {
			if _, err := os.Stat(*configPath); err == nil && !*force {
				return clawerr.New(clawerr.KindConfig, fmt.Sprintf("%s already exists", *configPath)).
					WithHint("pass --force to overwrite it")
			}

			var sm adapter.StageMap
			if *stageMapJSON == "" {
				return clawerr.New(clawerr.KindConfig, "--stage-map-json is required")
			}
			if err := json.Unmarshal([]byte(*stageMapJSON), &sm); err != nil {
				return clawerr.Wrap(clawerr.KindConfig, "parsing --stage-map-json", err)
			}

			cfg, err := buildConfigFromFlags(adapter.Kind(*adapterKind), sm, flagBundle{
				githubRepo:      *githubRepo,
				linearTeamKey:   *linearTeamKey,
				linearAPIKeyEnv: *linearAPIKeyEnv,
				planeWorkspace:  *planeWorkspace,
				planeProjectIDs: *planeProjectIDs,
				planeAPIKeyEnv:  *planeAPIKeyEnv,
				planeFilterMine: *planeFilterMine,
				plankaBaseURL:   *plankaBaseURL,
				plankaBoardID:   *plankaBoardID,
				plankaUserEnv:   *plankaUserEnv,
				plankaPassEnv:   *plankaPassEnv,
			})
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			a, err := buildAdapter(cfg)
			if err != nil {
				return err
			}

			me, err := a.Whoami(ctx)
			if err != nil {
				return clawerr.Wrap(clawerr.KindAdapterProtocol, "setup: whoami probe failed", err)
			}
			o.Println("authenticated as:", me.Name, me.Username, me.ID)

			for _, failure := range probeConnectivity(ctx, a) {
				o.WarnLLM(failure, "check the adapter configuration and platform credentials")
			}

			file := &config.File{Version: config.CurrentVersion, Adapter: cfg, Tuning: config.Defaults()}
			if err := config.Save(*configPath, file); err != nil {
				return err
			}
			o.Println("wrote", *configPath)
			return nil
		},
	}
}

// probeConnectivity exercises every read-only Port operation against a
// small sample, returning a human-readable failure description per failed
// operation rather than aborting on the first one, so an operator can see
// exactly which capability is missing.
func probeConnectivity(ctx context.Context, a adapter.Port) []string {
	var failures []string

	var sampleID string
	for _, stage := range kanban.Stages() {
		ids, err := a.ListIDsByStage(ctx, stage)
		if err != nil {
			failures = append(failures, fmt.Sprintf("listIdsByStage(%s): %v", stage, err))
			continue
		}
		if sampleID == "" && len(ids) > 0 {
			sampleID = ids[0]
		}
	}

	backlog, err := a.ListBacklogIDsInOrder(ctx)
	if err != nil {
		failures = append(failures, fmt.Sprintf("listBacklogIdsInOrder: %v", err))
	} else if sampleID == "" && len(backlog) > 0 {
		sampleID = backlog[0]
	}

	if sampleID == "" {
		return failures
	}

	if _, err := a.GetWorkItem(ctx, sampleID); err != nil {
		failures = append(failures, fmt.Sprintf("getWorkItem(%s): %v", sampleID, err))
	}
	if _, err := a.ListComments(ctx, sampleID, kanban.CommentQuery{Limit: 5, NewestFirst: true}); err != nil {
		failures = append(failures, fmt.Sprintf("listComments(%s): %v", sampleID, err))
	}
	if _, err := a.ListAttachments(ctx, sampleID); err != nil {
		failures = append(failures, fmt.Sprintf("listAttachments(%s): %v", sampleID, err))
	}
	if _, err := a.ListLinkedWorkItems(ctx, sampleID); err != nil {
		failures = append(failures, fmt.Sprintf("listLinkedWorkItems(%s): %v", sampleID, err))
	}

	return failures
}

type flagBundle struct {
	githubRepo string

	linearTeamKey   string
	linearAPIKeyEnv string

	planeWorkspace  string
	planeProjectIDs []string
	planeAPIKeyEnv  string
	planeFilterMine bool

	plankaBaseURL string
	plankaBoardID string
	plankaUserEnv string
	plankaPassEnv string
}

func buildConfigFromFlags(kind adapter.Kind, sm adapter.StageMap, b flagBundle) (adapter.Config, error) {
	switch kind {
	case adapter.KindGitHub:
		return adapter.Config{Kind: kind, GitHub: &adapter.GitHubConfig{Repo: b.githubRepo, StageMap: sm}}, nil
	case adapter.KindLinear:
		return adapter.Config{Kind: kind, Linear: &adapter.LinearConfig{
			TeamKey: b.linearTeamKey, APIKeyEnv: b.linearAPIKeyEnv, StageMap: sm,
		}}, nil
	case adapter.KindPlane:
		return adapter.Config{Kind: kind, Plane: &adapter.PlaneConfig{
			WorkspaceSlug: b.planeWorkspace, ProjectIDs: b.planeProjectIDs, APIKeyEnv: b.planeAPIKeyEnv,
			StageMap: sm, FilterMineAtAdapter: b.planeFilterMine,
		}}, nil
	case adapter.KindPlanka:
		return adapter.Config{Kind: kind, Planka: &adapter.PlankaConfig{
			BaseURL: b.plankaBaseURL, BoardID: b.plankaBoardID, UserEnv: b.plankaUserEnv, PassEnv: b.plankaPassEnv,
			StageMap: sm,
		}}, nil
	default:
		return adapter.Config{}, clawerr.New(clawerr.KindConfig, fmt.Sprintf("unknown --adapter %q", kind))
	}
}
