package cli

import (
	"fmt"

	"github.com/clawban/kanban-workflow/adapter"
	"github.com/clawban/kanban-workflow/adapter/github"
	"github.com/clawban/kanban-workflow/adapter/linear"
	"github.com/clawban/kanban-workflow/adapter/plane"
	"github.com/clawban/kanban-workflow/adapter/planka"
	"github.com/clawban/kanban-workflow/clawerr"
)

// buildAdapter resolves the configuration tagged union into a concrete
// adapter.Port. cfg is assumed already validated (config.Load calls
// adapter.Config.Validate before returning).
func buildAdapter(cfg adapter.Config) (adapter.Port, error) {
	switch cfg.Kind {
	case adapter.KindGitHub:
		return github.New(*cfg.GitHub), nil
	case adapter.KindLinear:
		return linear.New(*cfg.Linear), nil
	case adapter.KindPlane:
		return plane.New(*cfg.Plane), nil
	case adapter.KindPlanka:
		return planka.New(*cfg.Planka), nil
	default:
		return nil, clawerr.New(clawerr.KindConfig, fmt.Sprintf("unknown adapter kind %q", cfg.Kind))
	}
}
