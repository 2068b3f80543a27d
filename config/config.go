// Package config loads and atomically writes the versioned JSONC
// configuration file (config/clawban.json by convention), tolerating `//`
// and `/* */` comments and trailing commas the way an operator-maintained
// file naturally accumulates them.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/natefinch/atomic"
	"github.com/tailscale/hujson"

	"github.com/clawban/kanban-workflow/adapter"
	"github.com/clawban/kanban-workflow/clawerr"
)

// DefaultPath is the conventional location of the configuration file,
// relative to the repository root the CLI is invoked from.
const DefaultPath = "config/clawban.json"

// CurrentVersion is the only configuration schema version this build
// understands.
const CurrentVersion = 1

// File is the on-disk document: the adapter tagged union plus the
// autopilot tunables every tick reads.
type File struct {
	Version int            `json:"version"`
	Adapter adapter.Config `json:"adapter"`
	Tuning  Tuning         `json:"tuning"`
}

// Tuning holds the operator-adjustable knobs the decision engine, the
// auto-reopen watcher, and the progress poster use. Zero values are
// replaced by Defaults() at load time.
type Tuning struct {
	StaleThresholdMinutes int   `json:"staleThresholdMinutes"`
	CommentScanLimit      int   `json:"commentScanLimit"`
	LockTTLSeconds        int   `json:"lockTtlSeconds"`
	ProgressIntervalMs    int64 `json:"progressIntervalMs"`
}

// Defaults returns the tuning values the spec mandates when the
// configuration file omits them.
func Defaults() Tuning {
	return Tuning{
		StaleThresholdMinutes: 15,
		CommentScanLimit:      20,
		LockTTLSeconds:        int((2 * time.Hour).Seconds()),
		ProgressIntervalMs:    int64((5 * time.Minute).Milliseconds()),
	}
}

func (t *Tuning) applyDefaults() {
	d := Defaults()
	if t.StaleThresholdMinutes == 0 {
		t.StaleThresholdMinutes = d.StaleThresholdMinutes
	}
	if t.CommentScanLimit == 0 {
		t.CommentScanLimit = d.CommentScanLimit
	}
	if t.LockTTLSeconds == 0 {
		t.LockTTLSeconds = d.LockTTLSeconds
	}
	if t.ProgressIntervalMs == 0 {
		t.ProgressIntervalMs = d.ProgressIntervalMs
	}
}

// LockTTL returns the tuning's lock TTL as a time.Duration.
func (t Tuning) LockTTL() time.Duration {
	return time.Duration(t.LockTTLSeconds) * time.Second
}

// ProgressInterval returns the tuning's progress-post interval.
func (t Tuning) ProgressInterval() time.Duration {
	return time.Duration(t.ProgressIntervalMs) * time.Millisecond
}

// StaleThreshold returns the tuning's stale threshold.
func (t Tuning) StaleThreshold() time.Duration {
	return time.Duration(t.StaleThresholdMinutes) * time.Minute
}

// Load reads and validates the configuration file at path. A missing file
// is reported as a ConfigError with a setup hint, matching §7's CLI
// presentation rule (a stderr line plus a remedial command).
func Load(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, clawerr.Wrap(clawerr.KindConfig,
				fmt.Sprintf("no configuration at %s", path), err).
				WithHint("run `kanban-workflow setup` to create one")
		}
		return nil, clawerr.Wrap(clawerr.KindConfig, "reading configuration", err)
	}

	standardized, err := hujson.Standardize(raw)
	if err != nil {
		return nil, clawerr.Wrap(clawerr.KindConfig, "configuration is not valid JSONC", err)
	}

	var f File
	if err := json.Unmarshal(standardized, &f); err != nil {
		return nil, clawerr.Wrap(clawerr.KindConfig, "parsing configuration", err)
	}

	if f.Version != CurrentVersion {
		return nil, clawerr.New(clawerr.KindConfig,
			fmt.Sprintf("unsupported configuration version %d (want %d)", f.Version, CurrentVersion))
	}

	f.Tuning.applyDefaults()

	if err := f.Adapter.Validate(); err != nil {
		return nil, err
	}

	return &f, nil
}

// Save atomically writes f to path via create-tmp-then-rename (here,
// github.com/natefinch/atomic.WriteFile), creating parent directories as
// needed. Used by `setup` and never by the tick path, which only reads.
func Save(path string, f *File) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return clawerr.Wrap(clawerr.KindConfig, "creating configuration directory", err)
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return clawerr.Wrap(clawerr.KindConfig, "encoding configuration", err)
	}

	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return clawerr.Wrap(clawerr.KindConfig, "writing configuration", err)
	}
	return nil
}
