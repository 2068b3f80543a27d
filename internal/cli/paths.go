package cli

// Default, conventional (not mandated) locations for every file this CLI
// persists, all relative to the directory it is invoked from.
const (
	DefaultConfigPath       = "config/clawban.json"
	DefaultLockPath         = ".tmp/kanban_autopilot.lock"
	DefaultSessionMapPath   = ".tmp/kwf-session-map.json"
	DefaultReopenCursorPath = ".tmp/kwf-auto-reopen-cursor.json"
	DefaultProgressPath     = ".tmp/kwf-progress-state.json"
	DefaultCachePath        = ".tmp/kwf-snapshot-cache.sqlite"
)
