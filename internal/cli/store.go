package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"

	"github.com/clawban/kanban-workflow/clawerr"
	"github.com/clawban/kanban-workflow/progress"
	"github.com/clawban/kanban-workflow/reopen"
	"github.com/clawban/kanban-workflow/session"
)

// loadJSON reads and decodes path into v. A missing file leaves v at its
// zero value and returns no error: every one of this CLI's state files is
// allowed to not exist yet on a fresh board.
func loadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return clawerr.Wrap(clawerr.KindTransientIO, fmt.Sprintf("reading %s", path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return clawerr.Wrap(clawerr.KindTransientIO, fmt.Sprintf("parsing %s", path), err)
	}
	return nil
}

// saveJSON atomically writes v to path, creating parent directories as
// needed, the same create-tmp-then-rename discipline config.Save uses.
func saveJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return clawerr.Wrap(clawerr.KindTransientIO, fmt.Sprintf("creating directory for %s", path), err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return clawerr.Wrap(clawerr.KindTransientIO, fmt.Sprintf("encoding %s", path), err)
	}
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return clawerr.Wrap(clawerr.KindTransientIO, fmt.Sprintf("writing %s", path), err)
	}
	return nil
}

func loadSessionMap(path string) (session.Map, error) {
	m := session.Map{Entries: map[string]session.Entry{}}
	if err := loadJSON(path, &m); err != nil {
		return session.Map{}, err
	}
	if m.Entries == nil {
		m.Entries = map[string]session.Entry{}
	}
	return m, nil
}

func saveSessionMap(path string, m session.Map) error {
	return saveJSON(path, m)
}

func loadReopenCursors(path string) (reopen.Cursors, error) {
	c := reopen.Cursors{SeenIDs: map[string]string{}}
	if err := loadJSON(path, &c); err != nil {
		return reopen.Cursors{}, err
	}
	if c.SeenIDs == nil {
		c.SeenIDs = map[string]string{}
	}
	return c, nil
}

func saveReopenCursors(path string, c reopen.Cursors) error {
	return saveJSON(path, c)
}

func loadProgressState(path string) (progress.State, error) {
	s := progress.State{}
	if err := loadJSON(path, &s); err != nil {
		return nil, err
	}
	return s, nil
}

func saveProgressState(path string, s progress.State) error {
	return saveJSON(path, s)
}
