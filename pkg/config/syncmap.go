package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/planpilot/planpilot/pkg/engine"
)

// ReadSyncMap loads the local sync map. A missing file is not an error: the
// map is a cache, and a first run has none.
func ReadSyncMap(path string) (*engine.SyncMap, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, engine.NewConfigError("failed to read sync map "+path, err)
	}

	var m engine.SyncMap
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, engine.NewConfigError("failed to parse sync map "+path, err)
	}
	if m.Entries == nil {
		m.Entries = make(map[string]engine.SyncEntry)
	}
	return &m, nil
}

// WriteSyncMap persists the sync map. The write goes through a temp file and
// a rename, so a crash never leaves a truncated map behind.
func WriteSyncMap(path string, m *engine.SyncMap) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return engine.NewConfigError("failed to encode sync map", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return engine.NewConfigError("failed to create sync map directory "+dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".sync-map-*")
	if err != nil {
		return engine.NewConfigError("failed to stage sync map write", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return engine.NewConfigError("failed to write sync map", err)
	}
	if err := tmp.Close(); err != nil {
		return engine.NewConfigError("failed to write sync map", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return engine.NewConfigError("failed to replace sync map "+path, err)
	}
	return nil
}
