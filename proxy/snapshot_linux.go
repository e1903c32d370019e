//go:build !windows

package proxy

import (
	"encoding/json"
	"time"

	"github.com/google/renameio"
)

// SnapshotStore atomically writes store's unexpired entries to path, the
// way the teacher's saveinmemory_linux.go persists InMemoryBackend —
// same renameio.WriteFile call, different payload.
func SnapshotStore(store *MemoryStore, path string) error {
	entries := store.Snapshot(time.Now())
	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return renameio.WriteFile(path, data, 0600)
}
