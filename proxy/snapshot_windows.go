//go:build windows

package proxy

import (
	"encoding/json"
	"os"
	"time"
)

// SnapshotStore writes store's unexpired entries to path. Windows has
// no rename-based atomic replace primitive available without extra
// privileges, so this matches the teacher's saveinmemory_windows.go:
// a plain os.WriteFile.
func SnapshotStore(store *MemoryStore, path string) error {
	entries := store.Snapshot(time.Now())
	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
