package proxy

import (
	"encoding/json"
	"os"
	"time"
)

// RestoreStore loads a snapshot written by SnapshotStore, discarding
// any entry whose TTL has already elapsed. A missing file is not an
// error: startup with no prior snapshot just starts with an empty
// cache.
func RestoreStore(store *MemoryStore, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var entries map[string]Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	store.Restore(entries, time.Now())
	return nil
}
