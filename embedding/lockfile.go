package embedding

import (
	"fmt"
	"os"
)

// The host marks an open project with a lock file next to the project file.
// The lock is advisory: it is written on save and removed on disposal, and a
// leftover lock from a crashed process is overwritten rather than honored.

func writeLock(path, sessionID string) error {
	if err := os.WriteFile(path, []byte(sessionID+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to write project lock: %w", err)
	}
	return nil
}

func removeLock(path string) {
	// Disposal never fails over a stale lock.
	os.Remove(path)
}
