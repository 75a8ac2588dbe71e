package consistency

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Done stamps are empty-ish marker files (stamps/<wu-id>.done) written when
// a WU completes. They give shell tooling a cheap existence check without
// parsing YAML, and the detector a third source of truth.

func StampPath(stampsDir, wuID string) string {
	return filepath.Join(stampsDir, wuID+".done")
}

func HasStamp(stampsDir, wuID string) bool {
	_, err := os.Stat(StampPath(stampsDir, wuID))
	return err == nil
}

// WriteStamp creates the done stamp. Re-stamping an already stamped WU is
// a no-op so repairs stay idempotent.
func WriteStamp(stampsDir, wuID string) error {
	if HasStamp(stampsDir, wuID) {
		return nil
	}
	if err := os.MkdirAll(stampsDir, 0755); err != nil {
		return fmt.Errorf("ensure stamps dir: %w", err)
	}
	content := fmt.Sprintf("completed_at: %s\n", time.Now().UTC().Format(time.RFC3339))
	return os.WriteFile(StampPath(stampsDir, wuID), []byte(content), 0644)
}

// RemoveStamp deletes the stamp if present.
func RemoveStamp(stampsDir, wuID string) error {
	err := os.Remove(StampPath(stampsDir, wuID))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
