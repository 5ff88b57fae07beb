package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// KeepCompanionPath is the marker file a `stop --keep-takopi` leaves next to
// the PID file before sending SIGTERM. The supervisor consumes it on stop.
func KeepCompanionPath(pidPath string) string {
	return pidPath + ".keep-companion"
}

// TouchSignal writes a monotonic revision (timestamp) to a marker file.
// Creates parent dir and file if needed.
func TouchSignal(signalPath string) error {
	if signalPath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(signalPath), 0o755); err != nil {
		return fmt.Errorf("create signal file dir: %w", err)
	}
	rev := strconv.FormatInt(time.Now().UnixNano(), 10)
	return os.WriteFile(signalPath, []byte(rev), 0o644)
}

// ConsumeSignal reports whether the marker exists and removes it.
func ConsumeSignal(signalPath string) bool {
	if signalPath == "" {
		return false
	}
	err := os.Remove(signalPath)
	if err == nil {
		return true
	}
	if errors.Is(err, os.ErrNotExist) {
		return false
	}
	// Exists but could not be removed.
	_, statErr := os.Stat(signalPath)
	return statErr == nil
}
