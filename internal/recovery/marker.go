package recovery

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"ffqueue/internal/fileutil"
)

// Marker is written when the daemon stops cleanly. Its absence at startup
// means the previous run crashed or was killed.
type Marker struct {
	StoppedAtMs int64 `json:"stoppedAtMs"`
	// PausedJobs lists jobs that were flushed and auto-paused on the way out.
	PausedJobs []string `json:"pausedJobs,omitempty"`
	Session    string   `json:"session,omitempty"`
}

// WriteMarker atomically records a clean shutdown.
func WriteMarker(path string, m Marker) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode shutdown marker: %w", err)
	}
	if err := fileutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("write shutdown marker: %w", err)
	}
	return nil
}

// ConsumeMarker reads and removes the shutdown marker. It returns nil when
// no marker exists. A marker that cannot be decoded is still removed.
func ConsumeMarker(path string) (*Marker, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read shutdown marker: %w", err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove shutdown marker: %w", err)
	}
	var m Marker
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode shutdown marker: %w", err)
	}
	return &m, nil
}
