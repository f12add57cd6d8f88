package testsupport

import (
	"context"
	"testing"

	"ffqueue/internal/config"
	"ffqueue/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// SaveJob persists job at the given ledger position.
func SaveJob(t testing.TB, store *queue.Store, job *queue.Job, position int64) {
	t.Helper()

	if err := store.Save(context.Background(), job, position); err != nil {
		t.Fatalf("store.Save(%s): %v", job.ID, err)
	}
}

// NewJob returns a queued video job using the first built-in preset.
func NewJob(id, input string) *queue.Job {
	return &queue.Job{
		ID:        id,
		Filename:  input,
		Type:      queue.JobTypeVideo,
		Source:    queue.SourceManual,
		PresetID:  "h264-crf23",
		InputPath: input,
		Status:    queue.StatusQueued,
		StartTime: queue.NowMs(),
	}
}
