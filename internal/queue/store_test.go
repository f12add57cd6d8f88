package queue_test

import (
	"context"
	"database/sql"
	"testing"

	"ffqueue/internal/queue"
	"ffqueue/internal/testsupport"
)

func TestStoreSaveLoadPreservesOrderAndWaitMetadata(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	first := testsupport.NewJob("job-1", "/media/a.mkv")
	first.QueueOrder = queue.Int(0)
	second := testsupport.NewJob("job-2", "/media/b.mkv")
	second.Status = queue.StatusPaused
	second.ElapsedMs = 4200
	second.Wait = &queue.WaitMetadata{
		Segments:          []string{"/seg/b.0.mkv"},
		SegmentEndTargets: []float64{36.22},
		TargetSeconds:     36.22,
		ProgressEpoch:     3,
	}

	testsupport.SaveJob(t, store, second, 1)
	testsupport.SaveJob(t, store, first, 0)

	result, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(result.Corrupt) != 0 {
		t.Fatalf("unexpected corrupt rows: %v", result.Corrupt)
	}
	if len(result.Jobs) != 2 || result.Jobs[0].ID != "job-1" || result.Jobs[1].ID != "job-2" {
		t.Fatalf("unexpected load order: %+v", result.Jobs)
	}
	loaded := result.Jobs[1]
	if loaded.Wait == nil || loaded.Wait.TargetSeconds != 36.22 || loaded.Wait.ProgressEpoch != 3 {
		t.Fatalf("wait metadata not restored: %+v", loaded.Wait)
	}
	if loaded.ElapsedMs != 4200 || loaded.Status != queue.StatusPaused {
		t.Fatalf("unexpected job state: %+v", loaded)
	}
	if result.Jobs[0].QueueOrder == nil || *result.Jobs[0].QueueOrder != 0 {
		t.Fatalf("queue order not restored: %+v", result.Jobs[0].QueueOrder)
	}
}

func TestStoreSaveKeepsOriginalPosition(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	a := testsupport.NewJob("job-1", "/media/a.mkv")
	b := testsupport.NewJob("job-2", "/media/b.mkv")
	testsupport.SaveJob(t, store, a, 0)
	testsupport.SaveJob(t, store, b, 1)

	a.Status = queue.StatusCompleted
	a.Wait = nil
	testsupport.SaveJob(t, store, a, 99)

	result, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if result.Jobs[0].ID != "job-1" || result.Jobs[0].Status != queue.StatusCompleted {
		t.Fatalf("expected job-1 first and completed, got %+v", result.Jobs[0])
	}
}

func TestStoreGetAndDelete(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.SaveJob(t, store, testsupport.NewJob("job-7", "/media/x.mkv"), 0)

	job, err := store.Get(ctx, "job-7")
	if err != nil || job == nil {
		t.Fatalf("Get: job=%v err=%v", job, err)
	}
	if err := store.Delete(ctx, "job-7"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	job, err = store.Get(ctx, "job-7")
	if err != nil || job != nil {
		t.Fatalf("expected missing job, got %v (err=%v)", job, err)
	}
	if err := store.Delete(ctx, "job-7"); err != nil {
		t.Fatalf("deleting unknown id should succeed: %v", err)
	}
}

func TestStoreLoadNormalizesLegacyAndReportsCorruptRows(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.SaveJob(t, store, testsupport.NewJob("job-1", "/media/a.mkv"), 0)
	testsupport.SaveJob(t, store, testsupport.NewJob("job-2", "/media/b.mkv"), 1)

	db, err := sql.Open("sqlite", store.Path())
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	defer db.Close()
	if _, err := db.Exec(`UPDATE jobs SET status = 'waiting' WHERE id = 'job-1'`); err != nil {
		t.Fatalf("update status: %v", err)
	}
	if _, err := db.Exec(`UPDATE jobs SET record_json = '{not json' WHERE id = 'job-2'`); err != nil {
		t.Fatalf("corrupt record: %v", err)
	}

	result, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(result.Jobs) != 1 || result.Jobs[0].Status != queue.StatusQueued {
		t.Fatalf("expected legacy waiting normalized to queued, got %+v", result.Jobs)
	}
	if len(result.Corrupt) != 1 || result.Corrupt[0].ID != "job-2" {
		t.Fatalf("expected job-2 reported corrupt, got %+v", result.Corrupt)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats[queue.StatusQueued] != 2 {
		t.Fatalf("expected both rows counted as queued, got %v", stats)
	}
}

func TestStoreMeta(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	if _, _, ok, err := store.Meta(ctx, "startup_hint"); err != nil || ok {
		t.Fatalf("expected unset key, ok=%v err=%v", ok, err)
	}
	if err := store.SetMeta(ctx, "startup_hint", "dismissed"); err != nil {
		t.Fatalf("SetMeta: %v", err)
	}
	if err := store.SetMeta(ctx, "startup_hint", "dismissed-2"); err != nil {
		t.Fatalf("SetMeta overwrite: %v", err)
	}
	value, updated, ok, err := store.Meta(ctx, "startup_hint")
	if err != nil || !ok || value != "dismissed-2" {
		t.Fatalf("Meta = %q ok=%v err=%v", value, ok, err)
	}
	if updated.IsZero() {
		t.Fatal("expected updated timestamp")
	}
	if err := store.DeleteMeta(ctx, "startup_hint"); err != nil {
		t.Fatalf("DeleteMeta: %v", err)
	}
	if _, _, ok, _ := store.Meta(ctx, "startup_hint"); ok {
		t.Fatal("expected key removed")
	}
}

func TestReopenWithSameSchemaSucceeds(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	testsupport.SaveJob(t, store, testsupport.NewJob("job-1", "/media/a.mkv"), 0)
	store.Close()

	reopened := testsupport.MustOpenStore(t, cfg)
	job, err := reopened.Get(context.Background(), "job-1")
	if err != nil || job == nil {
		t.Fatalf("expected persisted job after reopen, job=%v err=%v", job, err)
	}
}
