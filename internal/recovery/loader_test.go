package recovery

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"ffqueue/internal/config"
	"ffqueue/internal/logging"
	"ffqueue/internal/queue"
	"ffqueue/internal/testsupport"
)

func newLoader(cfg *config.Config, store Store) *Loader {
	return NewLoader(Options{
		Store:        store,
		SegmentDir:   cfg.Paths.SegmentDir,
		Logger:       logging.NewNop(),
		LogHeadLines: 10,
		LogTailBytes: 1024,
		Now:          func() int64 { return 9000 },
	})
}

func crashedJob(id, segment string) *queue.Job {
	job := testsupport.NewJob(id, "/media/"+id+".mkv")
	job.Status = queue.StatusProcessing
	job.QueueOrder = nil
	job.ProcessingStartedMs = queue.Int64(1000)
	job.ActiveSinceMs = queue.Int64(1000)
	job.ElapsedMs = 500
	job.Progress = 40
	job.DurationSeconds = 100
	job.Telemetry = queue.Telemetry{
		ProgressEpoch:              2,
		LastProgressOutTimeSeconds: 42.5,
		LastProgressFrame:          1020,
		LastProgressUpdatedAtMs:    4000,
	}
	job.Runs = []queue.Run{{StartedMs: 1000, Segment: segment}}
	return job
}

func TestLoadRecoversProcessingJobAndIsIdempotent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	segment := filepath.Join(cfg.Paths.SegmentDir, "job-1-r1000.mkv")
	testsupport.WriteFile(t, segment, 64)
	testsupport.SaveJob(t, store, crashedJob("job-1", segment), 0)

	res := newLoader(cfg, store).Load(context.Background())
	if len(res.Recovered) != 1 || res.Recovered[0] != "job-1" {
		t.Fatalf("recovered = %v, want [job-1]", res.Recovered)
	}
	if len(res.Jobs) != 1 {
		t.Fatalf("jobs = %d, want 1", len(res.Jobs))
	}
	job := res.Jobs[0]
	if job.Status != queue.StatusPaused || !job.AutoPaused {
		t.Fatalf("status = %s auto=%v, want auto-paused", job.Status, job.AutoPaused)
	}
	if job.QueueOrder != nil || job.ActiveSinceMs != nil {
		t.Fatalf("paused job kept scheduling state: order=%v active=%v", job.QueueOrder, job.ActiveSinceMs)
	}
	if job.ElapsedMs != 3500 {
		t.Fatalf("elapsed = %d, want 3500", job.ElapsedMs)
	}
	wait := job.Wait
	if wait == nil {
		t.Fatal("expected synthesized wait metadata")
	}
	if wait.LastProgressOutTimeSeconds != 42.5 || wait.ProgressEpoch != 2 {
		t.Fatalf("wait progress = %v epoch %d", wait.LastProgressOutTimeSeconds, wait.ProgressEpoch)
	}
	if got := wait.SegmentPaths(); len(got) != 1 || got[0] != segment {
		t.Fatalf("segments = %v, want [%s]", got, segment)
	}
	if wait.TargetSeconds != 39.5 || len(wait.SegmentEndTargets) != 1 || wait.SegmentEndTargets[0] != 39.5 {
		t.Fatalf("target = %v targets = %v, want rollback to 39.5", wait.TargetSeconds, wait.SegmentEndTargets)
	}
	if wait.ProcessedWallMillis != 3500 {
		t.Fatalf("processed wall = %d, want 3500", wait.ProcessedWallMillis)
	}
	if job.Runs[0].EndedMs != 4000 || job.Runs[0].Outcome != "interrupted" {
		t.Fatalf("run = %+v", job.Runs[0])
	}
	if !hasWarning(job, queue.WarnCrashRecovered) {
		t.Fatalf("warnings = %+v, want crash_recovered", job.Warnings)
	}
	if err := job.CheckInvariants(); err != nil {
		t.Fatalf("invariants: %v", err)
	}

	again := newLoader(cfg, store).Load(context.Background())
	if len(again.Recovered) != 0 {
		t.Fatalf("second load recovered %v", again.Recovered)
	}
	if len(again.Jobs) != 1 {
		t.Fatalf("second load jobs = %d, want 1", len(again.Jobs))
	}
	second := again.Jobs[0]
	if second.ElapsedMs != 3500 || len(second.Wait.SegmentPaths()) != 1 || second.Wait.TargetSeconds != 39.5 {
		t.Fatalf("second load changed job: elapsed=%d wait=%+v", second.ElapsedMs, second.Wait)
	}
	if !testsupport.Exists(segment) {
		t.Fatal("recovered segment was removed")
	}
}

func TestLoadDiscardsSegmentWithoutProgress(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	segment := filepath.Join(cfg.Paths.SegmentDir, "job-2-r5000.mkv")
	testsupport.WriteFile(t, segment, 16)

	job := crashedJob("job-2", segment)
	job.ActiveSinceMs = queue.Int64(5000)
	job.Runs = []queue.Run{{StartedMs: 5000, ResumeFromSeconds: 42.5, Segment: segment}}
	job.Wait = &queue.WaitMetadata{
		Segments:          []string{filepath.Join(cfg.Paths.SegmentDir, "job-2-r1000.mkv")},
		SegmentEndTargets: []float64{42.5},
		TargetSeconds:     42.5,
	}
	testsupport.WriteFile(t, job.Wait.Segments[0], 16)
	testsupport.SaveJob(t, store, job, 0)

	res := newLoader(cfg, store).Load(context.Background())
	got := res.Jobs[0]
	if got.Status != queue.StatusPaused {
		t.Fatalf("status = %s, want paused", got.Status)
	}
	if len(got.Wait.SegmentPaths()) != 1 || got.Wait.TargetSeconds != 42.5 {
		t.Fatalf("wait = %+v, want previous segment only", got.Wait)
	}
	if got.ElapsedMs != 500 {
		t.Fatalf("elapsed = %d, want 500 (no progress in crashed run)", got.ElapsedMs)
	}
	if got.Runs[0].Segment != "" {
		t.Fatalf("run segment = %q, want cleared", got.Runs[0].Segment)
	}
	if testsupport.Exists(segment) {
		t.Fatal("empty crashed segment should be removed")
	}
}

func TestLoadProcessingWithoutSegmentIsRestartOnly(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	job := crashedJob("job-3", "")
	job.Runs = nil
	testsupport.SaveJob(t, store, job, 0)

	res := newLoader(cfg, store).Load(context.Background())
	got := res.Jobs[0]
	if got.Status != queue.StatusPaused || got.Wait == nil {
		t.Fatalf("status = %s wait = %v", got.Status, got.Wait)
	}
	if _, ok := queue.ResumeStateOf(got.Wait).(queue.RestartOnly); !ok {
		t.Fatalf("resume state = %T, want RestartOnly", queue.ResumeStateOf(got.Wait))
	}
	if got.Wait.LastProgressOutTimeSeconds != 42.5 {
		t.Fatalf("last progress = %v, want 42.5", got.Wait.LastProgressOutTimeSeconds)
	}
}

func TestLoadDropsMissingSegments(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	dir := cfg.Paths.SegmentDir
	seg0 := filepath.Join(dir, "job-4-r1.mkv")
	seg1 := filepath.Join(dir, "job-4-r2.mkv")
	seg2 := filepath.Join(dir, "job-4-r3.mkv")

	suffix := testsupport.NewJob("job-4", "/media/a.mkv")
	suffix.Status = queue.StatusPaused
	suffix.QueueOrder = nil
	suffix.Wait = &queue.WaitMetadata{
		Segments:          []string{seg0, seg1, seg2},
		SegmentEndTargets: []float64{10, 20, 30},
		TargetSeconds:     30,
		ProgressEpoch:     1,
	}
	testsupport.WriteFile(t, seg0, 8)
	testsupport.WriteFile(t, seg1, 8)
	testsupport.SaveJob(t, store, suffix, 0)

	gap := testsupport.NewJob("job-5", "/media/b.mkv")
	gap.Status = queue.StatusPaused
	gap.QueueOrder = nil
	gap.Progress = 50
	gap.Wait = &queue.WaitMetadata{
		Segments:          []string{filepath.Join(dir, "job-5-r1.mkv"), filepath.Join(dir, "job-5-r2.mkv")},
		SegmentEndTargets: []float64{10, 20},
		TargetSeconds:     20,
	}
	testsupport.WriteFile(t, gap.Wait.Segments[1], 8)
	testsupport.SaveJob(t, store, gap, 1)

	res := newLoader(cfg, store).Load(context.Background())
	if len(res.Degraded) != 2 {
		t.Fatalf("degraded = %v, want both jobs", res.Degraded)
	}

	first := res.Jobs[0]
	if first.Wait.TargetSeconds != 20 || len(first.Wait.SegmentPaths()) != 2 {
		t.Fatalf("suffix wait = %+v, want two segments ending at 20", first.Wait)
	}
	if first.Telemetry.ProgressEpoch != first.Wait.ProgressEpoch || first.Wait.ProgressEpoch != 2 {
		t.Fatalf("epoch telemetry=%d wait=%d, want 2", first.Telemetry.ProgressEpoch, first.Wait.ProgressEpoch)
	}
	if !hasWarning(first, queue.WarnSegmentMissing) || hasWarning(first, queue.WarnResumeRestartOnly) {
		t.Fatalf("suffix warnings = %+v", first.Warnings)
	}

	second := res.Jobs[1]
	if len(second.Wait.SegmentPaths()) != 0 || second.Wait.TargetSeconds != 0 || second.Progress != 0 {
		t.Fatalf("gap wait = %+v progress %v, want restart only", second.Wait, second.Progress)
	}
	if !hasWarning(second, queue.WarnResumeRestartOnly) {
		t.Fatalf("gap warnings = %+v", second.Warnings)
	}
	// The surviving file after a gap is no longer referenced.
	if testsupport.Exists(gap.Wait.Segments[1]) {
		t.Fatal("unreferenced segment after gap should be removed as orphan")
	}
}

func TestLoadRepairsSchedulingFields(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	ordered := testsupport.NewJob("job-1", "/media/a.mkv")
	ordered.QueueOrder = queue.Int(4)
	testsupport.SaveJob(t, store, ordered, 0)

	unordered := testsupport.NewJob("job-2", "/media/b.mkv")
	testsupport.SaveJob(t, store, unordered, 1)

	bare := testsupport.NewJob("job-3", "/media/c.mkv")
	bare.Status = queue.StatusPaused
	bare.QueueOrder = queue.Int(1)
	testsupport.SaveJob(t, store, bare, 2)

	res := newLoader(cfg, store).Load(context.Background())
	if got := res.Jobs[1].QueueOrder; got == nil || *got != 5 {
		t.Fatalf("unordered queue order = %v, want 5", got)
	}
	paused := res.Jobs[2]
	if paused.QueueOrder != nil || paused.Wait == nil {
		t.Fatalf("paused job not repaired: order=%v wait=%v", paused.QueueOrder, paused.Wait)
	}
	for _, job := range res.Jobs {
		if err := job.CheckInvariants(); err != nil {
			t.Fatalf("invariants: %v", err)
		}
	}
	if res.Positions["job-3"] != 2 {
		t.Fatalf("positions = %v", res.Positions)
	}
}

func TestLoadRemovesOrphanSegments(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	dir := cfg.Paths.SegmentDir

	kept := filepath.Join(dir, "job-1-r1.mkv")
	orphan := filepath.Join(dir, "job-7-r1.mkv")
	foreign := filepath.Join(dir, "notes.txt")
	for _, p := range []string{kept, orphan, foreign} {
		testsupport.WriteFile(t, p, 4)
	}
	job := testsupport.NewJob("job-1", "/media/a.mkv")
	job.Status = queue.StatusPaused
	job.Wait = &queue.WaitMetadata{Segments: []string{kept}, SegmentEndTargets: []float64{12}, TargetSeconds: 12}
	testsupport.SaveJob(t, store, job, 0)

	res := newLoader(cfg, store).Load(context.Background())
	if len(res.Orphans) != 1 || res.Orphans[0] != orphan {
		t.Fatalf("orphans = %v, want [%s]", res.Orphans, orphan)
	}
	if testsupport.Exists(orphan) {
		t.Fatal("orphan still present")
	}
	if !testsupport.Exists(kept) || !testsupport.Exists(foreign) {
		t.Fatal("referenced or foreign file removed")
	}
}

type failingStore struct{}

func (failingStore) Load(context.Context) (queue.LoadResult, error) {
	return queue.LoadResult{}, errors.New("disk I/O error")
}

func (failingStore) Save(context.Context, *queue.Job, int64) error { return nil }

func TestLoadUnreadableStateStartsEmpty(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	res := newLoader(cfg, failingStore{}).Load(context.Background())
	if !res.Unreadable || len(res.Jobs) != 0 || res.Positions == nil {
		t.Fatalf("result = %+v, want empty unreadable result", res)
	}
}

func TestRollbackTarget(t *testing.T) {
	tests := []struct {
		prev, lastOut, want float64
	}{
		{prev: 5, lastOut: 10, want: 7},
		{prev: 5, lastOut: 5.06, want: 5.06},
		{prev: 0, lastOut: 2, want: 2},
		{prev: 5, lastOut: 5, want: 0},
		{prev: 8, lastOut: 3, want: 0},
	}
	for _, tt := range tests {
		if got := rollbackTarget(tt.prev, tt.lastOut); got != tt.want {
			t.Fatalf("rollbackTarget(%v, %v) = %v, want %v", tt.prev, tt.lastOut, got, tt.want)
		}
	}
}

func TestMarkerRoundTripAndConsume(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shutdown.marker")
	if m, err := ConsumeMarker(path); err != nil || m != nil {
		t.Fatalf("missing marker = %v, %v", m, err)
	}
	if err := WriteMarker(path, Marker{StoppedAtMs: 42, PausedJobs: []string{"job-1"}}); err != nil {
		t.Fatalf("WriteMarker: %v", err)
	}
	m, err := ConsumeMarker(path)
	if err != nil || m == nil || m.StoppedAtMs != 42 || len(m.PausedJobs) != 1 {
		t.Fatalf("marker = %+v, %v", m, err)
	}
	if testsupport.Exists(path) {
		t.Fatal("marker not removed")
	}

	if err := os.WriteFile(path, []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ConsumeMarker(path); err == nil {
		t.Fatal("expected decode error")
	}
	if testsupport.Exists(path) {
		t.Fatal("corrupt marker not removed")
	}
}

func hasWarning(job *queue.Job, code string) bool {
	for _, w := range job.Warnings {
		if w.Code == code {
			return true
		}
	}
	return false
}
