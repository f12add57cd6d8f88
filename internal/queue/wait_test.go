package queue_test

import (
	"reflect"
	"testing"

	"ffqueue/internal/queue"
)

func TestAppendSegmentKeepsTargetsStrictlyIncreasing(t *testing.T) {
	var w queue.WaitMetadata
	if ok, warn := w.AppendSegment("seg0.mkv", 36.22); !ok || warn != nil {
		t.Fatalf("first append: ok=%v warn=%v", ok, warn)
	}
	if ok, warn := w.AppendSegment("seg1.mkv", 73.87); !ok || warn != nil {
		t.Fatalf("second append: ok=%v warn=%v", ok, warn)
	}
	if !reflect.DeepEqual(w.Segments, []string{"seg0.mkv", "seg1.mkv"}) {
		t.Fatalf("unexpected segments: %v", w.Segments)
	}
	if !reflect.DeepEqual(w.SegmentEndTargets, []float64{36.22, 73.87}) {
		t.Fatalf("unexpected targets: %v", w.SegmentEndTargets)
	}
	if w.TargetSeconds != 73.87 || w.TmpOutputPath != "seg1.mkv" {
		t.Fatalf("unexpected resume point: %v %q", w.TargetSeconds, w.TmpOutputPath)
	}
	if !w.TargetsValid() {
		t.Fatal("expected valid targets")
	}
}

func TestAppendSegmentWithoutProgressIsRejected(t *testing.T) {
	w := queue.WaitMetadata{}
	if ok, _ := w.AppendSegment("seg0.mkv", 10); !ok {
		t.Fatal("expected first append")
	}
	if ok, _ := w.AppendSegment("seg1.mkv", 10); ok {
		t.Fatal("expected non-advancing segment to be rejected")
	}
	if len(w.Segments) != 1 {
		t.Fatalf("expected one segment, got %v", w.Segments)
	}
}

func TestAppendSegmentDropsMalformedTargets(t *testing.T) {
	w := queue.WaitMetadata{
		Segments:          []string{"a.mkv", "b.mkv"},
		SegmentEndTargets: []float64{20, 10},
		TargetSeconds:     20,
	}
	ok, warn := w.AppendSegment("c.mkv", 30)
	if !ok {
		t.Fatal("expected append")
	}
	if warn == nil || warn.Code != queue.WarnSegmentTargetsInvalid {
		t.Fatalf("expected targets warning, got %#v", warn)
	}
	if w.SegmentEndTargets != nil {
		t.Fatalf("expected targets to be cleared, got %v", w.SegmentEndTargets)
	}
	if len(w.Segments) != 3 {
		t.Fatalf("expected three segments, got %v", w.Segments)
	}
}

func TestAppendSegmentPromotesLegacySinglePause(t *testing.T) {
	w := queue.WaitMetadata{TmpOutputPath: "legacy.mkv", TargetSeconds: 12}
	if ok, warn := w.AppendSegment("next.mkv", 40); !ok || warn != nil {
		t.Fatalf("append: ok=%v warn=%v", ok, warn)
	}
	if !reflect.DeepEqual(w.Segments, []string{"legacy.mkv", "next.mkv"}) {
		t.Fatalf("unexpected segments: %v", w.Segments)
	}
	if !reflect.DeepEqual(w.SegmentEndTargets, []float64{12, 40}) {
		t.Fatalf("unexpected targets: %v", w.SegmentEndTargets)
	}
}

func TestTargetsValidRejectsBadShapes(t *testing.T) {
	cases := []queue.WaitMetadata{
		{Segments: []string{"a", "b"}, SegmentEndTargets: []float64{1}},
		{Segments: []string{"a", "b"}, SegmentEndTargets: []float64{2, 2}},
		{Segments: []string{"a"}, SegmentEndTargets: []float64{0}},
		{Segments: []string{"a"}},
	}
	for i, w := range cases {
		if w.TargetsValid() {
			t.Fatalf("case %d: expected invalid targets", i)
		}
	}
}

func TestDropMissingSuffixKeepsResumePoint(t *testing.T) {
	w := queue.WaitMetadata{
		Segments:          []string{"a", "b", "c"},
		SegmentEndTargets: []float64{10, 20, 30},
		TargetSeconds:     30,
	}
	missing := w.DropMissing(func(p string) bool { return p != "c" })
	if !reflect.DeepEqual(missing, []string{"c"}) {
		t.Fatalf("unexpected missing list: %v", missing)
	}
	if w.TargetSeconds != 20 || len(w.Segments) != 2 {
		t.Fatalf("expected resume from 20 with two segments, got %v %v", w.TargetSeconds, w.Segments)
	}
	if w.ProgressEpoch != 1 {
		t.Fatalf("expected progress epoch bump, got %d", w.ProgressEpoch)
	}
}

func TestDropMissingGapDegradesToRestartOnly(t *testing.T) {
	w := queue.WaitMetadata{
		Segments:          []string{"a", "b", "c"},
		SegmentEndTargets: []float64{10, 20, 30},
		TargetSeconds:     30,
	}
	missing := w.DropMissing(func(p string) bool { return p != "b" })
	if !reflect.DeepEqual(missing, []string{"b"}) {
		t.Fatalf("unexpected missing list: %v", missing)
	}
	if _, ok := queue.ResumeStateOf(&w).(queue.RestartOnly); !ok {
		t.Fatalf("expected restart-only state, got %#v", queue.ResumeStateOf(&w))
	}
	if w.TargetSeconds != 0 {
		t.Fatalf("expected resume point reset, got %v", w.TargetSeconds)
	}
}

func TestDropMissingNoopWhenAllPresent(t *testing.T) {
	w := queue.WaitMetadata{Segments: []string{"a"}, SegmentEndTargets: []float64{5}, TargetSeconds: 5}
	if missing := w.DropMissing(func(string) bool { return true }); missing != nil {
		t.Fatalf("expected nothing missing, got %v", missing)
	}
	if w.ProgressEpoch != 0 {
		t.Fatal("expected epoch untouched")
	}
}
