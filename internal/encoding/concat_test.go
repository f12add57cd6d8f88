package encoding

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ffqueue/internal/queue"
	"ffqueue/internal/testsupport"
)

func TestConcatListTimed(t *testing.T) {
	plan, warn := queue.BuildConcatPlan(queue.TimedSegments{Segments: []queue.Segment{
		{Path: "/seg/a.mkv", EndTarget: 36.22},
		{Path: "/seg/it's.mkv", EndTarget: 73.87},
	}}, "/seg/tail.mkv", 90)
	if warn != nil {
		t.Fatalf("unexpected warning: %+v", warn)
	}
	got := string(ConcatList(plan))
	want := strings.Join([]string{
		"ffconcat version 1.0",
		"file '/seg/a.mkv'",
		"duration 36.220000",
		"outpoint 36.220000",
		`file '/seg/it'\''s.mkv'`,
		"duration 37.650000",
		"outpoint 37.650000",
		"file '/seg/tail.mkv'",
		"duration 16.130000",
		"outpoint 16.130000",
		"",
	}, "\n")
	if got != want {
		t.Fatalf("list =\n%s\nwant\n%s", got, want)
	}
}

func TestConcatListUntimedHasNoDirectives(t *testing.T) {
	plan, _ := queue.BuildConcatPlan(queue.UntimedSegments{Segments: []string{"/seg/a.mkv"}, ResumeFrom: 20}, "/seg/tail.mkv", 90)
	got := string(ConcatList(plan))
	if strings.Contains(got, "duration") || strings.Contains(got, "outpoint") {
		t.Fatalf("untimed list has directives:\n%s", got)
	}
}

func TestJoinSinglePartMoves(t *testing.T) {
	dir := t.TempDir()
	tail := filepath.Join(dir, "tail.mkv")
	target := filepath.Join(dir, "out", "movie.h264.mkv")
	testsupport.WriteFile(t, tail, 32)

	plan := queue.ConcatPlan{Parts: []queue.ConcatPart{{Path: tail}}, Timed: true}
	if err := NewFFmpeg().Join(context.Background(), plan, target); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if testsupport.Exists(tail) || !testsupport.Exists(target) {
		t.Fatal("single part was not moved into place")
	}
}

func TestJoinRunsConcatDemuxer(t *testing.T) {
	captured := stubCommand(t, "success")
	dir := t.TempDir()
	target := filepath.Join(dir, "movie.mkv")
	plan := queue.ConcatPlan{Timed: true, Parts: []queue.ConcatPart{
		{Path: filepath.Join(dir, "a.mkv"), Duration: 10},
		{Path: filepath.Join(dir, "b.mkv")},
	}}
	if err := NewFFmpeg().Join(context.Background(), plan, target); err != nil {
		t.Fatalf("Join: %v", err)
	}
	args := strings.Join(*captured, " ")
	want := "-f concat -safe 0 -i " + queue.ConcatListPath(target) + " -map 0 -c copy " + target
	if !strings.Contains(args, want) {
		t.Fatalf("args = %q, want %q", args, want)
	}
	if testsupport.Exists(queue.ConcatListPath(target)) {
		t.Fatal("concat list not removed")
	}
}

func TestJoinFailureRemovesPartialTarget(t *testing.T) {
	stubCommand(t, "concat-fail")
	dir := t.TempDir()
	target := filepath.Join(dir, "movie.mkv")
	if err := os.WriteFile(target, []byte("partial"), 0o644); err != nil {
		t.Fatal(err)
	}
	plan := queue.ConcatPlan{Parts: []queue.ConcatPart{{Path: "a"}, {Path: "b"}}}
	err := NewFFmpeg().Join(context.Background(), plan, target)
	if err == nil || !strings.Contains(err.Error(), "Invalid data") {
		t.Fatalf("err = %v, want concat failure with ffmpeg reason", err)
	}
	if testsupport.Exists(target) {
		t.Fatal("partial target left behind")
	}
}
