package fileutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCopyFileVerified(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	dst := filepath.Join(dir, "dst.bin")

	content := []byte("verified copy content")
	if err := os.WriteFile(src, content, 0o644); err != nil {
		t.Fatal(err)
	}

	if err := CopyFileVerified(src, dst); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(content) {
		t.Fatalf("content mismatch: got %q, want %q", got, content)
	}
}

func TestCopyFileVerified_MissingSource(t *testing.T) {
	dir := t.TempDir()
	if err := CopyFileVerified(filepath.Join(dir, "nonexistent"), filepath.Join(dir, "dst.bin")); err == nil {
		t.Fatal("expected error for missing source")
	}
}

func TestMoveFileCreatesDestinationDir(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "seg.mkv")
	dst := filepath.Join(dir, "out", "final.mkv")
	if err := os.WriteFile(src, []byte("segment"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := MoveFile(src, dst); err != nil {
		t.Fatalf("MoveFile: %v", err)
	}
	if Exists(src) {
		t.Fatal("expected source removed")
	}
	got, err := os.ReadFile(dst)
	if err != nil || string(got) != "segment" {
		t.Fatalf("unexpected destination content %q (err=%v)", got, err)
	}
}

func TestWriteFileAtomicReplacesContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "marker")
	if err := WriteFileAtomic(path, []byte("one"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := WriteFileAtomic(path, []byte("two"), 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(path)
	if err != nil || string(got) != "two" {
		t.Fatalf("unexpected content %q (err=%v)", got, err)
	}
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected temp files cleaned up, found %d entries", len(entries))
	}
}

func TestRemoveBestEffortIgnoresMissing(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "a.mkv")
	if err := os.WriteFile(present, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	failures := RemoveBestEffort(present, filepath.Join(dir, "missing.mkv"), "", present)
	if len(failures) != 0 {
		t.Fatalf("unexpected failures: %v", failures)
	}
	if Exists(present) {
		t.Fatal("expected file removed")
	}
}

func TestRemoveBestEffortReportsFailures(t *testing.T) {
	dir := t.TempDir()
	nonEmpty := filepath.Join(dir, "busy")
	if err := os.MkdirAll(filepath.Join(nonEmpty, "child"), 0o755); err != nil {
		t.Fatal(err)
	}
	failures := RemoveBestEffort(nonEmpty)
	if len(failures) != 1 || failures[0].Path != nonEmpty {
		t.Fatalf("expected one failure for non-empty dir, got %v", failures)
	}
}
