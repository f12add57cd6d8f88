package encoding

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"ffqueue/internal/queue"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		stderr    []string
		kind      queue.FailureKind
		component string
	}{
		{
			name:      "unknown encoder",
			stderr:    []string{"Unknown encoder 'libsvtav1'"},
			kind:      queue.FailureMissingEncoder,
			component: "libsvtav1",
		},
		{
			name:      "encoder not found for stream",
			stderr:    []string{"Stream mapping:", "Encoder (codec hevc_nvenc) not found for output stream #0:0"},
			kind:      queue.FailureMissingEncoder,
			component: "hevc_nvenc",
		},
		{
			name:      "missing filter",
			stderr:    []string{"[AVFilterGraph @ 0x1] No such filter: 'zscale'"},
			kind:      queue.FailureMissingFilter,
			component: "zscale",
		},
		{
			name:      "missing decoder",
			stderr:    []string{"Decoder (codec av1) not found for input stream #0:0"},
			kind:      queue.FailureMissingDecoder,
			component: "av1",
		},
		{
			name:      "missing library",
			stderr:    []string{"ffmpeg: error while loading shared libraries: libx265.so.199: cannot open shared object file"},
			kind:      queue.FailureMissingLibrary,
			component: "libx265.so.199",
		},
		{
			name:      "input missing",
			stderr:    []string{"/media/in.mkv: No such file or directory"},
			kind:      queue.FailureInputNotFound,
			component: "/media/in.mkv",
		},
		{
			name:      "permission denied",
			stderr:    []string{"/media/in.mkv: Permission denied"},
			kind:      queue.FailurePermissionDenied,
			component: "/media/in.mkv",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.stderr, "/media/in.mkv", errors.New("exit status 1"))
			if got.Kind != tt.kind || got.Component != tt.component {
				t.Fatalf("Classify = %+v, want kind %s component %q", got, tt.kind, tt.component)
			}
		})
	}
}

func TestClassifyGenericCrashUsesLastLine(t *testing.T) {
	got := Classify([]string{"frame=  10", "Conversion failed!", ""}, "/media/in.mkv", errors.New("exit status 1"))
	if got.Kind != queue.FailureEncoderCrash || got.Reason != "Conversion failed!" {
		t.Fatalf("Classify = %+v", got)
	}
	got = Classify(nil, "/media/in.mkv", errors.New("signal: segmentation fault"))
	if got.Reason != "signal: segmentation fault" {
		t.Fatalf("reason = %q, want exit error", got.Reason)
	}
}

func TestPreflight(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "in.mkv")
	if err := os.WriteFile(input, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if f := Preflight(input, filepath.Join(dir, "segments", "job-1-r1.mkv")); f != nil {
		t.Fatalf("Preflight = %+v, want nil", f)
	}
	if !isDir(filepath.Join(dir, "segments")) {
		t.Fatal("expected output directory to be created")
	}

	missing := filepath.Join(dir, "missing.mkv")
	if f := Preflight(missing, ""); f == nil || f.Kind != queue.FailureInputNotFound || f.Component != missing {
		t.Fatalf("Preflight(missing) = %+v", f)
	}

	if os.Geteuid() == 0 {
		t.Skip("permission checks do not apply to root")
	}
	locked := filepath.Join(dir, "locked.mkv")
	if err := os.WriteFile(locked, []byte("x"), 0o000); err != nil {
		t.Fatal(err)
	}
	if f := Preflight(locked, ""); f == nil || f.Kind != queue.FailurePermissionDenied {
		t.Fatalf("Preflight(locked) = %+v", f)
	}
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
