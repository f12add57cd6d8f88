package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"ffqueue/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.SegmentDir = filepath.Join(base, "segments")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Queue.PollIntervalMs = 10
	cfgVal.Queue.StopGraceSeconds = 2
	cfgVal.Queue.ProgressPersistIntervalMs = 1

	builder := &configBuilder{t: t, baseDir: base, cfg: &cfgVal}
	for _, opt := range opts {
		opt(builder)
	}
	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithUnifiedSlots sets a single concurrency cap.
func WithUnifiedSlots(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Queue.ConcurrencyMode = config.ConcurrencyUnified
		b.cfg.Queue.MaxParallel = n
	}
}

// WithSplitSlots sets separate CPU and hardware caps.
func WithSplitSlots(cpu, hw int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Queue.ConcurrencyMode = config.ConcurrencySplit
		b.cfg.Queue.MaxParallelCPU = cpu
		b.cfg.Queue.MaxParallelHW = hw
	}
}

// WithHistoryWindow sets the delta history window.
func WithHistoryWindow(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Sync.HistoryWindow = n
	}
}

// WithAPIToken requires bearer authentication on the HTTP API.
func WithAPIToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.APIToken = token
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, ffmpeg and ffprobe are stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"ffmpeg", "ffprobe"}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\nexit 0\n")
		for _, name := range names {
			if err := os.WriteFile(filepath.Join(binDir, name), script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}
		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
