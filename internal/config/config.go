package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir    string `toml:"data_dir"`
	LogDir     string `toml:"log_dir"`
	SegmentDir string `toml:"segment_dir"`
	APIBind    string `toml:"api_bind"`
	APIToken   string `toml:"api_token"`
}

// Queue contains scheduling and worker configuration.
type Queue struct {
	// ConcurrencyMode is "unified" (one cap for every job) or "split"
	// (separate caps for CPU and hardware encodes).
	ConcurrencyMode           string `toml:"concurrency_mode"`
	MaxParallel               int    `toml:"max_parallel"`
	MaxParallelCPU            int    `toml:"max_parallel_cpu"`
	MaxParallelHW             int    `toml:"max_parallel_hw"`
	PollIntervalMs            int    `toml:"poll_interval_ms"`
	StopGraceSeconds          int    `toml:"stop_grace_seconds"`
	ProgressPersistIntervalMs int    `toml:"progress_persist_interval_ms"`
	LogTailBytes              int    `toml:"log_tail_bytes"`
	LogHeadLines              int    `toml:"log_head_lines"`
}

// Sync contains snapshot/delta synchronization settings.
type Sync struct {
	HistoryWindow int `toml:"history_window"`
}

// Encoder contains external encoder binary settings.
type Encoder struct {
	FFmpegBinary     string `toml:"ffmpeg_binary"`
	FFprobeBinary    string `toml:"ffprobe_binary"`
	SegmentContainer string `toml:"segment_container"`
}

// Preset describes one encode recipe jobs may reference by id.
type Preset struct {
	ID        string   `toml:"id"`
	Name      string   `toml:"name"`
	Args      []string `toml:"args"`
	Hardware  bool     `toml:"hardware"`
	Extension string   `toml:"extension"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for ffqueue.
//
// Configuration sections by subsystem:
//   - Paths: data, log, and segment directories plus the API bind address
//   - Queue: concurrency policy, worker timing, and log retention per job
//   - Sync: delta history window
//   - Encoder: ffmpeg/ffprobe binaries and segment container
//   - Presets: encode recipes addressable by id
//   - Logging: log format and level
type Config struct {
	Paths   Paths    `toml:"paths"`
	Queue   Queue    `toml:"queue"`
	Sync    Sync     `toml:"sync"`
	Encoder Encoder  `toml:"encoder"`
	Presets []Preset `toml:"presets"`
	Logging Logging  `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/ffqueue/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		// A file that declares [[presets]] replaces the built-in catalogue.
		defaults := cfg.Presets
		cfg.Presets = nil
		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
		if len(cfg.Presets) == 0 {
			cfg.Presets = defaults
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("ffqueue.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir, c.Paths.SegmentDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// QueueDBPath returns the SQLite database location.
func (c *Config) QueueDBPath() string {
	return filepath.Join(c.Paths.DataDir, "queue.db")
}

// SocketPath returns the IPC socket location.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.DataDir, "ffqueue.sock")
}

// LockPath returns the daemon lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "ffqueued.lock")
}

// PIDPath returns the daemon pid file location.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.DataDir, "ffqueued.pid")
}

// ShutdownMarkerPath returns the clean-shutdown marker location.
func (c *Config) ShutdownMarkerPath() string {
	return filepath.Join(c.Paths.DataDir, "shutdown.marker")
}

// FFmpegBinary returns the ffmpeg executable used for encodes and concat.
func (c *Config) FFmpegBinary() string {
	if v := strings.TrimSpace(c.Encoder.FFmpegBinary); v != "" {
		return v
	}
	return defaultFFmpegBinary
}

// FFprobeBinary returns the ffprobe executable used for duration checks.
func (c *Config) FFprobeBinary() string {
	if v := strings.TrimSpace(c.Encoder.FFprobeBinary); v != "" {
		return v
	}
	return defaultFFprobeBinary
}

// Preset returns the preset with the given id.
func (c *Config) Preset(id string) (Preset, bool) {
	id = strings.TrimSpace(id)
	for _, p := range c.Presets {
		if p.ID == id {
			return p, true
		}
	}
	return Preset{}, false
}

// SplitConcurrency reports whether CPU and hardware encodes have separate caps.
func (c *Config) SplitConcurrency() bool {
	return c.Queue.ConcurrencyMode == ConcurrencySplit
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
