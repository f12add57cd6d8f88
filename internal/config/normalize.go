package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeQueue()
	c.normalizeEncoder()
	c.normalizePresets()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if strings.TrimSpace(c.Paths.SegmentDir) == "" {
		c.Paths.SegmentDir = defaultSegmentDir
	}
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.SegmentDir, err = expandPath(c.Paths.SegmentDir); err != nil {
		return fmt.Errorf("paths.segment_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv("FFQUEUE_API_TOKEN"); ok {
			c.Paths.APIToken = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeQueue() {
	c.Queue.ConcurrencyMode = strings.ToLower(strings.TrimSpace(c.Queue.ConcurrencyMode))
	if c.Queue.ConcurrencyMode == "" {
		c.Queue.ConcurrencyMode = ConcurrencyUnified
	}
	if c.Queue.PollIntervalMs <= 0 {
		c.Queue.PollIntervalMs = defaultPollIntervalMs
	}
	if c.Queue.StopGraceSeconds <= 0 {
		c.Queue.StopGraceSeconds = defaultStopGraceSeconds
	}
	if c.Queue.ProgressPersistIntervalMs <= 0 {
		c.Queue.ProgressPersistIntervalMs = defaultProgressPersistIntervalMs
	}
	if c.Queue.LogTailBytes <= 0 {
		c.Queue.LogTailBytes = defaultLogTailBytes
	}
	if c.Queue.LogHeadLines <= 0 {
		c.Queue.LogHeadLines = defaultLogHeadLines
	}
	if c.Sync.HistoryWindow <= 0 {
		c.Sync.HistoryWindow = defaultSyncHistoryWindow
	}
}

func (c *Config) normalizeEncoder() {
	c.Encoder.FFmpegBinary = strings.TrimSpace(c.Encoder.FFmpegBinary)
	if value, ok := os.LookupEnv("FFQUEUE_FFMPEG"); ok && strings.TrimSpace(value) != "" {
		c.Encoder.FFmpegBinary = strings.TrimSpace(value)
	}
	if c.Encoder.FFmpegBinary == "" {
		c.Encoder.FFmpegBinary = defaultFFmpegBinary
	}
	c.Encoder.FFprobeBinary = strings.TrimSpace(c.Encoder.FFprobeBinary)
	if c.Encoder.FFprobeBinary == "" {
		c.Encoder.FFprobeBinary = defaultFFprobeBinary
	}
	c.Encoder.SegmentContainer = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(c.Encoder.SegmentContainer)), ".")
	if c.Encoder.SegmentContainer == "" {
		c.Encoder.SegmentContainer = defaultSegmentContainer
	}
}

func (c *Config) normalizePresets() {
	for i := range c.Presets {
		p := &c.Presets[i]
		p.ID = strings.TrimSpace(p.ID)
		p.Name = strings.TrimSpace(p.Name)
		if p.Name == "" {
			p.Name = p.ID
		}
		p.Extension = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(p.Extension)), ".")
		if p.Extension == "" {
			p.Extension = c.Encoder.SegmentContainer
		}
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
