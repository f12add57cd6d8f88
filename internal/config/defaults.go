package config

import (
	"github.com/shirou/gopsutil/v3/cpu"
)

const (
	defaultDataDir                   = "~/.local/share/ffqueue"
	defaultLogDir                    = "~/.local/share/ffqueue/logs"
	defaultSegmentDir                = "~/.local/share/ffqueue/segments"
	defaultAPIBind                   = "127.0.0.1:7488"
	defaultLogFormat                 = "console"
	defaultLogLevel                  = "info"
	defaultFFmpegBinary              = "ffmpeg"
	defaultFFprobeBinary             = "ffprobe"
	defaultSegmentContainer          = "mkv"
	defaultMaxParallel               = 2
	defaultMaxParallelHW             = 1
	defaultPollIntervalMs            = 500
	defaultStopGraceSeconds          = 10
	defaultProgressPersistIntervalMs = 2000
	defaultLogTailBytes              = 16 * 1024
	defaultLogHeadLines              = 40
	defaultSyncHistoryWindow         = 256

	// ConcurrencyUnified applies one cap to every job.
	ConcurrencyUnified = "unified"
	// ConcurrencySplit applies separate caps to CPU and hardware encodes.
	ConcurrencySplit = "split"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:    defaultDataDir,
			LogDir:     defaultLogDir,
			SegmentDir: defaultSegmentDir,
			APIBind:    defaultAPIBind,
		},
		Queue: Queue{
			ConcurrencyMode:           ConcurrencyUnified,
			MaxParallel:               defaultMaxParallel,
			MaxParallelCPU:            defaultCPUSlots(),
			MaxParallelHW:             defaultMaxParallelHW,
			PollIntervalMs:            defaultPollIntervalMs,
			StopGraceSeconds:          defaultStopGraceSeconds,
			ProgressPersistIntervalMs: defaultProgressPersistIntervalMs,
			LogTailBytes:              defaultLogTailBytes,
			LogHeadLines:              defaultLogHeadLines,
		},
		Sync: Sync{
			HistoryWindow: defaultSyncHistoryWindow,
		},
		Encoder: Encoder{
			FFmpegBinary:     defaultFFmpegBinary,
			FFprobeBinary:    defaultFFprobeBinary,
			SegmentContainer: defaultSegmentContainer,
		},
		Presets: []Preset{
			{
				ID:        "h264-crf23",
				Name:      "H.264 CRF 23",
				Args:      []string{"-c:v", "libx264", "-preset", "medium", "-crf", "23", "-c:a", "copy"},
				Extension: "mkv",
			},
			{
				ID:        "av1-svt",
				Name:      "AV1 (SVT) CRF 30",
				Args:      []string{"-c:v", "libsvtav1", "-crf", "30", "-preset", "6", "-c:a", "copy"},
				Extension: "mkv",
			},
			{
				ID:        "hevc-nvenc",
				Name:      "HEVC NVENC",
				Args:      []string{"-c:v", "hevc_nvenc", "-cq", "26", "-c:a", "copy"},
				Hardware:  true,
				Extension: "mkv",
			},
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}

// defaultCPUSlots reserves half of the physical cores for concurrent CPU
// encodes; every encoder already uses several threads.
func defaultCPUSlots() int {
	cores, err := cpu.Counts(false)
	if err != nil || cores <= 0 {
		return 1
	}
	if slots := cores / 2; slots > 1 {
		return slots
	}
	return 1
}
