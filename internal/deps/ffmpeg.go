package deps

import (
	"context"

	"ffqueue/internal/config"
)

// EncoderRequirements lists the binaries the transcode pipeline runs.
func EncoderRequirements(cfg *config.Config) []Requirement {
	return []Requirement{
		{
			Name:        "FFmpeg",
			Command:     cfg.FFmpegBinary(),
			Description: "Runs encodes and joins resumed segments",
		},
		{
			Name:        "FFprobe",
			Command:     cfg.FFprobeBinary(),
			Description: "Measures durations of inputs and partial outputs",
		},
	}
}

// CheckEncoder checks the configured ffmpeg and ffprobe binaries.
func CheckEncoder(ctx context.Context, cfg *config.Config) []Status {
	return Check(ctx, EncoderRequirements(cfg))
}
