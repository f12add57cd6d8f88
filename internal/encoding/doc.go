// Package encoding drives ffmpeg for queue jobs.
//
// FFmpeg implements Encoder: Start launches one run that seeks to the
// resume offset and writes a partial output, reporting -progress ticks on
// the source timeline. A run stops gracefully when RequestStop writes "q"
// to ffmpeg's stdin, so the partial output is flushed and playable; Abort
// kills the whole process group. Join produces the final output from the
// segments of a resumed job using the concat demuxer, and ProbeDuration
// wraps ffprobe.
//
// Failed runs are classified from ffmpeg's stderr into queue.Failure kinds
// so hosts can tell a missing encoder build apart from a bad input.
package encoding
