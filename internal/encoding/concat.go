package encoding

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"ffqueue/internal/fileutil"
	"ffqueue/internal/logging"
	"ffqueue/internal/queue"
)

// ConcatList renders a concat demuxer list for plan. Timed parts carry
// duration and outpoint directives so each segment is cut at its join
// target; the final part plays to its end.
func ConcatList(plan queue.ConcatPlan) []byte {
	var buf bytes.Buffer
	buf.WriteString("ffconcat version 1.0\n")
	for _, part := range plan.Parts {
		fmt.Fprintf(&buf, "file '%s'\n", strings.ReplaceAll(part.Path, "'", `'\''`))
		if plan.Timed && part.Duration > 0 {
			fmt.Fprintf(&buf, "duration %.6f\n", part.Duration)
			fmt.Fprintf(&buf, "outpoint %.6f\n", part.Duration)
		}
	}
	return buf.Bytes()
}

// Join produces target from the plan's parts. A single part is moved into
// place; several parts are stream-copied through the concat demuxer using a
// list written beside target, which is removed afterwards.
func (f *FFmpeg) Join(ctx context.Context, plan queue.ConcatPlan, target string) error {
	switch len(plan.Parts) {
	case 0:
		return errors.New("concat: no parts")
	case 1:
		if err := fileutil.MoveFile(plan.Parts[0].Path, target); err != nil {
			return fmt.Errorf("concat: move single part: %w", err)
		}
		return nil
	}

	listPath := queue.ConcatListPath(target)
	if err := fileutil.WriteFileAtomic(listPath, ConcatList(plan), 0o644); err != nil {
		return fmt.Errorf("concat: write list: %w", err)
	}
	defer func() {
		for _, failure := range fileutil.RemoveBestEffort(listPath) {
			logging.WarnWithContext(f.logger, "failed to remove concat list", "cleanup_failed",
				logging.String("path", failure.Path),
				logging.Error(failure.Err),
			)
		}
	}()

	args := []string{"-hide_banner", "-nostdin", "-y", "-f", "concat", "-safe", "0", "-i", listPath, "-map", "0", "-c", "copy", target}
	f.logger.Info("joining segments",
		logging.String("target", target),
		logging.Int("parts", len(plan.Parts)),
		logging.Bool("timed", plan.Timed),
	)
	cmd := commandContext(ctx, f.ffmpeg, args...) //nolint:gosec
	output, err := cmd.CombinedOutput()
	if err != nil {
		_ = os.Remove(target)
		return fmt.Errorf("concat: ffmpeg: %w: %s", err, lastLine(strings.Split(strings.TrimSpace(string(output)), "\n"), ""))
	}
	return nil
}
