package queue

// WaitMetadata is captured each time an active encode is paused and is
// additive across repeated pauses. It is cleared when the job completes.
type WaitMetadata struct {
	LastProgressPercent float64 `json:"lastProgressPercent,omitempty"`
	ProcessedWallMillis int64   `json:"processedWallMillis"`
	ProcessedSeconds    float64 `json:"processedSeconds,omitempty"`
	// TargetSeconds is the timeline offset the next encode starts from.
	TargetSeconds float64 `json:"targetSeconds,omitempty"`

	ProgressEpoch              uint64  `json:"progressEpoch,omitempty"`
	LastProgressOutTimeSeconds float64 `json:"lastProgressOutTimeSeconds,omitempty"`
	LastProgressFrame          uint64  `json:"lastProgressFrame,omitempty"`
	LastProgressUpdatedAtMs    int64   `json:"lastProgressUpdatedAtMs,omitempty"`

	// TmpOutputPath is the most recent partial output file.
	TmpOutputPath string `json:"tmpOutputPath,omitempty"`
	// Segments lists completed partial outputs, oldest first.
	Segments []string `json:"segments,omitempty"`
	// SegmentEndTargets holds the timeline offset each segment ends at. It is
	// only meaningful when TargetsValid reports true.
	SegmentEndTargets []float64 `json:"segmentEndTargets,omitempty"`
}

// Clone returns a deep copy.
func (w *WaitMetadata) Clone() *WaitMetadata {
	if w == nil {
		return nil
	}
	out := *w
	out.Segments = append([]string(nil), w.Segments...)
	out.SegmentEndTargets = append([]float64(nil), w.SegmentEndTargets...)
	return &out
}

// SegmentPaths returns the ordered partial outputs, falling back to
// TmpOutputPath for records that predate the segment list.
func (w *WaitMetadata) SegmentPaths() []string {
	if w == nil {
		return nil
	}
	if len(w.Segments) > 0 {
		return append([]string(nil), w.Segments...)
	}
	if w.TmpOutputPath != "" {
		return []string{w.TmpOutputPath}
	}
	return nil
}

// TargetsValid reports whether SegmentEndTargets can be used as join points:
// one strictly increasing, positive value per segment.
func (w *WaitMetadata) TargetsValid() bool {
	if w == nil {
		return false
	}
	return validTargets(w.SegmentPaths(), w.SegmentEndTargets)
}

func validTargets(segments []string, targets []float64) bool {
	if len(segments) == 0 || len(targets) != len(segments) {
		return false
	}
	prev := 0.0
	for _, t := range targets {
		if t <= prev {
			return false
		}
		prev = t
	}
	return true
}

// CaptureProgress copies the last observed progress tick into the metadata.
func (w *WaitMetadata) CaptureProgress(t Telemetry, percent float64) {
	w.ProgressEpoch = t.ProgressEpoch
	w.LastProgressOutTimeSeconds = t.LastProgressOutTimeSeconds
	w.LastProgressFrame = t.LastProgressFrame
	w.LastProgressUpdatedAtMs = t.LastProgressUpdatedAtMs
	w.LastProgressPercent = percent
}

// AppendSegment records a flushed partial output ending at endTarget on the
// source timeline. It returns false when the segment carries no new media
// (endTarget does not advance past the current resume point); the caller
// should discard such a file. Malformed existing targets are dropped rather
// than extended, and a warning is returned describing the degradation.
func (w *WaitMetadata) AppendSegment(path string, endTarget float64) (bool, *Warning) {
	if path == "" || endTarget <= w.TargetSeconds {
		return false, nil
	}

	w.promoteLegacy()
	segments := w.SegmentPaths()
	targetsOK := len(segments) == 0 || validTargets(segments, w.SegmentEndTargets)

	w.Segments = append(segments, path)
	w.TmpOutputPath = path
	w.TargetSeconds = endTarget
	w.ProcessedSeconds = endTarget

	if targetsOK {
		w.SegmentEndTargets = append(w.SegmentEndTargets[:len(segments):len(segments)], endTarget)
		return true, nil
	}
	w.SegmentEndTargets = nil
	warn := NewWarning(WarnSegmentTargetsInvalid,
		"segment join targets were malformed; final output will be concatenated without duration hints")
	return true, &warn
}

// DropMissing removes segments for which exists reports false. Remaining
// targets are kept only if they stay consistent. When nothing survives the
// metadata degrades to restart-only: the resume point returns to zero and the
// progress epoch is bumped so observers discard stale progress.
func (w *WaitMetadata) DropMissing(exists func(string) bool) []string {
	segments := w.SegmentPaths()
	if len(segments) == 0 {
		return nil
	}
	targetsOK := validTargets(segments, w.SegmentEndTargets)

	var (
		kept        []string
		keptTargets []float64
		missing     []string
	)
	for i, seg := range segments {
		if exists(seg) {
			kept = append(kept, seg)
			if targetsOK {
				keptTargets = append(keptTargets, w.SegmentEndTargets[i])
			}
			continue
		}
		missing = append(missing, seg)
	}
	if len(missing) == 0 {
		return nil
	}

	// A gap in the middle breaks the timeline; only a missing suffix can be
	// re-encoded from the last surviving join point.
	prefix := 0
	for prefix < len(segments) && prefix < len(kept) && segments[prefix] == kept[prefix] {
		prefix++
	}
	if prefix != len(kept) || !targetsOK {
		w.resetToRestartOnly()
		return missing
	}

	w.Segments = kept
	w.SegmentEndTargets = keptTargets
	if len(kept) == 0 {
		w.resetToRestartOnly()
		return missing
	}
	w.TmpOutputPath = kept[len(kept)-1]
	w.TargetSeconds = keptTargets[len(keptTargets)-1]
	w.ProcessedSeconds = w.TargetSeconds
	w.ProgressEpoch++
	return missing
}

// promoteLegacy turns a single-pause record (TmpOutputPath only) into the
// segment list form, using TargetSeconds as its join point.
func (w *WaitMetadata) promoteLegacy() {
	if len(w.Segments) > 0 || w.TmpOutputPath == "" {
		return
	}
	w.Segments = []string{w.TmpOutputPath}
	if len(w.SegmentEndTargets) == 0 && w.TargetSeconds > 0 {
		w.SegmentEndTargets = []float64{w.TargetSeconds}
	}
}

func (w *WaitMetadata) resetToRestartOnly() {
	w.Segments = nil
	w.SegmentEndTargets = nil
	w.TmpOutputPath = ""
	w.TargetSeconds = 0
	w.ProcessedSeconds = 0
	w.LastProgressPercent = 0
	w.ProgressEpoch++
}
