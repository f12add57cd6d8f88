package queue

import "fmt"

// ResumeState is the interpreted form of a job's WaitMetadata. The concrete
// types are NotPaused, RestartOnly, SingleSegment, TimedSegments, and
// UntimedSegments.
type ResumeState interface {
	// ResumeFromSeconds is where the next encode starts on the source timeline.
	ResumeFromSeconds() float64
	// Paths lists the partial outputs that must be joined ahead of the next
	// encode's output, oldest first.
	Paths() []string
	isResumeState()
}

// NotPaused describes a job with no resume metadata.
type NotPaused struct{}

// RestartOnly describes a paused job whose partial outputs were lost; the
// next encode starts from zero.
type RestartOnly struct{}

// SingleSegment describes a job paused once.
type SingleSegment struct {
	Path      string
	EndTarget float64
}

// Segment pairs a partial output with the timeline offset it ends at.
type Segment struct {
	Path      string
	EndTarget float64
}

// TimedSegments describes a job paused several times with valid join points.
type TimedSegments struct {
	Segments []Segment
}

// UntimedSegments describes segments whose join points are missing or
// malformed. They are joined by order only.
type UntimedSegments struct {
	Segments   []string
	ResumeFrom float64
}

func (NotPaused) ResumeFromSeconds() float64       { return 0 }
func (RestartOnly) ResumeFromSeconds() float64     { return 0 }
func (s SingleSegment) ResumeFromSeconds() float64 { return s.EndTarget }
func (s TimedSegments) ResumeFromSeconds() float64 {
	return s.Segments[len(s.Segments)-1].EndTarget
}
func (s UntimedSegments) ResumeFromSeconds() float64 { return s.ResumeFrom }

func (NotPaused) Paths() []string       { return nil }
func (RestartOnly) Paths() []string     { return nil }
func (s SingleSegment) Paths() []string { return []string{s.Path} }
func (s TimedSegments) Paths() []string {
	out := make([]string, len(s.Segments))
	for i, seg := range s.Segments {
		out[i] = seg.Path
	}
	return out
}
func (s UntimedSegments) Paths() []string { return append([]string(nil), s.Segments...) }

func (NotPaused) isResumeState()       {}
func (RestartOnly) isResumeState()     {}
func (SingleSegment) isResumeState()   {}
func (TimedSegments) isResumeState()   {}
func (UntimedSegments) isResumeState() {}

// ResumeStateOf interprets persisted wait metadata.
func ResumeStateOf(w *WaitMetadata) ResumeState {
	if w == nil {
		return NotPaused{}
	}
	paths := w.SegmentPaths()
	switch {
	case len(paths) == 0:
		return RestartOnly{}
	case len(paths) == 1 && w.TargetSeconds > 0 &&
		(len(w.SegmentEndTargets) == 0 || validTargets(paths, w.SegmentEndTargets)):
		end := w.TargetSeconds
		if len(w.SegmentEndTargets) == 1 {
			end = w.SegmentEndTargets[0]
		}
		return SingleSegment{Path: paths[0], EndTarget: end}
	case validTargets(paths, w.SegmentEndTargets):
		segs := make([]Segment, len(paths))
		for i, p := range paths {
			segs[i] = Segment{Path: p, EndTarget: w.SegmentEndTargets[i]}
		}
		return TimedSegments{Segments: segs}
	default:
		return UntimedSegments{Segments: paths, ResumeFrom: w.TargetSeconds}
	}
}

// ConcatPart is one input of the final join. Duration is zero when the part
// is played to its natural end.
type ConcatPart struct {
	Path     string
	Duration float64
}

// ConcatPlan describes how to produce the final output of a resumed job.
type ConcatPlan struct {
	Parts []ConcatPart
	// Timed is false when join points were unavailable and parts are joined
	// by order only.
	Timed bool
}

// NeedsConcat reports whether more than one part must be joined.
func (p ConcatPlan) NeedsConcat() bool { return len(p.Parts) > 1 }

// BuildConcatPlan orders the stored segments by array position followed by
// tail, the output of the final encode. Each stored segment is trimmed to the
// span between its start and its join target so the total duration matches
// the source across pause boundaries. When sourceDuration is known the tail
// is trimmed to the remainder after the last join target. The returned
// warning is non-nil when the plan falls back to order-only joining.
func BuildConcatPlan(state ResumeState, tail string, sourceDuration float64) (ConcatPlan, *Warning) {
	plan := ConcatPlan{Timed: true}
	lastTarget := 0.0
	switch s := state.(type) {
	case NotPaused, RestartOnly:
	case SingleSegment:
		plan.Parts = append(plan.Parts, ConcatPart{Path: s.Path, Duration: s.EndTarget})
		lastTarget = s.EndTarget
	case TimedSegments:
		for _, seg := range s.Segments {
			plan.Parts = append(plan.Parts, ConcatPart{Path: seg.Path, Duration: seg.EndTarget - lastTarget})
			lastTarget = seg.EndTarget
		}
	case UntimedSegments:
		plan.Timed = false
		for _, p := range s.Segments {
			plan.Parts = append(plan.Parts, ConcatPart{Path: p})
		}
	default:
		panic(fmt.Sprintf("queue: unhandled resume state %T", state))
	}
	if tail != "" {
		part := ConcatPart{Path: tail}
		if plan.Timed && lastTarget > 0 && sourceDuration > lastTarget {
			part.Duration = sourceDuration - lastTarget
		}
		plan.Parts = append(plan.Parts, part)
	}
	if !plan.Timed {
		warn := NewWarning(WarnSegmentTargetsInvalid,
			"segment join targets missing or malformed; concatenating by order only, small timing drift is possible")
		return plan, &warn
	}
	return plan, nil
}

// ConcatListPath returns the concat demuxer list written beside target.
func ConcatListPath(target string) string {
	return target + ".concat.list"
}
