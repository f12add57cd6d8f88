package encoding

import (
	"context"
	"time"

	"ffqueue/internal/queue"
)

// Request describes one encode run.
type Request struct {
	JobID     string
	InputPath string
	// OutputPath is the partial output this run writes.
	OutputPath string
	// Args are the preset's output options, placed between the input and
	// the output path.
	Args []string
	// StartSeconds is the source offset the run seeks to.
	StartSeconds float64
}

// Progress is one ffmpeg progress block.
type Progress struct {
	// TimelineSeconds is the position on the source timeline: the run's
	// start offset plus ffmpeg's output time.
	TimelineSeconds float64
	Frame           uint64
	Speed           float64
	// Final is set on the block ffmpeg emits when it finishes.
	Final bool
}

// Events receives run output. Callbacks are invoked from reader goroutines
// and must not block for long.
type Events struct {
	OnProgress func(Progress)
	OnLog      func(line string)
}

// Result is how a run ended.
type Result struct {
	// Stopped is set when the process exited after RequestStop; the partial
	// output is then a resumable segment regardless of exit status.
	Stopped bool
	// Aborted is set when the run was ended by Terminate, Abort, or context
	// cancel.
	Aborted bool
	// Failure is nil for a clean exit.
	Failure      *queue.Failure
	LastProgress Progress
}

// Handle controls a running encode.
type Handle interface {
	// RequestStop asks the encoder to flush and exit.
	RequestStop() error
	// Terminate asks the encoder to exit (SIGTERM) and kills it if it is
	// still running after grace. The run reports Aborted.
	Terminate(grace time.Duration)
	// Abort kills the run immediately.
	Abort()
	// Wait blocks until the process exits and returns its result.
	Wait() Result
}

// Encoder runs encodes and joins segments.
type Encoder interface {
	Start(ctx context.Context, req Request, events Events) (Handle, error)
	Join(ctx context.Context, plan queue.ConcatPlan, target string) error
	ProbeDuration(ctx context.Context, path string) (float64, error)
}

// FailureError is returned by Start when a run cannot be launched for a
// reason that belongs on the job rather than in the daemon log.
type FailureError struct {
	Failure queue.Failure
}

func (e *FailureError) Error() string {
	return e.Failure.Summary()
}
