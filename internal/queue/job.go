package queue

import (
	"fmt"
	"strings"
	"time"
)

// JobType classifies the media a job transcodes.
type JobType string

const (
	JobTypeVideo JobType = "video"
	JobTypeImage JobType = "image"
	JobTypeAudio JobType = "audio"
)

// JobSource records how a job entered the queue.
type JobSource string

const (
	SourceManual JobSource = "manual"
	SourceBatch  JobSource = "batch"
)

// Job is one transcode unit.
type Job struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	Type       JobType   `json:"type"`
	Source     JobSource `json:"source"`
	PresetID   string    `json:"presetId"`
	InputPath  string    `json:"inputPath"`
	OutputPath string    `json:"outputPath,omitempty"`
	// Hardware selects the hardware-encode slot pool when concurrency is split.
	Hardware bool `json:"hardware,omitempty"`

	Status     Status `json:"status"`
	QueueOrder *int   `json:"queueOrder,omitempty"`

	StartTime           int64  `json:"startTime"`
	ProcessingStartedMs *int64 `json:"processingStartedMs,omitempty"`
	EndTime             *int64 `json:"endTime,omitempty"`
	// ElapsedMs is the accumulated active processing time of finished
	// intervals. ActiveSinceMs marks the start of the interval in progress.
	ElapsedMs     int64  `json:"elapsedMs"`
	ActiveSinceMs *int64 `json:"activeSinceMs,omitempty"`

	Progress         float64   `json:"progress"`
	EstimatedSeconds *float64  `json:"estimatedSeconds,omitempty"`
	DurationSeconds  float64   `json:"durationSeconds,omitempty"`
	Telemetry        Telemetry `json:"telemetry"`

	Wait *WaitMetadata `json:"waitMetadata,omitempty"`
	// AutoPaused marks jobs paused by shutdown or crash recovery rather than
	// by a user; resumeStartupQueue resumes exactly these.
	AutoPaused bool `json:"autoPaused,omitempty"`

	LogHead  []string  `json:"logHead,omitempty"`
	LogTail  string    `json:"logTail,omitempty"`
	Failure  *Failure  `json:"failure,omitempty"`
	Warnings []Warning `json:"warnings,omitempty"`
	Runs     []Run     `json:"runs,omitempty"`
}

// Telemetry is the most recent progress tick reported by the encoder.
type Telemetry struct {
	ProgressEpoch              uint64  `json:"progressEpoch,omitempty"`
	LastProgressOutTimeSeconds float64 `json:"lastProgressOutTimeSeconds,omitempty"`
	LastProgressFrame          uint64  `json:"lastProgressFrame,omitempty"`
	LastProgressSpeed          float64 `json:"lastProgressSpeed,omitempty"`
	LastProgressUpdatedAtMs    int64   `json:"lastProgressUpdatedAtMs,omitempty"`
}

// Run records one encode attempt between a start/resume and a stop.
type Run struct {
	StartedMs         int64   `json:"startedMs"`
	EndedMs           int64   `json:"endedMs,omitempty"`
	ResumeFromSeconds float64 `json:"resumeFromSeconds,omitempty"`
	Segment           string  `json:"segment,omitempty"`
	Outcome           string  `json:"outcome,omitempty"`
}

// Warning is a structured, non-fatal diagnostic attached to a job.
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	AtMs    int64  `json:"atMs"`
}

// Warning codes.
const (
	WarnSegmentTargetsInvalid = "segment_targets_invalid"
	WarnSegmentMissing        = "segment_missing"
	WarnResumeRestartOnly     = "resume_restart_only"
	WarnConcatDurationShort   = "concat_duration_short"
	WarnCleanupFailed         = "cleanup_failed"
	WarnCrashRecovered        = "crash_recovered"
)

// NewWarning stamps a warning with the current time.
func NewWarning(code, message string) Warning {
	return Warning{Code: code, Message: message, AtMs: NowMs()}
}

// Clone returns a deep copy of the job.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	out := *j
	out.QueueOrder = cloneInt(j.QueueOrder)
	out.ProcessingStartedMs = cloneInt64(j.ProcessingStartedMs)
	out.EndTime = cloneInt64(j.EndTime)
	out.ActiveSinceMs = cloneInt64(j.ActiveSinceMs)
	if j.EstimatedSeconds != nil {
		v := *j.EstimatedSeconds
		out.EstimatedSeconds = &v
	}
	out.Wait = j.Wait.Clone()
	if j.Failure != nil {
		f := *j.Failure
		out.Failure = &f
	}
	out.LogHead = append([]string(nil), j.LogHead...)
	out.Warnings = append([]Warning(nil), j.Warnings...)
	out.Runs = append([]Run(nil), j.Runs...)
	return &out
}

// AddWarning appends a warning unless an identical code/message pair is
// already recorded.
func (j *Job) AddWarning(w Warning) {
	for _, existing := range j.Warnings {
		if existing.Code == w.Code && existing.Message == w.Message {
			return
		}
	}
	j.Warnings = append(j.Warnings, w)
}

// LiveElapsedMs returns accumulated active time including the interval in
// progress.
func (j *Job) LiveElapsedMs(nowMs int64) int64 {
	if j.ActiveSinceMs == nil || nowMs <= *j.ActiveSinceMs {
		return j.ElapsedMs
	}
	return j.ElapsedMs + nowMs - *j.ActiveSinceMs
}

// CloseActiveInterval folds the interval in progress into ElapsedMs.
func (j *Job) CloseActiveInterval(nowMs int64) {
	j.ElapsedMs = j.LiveElapsedMs(nowMs)
	j.ActiveSinceMs = nil
}

// AppendLog records encoder output, keeping the first headLines lines and the
// last tailBytes bytes.
func (j *Job) AppendLog(line string, headLines, tailBytes int) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return
	}
	if len(j.LogHead) < headLines {
		j.LogHead = append(j.LogHead, line)
	}
	tail := j.LogTail
	if tail != "" {
		tail += "\n"
	}
	tail += line
	if tailBytes > 0 && len(tail) > tailBytes {
		tail = tail[len(tail)-tailBytes:]
		if idx := strings.IndexByte(tail, '\n'); idx >= 0 && idx < len(tail)-1 {
			tail = tail[idx+1:]
		}
	}
	j.LogTail = tail
}

// CheckInvariants reports the first structural inconsistency between the
// job's status, scheduling slot, and resume metadata.
func (j *Job) CheckInvariants() error {
	switch j.Status.Normalize() {
	case StatusPaused:
		if j.Wait == nil {
			return fmt.Errorf("job %s: paused without wait metadata", j.ID)
		}
		if j.QueueOrder != nil {
			return fmt.Errorf("job %s: paused job holds queue order %d", j.ID, *j.QueueOrder)
		}
	case StatusProcessing:
		if j.QueueOrder != nil {
			return fmt.Errorf("job %s: processing job holds queue order %d", j.ID, *j.QueueOrder)
		}
	case StatusQueued:
		if j.QueueOrder == nil {
			return fmt.Errorf("job %s: queued without queue order", j.ID)
		}
	}
	if j.Wait != nil && len(j.Wait.SegmentEndTargets) > 0 && !j.Wait.TargetsValid() {
		return fmt.Errorf("job %s: segment join targets %v do not match %d segments",
			j.ID, j.Wait.SegmentEndTargets, len(j.Wait.SegmentPaths()))
	}
	return nil
}

// NowMs returns the current wall clock in milliseconds since the epoch.
func NowMs() int64 {
	return time.Now().UnixMilli()
}

// Int returns a pointer to v.
func Int(v int) *int { return &v }

// Int64 returns a pointer to v.
func Int64(v int64) *int64 { return &v }

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
