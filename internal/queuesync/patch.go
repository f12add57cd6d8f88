package queuesync

import (
	"slices"

	"ffqueue/internal/queue"
)

// Names used in JobPatch.Cleared for nullable fields set to null.
const (
	FieldQueueOrder          = "queueOrder"
	FieldProcessingStartedMs = "processingStartedMs"
	FieldEndTime             = "endTime"
	FieldActiveSinceMs       = "activeSinceMs"
	FieldEstimatedSeconds    = "estimatedSeconds"
	FieldWait                = "waitMetadata"
	FieldFailure             = "failureReason"
	FieldWarnings            = "warnings"
)

// JobPatch carries only the fields of one job that changed. A nil pointer
// means unchanged; nullable fields that became null are listed in Cleared.
// Identity fields never change and are not patchable.
type JobPatch struct {
	ID string `json:"id"`

	Status              *queue.Status    `json:"status,omitempty"`
	QueueOrder          *int             `json:"queueOrder,omitempty"`
	StartTime           *int64           `json:"startTime,omitempty"`
	ProcessingStartedMs *int64           `json:"processingStartedMs,omitempty"`
	EndTime             *int64           `json:"endTime,omitempty"`
	ElapsedMs           *int64           `json:"elapsedMs,omitempty"`
	ActiveSinceMs       *int64           `json:"activeSinceMs,omitempty"`
	Progress            *float64         `json:"progress,omitempty"`
	EstimatedSeconds    *float64         `json:"estimatedSeconds,omitempty"`
	OutputPath          *string          `json:"outputPath,omitempty"`
	Telemetry           *TelemetryLite   `json:"telemetry,omitempty"`
	Wait                *WaitLite        `json:"waitMetadata,omitempty"`
	AutoPaused          *bool            `json:"autoPaused,omitempty"`
	Failure             *queue.Failure   `json:"failureReason,omitempty"`
	Warnings            *[]queue.Warning `json:"warnings,omitempty"`

	Cleared []string `json:"cleared,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p JobPatch) Empty() bool {
	return p.Status == nil && p.QueueOrder == nil && p.StartTime == nil &&
		p.ProcessingStartedMs == nil && p.EndTime == nil && p.ElapsedMs == nil &&
		p.ActiveSinceMs == nil && p.Progress == nil && p.EstimatedSeconds == nil &&
		p.OutputPath == nil && p.Telemetry == nil && p.Wait == nil &&
		p.AutoPaused == nil && p.Failure == nil && p.Warnings == nil &&
		len(p.Cleared) == 0
}

// Diff returns the patch that turns prev into next.
func Diff(prev, next JobLite) JobPatch {
	p := JobPatch{ID: next.ID}

	diffValue(prev.Status, next.Status, &p.Status)
	diffNullable(prev.QueueOrder, next.QueueOrder, &p.QueueOrder, FieldQueueOrder, &p.Cleared)
	diffValue(prev.StartTime, next.StartTime, &p.StartTime)
	diffNullable(prev.ProcessingStartedMs, next.ProcessingStartedMs, &p.ProcessingStartedMs, FieldProcessingStartedMs, &p.Cleared)
	diffNullable(prev.EndTime, next.EndTime, &p.EndTime, FieldEndTime, &p.Cleared)
	diffValue(prev.ElapsedMs, next.ElapsedMs, &p.ElapsedMs)
	diffNullable(prev.ActiveSinceMs, next.ActiveSinceMs, &p.ActiveSinceMs, FieldActiveSinceMs, &p.Cleared)
	diffValue(prev.Progress, next.Progress, &p.Progress)
	diffNullable(prev.EstimatedSeconds, next.EstimatedSeconds, &p.EstimatedSeconds, FieldEstimatedSeconds, &p.Cleared)
	diffValue(prev.OutputPath, next.OutputPath, &p.OutputPath)
	diffValue(prev.Telemetry, next.Telemetry, &p.Telemetry)
	diffNullable(prev.Wait, next.Wait, &p.Wait, FieldWait, &p.Cleared)
	diffValue(prev.AutoPaused, next.AutoPaused, &p.AutoPaused)
	diffNullable(prev.Failure, next.Failure, &p.Failure, FieldFailure, &p.Cleared)

	if !slices.Equal(prev.Warnings, next.Warnings) {
		if len(next.Warnings) == 0 {
			p.Cleared = append(p.Cleared, FieldWarnings)
		} else {
			w := append([]queue.Warning(nil), next.Warnings...)
			p.Warnings = &w
		}
	}
	return p
}

// Apply writes the patch onto job.
func (p JobPatch) Apply(job *JobLite) {
	applyValue(p.Status, &job.Status)
	applyNullable(p.QueueOrder, &job.QueueOrder)
	applyValue(p.StartTime, &job.StartTime)
	applyNullable(p.ProcessingStartedMs, &job.ProcessingStartedMs)
	applyNullable(p.EndTime, &job.EndTime)
	applyValue(p.ElapsedMs, &job.ElapsedMs)
	applyNullable(p.ActiveSinceMs, &job.ActiveSinceMs)
	applyValue(p.Progress, &job.Progress)
	applyNullable(p.EstimatedSeconds, &job.EstimatedSeconds)
	applyValue(p.OutputPath, &job.OutputPath)
	applyValue(p.Telemetry, &job.Telemetry)
	applyNullable(p.Wait, &job.Wait)
	applyValue(p.AutoPaused, &job.AutoPaused)
	applyNullable(p.Failure, &job.Failure)
	if p.Warnings != nil {
		job.Warnings = append([]queue.Warning(nil), (*p.Warnings)...)
	}

	for _, field := range p.Cleared {
		switch field {
		case FieldQueueOrder:
			job.QueueOrder = nil
		case FieldProcessingStartedMs:
			job.ProcessingStartedMs = nil
		case FieldEndTime:
			job.EndTime = nil
		case FieldActiveSinceMs:
			job.ActiveSinceMs = nil
		case FieldEstimatedSeconds:
			job.EstimatedSeconds = nil
		case FieldWait:
			job.Wait = nil
		case FieldFailure:
			job.Failure = nil
		case FieldWarnings:
			job.Warnings = nil
		}
	}
}

func diffValue[T comparable](prev, next T, out **T) {
	if prev != next {
		v := next
		*out = &v
	}
}

func diffNullable[T comparable](prev, next *T, out **T, name string, cleared *[]string) {
	switch {
	case prev == nil && next == nil:
	case next == nil:
		*cleared = append(*cleared, name)
	case prev == nil || *prev != *next:
		v := *next
		*out = &v
	}
}

func applyValue[T any](patch *T, field *T) {
	if patch != nil {
		*field = *patch
	}
}

func applyNullable[T any](patch *T, field **T) {
	if patch != nil {
		v := *patch
		*field = &v
	}
}
