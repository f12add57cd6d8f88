package queuesync

import (
	"ffqueue/internal/queue"
)

// Snapshot is the full lite queue state at one revision.
type Snapshot struct {
	Revision uint64    `json:"snapshotRevision"`
	Jobs     []JobLite `json:"jobs"`
}

// JobLite is the transport form of a job. It omits logs, run history, and
// the raw segment paths used for crash recovery.
type JobLite struct {
	ID        string          `json:"id"`
	Filename  string          `json:"filename"`
	Type      queue.JobType   `json:"type"`
	Source    queue.JobSource `json:"source"`
	PresetID  string          `json:"presetId"`
	InputPath string          `json:"inputPath"`
	Hardware  bool            `json:"hardware,omitempty"`

	Status              queue.Status    `json:"status"`
	QueueOrder          *int            `json:"queueOrder,omitempty"`
	StartTime           int64           `json:"startTime"`
	ProcessingStartedMs *int64          `json:"processingStartedMs,omitempty"`
	EndTime             *int64          `json:"endTime,omitempty"`
	ElapsedMs           int64           `json:"elapsedMs"`
	ActiveSinceMs       *int64          `json:"activeSinceMs,omitempty"`
	Progress            float64         `json:"progress"`
	EstimatedSeconds    *float64        `json:"estimatedSeconds,omitempty"`
	OutputPath          string          `json:"outputPath,omitempty"`
	Telemetry           TelemetryLite   `json:"telemetry"`
	Wait                *WaitLite       `json:"waitMetadata,omitempty"`
	AutoPaused          bool            `json:"autoPaused,omitempty"`
	Failure             *queue.Failure  `json:"failureReason,omitempty"`
	Warnings            []queue.Warning `json:"warnings,omitempty"`
}

// TelemetryLite is the last progress tick.
type TelemetryLite struct {
	ProgressEpoch              uint64  `json:"progressEpoch"`
	LastProgressOutTimeSeconds float64 `json:"lastProgressOutTimeSeconds"`
	LastProgressFrame          uint64  `json:"lastProgressFrame"`
	LastProgressSpeed          float64 `json:"lastProgressSpeed"`
	LastProgressUpdatedAtMs    int64   `json:"lastProgressUpdatedAtMs"`
}

// WaitLite is the path-free summary of a job's resume metadata.
type WaitLite struct {
	LastProgressPercent        float64 `json:"lastProgressPercent"`
	ProcessedWallMillis        int64   `json:"processedWallMillis"`
	ProcessedSeconds           float64 `json:"processedSeconds"`
	TargetSeconds              float64 `json:"targetSeconds"`
	ProgressEpoch              uint64  `json:"progressEpoch"`
	LastProgressOutTimeSeconds float64 `json:"lastProgressOutTimeSeconds"`
	LastProgressFrame          uint64  `json:"lastProgressFrame"`
	LastProgressUpdatedAtMs    int64   `json:"lastProgressUpdatedAtMs"`
	SegmentCount               int     `json:"segmentCount"`
	// Resumable is false when the job can only restart from zero.
	Resumable bool `json:"resumable"`
}

// ToLite narrows a job to its lite form, canonicalizing legacy statuses.
func ToLite(job *queue.Job) JobLite {
	lite := JobLite{
		ID:                  job.ID,
		Filename:            job.Filename,
		Type:                job.Type,
		Source:              job.Source,
		PresetID:            job.PresetID,
		InputPath:           job.InputPath,
		Hardware:            job.Hardware,
		Status:              job.Status.Normalize(),
		QueueOrder:          copyPtr(job.QueueOrder),
		StartTime:           job.StartTime,
		ProcessingStartedMs: copyPtr(job.ProcessingStartedMs),
		EndTime:             copyPtr(job.EndTime),
		ElapsedMs:           job.ElapsedMs,
		ActiveSinceMs:       copyPtr(job.ActiveSinceMs),
		Progress:            job.Progress,
		EstimatedSeconds:    copyPtr(job.EstimatedSeconds),
		OutputPath:          job.OutputPath,
		Telemetry: TelemetryLite{
			ProgressEpoch:              job.Telemetry.ProgressEpoch,
			LastProgressOutTimeSeconds: job.Telemetry.LastProgressOutTimeSeconds,
			LastProgressFrame:          job.Telemetry.LastProgressFrame,
			LastProgressSpeed:          job.Telemetry.LastProgressSpeed,
			LastProgressUpdatedAtMs:    job.Telemetry.LastProgressUpdatedAtMs,
		},
		AutoPaused: job.AutoPaused,
		Failure:    copyPtr(job.Failure),
	}
	if w := job.Wait; w != nil {
		lite.Wait = &WaitLite{
			LastProgressPercent:        w.LastProgressPercent,
			ProcessedWallMillis:        w.ProcessedWallMillis,
			ProcessedSeconds:           w.ProcessedSeconds,
			TargetSeconds:              w.TargetSeconds,
			ProgressEpoch:              w.ProgressEpoch,
			LastProgressOutTimeSeconds: w.LastProgressOutTimeSeconds,
			LastProgressFrame:          w.LastProgressFrame,
			LastProgressUpdatedAtMs:    w.LastProgressUpdatedAtMs,
			SegmentCount:               len(w.SegmentPaths()),
			Resumable:                  w.TargetSeconds > 0 && len(w.SegmentPaths()) > 0,
		}
	}
	if len(job.Warnings) > 0 {
		lite.Warnings = append([]queue.Warning(nil), job.Warnings...)
	}
	return lite
}

// Clone returns a copy sharing no pointers with j.
func (j JobLite) Clone() JobLite {
	out := j
	out.QueueOrder = copyPtr(j.QueueOrder)
	out.ProcessingStartedMs = copyPtr(j.ProcessingStartedMs)
	out.EndTime = copyPtr(j.EndTime)
	out.ActiveSinceMs = copyPtr(j.ActiveSinceMs)
	out.EstimatedSeconds = copyPtr(j.EstimatedSeconds)
	out.Wait = copyPtr(j.Wait)
	out.Failure = copyPtr(j.Failure)
	if len(j.Warnings) > 0 {
		out.Warnings = append([]queue.Warning(nil), j.Warnings...)
	} else {
		out.Warnings = nil
	}
	return out
}

func copyPtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
