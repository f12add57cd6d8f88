package ledger

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"ffqueue/internal/logging"
	"ffqueue/internal/queue"
	"ffqueue/internal/textutil"
)

// Spec describes a job to enqueue.
type Spec struct {
	InputPath string
	PresetID  string
	// OutputPath defaults to a sibling of the input named after the preset.
	OutputPath string
	// Type is inferred from the input extension when empty.
	Type   queue.JobType
	Source queue.JobSource
}

var (
	imageExtensions = map[string]struct{}{
		".jpg": {}, ".jpeg": {}, ".png": {}, ".webp": {}, ".bmp": {}, ".tif": {}, ".tiff": {}, ".avif": {},
	}
	audioExtensions = map[string]struct{}{
		".mp3": {}, ".flac": {}, ".wav": {}, ".m4a": {}, ".aac": {}, ".ogg": {}, ".opus": {}, ".wma": {},
	}
)

// InferType classifies an input path by extension, defaulting to video.
func InferType(path string) queue.JobType {
	ext := strings.ToLower(filepath.Ext(path))
	if _, ok := imageExtensions[ext]; ok {
		return queue.JobTypeImage
	}
	if _, ok := audioExtensions[ext]; ok {
		return queue.JobTypeAudio
	}
	return queue.JobTypeVideo
}

// Enqueue creates a queued job at the tail of the queue. It fails with
// queue.ErrInvalidSpec when the preset is unknown or the input is empty.
func (l *Ledger) Enqueue(ctx context.Context, spec Spec) (*queue.Job, error) {
	input := strings.TrimSpace(spec.InputPath)
	if input == "" {
		return nil, fmt.Errorf("%w: input path is required", queue.ErrInvalidSpec)
	}
	if l.presets == nil {
		return nil, fmt.Errorf("%w: no presets configured", queue.ErrInvalidSpec)
	}
	preset, ok := l.presets.Preset(strings.TrimSpace(spec.PresetID))
	if !ok {
		return nil, fmt.Errorf("%w: unknown preset %q", queue.ErrInvalidSpec, spec.PresetID)
	}

	output := strings.TrimSpace(spec.OutputPath)
	if output == "" {
		output = defaultOutputPath(input, preset.ID, preset.Extension)
	}
	if filepath.Clean(output) == filepath.Clean(input) {
		return nil, fmt.Errorf("%w: output path must differ from input", queue.ErrInvalidSpec)
	}
	jobType := spec.Type
	if jobType == "" {
		jobType = InferType(input)
	}
	source := spec.Source
	if source == "" {
		source = queue.SourceManual
	}

	var created *queue.Job
	l.mutate(ctx, func(tx *txn) {
		id := formatJobID(l.nextID)
		for {
			if _, taken := l.entries[id]; !taken {
				break
			}
			l.nextID++
			id = formatJobID(l.nextID)
		}
		l.nextID++

		job := &queue.Job{
			ID:         id,
			Filename:   filepath.Base(input),
			Type:       jobType,
			Source:     source,
			PresetID:   preset.ID,
			InputPath:  input,
			OutputPath: output,
			Hardware:   preset.Hardware,
			Status:     queue.StatusQueued,
			QueueOrder: queue.Int(l.tailOrderLocked()),
			StartTime:  l.now(),
		}
		l.entries[id] = &entry{job: job, pos: l.nextPos}
		l.nextPos++
		l.order = append(l.order, id)
		tx.touch(id)
		created = job.Clone()
	})

	l.logger.Info("job enqueued",
		logging.JobID(created.ID),
		logging.String("preset", created.PresetID),
		logging.String("input", created.InputPath),
		logging.Int("queue_order", *created.QueueOrder),
	)
	return created, nil
}

func defaultOutputPath(input, presetID, ext string) string {
	dir := filepath.Dir(input)
	base := filepath.Base(input)
	inExt := filepath.Ext(base)
	stem := strings.TrimSuffix(base, inExt)
	presetID = textutil.SanitizeToken(presetID, "out")
	if ext == "" {
		ext = strings.TrimPrefix(inExt, ".")
	}
	if ext == "" {
		return filepath.Join(dir, stem+"."+presetID)
	}
	return filepath.Join(dir, stem+"."+presetID+"."+ext)
}
