package logging

import (
	"log/slog"
	"time"

	"ffqueue/internal/queue"
)

// Attr aliases slog.Attr so callers import a single logging package.
type Attr = slog.Attr

func Bool(key string, value bool) Attr { return slog.Bool(key, value) }

func Duration(key string, value time.Duration) Attr { return slog.Duration(key, value) }

func Float64(key string, value float64) Attr { return slog.Float64(key, value) }

func Int(key string, value int) Attr { return slog.Int(key, value) }

func Int64(key string, value int64) Attr { return slog.Int64(key, value) }

func Uint64(key string, value uint64) Attr { return slog.Uint64(key, value) }

func String(key string, value string) Attr { return slog.String(key, value) }

// JobID tags a record with the job identifier.
func JobID(id string) Attr { return slog.String(FieldJobID, id) }

// Revision tags a record with a snapshot revision.
func Revision(rev uint64) Attr { return slog.Uint64(FieldRevision, rev) }

// RunSeq tags a record with the run sequence that owns a worker.
func RunSeq(seq uint64) Attr { return slog.Uint64(FieldRunSeq, seq) }

// Status tags a record with a job status.
func Status(s queue.Status) Attr { return slog.String(FieldStatus, string(s)) }

// Failure flattens a failure classification into a group.
func Failure(f *queue.Failure) Attr {
	if f == nil {
		return slog.String(FieldFailure, "")
	}
	return slog.Group(FieldFailure,
		slog.String("kind", string(f.Kind)),
		slog.String("component", f.Component),
		slog.String("reason", f.Reason),
	)
}

func Error(err error) Attr {
	if err == nil {
		return slog.String("error", "<nil>")
	}
	return slog.Any("error", err)
}

// Args converts attrs to the variadic form slog's level methods take.
func Args(attrs ...Attr) []any {
	args := make([]any, len(attrs))
	for i, attr := range attrs {
		args[i] = attr
	}
	return args
}
