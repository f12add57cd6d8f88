package recovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"ffqueue/internal/logging"
)

// HintKind tells the user why jobs are waiting to be resumed.
type HintKind string

const (
	HintCrashOrKill   HintKind = "crashOrKill"
	HintPauseOnExit   HintKind = "pauseOnExit"
	HintNormalRestart HintKind = "normalRestart"
)

// Hint is the startup prompt offered to the user while auto-paused jobs
// remain.
type Hint struct {
	Kind               HintKind `json:"kind"`
	AutoPausedJobCount int      `json:"autoPausedJobCount"`
	Session            string   `json:"session"`
}

// MetaStore holds the persisted hint record. queue.Store satisfies it.
type MetaStore interface {
	SetMeta(ctx context.Context, key, value string) error
	Meta(ctx context.Context, key string) (string, time.Time, bool, error)
}

// AutoPausedQueue is the part of the ledger the startup flow drives.
type AutoPausedQueue interface {
	AutoPausedCount() int
	ResumeAutoPaused(ctx context.Context) int
}

const hintMetaKey = "startup_hint"

type hintRecord struct {
	Session   string   `json:"session"`
	Kind      HintKind `json:"kind"`
	Count     int      `json:"count"`
	Dismissed bool     `json:"dismissed"`
}

// Classify names what happened before this start. It returns "" when no
// job was newly auto-paused; the previous hint record then decides.
func Classify(marker *Marker, recovered int) HintKind {
	switch {
	case marker == nil && recovered > 0:
		return HintCrashOrKill
	case marker != nil && len(marker.PausedJobs) > 0:
		return HintPauseOnExit
	default:
		return ""
	}
}

// Startup tracks the startup hint for one daemon session.
type Startup struct {
	mu        sync.Mutex
	meta      MetaStore
	queue     AutoPausedQueue
	logger    *slog.Logger
	session   string
	kind      HintKind
	dismissed bool
}

// NewStartup records the hint for this session. A start with nothing new
// to report inherits the previous record: an undismissed hint becomes
// normalRestart, a dismissed one stays dismissed.
func NewStartup(ctx context.Context, meta MetaStore, queue AutoPausedQueue, kind HintKind, logger *slog.Logger) (*Startup, error) {
	s := &Startup{
		meta:    meta,
		queue:   queue,
		logger:  logging.NewComponentLogger(logger, "startup"),
		session: uuid.NewString(),
		kind:    kind,
	}
	if kind == "" {
		prev, ok, err := s.load(ctx)
		if err != nil {
			return nil, err
		}
		if ok && !prev.Dismissed && prev.Kind != "" {
			s.kind = HintNormalRestart
		}
	}
	if s.kind == "" || queue.AutoPausedCount() == 0 {
		s.kind = ""
		s.dismissed = true
	}
	if err := s.save(ctx); err != nil {
		return nil, err
	}
	if !s.dismissed {
		s.logger.Info("startup hint available",
			logging.String("kind", string(s.kind)),
			logging.Int("auto_paused_jobs", queue.AutoPausedCount()),
		)
	}
	return s, nil
}

// Session identifies this daemon start.
func (s *Startup) Session() string {
	return s.session
}

// Hint returns the pending prompt, or nil when there is nothing to resume or
// the prompt was dismissed.
func (s *Startup) Hint() *Hint {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dismissed || s.kind == "" {
		return nil
	}
	count := s.queue.AutoPausedCount()
	if count == 0 {
		return nil
	}
	return &Hint{Kind: s.kind, AutoPausedJobCount: count, Session: s.session}
}

// Dismiss records that the prompt was handled.
func (s *Startup) Dismiss(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dismissed {
		return nil
	}
	s.dismissed = true
	return s.saveLocked(ctx)
}

// ResumeQueue resumes every auto-paused job and dismisses the prompt. It
// returns how many jobs were resumed.
func (s *Startup) ResumeQueue(ctx context.Context) int {
	count := s.queue.ResumeAutoPaused(ctx)
	if err := s.Dismiss(ctx); err != nil {
		logging.WarnWithContext(s.logger, "failed to persist startup hint dismissal", "hint_persist_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "hint may be offered again after restart"),
		)
	}
	s.logger.Info("startup queue resumed", logging.Int("jobs", count))
	return count
}

func (s *Startup) save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(ctx)
}

func (s *Startup) saveLocked(ctx context.Context) error {
	data, err := json.Marshal(hintRecord{
		Session:   s.session,
		Kind:      s.kind,
		Count:     s.queue.AutoPausedCount(),
		Dismissed: s.dismissed,
	})
	if err != nil {
		return fmt.Errorf("encode startup hint: %w", err)
	}
	return s.meta.SetMeta(ctx, hintMetaKey, string(data))
}

func (s *Startup) load(ctx context.Context) (hintRecord, bool, error) {
	raw, _, ok, err := s.meta.Meta(ctx, hintMetaKey)
	if err != nil || !ok {
		return hintRecord{}, false, err
	}
	var rec hintRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		logging.WarnWithContext(s.logger, "discarding unreadable startup hint record", "hint_corrupt",
			logging.Error(err),
		)
		return hintRecord{}, false, nil
	}
	return rec, true, nil
}
