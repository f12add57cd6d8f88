package workflow

import (
	"context"
	"fmt"
	"log/slog"

	"ffqueue/internal/encoding"
	"ffqueue/internal/ledger"
	"ffqueue/internal/logging"
	"ffqueue/internal/queue"
)

// durationShortfall is how much shorter than the source a joined output may
// be before a warning is attached.
const durationShortfall = 1.0

// finalize joins the run's tail segment with the job's stored segments into
// the final output and marks the job completed.
func (m *Manager) finalize(ctx context.Context, logger *slog.Logger, run *activeRun, res encoding.Result) {
	claim := run.claim
	job := claim.Job
	target := job.OutputPath

	plan, warn := queue.BuildConcatPlan(claim.Resume, claim.Segment, job.DurationSeconds)
	var warnings []queue.Warning
	if warn != nil {
		warnings = append(warnings, *warn)
	}

	if err := m.encoder.Join(ctx, plan, target); err != nil {
		m.fail(ctx, logger, run.token, "", queue.Failure{
			Kind:      queue.FailureConcat,
			Component: target,
			Reason:    err.Error(),
		})
		return
	}
	if plan.NeedsConcat() {
		logger.Info("segments joined",
			logging.Int("parts", len(plan.Parts)),
			logging.Bool("timed", plan.Timed),
			logging.String("output", target),
		)
		if w := m.checkJoinedDuration(ctx, logger, job, target); w != nil {
			warnings = append(warnings, *w)
		}
	}

	if !m.ledger.Complete(ctx, run.token, ledger.Completion{OutputPath: target, Warnings: warnings}) {
		// Cancelled while joining; the output stays, the job record is
		// already terminal.
		logger.Info("run superseded during finalize", logging.String("output", target))
		m.observe(OutcomeAborted)
		return
	}
	m.observe(OutcomeCompleted)
}

func (m *Manager) checkJoinedDuration(ctx context.Context, logger *slog.Logger, job *queue.Job, target string) *queue.Warning {
	expected := job.DurationSeconds
	if expected <= 0 {
		return nil
	}
	got, err := m.encoder.ProbeDuration(ctx, target)
	if err != nil {
		logger.Debug("joined output duration unavailable", logging.Error(err))
		return nil
	}
	if got >= expected-durationShortfall {
		return nil
	}
	logging.WarnWithContext(logger, "joined output shorter than source", "concat_duration_short",
		logging.Float64("expected_seconds", expected),
		logging.Float64("actual_seconds", got),
		logging.String(logging.FieldImpact, "the end of the output may be missing"),
		logging.String(logging.FieldErrorHint, "restart the job to re-encode from the beginning"),
	)
	w := queue.NewWarning(queue.WarnConcatDurationShort,
		fmt.Sprintf("joined output is %.2fs, source is %.2fs", got, expected))
	return &w
}
