package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// CorruptRow describes a persisted job that could not be decoded.
type CorruptRow struct {
	ID  string
	Err error
}

// LoadResult is the decoded contents of the jobs table, in ledger order.
type LoadResult struct {
	Jobs []*Job
	// Positions maps job id to its persisted ledger position.
	Positions map[string]int64
	Corrupt   []CorruptRow
}

// Save inserts or updates a job. position fixes the job's place in the
// ledger order on first insert and is ignored afterwards.
func (s *Store) Save(ctx context.Context, job *Job, position int64) error {
	if job == nil {
		return errors.New("job is nil")
	}
	if strings.TrimSpace(job.ID) == "" {
		return errors.New("job id is required")
	}
	record := job.Clone()
	wait := record.Wait
	record.Wait = nil
	recordJSON, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}
	var waitJSON any
	if wait != nil {
		data, err := json.Marshal(wait)
		if err != nil {
			return fmt.Errorf("marshal wait metadata %s: %w", job.ID, err)
		}
		waitJSON = string(data)
	}

	now := timestamp()
	_, err = s.execWithRetry(ctx,
		`INSERT INTO jobs (
            id, position, status, queue_order, preset_id, input_path,
            record_json, wait_metadata_json, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            status = excluded.status,
            queue_order = excluded.queue_order,
            preset_id = excluded.preset_id,
            input_path = excluded.input_path,
            record_json = excluded.record_json,
            wait_metadata_json = excluded.wait_metadata_json,
            updated_at = excluded.updated_at`,
		job.ID,
		position,
		string(job.Status.Normalize()),
		nullableInt(job.QueueOrder),
		job.PresetID,
		job.InputPath,
		string(recordJSON),
		waitJSON,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("save job %s: %w", job.ID, err)
	}
	return nil
}

// Delete removes a job record. Deleting an unknown id is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.execWithRetry(ctx, `DELETE FROM jobs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	return nil
}

// Get fetches one job. It returns nil, nil when the id is unknown.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	raw, err := scanJobRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return decodeJob(raw)
}

// Load returns every persisted job in ledger order. Rows that fail to decode
// are reported in Corrupt instead of aborting the load.
func (s *Store) Load(ctx context.Context) (LoadResult, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT `+jobColumns+` FROM jobs ORDER BY position, id`)
	if err != nil {
		return LoadResult{}, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	result := LoadResult{Positions: make(map[string]int64)}
	for rows.Next() {
		raw, err := scanJobRow(rows)
		if err != nil {
			return LoadResult{}, fmt.Errorf("scan job: %w", err)
		}
		job, err := decodeJob(raw)
		if err != nil {
			result.Corrupt = append(result.Corrupt, CorruptRow{ID: raw.id, Err: err})
			continue
		}
		result.Jobs = append(result.Jobs, job)
		result.Positions[job.ID] = raw.position
	}
	if err := rows.Err(); err != nil {
		return LoadResult{}, fmt.Errorf("iterate jobs: %w", err)
	}
	return result, nil
}

// Stats returns job counts keyed by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[Status(status).Normalize()] += count
	}
	return stats, rows.Err()
}

// Clear removes every job record.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM jobs`)
	if err != nil {
		return 0, fmt.Errorf("clear jobs: %w", err)
	}
	return res.RowsAffected()
}

func decodeJob(raw jobRow) (*Job, error) {
	var job Job
	if err := json.Unmarshal([]byte(raw.record), &job); err != nil {
		return nil, fmt.Errorf("decode job record: %w", err)
	}
	if raw.wait.Valid && strings.TrimSpace(raw.wait.String) != "" {
		var wait WaitMetadata
		if err := json.Unmarshal([]byte(raw.wait.String), &wait); err != nil {
			return nil, fmt.Errorf("decode wait metadata: %w", err)
		}
		job.Wait = &wait
	}
	job.ID = raw.id
	status, err := ParseStatus(raw.status)
	if err != nil {
		return nil, err
	}
	job.Status = status
	return &job, nil
}
