package queue

import (
	"database/sql"
	"errors"
	"time"
)

const jobColumns = "id, position, status, record_json, wait_metadata_json"

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableInt(value *int) any {
	if value == nil {
		return nil
	}
	return *value
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

type rowScanner interface {
	Scan(dest ...any) error
}

type jobRow struct {
	id       string
	position int64
	status   string
	record   string
	wait     sql.NullString
}

func scanJobRow(scanner rowScanner) (jobRow, error) {
	var row jobRow
	err := scanner.Scan(&row.id, &row.position, &row.status, &row.record, &row.wait)
	return row, err
}
