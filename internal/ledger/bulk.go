package ledger

import (
	"context"
	"strings"
)

// BulkResult reports, per id, whether a bulk operation's target accepted
// the transition. Jobs that transitioned are never rolled back because a
// sibling rejected it.
type BulkResult struct {
	Accepted []string `json:"accepted"`
	Rejected []string `json:"rejected"`
}

// OK reports whether every target accepted the transition. An empty request
// is not OK.
func (r BulkResult) OK() bool {
	return len(r.Accepted) > 0 && len(r.Rejected) == 0
}

// WaitBulk applies Wait to each id.
func (l *Ledger) WaitBulk(ctx context.Context, ids []string) BulkResult {
	return l.bulk(ctx, ids, func(tx *txn, id string) bool { return l.waitLocked(tx, id, false) })
}

// ResumeBulk applies Resume to each id.
func (l *Ledger) ResumeBulk(ctx context.Context, ids []string) BulkResult {
	return l.bulk(ctx, ids, l.resumeLocked)
}

// RestartBulk applies Restart to each id.
func (l *Ledger) RestartBulk(ctx context.Context, ids []string) BulkResult {
	return l.bulk(ctx, ids, l.restartLocked)
}

// CancelBulk applies Cancel to each id.
func (l *Ledger) CancelBulk(ctx context.Context, ids []string) BulkResult {
	return l.bulk(ctx, ids, l.cancelLocked)
}

// DeleteBulk applies Delete to each id.
func (l *Ledger) DeleteBulk(ctx context.Context, ids []string) BulkResult {
	return l.bulk(ctx, ids, l.deleteLocked)
}

// bulk runs op for every distinct non-empty id under one lock acquisition so
// the whole batch publishes as a single revision and no worker slot frees up
// halfway through.
func (l *Ledger) bulk(ctx context.Context, ids []string, op func(tx *txn, id string) bool) BulkResult {
	result := BulkResult{Accepted: []string{}, Rejected: []string{}}
	l.mutate(ctx, func(tx *txn) {
		seen := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			id = strings.TrimSpace(id)
			if id == "" {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			if op(tx, id) {
				result.Accepted = append(result.Accepted, id)
			} else {
				result.Rejected = append(result.Rejected, id)
			}
		}
	})
	return result
}
