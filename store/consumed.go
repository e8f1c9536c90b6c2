package store

import (
	"context"
	"time"
)

// ReserveEvent writes the dedup fence for (consumer, eventID) inside the
// transaction. It reports false when the fence already exists, meaning the
// event was applied before and the caller must not apply it again.
func (t *Tx) ReserveEvent(ctx context.Context, consumer, eventID, tenantID string, at time.Time) (bool, error) {
	res, err := t.exec(ctx,
		`INSERT INTO consumed_events (consumer, event_id, tenant_id, consumed_at) VALUES (?, ?, ?, ?) ON CONFLICT DO NOTHING`,
		consumer, eventID, tenantID, millis(at))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Consumed reports whether consumer has applied eventID.
func (d *DB) Consumed(ctx context.Context, consumer, eventID string) (bool, error) {
	var n int
	if err := d.queryRow(ctx, `SELECT COUNT(*) FROM consumed_events WHERE consumer = ? AND event_id = ?`, consumer, eventID).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// PurgeConsumed deletes fences older than cutoff. Redeliveries of events
// older than the retention window are no longer deduplicated.
func (d *DB) PurgeConsumed(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := d.exec(ctx, `DELETE FROM consumed_events WHERE consumed_at < ?`, millis(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
