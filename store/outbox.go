package store

import (
	"context"
	"database/sql"
	"time"
)

// OutboxRecord is a staged integration event.
type OutboxRecord struct {
	Seq           int64
	EventID       string
	TenantID      string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
	DispatchedAt  *time.Time
	AttemptCount  int
	NextAttemptAt time.Time
	LastError     string
	FlaggedAt     *time.Time
}

const outboxSelect = `SELECT seq, event_id, tenant_id, event_type, payload, created_at, dispatched_at,
	attempt_count, next_attempt_at, last_error, flagged_at FROM outbox`

func scanOutbox(scan func(dest ...any) error) (*OutboxRecord, error) {
	var (
		r                      OutboxRecord
		dispatched, flagged    sql.NullInt64
		created, nextAttemptAt int64
	)
	if err := scan(&r.Seq, &r.EventID, &r.TenantID, &r.EventType, &r.Payload, &created, &dispatched,
		&r.AttemptCount, &nextAttemptAt, &r.LastError, &flagged); err != nil {
		return nil, err
	}
	r.CreatedAt = fromMillis(created)
	r.NextAttemptAt = fromMillis(nextAttemptAt)
	r.DispatchedAt = fromNullMillis(dispatched)
	r.FlaggedAt = fromNullMillis(flagged)
	return &r, nil
}

// AppendOutbox stages rec under the scope's tenant. Called with a Tx-bound
// Scoped so the record commits with the mutation it describes.
func (s Scoped) AppendOutbox(ctx context.Context, rec *OutboxRecord) error {
	if err := s.Insert(ctx, "outbox",
		[]string{"event_id", "event_type", "payload", "created_at", "attempt_count", "next_attempt_at", "last_error"},
		rec.EventID, rec.EventType, rec.Payload, millis(rec.CreatedAt), 0, millis(rec.CreatedAt), "",
	); err != nil {
		return err
	}
	rec.TenantID = string(s.tenant.ID())
	return nil
}

// OutboxByEventID returns the tenant's record for eventID.
func (s Scoped) OutboxByEventID(ctx context.Context, eventID string) (*OutboxRecord, error) {
	clause, args, err := s.where("", "event_id = ?", []any{eventID})
	if err != nil {
		return nil, err
	}
	rec, err := scanOutbox(s.c.queryRow(ctx, outboxSelect+clause, args...).Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return rec, err
}

// The methods below serve the dispatcher, which works across all tenants.
// They address records by event id and never return business rows.

// PendingOutbox returns up to limit undispatched, unflagged records in
// append order. Records behind a flagged record of the same tenant are
// withheld so the tenant's order survives a requeue.
func (d *DB) PendingOutbox(ctx context.Context, limit int) ([]*OutboxRecord, error) {
	rows, err := d.query(ctx, outboxSelect+` WHERE dispatched_at IS NULL AND flagged_at IS NULL
		AND NOT EXISTS (SELECT 1 FROM outbox f WHERE f.tenant_id = outbox.tenant_id
			AND f.flagged_at IS NOT NULL AND f.dispatched_at IS NULL AND f.seq < outbox.seq)
		ORDER BY seq LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*OutboxRecord
	for rows.Next() {
		rec, err := scanOutbox(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// FlaggedOutbox returns records parked for operator attention.
func (d *DB) FlaggedOutbox(ctx context.Context, limit int) ([]*OutboxRecord, error) {
	rows, err := d.query(ctx, outboxSelect+` WHERE dispatched_at IS NULL AND flagged_at IS NOT NULL ORDER BY seq LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*OutboxRecord
	for rows.Next() {
		rec, err := scanOutbox(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// MarkDispatched records broker acknowledgement. attempt is the attempt
// number that succeeded. It reports false when the record was already marked,
// which happens when two dispatchers race on the same record.
func (d *DB) MarkDispatched(ctx context.Context, eventID string, attempt int, at time.Time) (bool, error) {
	var changed int64
	err := d.WithTx(ctx, func(tx *Tx) error {
		res, err := tx.exec(ctx,
			`UPDATE outbox SET dispatched_at = ?, attempt_count = ?, last_error = '' WHERE event_id = ? AND dispatched_at IS NULL`,
			millis(at), attempt, eventID)
		if err != nil {
			return err
		}
		changed, err = res.RowsAffected()
		return err
	})
	return changed == 1, err
}

// RecordAttemptFailure stores a failed attempt. When flag is true the record
// is parked and no longer returned by PendingOutbox.
func (d *DB) RecordAttemptFailure(ctx context.Context, eventID string, attempt int, nextAttemptAt time.Time, lastErr string, flag bool, at time.Time) error {
	return d.WithTx(ctx, func(tx *Tx) error {
		var flaggedAt any
		if flag {
			flaggedAt = millis(at)
		}
		_, err := tx.exec(ctx,
			`UPDATE outbox SET attempt_count = ?, next_attempt_at = ?, last_error = ?, flagged_at = ? WHERE event_id = ? AND dispatched_at IS NULL`,
			attempt, millis(nextAttemptAt), lastErr, flaggedAt, eventID)
		return err
	})
}

// RequeueFlagged clears the flag of a parked record so the dispatcher picks
// it up again, with a fresh attempt budget.
func (d *DB) RequeueFlagged(ctx context.Context, eventID string, at time.Time) (bool, error) {
	res, err := d.exec(ctx,
		`UPDATE outbox SET flagged_at = NULL, attempt_count = 0, next_attempt_at = ? WHERE event_id = ? AND flagged_at IS NOT NULL AND dispatched_at IS NULL`,
		millis(at), eventID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// PurgeDispatched deletes records dispatched before cutoff.
func (d *DB) PurgeDispatched(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := d.exec(ctx, `DELETE FROM outbox WHERE dispatched_at IS NOT NULL AND dispatched_at < ?`, millis(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
