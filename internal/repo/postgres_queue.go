package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bulkwave/dispatch/internal/model"
)

const itemColumns = `
	id, recipient, payload, account_id, segment_id, batch_id,
	sender_name, sender_address, priority, status, attempts, max_attempts,
	created_at, last_attempt_at, next_attempt_at, sent_at,
	gateway_message_id, last_error`

type PostgresQueueRepo struct {
	db *sql.DB
}

func NewPostgresQueueRepo(db *sql.DB) *PostgresQueueRepo {
	return &PostgresQueueRepo{db: db}
}

func (r *PostgresQueueRepo) Save(ctx context.Context, item *model.QueueItem) error {
	return r.db.QueryRowContext(ctx, `
		INSERT INTO queue_items (
			recipient, payload, account_id, segment_id, batch_id,
			sender_name, sender_address, priority, status, attempts, max_attempts,
			created_at, next_attempt_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id
	`,
		item.Recipient,
		item.Payload,
		nullInt64(item.AccountID),
		nullInt64(item.SegmentID),
		nullStr(item.BatchID),
		item.Sender.Name,
		item.Sender.Address,
		int(item.Priority),
		string(item.Status),
		item.Attempts,
		item.MaxAttempts,
		item.CreatedAt,
		item.NextAttemptAt,
	).Scan(&item.ID)
}

func (r *PostgresQueueRepo) SaveBatch(ctx context.Context, items []*model.QueueItem) error {
	if len(items) == 0 {
		return nil
	}

	// One multi-row INSERT so the batch lands atomically without per-item
	// round trips.
	var (
		sb   strings.Builder
		args []any
	)
	sb.WriteString(`
		INSERT INTO queue_items (
			recipient, payload, account_id, segment_id, batch_id,
			sender_name, sender_address, priority, status, attempts, max_attempts,
			created_at, next_attempt_at
		) VALUES `)

	for i, item := range items {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 13
		sb.WriteString("(")
		for j := 1; j <= 13; j++ {
			if j > 1 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", base+j)
		}
		sb.WriteString(")")

		args = append(args,
			item.Recipient,
			item.Payload,
			nullInt64(item.AccountID),
			nullInt64(item.SegmentID),
			nullStr(item.BatchID),
			item.Sender.Name,
			item.Sender.Address,
			int(item.Priority),
			string(item.Status),
			item.Attempts,
			item.MaxAttempts,
			item.CreatedAt,
			item.NextAttemptAt,
		)
	}

	_, err := r.db.ExecContext(ctx, sb.String(), args...)
	return err
}

func (r *PostgresQueueRepo) Update(ctx context.Context, item *model.QueueItem) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE queue_items
		SET status = $2,
		    attempts = $3,
		    last_attempt_at = $4,
		    next_attempt_at = $5,
		    sent_at = $6,
		    gateway_message_id = $7,
		    last_error = $8
		WHERE id = $1
	`,
		item.ID,
		string(item.Status),
		item.Attempts,
		nullTime(item.LastAttemptAt),
		item.NextAttemptAt,
		nullTime(item.SentAt),
		nullStrPtr(item.GatewayMessageID),
		nullStrPtr(item.LastError),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("queue item %d not found", item.ID)
	}
	return nil
}

func (r *PostgresQueueRepo) ClaimNextBatch(ctx context.Context, limit int, now time.Time) ([]*model.QueueItem, error) {
	if limit <= 0 {
		return nil, errors.New("limit must be > 0")
	}

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT`+itemColumns+`
		FROM queue_items
		WHERE status = 'pending' AND next_attempt_at <= $1
		ORDER BY priority DESC, created_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, now.UTC(), limit)
	if err != nil {
		return nil, err
	}
	items, err := scanItems(rows)
	if err != nil {
		return nil, err
	}

	if len(items) == 0 {
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		return nil, nil
	}

	claimedAt := now.UTC()
	for _, it := range items {
		if _, err := tx.ExecContext(ctx, `
			UPDATE queue_items
			SET status = 'processing', last_attempt_at = $2
			WHERE id = $1
		`, it.ID, claimedAt); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	for _, it := range items {
		it.Status = model.Processing
		t := claimedAt
		it.LastAttemptAt = &t
	}
	return items, nil
}

func (r *PostgresQueueRepo) FindExpiredProcessing(ctx context.Context, cutoff time.Time) ([]*model.QueueItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT`+itemColumns+`
		FROM queue_items
		WHERE status = 'processing' AND last_attempt_at < $1
		ORDER BY last_attempt_at ASC
	`, cutoff.UTC())
	if err != nil {
		return nil, err
	}
	return scanItems(rows)
}

func (r *PostgresQueueRepo) FindByBatchID(ctx context.Context, batchID string) ([]*model.QueueItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT`+itemColumns+`
		FROM queue_items
		WHERE batch_id = $1
		ORDER BY created_at ASC
	`, batchID)
	if err != nil {
		return nil, err
	}
	return scanItems(rows)
}

func (r *PostgresQueueRepo) CountByStatus(ctx context.Context) (map[model.Status]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT status, COUNT(*)
		FROM queue_items
		GROUP BY status
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[model.Status]int)
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		out[model.Status(status)] = count
	}
	return out, rows.Err()
}

func (r *PostgresQueueRepo) CancelPendingByBatchID(ctx context.Context, batchID, reason string) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE queue_items
		SET status = 'cancelled', last_error = $2
		WHERE batch_id = $1 AND status = 'pending'
	`, batchID, reason)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *PostgresQueueRepo) DeleteOldEntries(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM queue_items
		WHERE status IN ('sent', 'failed', 'cancelled')
		  AND created_at < $1
	`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanItems(rows *sql.Rows) ([]*model.QueueItem, error) {
	defer rows.Close()

	var out []*model.QueueItem
	for rows.Next() {
		var (
			it        model.QueueItem
			status    string
			accountID sql.NullInt64
			segmentID sql.NullInt64
			batchID   sql.NullString
			priority  int
			lastAt    sql.NullTime
			sentAt    sql.NullTime
			gwID      sql.NullString
			lastErr   sql.NullString
		)
		if err := rows.Scan(
			&it.ID,
			&it.Recipient,
			&it.Payload,
			&accountID,
			&segmentID,
			&batchID,
			&it.Sender.Name,
			&it.Sender.Address,
			&priority,
			&status,
			&it.Attempts,
			&it.MaxAttempts,
			&it.CreatedAt,
			&lastAt,
			&it.NextAttemptAt,
			&sentAt,
			&gwID,
			&lastErr,
		); err != nil {
			return nil, err
		}

		it.Status = model.Status(status)
		it.Priority = model.Priority(priority)
		if accountID.Valid {
			v := accountID.Int64
			it.AccountID = &v
		}
		if segmentID.Valid {
			v := segmentID.Int64
			it.SegmentID = &v
		}
		if batchID.Valid {
			it.BatchID = batchID.String
		}
		if lastAt.Valid {
			t := lastAt.Time
			it.LastAttemptAt = &t
		}
		if sentAt.Valid {
			t := sentAt.Time
			it.SentAt = &t
		}
		if gwID.Valid {
			s := gwID.String
			it.GatewayMessageID = &s
		}
		if lastErr.Valid {
			s := lastErr.String
			it.LastError = &s
		}

		out = append(out, &it)
	}
	return out, rows.Err()
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullStrPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
