package repo

import (
	"context"
	"database/sql"
)

type PostgresContactRepo struct {
	db *sql.DB
}

func NewPostgresContactRepo(db *sql.DB) *PostgresContactRepo {
	return &PostgresContactRepo{db: db}
}

func (r *PostgresContactRepo) PhonesBySegment(ctx context.Context, segmentID int64) ([]string, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM segments WHERE id = $1)
	`, segmentID).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrSegmentNotFound
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT c.phone
		FROM contacts c
		JOIN segment_contacts sc ON sc.contact_id = c.id
		WHERE sc.segment_id = $1 AND c.phone IS NOT NULL AND c.phone <> ''
	`, segmentID)
	if err != nil {
		return nil, err
	}
	return scanPhones(rows)
}

func (r *PostgresContactRepo) PhonesByAccount(ctx context.Context, accountID int64) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT phone
		FROM contacts
		WHERE account_id = $1 AND phone IS NOT NULL AND phone <> ''
	`, accountID)
	if err != nil {
		return nil, err
	}
	return scanPhones(rows)
}

func scanPhones(rows *sql.Rows) ([]string, error) {
	defer rows.Close()

	var out []string
	for rows.Next() {
		var phone sql.NullString
		if err := rows.Scan(&phone); err != nil {
			return nil, err
		}
		if phone.Valid && phone.String != "" {
			out = append(out, phone.String)
		}
	}
	return out, rows.Err()
}
