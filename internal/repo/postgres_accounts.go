package repo

import (
	"context"
	"database/sql"
	"errors"
)

type PostgresAccountRepo struct {
	db *sql.DB
}

func NewPostgresAccountRepo(db *sql.DB) *PostgresAccountRepo {
	return &PostgresAccountRepo{db: db}
}

func (r *PostgresAccountRepo) GetAccount(ctx context.Context, id int64) (*Account, error) {
	var a Account
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, credits, send_limit
		FROM accounts
		WHERE id = $1
	`, id).Scan(&a.ID, &a.Name, &a.Credits, &a.SendLimit)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Debit is a conditional decrement so two workers racing on the same account
// cannot take the balance negative.
func (r *PostgresAccountRepo) Debit(ctx context.Context, id int64, amount int) error {
	if amount <= 0 {
		return errors.New("debit amount must be > 0")
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE accounts
		SET credits = credits - $2
		WHERE id = $1 AND credits >= $2
	`, id, amount)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Either the account is unknown or the balance cannot cover it.
		if _, err := r.GetAccount(ctx, id); err != nil {
			return err
		}
		return ErrInsufficientCredits
	}
	return nil
}
