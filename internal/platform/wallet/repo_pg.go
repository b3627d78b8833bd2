package wallet

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caresight/caresight/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) Apply(ctx context.Context, actorID uuid.UUID, amountCents int64, reason string) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		// Upsert the account so first credits work, then adjust conditioned
		// on the balance staying non-negative.
		if _, err := tx.Exec(ctx, `
			INSERT INTO wallet_accounts (actor_id, balance_cents)
			VALUES ($1, 0)
			ON CONFLICT (actor_id) DO NOTHING`, actorID); err != nil {
			return err
		}

		tag, err := tx.Exec(ctx, `
			UPDATE wallet_accounts
			SET balance_cents = balance_cents + $2, updated_at = NOW()
			WHERE actor_id = $1 AND balance_cents + $2 >= 0`,
			actorID, amountCents)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrInsufficientFunds
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO wallet_entries (id, actor_id, amount_cents, reason)
			VALUES ($1,$2,$3,$4)`,
			uuid.New(), actorID, amountCents, reason)
		return err
	})
}

func (r *repoPG) Balance(ctx context.Context, actorID uuid.UUID) (int64, error) {
	var balance int64
	err := r.pool.QueryRow(ctx,
		`SELECT balance_cents FROM wallet_accounts WHERE actor_id = $1`, actorID).Scan(&balance)
	if err == pgx.ErrNoRows {
		return 0, nil
	}
	return balance, err
}

func (r *repoPG) Entries(ctx context.Context, actorID uuid.UUID, limit, offset int) ([]*Entry, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM wallet_entries WHERE actor_id = $1`, actorID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, actor_id, amount_cents, reason, created_at
		FROM wallet_entries
		WHERE actor_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, actorID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.ActorID, &e.AmountCents, &e.Reason, &e.CreatedAt); err != nil {
			return nil, 0, err
		}
		items = append(items, &e)
	}
	return items, total, rows.Err()
}
