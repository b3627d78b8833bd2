package notification

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caresight/caresight/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return r.pool
}

func (r *repoPG) Create(ctx context.Context, m *Message) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO messages (id, investigation_id, audience, body, created_at)
		VALUES ($1,$2,$3,$4,$5)`,
		m.ID, m.InvestigationID, m.Audience, m.Body, m.CreatedAt)
	return err
}

func (r *repoPG) ListByInvestigation(ctx context.Context, investigationID uuid.UUID, limit, offset int) ([]*Message, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM messages WHERE investigation_id = $1`, investigationID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, investigation_id, audience, body, created_at
		FROM messages
		WHERE investigation_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, investigationID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.InvestigationID, &m.Audience, &m.Body, &m.CreatedAt); err != nil {
			return nil, 0, err
		}
		items = append(items, &m)
	}
	return items, total, rows.Err()
}
