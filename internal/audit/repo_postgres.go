package audit

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// PostgresRepo writes to the webhook_logs table. Rows are never updated.
type PostgresRepo struct {
	db *sqlx.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: sqlx.NewDb(db, "pgx")}
}

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO webhook_logs (id, source, kind, identifier, call_id, outcome, message, payload, created_at)
VALUES (:id, :source, :kind, :identifier, NULLIF(CAST(:call_id AS BIGINT), 0), :outcome, :message, :payload, :created_at)
`
	if _, err := r.db.NamedExecContext(ctx, q, e); err != nil {
		return fmt.Errorf("append webhook log: %w", err)
	}
	return nil
}

func (r *PostgresRepo) ListByCall(ctx context.Context, callID int64, limit int) ([]Event, error) {
	q := `
SELECT id, source, kind, identifier, COALESCE(call_id, 0) AS call_id, outcome, message, payload, created_at
FROM webhook_logs
WHERE call_id = $1
ORDER BY created_at
`
	args := []any{callID}
	if limit > 0 {
		q += " LIMIT $2"
		args = append(args, limit)
	}
	out := []Event{}
	if err := r.db.SelectContext(ctx, &out, q, args...); err != nil {
		return nil, fmt.Errorf("list webhook logs: %w", err)
	}
	return out, nil
}
