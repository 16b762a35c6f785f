package records

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"survey-caller/internal/calls"
	"survey-caller/pkg/utils"

	"github.com/jmoiron/sqlx"
)

//go:embed schema.sql
var Schema string

// Migrate applies Schema. Every statement is idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	return utils.ExecScript(ctx, db, Schema)
}

// PostgresGateway stores calls in the survey_calls, survey_questions and survey_answers
// tables (see schema.sql).
type PostgresGateway struct {
	db *sqlx.DB
}

// NewPostgresGateway wraps a pool opened with the "pgx" driver.
func NewPostgresGateway(db *sql.DB) *PostgresGateway {
	return &PostgresGateway{db: sqlx.NewDb(db, "pgx")}
}

const callColumns = `
id, phone_number, backend,
COALESCE(provider_ref, '') AS provider_ref,
COALESCE(conversation_ref, '') AS conversation_ref,
status, started_at, ended_at, duration_seconds, created_at, updated_at`

func (g *PostgresGateway) CreateCall(ctx context.Context, call calls.Call, slots []calls.QuestionSlot) error {
	if call.ID <= 0 {
		return ErrInvalidArgument
	}
	return utils.WithTx(ctx, g.db.DB, nil, func(ctx context.Context, tx *sql.Tx) error {
		const insertCall = `
INSERT INTO survey_calls (id, phone_number, backend, provider_ref, conversation_ref, status, created_at, updated_at)
VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8)
ON CONFLICT (id) DO NOTHING
`
		if _, err := tx.ExecContext(ctx, insertCall,
			call.ID,
			call.PhoneNumber,
			call.Backend,
			call.ProviderRef,
			call.ConversationRef,
			call.Status,
			call.CreatedAt,
			call.UpdatedAt,
		); err != nil {
			return fmt.Errorf("insert call: %w", err)
		}

		const insertSlot = `
INSERT INTO survey_questions (call_id, sequence, question_text, state)
VALUES ($1, $2, $3, $4)
ON CONFLICT (call_id, sequence) DO NOTHING
`
		for _, s := range slots {
			if _, err := tx.ExecContext(ctx, insertSlot, call.ID, s.Sequence, s.Text, calls.SlotPending); err != nil {
				return fmt.Errorf("insert question %d: %w", s.Sequence, err)
			}
		}
		return nil
	})
}

func (g *PostgresGateway) UpdateStatus(ctx context.Context, u StatusUpdate) error {
	const q = `
UPDATE survey_calls
SET status = $2,
    provider_ref = COALESCE(NULLIF($3, ''), provider_ref),
    conversation_ref = COALESCE(NULLIF($4, ''), conversation_ref),
    started_at = COALESCE(started_at, $5),
    updated_at = $6
WHERE id = $1
`
	res, err := g.db.ExecContext(ctx, q, u.CallID, u.Status, u.ProviderRef, u.ConversationRef, u.StartedAt, u.At)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return expectRow(res)
}

func (g *PostgresGateway) UpsertAnswer(ctx context.Context, a calls.AnswerRecord) error {
	return utils.WithTx(ctx, g.db.DB, nil, func(ctx context.Context, tx *sql.Tx) error {
		const upsert = `
INSERT INTO survey_answers (call_id, sequence, answer, confidence, raw_response, response_time_seconds, recorded_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (call_id, sequence) DO UPDATE
SET answer = EXCLUDED.answer,
    confidence = EXCLUDED.confidence,
    raw_response = EXCLUDED.raw_response,
    response_time_seconds = EXCLUDED.response_time_seconds,
    recorded_at = EXCLUDED.recorded_at
`
		if _, err := tx.ExecContext(ctx, upsert,
			a.CallID,
			a.Sequence,
			a.Answer,
			a.Confidence,
			a.RawResponse,
			a.ResponseTimeSeconds,
			a.RecordedAt,
		); err != nil {
			return fmt.Errorf("upsert answer: %w", err)
		}

		const resolve = `UPDATE survey_questions SET state = $3 WHERE call_id = $1 AND sequence = $2`
		if _, err := tx.ExecContext(ctx, resolve, a.CallID, a.Sequence, calls.SlotResolved); err != nil {
			return fmt.Errorf("resolve question: %w", err)
		}
		return nil
	})
}

func (g *PostgresGateway) CompleteCall(ctx context.Context, call calls.Call) error {
	const q = `
UPDATE survey_calls
SET status = $2,
    started_at = COALESCE(started_at, $3),
    ended_at = $4,
    duration_seconds = $5,
    updated_at = $6
WHERE id = $1
`
	res, err := g.db.ExecContext(ctx, q,
		call.ID,
		call.Status,
		call.StartedAt,
		call.EndedAt,
		call.DurationSeconds,
		call.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("complete call: %w", err)
	}
	return expectRow(res)
}

func (g *PostgresGateway) GetCall(ctx context.Context, id int64) (calls.Detail, error) {
	var d calls.Detail
	q := `SELECT ` + callColumns + ` FROM survey_calls WHERE id = $1`
	if err := g.db.GetContext(ctx, &d.Call, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return calls.Detail{}, ErrNotFound
		}
		return calls.Detail{}, fmt.Errorf("get call: %w", err)
	}

	const qs = `
SELECT call_id, sequence, question_text, state, asked_at
FROM survey_questions
WHERE call_id = $1
ORDER BY sequence
`
	if err := g.db.SelectContext(ctx, &d.Questions, qs, id); err != nil {
		return calls.Detail{}, fmt.Errorf("get questions: %w", err)
	}
	return d, nil
}

func (g *PostgresGateway) GetAnswers(ctx context.Context, callID int64) ([]calls.AnswerRecord, error) {
	const q = `
SELECT call_id, sequence, answer, confidence, raw_response, response_time_seconds, recorded_at
FROM survey_answers
WHERE call_id = $1
ORDER BY sequence
`
	out := []calls.AnswerRecord{}
	if err := g.db.SelectContext(ctx, &out, q, callID); err != nil {
		return nil, fmt.Errorf("get answers: %w", err)
	}
	return out, nil
}

func (g *PostgresGateway) FindCallByReference(ctx context.Context, ref string) (int64, error) {
	if strings.TrimSpace(ref) == "" {
		return 0, ErrInvalidArgument
	}
	const q = `
SELECT id FROM survey_calls
WHERE provider_ref = $1 OR conversation_ref = $1
ORDER BY id DESC
LIMIT 1
`
	var id int64
	if err := g.db.GetContext(ctx, &id, q, ref); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("find call: %w", err)
	}
	return id, nil
}

func (g *PostgresGateway) ListCalls(ctx context.Context, f ListFilter) ([]calls.Call, error) {
	q, args := buildListQuery(f)
	out := []calls.Call{}
	if err := g.db.SelectContext(ctx, &out, q, args...); err != nil {
		return nil, fmt.Errorf("list calls: %w", err)
	}
	return out, nil
}

func buildListQuery(f ListFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if !f.From.IsZero() {
		add("created_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("created_at < $%d", f.To)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}

	var b strings.Builder
	b.WriteString(`SELECT ` + callColumns + ` FROM survey_calls`)
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY id DESC")
	if f.Limit > 0 {
		args = append(args, f.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	return b.String(), args
}

func (g *PostgresGateway) LastCallID(ctx context.Context) (int64, error) {
	var id int64
	if err := g.db.GetContext(ctx, &id, `SELECT COALESCE(MAX(id), 0) FROM survey_calls`); err != nil {
		return 0, fmt.Errorf("last call id: %w", err)
	}
	return id, nil
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
