package results

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/clinical-engine/internal/platform/clinref"
	"github.com/ehr/clinical-engine/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

var tables = map[Kind]string{
	KindLab:          "lab_result",
	KindInstrumental: "instrumental_result",
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func tableFor(kind Kind) (string, error) {
	t, ok := tables[kind]
	if !ok {
		return "", fmt.Errorf("unknown result kind %q", kind)
	}
	return t, nil
}

const resultCols = `id, assignment_id, patient_id, completed, summary, data, recorded_by, recorded_at, created_at`

func scanResult(kind Kind, row pgx.Row) (*Result, error) {
	res := Result{Kind: kind}
	if err := row.Scan(&res.ID, &res.AssignmentID, &res.PatientID, &res.Completed, &res.Summary, &res.Data,
		&res.RecordedBy, &res.RecordedAt, &res.CreatedAt); err != nil {
		return nil, err
	}
	return &res, nil
}

func (r *repoPG) Create(ctx context.Context, res *Result) error {
	table, err := tableFor(res.Kind)
	if err != nil {
		return err
	}
	res.ID = uuid.New()
	q := fmt.Sprintf(`INSERT INTO %s (id, assignment_id, patient_id, completed, summary, data, recorded_by, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING created_at`, table)
	return r.conn(ctx).QueryRow(ctx, q,
		res.ID, res.AssignmentID, res.PatientID, res.Completed, res.Summary, res.Data, res.RecordedBy, res.RecordedAt,
	).Scan(&res.CreatedAt)
}

func (r *repoPG) Get(ctx context.Context, kind Kind, id uuid.UUID) (*Result, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	res, err := scanResult(kind, r.conn(ctx).QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, resultCols, table), id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return res, err
}

func (r *repoPG) Delete(ctx context.Context, kind Kind, id uuid.UUID) error {
	table, err := tableFor(kind)
	if err != nil {
		return err
	}
	tag, err := r.conn(ctx).Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, table), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) ListByAssignment(ctx context.Context, ref clinref.Ref) ([]*Result, error) {
	kind := KindLab
	if ref.Kind == clinref.KindInstrumentalOrder {
		kind = KindInstrumental
	} else if ref.Kind != clinref.KindLabOrder {
		return nil, nil
	}
	rows, err := r.conn(ctx).Query(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE assignment_id = $1 ORDER BY recorded_at, id`, resultCols, tables[kind]), ref.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Result
	for rows.Next() {
		res, err := scanResult(kind, rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}
