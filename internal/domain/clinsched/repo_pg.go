package clinsched

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/clinical-engine/internal/platform/civil"
	"github.com/ehr/clinical-engine/internal/platform/clinref"
	"github.com/ehr/clinical-engine/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const apptCols = `id, assignment_kind, assignment_id, patient_id, scheduled_date, scheduled_minute,
	execution_status, executed_at, created_by, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var date time.Time
	if err := row.Scan(&a.ID, &a.AssignmentKind, &a.AssignmentID, &a.PatientID, &date, &a.ScheduledMinute,
		&a.ExecutionStatus, &a.ExecutedAt, &a.CreatedBy, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.ScheduledDate = civil.DateOf(date)
	a.fillTime()
	return &a, nil
}

func collect(rows pgx.Rows) ([]*Appointment, error) {
	defer rows.Close()
	var out []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *repoPG) CreateBatch(ctx context.Context, appts []*Appointment) error {
	if len(appts) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, a := range appts {
		a.ID = uuid.New()
		batch.Queue(`INSERT INTO scheduled_appointment
			(id, assignment_kind, assignment_id, patient_id, scheduled_date, scheduled_minute, execution_status, created_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING created_at, updated_at`,
			a.ID, a.AssignmentKind, a.AssignmentID, a.PatientID, a.ScheduledDate.Time(), a.ScheduledMinute,
			a.ExecutionStatus, a.CreatedBy)
	}
	br := r.conn(ctx).SendBatch(ctx, batch)
	defer br.Close()
	for _, a := range appts {
		if err := br.QueryRow().Scan(&a.CreatedAt, &a.UpdatedAt); err != nil {
			return fmt.Errorf("insert scheduled appointment: %w", err)
		}
		a.fillTime()
	}
	return br.Close()
}

func statusArgs(statuses []ExecutionStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func (r *repoPG) ListByAssignment(ctx context.Context, ref clinref.Ref, statuses ...ExecutionStatus) ([]*Appointment, error) {
	q := `SELECT ` + apptCols + ` FROM scheduled_appointment
		WHERE assignment_kind = $1 AND assignment_id = $2`
	args := []interface{}{ref.Kind, ref.ID}
	if len(statuses) > 0 {
		q += ` AND execution_status = ANY($3)`
		args = append(args, statusArgs(statuses))
	}
	q += ` ORDER BY scheduled_date, scheduled_minute NULLS FIRST, id`
	rows, err := r.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func (r *repoPG) SetExecution(ctx context.Context, id uuid.UUID, from, to ExecutionStatus, executedAt *time.Time) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE scheduled_appointment
		SET execution_status = $3, executed_at = $4, updated_at = NOW()
		WHERE id = $1 AND execution_status = $2`,
		id, from, to, executedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) DeleteByAssignment(ctx context.Context, ref clinref.Ref) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM scheduled_appointment
		WHERE assignment_kind = $1 AND assignment_id = $2`, ref.Kind, ref.ID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *repoPG) List(ctx context.Context, f Filter) ([]*Appointment, error) {
	var where []string
	var args []interface{}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.PatientID != nil {
		add("patient_id = $%d", *f.PatientID)
	}
	if !f.From.IsZero() {
		add("scheduled_date >= $%d", f.From.Time())
	}
	if !f.To.IsZero() {
		add("scheduled_date <= $%d", f.To.Time())
	}
	if len(f.Statuses) > 0 {
		add("execution_status = ANY($%d)", statusArgs(f.Statuses))
	}

	q := `SELECT ` + apptCols + ` FROM scheduled_appointment`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	if f.NewestFirst {
		q += ` ORDER BY scheduled_date DESC, scheduled_minute NULLS FIRST, id`
	} else {
		q += ` ORDER BY scheduled_date, scheduled_minute NULLS FIRST, id`
	}

	rows, err := r.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}
