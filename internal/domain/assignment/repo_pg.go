package assignment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

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

// kindTable describes how one assignment kind maps onto its table.
type kindTable struct {
	table       string
	payloadCols []string
	payload     func(a Assignment) []interface{}
}

var kindTables = map[clinref.Kind]kindTable{
	clinref.KindMedication: {
		table:       "medication_assignment",
		payloadCols: []string{"medication_code", "medication_name", "dosing", "route", "times_per_day", "patient_weight_kg", "duration_days"},
		payload: func(a Assignment) []interface{} {
			m := a.(*Medication)
			return []interface{}{&m.MedicationCode, &m.MedicationName, &m.Dosing, &m.Route, &m.TimesPerDay, &m.PatientWeightKg, &m.DurationDays}
		},
	},
	clinref.KindGeneralTreatment: {
		table:       "general_treatment_assignment",
		payloadCols: []string{"description", "instructions"},
		payload: func(a Assignment) []interface{} {
			g := a.(*GeneralTreatment)
			return []interface{}{&g.Description, &g.Instructions}
		},
	},
	clinref.KindLabOrder: {
		table:       "lab_order_assignment",
		payloadCols: []string{"lab_test_code", "lab_test_name", "instructions"},
		payload: func(a Assignment) []interface{} {
			l := a.(*LabOrder)
			return []interface{}{&l.LabTestCode, &l.LabTestName, &l.Instructions}
		},
	},
	clinref.KindInstrumentalOrder: {
		table:       "instrumental_order_assignment",
		payloadCols: []string{"procedure_code", "procedure_name", "instructions"},
		payload: func(a Assignment) []interface{} {
			i := a.(*InstrumentalOrder)
			return []interface{}{&i.ProcedureCode, &i.ProcedureName, &i.Instructions}
		},
	},
}

const baseCols = `id, patient_id, ordered_by, target_type, target_id, start_at, end_at,
	status, paused_at, paused_by, pause_reason, completed_at, completed_by, completion_notes,
	cancelled_at, cancelled_by, cancellation_reason, rejected_at, rejected_by, rejection_reason,
	version_id, created_at, updated_at`

func (b *Base) dest() []interface{} {
	return []interface{}{&b.ID, &b.PatientID, &b.OrderedBy, &b.Target.Type, &b.Target.ID, &b.Start, &b.End,
		&b.Status, &b.PausedAt, &b.PausedBy, &b.PauseReason, &b.CompletedAt, &b.CompletedBy, &b.CompletionNotes,
		&b.CancelledAt, &b.CancelledBy, &b.CancellationReason, &b.RejectedAt, &b.RejectedBy, &b.RejectionReason,
		&b.VersionID, &b.CreatedAt, &b.UpdatedAt}
}

func (t kindTable) selectCols() string {
	return baseCols + ", " + strings.Join(t.payloadCols, ", ")
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func tableFor(kind clinref.Kind) (kindTable, error) {
	t, ok := kindTables[kind]
	if !ok {
		return kindTable{}, fmt.Errorf("%w: kind %q", clinref.ErrUnknownAssignment, kind)
	}
	return t, nil
}

func scan(kind clinref.Kind, t kindTable, row pgx.Row) (Assignment, error) {
	a, err := New(kind)
	if err != nil {
		return nil, err
	}
	dest := append(a.Header().dest(), t.payload(a)...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return a, nil
}

func (r *repoPG) Create(ctx context.Context, a Assignment) error {
	t, err := tableFor(a.Kind())
	if err != nil {
		return err
	}
	b := a.Header()
	b.ID = uuid.New()
	b.VersionID = 1

	cols := []string{"id", "patient_id", "ordered_by", "target_type", "target_id", "start_at", "end_at", "status", "version_id"}
	args := []interface{}{b.ID, b.PatientID, b.OrderedBy, b.Target.Type, b.Target.ID, b.Start, b.End, b.Status, b.VersionID}
	cols = append(cols, t.payloadCols...)
	for _, p := range t.payload(a) {
		args = append(args, derefArg(p))
	}

	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	q := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) RETURNING created_at, updated_at`,
		t.table, strings.Join(cols, ", "), strings.Join(placeholders, ","))
	return r.conn(ctx).QueryRow(ctx, q, args...).Scan(&b.CreatedAt, &b.UpdatedAt)
}

// derefArg turns a scan destination back into a value argument.
func derefArg(p interface{}) interface{} {
	switch v := p.(type) {
	case *string:
		return *v
	case **string:
		return *v
	case *int:
		return *v
	case **int:
		return *v
	case **float64:
		return *v
	}
	return p
}

func (r *repoPG) get(ctx context.Context, ref clinref.Ref, lock bool) (Assignment, error) {
	t, err := tableFor(ref.Kind)
	if err != nil {
		return nil, err
	}
	q := `SELECT ` + t.selectCols() + ` FROM ` + t.table + ` WHERE id = $1`
	if lock {
		q += ` FOR UPDATE`
	}
	a, err := scan(ref.Kind, t, r.conn(ctx).QueryRow(ctx, q, ref.ID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", clinref.ErrUnknownAssignment, ref)
	}
	return a, err
}

func (r *repoPG) Get(ctx context.Context, ref clinref.Ref) (Assignment, error) {
	return r.get(ctx, ref, false)
}

func (r *repoPG) GetForUpdate(ctx context.Context, ref clinref.Ref) (Assignment, error) {
	return r.get(ctx, ref, true)
}

func (r *repoPG) UpdateLifecycle(ctx context.Context, a Assignment) error {
	t, err := tableFor(a.Kind())
	if err != nil {
		return err
	}
	b := a.Header()
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE `+t.table+` SET status=$3, end_at=$4,
			paused_at=$5, paused_by=$6, pause_reason=$7,
			completed_at=$8, completed_by=$9, completion_notes=$10,
			cancelled_at=$11, cancelled_by=$12, cancellation_reason=$13,
			rejected_at=$14, rejected_by=$15, rejection_reason=$16,
			version_id = version_id + 1, updated_at=NOW()
		WHERE id = $1 AND version_id = $2`,
		b.ID, b.VersionID, b.Status, b.End,
		b.PausedAt, b.PausedBy, b.PauseReason,
		b.CompletedAt, b.CompletedBy, b.CompletionNotes,
		b.CancelledAt, b.CancelledBy, b.CancellationReason,
		b.RejectedAt, b.RejectedBy, b.RejectionReason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	b.VersionID++
	b.UpdatedAt = time.Now()
	return nil
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, kind clinref.Kind, limit, offset int) ([]Assignment, int, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM `+t.table+` WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+t.selectCols()+` FROM `+t.table+`
		WHERE patient_id = $1 ORDER BY start_at DESC, id LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []Assignment
	for rows.Next() {
		a, err := scan(kind, t, rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

func (r *repoPG) ListStartingBefore(ctx context.Context, patientID uuid.UUID, before time.Time) ([]Assignment, error) {
	var items []Assignment
	for _, kind := range clinref.Kinds {
		t := kindTables[kind]
		rows, err := r.conn(ctx).Query(ctx, `SELECT `+t.selectCols()+` FROM `+t.table+`
			WHERE patient_id = $1 AND start_at < $2 ORDER BY start_at, id`, patientID, before)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			a, err := scan(kind, t, rows)
			if err != nil {
				rows.Close()
				return nil, err
			}
			items = append(items, a)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}
	return items, nil
}
