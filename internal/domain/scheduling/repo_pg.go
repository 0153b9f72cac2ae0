package scheduling

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

	"github.com/ehr/clinical-engine/internal/platform/civil"
	"github.com/ehr/clinical-engine/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// -- Schedule --

type scheduleRepoPG struct{ pool *pgxpool.Pool }

func NewScheduleRepoPG(pool *pgxpool.Pool) ScheduleRepository {
	return &scheduleRepoPG{pool: pool}
}

func (r *scheduleRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const schedCols = `id, doctor_id, doctor_label, weekdays, start_minute, end_minute, slot_minutes,
	valid_from, valid_until, active, created_by, created_at, updated_at`

func (r *scheduleRepoPG) scanSchedule(row pgx.Row) (*Schedule, error) {
	var s Schedule
	var weekdays []int32
	var startMin, endMin int
	var from time.Time
	var until *time.Time
	err := row.Scan(&s.ID, &s.DoctorID, &s.DoctorLabel, &weekdays, &startMin, &endMin, &s.SlotMinutes,
		&from, &until, &s.Active, &s.CreatedBy, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	for _, w := range weekdays {
		s.Weekdays = append(s.Weekdays, int(w))
	}
	s.StartTime = civil.FormatMinute(startMin)
	s.EndTime = civil.FormatMinute(endMin)
	s.ValidFrom = civil.DateOf(from)
	if until != nil {
		d := civil.DateOf(*until)
		s.ValidUntil = &d
	}
	return &s, nil
}

func (r *scheduleRepoPG) Create(ctx context.Context, s *Schedule) error {
	startMin, endMin, err := s.minutes()
	if err != nil {
		return err
	}
	weekdays := make([]int32, len(s.Weekdays))
	for i, w := range s.Weekdays {
		weekdays[i] = int32(w)
	}
	var until *time.Time
	if s.ValidUntil != nil {
		t := s.ValidUntil.Time()
		until = &t
	}

	s.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO recurring_schedule (id, doctor_id, doctor_label, weekdays, start_minute, end_minute,
			slot_minutes, valid_from, valid_until, active, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at`,
		s.ID, s.DoctorID, s.DoctorLabel, weekdays, startMin, endMin,
		s.SlotMinutes, s.ValidFrom.Time(), until, s.Active, s.CreatedBy,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
}

func (r *scheduleRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Schedule, error) {
	s, err := r.scanSchedule(r.conn(ctx).QueryRow(ctx, `SELECT `+schedCols+` FROM recurring_schedule WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

func (r *scheduleRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM recurring_schedule WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *scheduleRepoPG) query(ctx context.Context, q string, args ...interface{}) ([]*Schedule, error) {
	rows, err := r.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Schedule
	for rows.Next() {
		s, err := r.scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *scheduleRepoPG) ListActive(ctx context.Context, doctorID *uuid.UUID) ([]*Schedule, error) {
	if doctorID != nil {
		return r.query(ctx, `SELECT `+schedCols+` FROM recurring_schedule
			WHERE active AND doctor_id = $1 ORDER BY created_at, id`, *doctorID)
	}
	return r.query(ctx, `SELECT `+schedCols+` FROM recurring_schedule WHERE active ORDER BY created_at, id`)
}

func (r *scheduleRepoPG) List(ctx context.Context, doctorID *uuid.UUID, limit, offset int) ([]*Schedule, int, error) {
	where := ""
	args := []interface{}{}
	if doctorID != nil {
		where = ` WHERE doctor_id = $1`
		args = append(args, *doctorID)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM recurring_schedule`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := fmt.Sprintf(`SELECT `+schedCols+` FROM recurring_schedule`+where+` ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		len(args)+1, len(args)+2)
	out, err := r.query(ctx, q, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// -- Booking --

type bookingRepoPG struct{ pool *pgxpool.Pool }

func NewBookingRepoPG(pool *pgxpool.Pool) BookingRepository {
	return &bookingRepoPG{pool: pool}
}

func (r *bookingRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const bookingCols = `id, schedule_id, doctor_id, patient_id, start_at, end_at, status, notes,
	created_by, created_at, updated_at`

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking
	err := row.Scan(&b.ID, &b.ScheduleID, &b.DoctorID, &b.PatientID, &b.Start, &b.End, &b.Status, &b.Notes,
		&b.CreatedBy, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// uniqueViolation is the SQLSTATE raised by booking_live_start_uniq.
const uniqueViolation = "23505"

func (r *bookingRepoPG) Create(ctx context.Context, b *Booking) error {
	b.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO booking (id, schedule_id, doctor_id, patient_id, start_at, end_at, status, notes, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`,
		b.ID, b.ScheduleID, b.DoctorID, b.PatientID, b.Start.UTC(), b.End.UTC(), b.Status, b.Notes, b.CreatedBy,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrSlotTaken
	}
	return err
}

func (r *bookingRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Booking, error) {
	b, err := scanBooking(r.conn(ctx).QueryRow(ctx, `SELECT `+bookingCols+` FROM booking WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return b, err
}

func (r *bookingRepoPG) SetStatus(ctx context.Context, id uuid.UUID, from, to BookingStatus) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE booking SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2`, id, from, to)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *bookingRepoPG) List(ctx context.Context, f BookingFilter) ([]*Booking, error) {
	var where []string
	var args []interface{}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.DoctorID != nil {
		add("doctor_id = $%d", *f.DoctorID)
	}
	if f.PatientID != nil {
		add("patient_id = $%d", *f.PatientID)
	}
	if !f.From.IsZero() {
		add("start_at >= $%d", f.From.UTC())
	}
	if !f.To.IsZero() {
		add("start_at < $%d", f.To.UTC())
	}
	if !f.IncludeCancelled {
		add("status <> $%d", BookingCancelled)
	}

	q := `SELECT ` + bookingCols + ` FROM booking`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY start_at, id`

	rows, err := r.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *bookingRepoPG) BookedStarts(ctx context.Context, doctorID *uuid.UUID, from, to time.Time) ([]BookedStart, error) {
	q := `SELECT doctor_id, start_at FROM booking WHERE status <> 'cancelled' AND start_at >= $1 AND start_at < $2`
	args := []interface{}{from.UTC(), to.UTC()}
	if doctorID != nil {
		q += ` AND doctor_id = $3`
		args = append(args, *doctorID)
	}
	rows, err := r.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []BookedStart
	for rows.Next() {
		var bs BookedStart
		if err := rows.Scan(&bs.DoctorID, &bs.Start); err != nil {
			return nil, err
		}
		out = append(out, bs)
	}
	return out, rows.Err()
}
