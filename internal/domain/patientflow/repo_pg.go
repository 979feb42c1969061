package patientflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orchestrall/orchestrall/pkg/apperr"
	"github.com/orchestrall/orchestrall/pkg/pagination"
)

const scheduleColumns = "id, org_id, doctor_id, weekday, start_time, end_time, slot_minutes, created_at"

const appointmentColumns = "id, org_id, doctor_id, patient_id, start_time, end_time, status, channel, reason, notes, created_at, updated_at"

// PGScheduleRepository is the Postgres ScheduleRepository.
type PGScheduleRepository struct {
	pool *pgxpool.Pool
}

func NewPGScheduleRepository(pool *pgxpool.Pool) *PGScheduleRepository {
	return &PGScheduleRepository{pool: pool}
}

func (r *PGScheduleRepository) Create(ctx context.Context, org string, s *DoctorSchedule) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	s.OrgID = org
	s.CreatedAt = time.Now().UTC()

	_, err := r.pool.Exec(ctx, `
		INSERT INTO doctor_schedule (id, org_id, doctor_id, weekday, start_time, end_time, slot_minutes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		s.ID, s.OrgID, s.DoctorID, int(s.Weekday), s.StartTime, s.EndTime, s.SlotMinutes, s.CreatedAt,
	)
	if err != nil {
		return mapPGErr(fmt.Errorf("insert schedule: %w", err))
	}
	return nil
}

func (r *PGScheduleRepository) ListByDoctor(ctx context.Context, org string, doctorID uuid.UUID) ([]DoctorSchedule, error) {
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM doctor_schedule
		WHERE org_id = $1 AND doctor_id = $2
		ORDER BY weekday, start_time`, scheduleColumns),
		org, doctorID,
	)
	if err != nil {
		return nil, mapPGErr(fmt.Errorf("query schedules: %w", err))
	}
	defer rows.Close()

	var schedules []DoctorSchedule
	for rows.Next() {
		var s DoctorSchedule
		var weekday int
		if err := rows.Scan(&s.ID, &s.OrgID, &s.DoctorID, &weekday, &s.StartTime, &s.EndTime, &s.SlotMinutes, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		s.Weekday = time.Weekday(weekday)
		schedules = append(schedules, s)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPGErr(fmt.Errorf("iterate schedules: %w", err))
	}
	return schedules, nil
}

func (r *PGScheduleRepository) Delete(ctx context.Context, org string, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM doctor_schedule WHERE id = $1 AND org_id = $2`, id, org)
	if err != nil {
		return mapPGErr(fmt.Errorf("delete schedule: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return apperr.E(apperr.KindNotFound, "schedule %s not found", id)
	}
	return nil
}

// PGAppointmentRepository is the Postgres AppointmentRepository. Slot
// exclusivity is enforced by an exclusion constraint on (doctor_id,
// tstzrange(start_time, end_time)) over active statuses, so conflicting
// writes fail inside the database even under concurrency.
type PGAppointmentRepository struct {
	pool *pgxpool.Pool
}

func NewPGAppointmentRepository(pool *pgxpool.Pool) *PGAppointmentRepository {
	return &PGAppointmentRepository{pool: pool}
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.OrgID, &a.DoctorID, &a.PatientID, &a.StartTime, &a.EndTime,
		&a.Status, &a.Channel, &a.Reason, &a.Notes, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *PGAppointmentRepository) GetByID(ctx context.Context, org string, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM appointment WHERE id = $1 AND org_id = $2`, appointmentColumns),
		id, org,
	)
	appt, err := scanAppointment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.E(apperr.KindNotFound, "appointment %s not found", id)
	}
	if err != nil {
		return nil, mapPGErr(fmt.Errorf("get appointment: %w", err))
	}
	return appt, nil
}

func (r *PGAppointmentRepository) ListByDoctorBetween(ctx context.Context, org string, doctorID uuid.UUID, from, to time.Time, activeOnly bool) ([]Appointment, error) {
	sql := fmt.Sprintf(`
		SELECT %s FROM appointment
		WHERE org_id = $1 AND doctor_id = $2 AND start_time < $4 AND end_time > $3`, appointmentColumns)
	if activeOnly {
		sql += ` AND status IN ('BOOKED', 'CONFIRMED')`
	}
	sql += ` ORDER BY start_time`

	rows, err := r.pool.Query(ctx, sql, org, doctorID, from, to)
	if err != nil {
		return nil, mapPGErr(fmt.Errorf("query appointments: %w", err))
	}
	defer rows.Close()

	var appts []Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan appointment: %w", err)
		}
		appts = append(appts, *appt)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPGErr(fmt.Errorf("iterate appointments: %w", err))
	}
	return appts, nil
}

func (r *PGAppointmentRepository) ListByPatient(ctx context.Context, org string, patientID uuid.UUID, page pagination.Params) ([]Appointment, int, error) {
	var total int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM appointment WHERE org_id = $1 AND patient_id = $2`,
		org, patientID,
	).Scan(&total)
	if err != nil {
		return nil, 0, mapPGErr(fmt.Errorf("count appointments: %w", err))
	}

	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM appointment
		WHERE org_id = $1 AND patient_id = $2
		ORDER BY start_time DESC, id ASC
		LIMIT $3 OFFSET $4`, appointmentColumns),
		org, patientID, page.PageSize, page.Offset(),
	)
	if err != nil {
		return nil, 0, mapPGErr(fmt.Errorf("query appointments: %w", err))
	}
	defer rows.Close()

	var appts []Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan appointment: %w", err)
		}
		appts = append(appts, *appt)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, mapPGErr(fmt.Errorf("iterate appointments: %w", err))
	}
	return appts, total, nil
}

func (r *PGAppointmentRepository) CreateIfFree(ctx context.Context, org string, appt *Appointment) error {
	if appt.ID == uuid.Nil {
		appt.ID = uuid.New()
	}
	appt.OrgID = org
	now := time.Now().UTC()
	appt.CreatedAt = now
	appt.UpdatedAt = now

	_, err := r.pool.Exec(ctx, `
		INSERT INTO appointment (id, org_id, doctor_id, patient_id, start_time, end_time, status, channel, reason, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		appt.ID, appt.OrgID, appt.DoctorID, appt.PatientID, appt.StartTime, appt.EndTime,
		appt.Status, appt.Channel, appt.Reason, appt.Notes, appt.CreatedAt, appt.UpdatedAt,
	)
	if err != nil {
		return mapPGErr(fmt.Errorf("insert appointment: %w", err))
	}
	return nil
}

// MoveIfFree updates the interval only while the appointment is still
// active, so an appointment cancelled between the service's status check
// and this UPDATE stays untouched.
func (r *PGAppointmentRepository) MoveIfFree(ctx context.Context, org string, id uuid.UUID, start, end time.Time) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, fmt.Sprintf(`
		UPDATE appointment
		SET start_time = $1, end_time = $2, updated_at = $3
		WHERE id = $4 AND org_id = $5 AND status IN ('BOOKED', 'CONFIRMED')
		RETURNING %s`, appointmentColumns),
		start, end, time.Now().UTC(), id, org,
	)
	appt, err := scanAppointment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		var status Status
		err := r.pool.QueryRow(ctx,
			`SELECT status FROM appointment WHERE id = $1 AND org_id = $2`, id, org,
		).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.E(apperr.KindNotFound, "appointment %s not found", id)
		}
		if err != nil {
			return nil, mapPGErr(fmt.Errorf("move appointment: %w", err))
		}
		return nil, apperr.E(apperr.KindInvalidTransition, "cannot reschedule a %s appointment", status)
	}
	if err != nil {
		return nil, mapPGErr(fmt.Errorf("move appointment: %w", err))
	}
	return appt, nil
}

func (r *PGAppointmentRepository) UpdateStatus(ctx context.Context, org string, id uuid.UUID, status Status) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, fmt.Sprintf(`
		UPDATE appointment
		SET status = $1, updated_at = $2
		WHERE id = $3 AND org_id = $4
		RETURNING %s`, appointmentColumns),
		status, time.Now().UTC(), id, org,
	)
	appt, err := scanAppointment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.E(apperr.KindNotFound, "appointment %s not found", id)
	}
	if err != nil {
		return nil, mapPGErr(fmt.Errorf("update appointment status: %w", err))
	}
	return appt, nil
}

// mapPGErr translates driver errors into the application taxonomy. Exclusion
// or unique violations on the appointment slot constraint become
// SlotConflict; context deadlines become DependencyTimeout.
func mapPGErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.E(apperr.KindDependencyTimeout, "database timed out")
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == "23P01" || pgErr.Code == "23505" {
			return apperr.E(apperr.KindSlotConflict, "slot already taken")
		}
	}
	return err
}
