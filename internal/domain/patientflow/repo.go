package patientflow

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/orchestrall/orchestrall/pkg/pagination"
)

// ScheduleRepository persists weekly working windows.
type ScheduleRepository interface {
	Create(ctx context.Context, org string, s *DoctorSchedule) error
	ListByDoctor(ctx context.Context, org string, doctorID uuid.UUID) ([]DoctorSchedule, error)
	Delete(ctx context.Context, org string, id uuid.UUID) error
}

// AppointmentRepository persists appointments. CreateIfFree and MoveIfFree
// are atomic: the conflict check and the write happen in one step, so two
// racing bookings of the same slot cannot both succeed.
type AppointmentRepository interface {
	GetByID(ctx context.Context, org string, id uuid.UUID) (*Appointment, error)
	ListByDoctorBetween(ctx context.Context, org string, doctorID uuid.UUID, from, to time.Time, activeOnly bool) ([]Appointment, error)
	ListByPatient(ctx context.Context, org string, patientID uuid.UUID, page pagination.Params) ([]Appointment, int, error)
	CreateIfFree(ctx context.Context, org string, appt *Appointment) error
	MoveIfFree(ctx context.Context, org string, id uuid.UUID, start, end time.Time) (*Appointment, error)
	UpdateStatus(ctx context.Context, org string, id uuid.UUID, status Status) (*Appointment, error)
}
