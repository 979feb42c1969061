package patientflow

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an appointment.
type Status string

const (
	StatusBooked    Status = "BOOKED"
	StatusConfirmed Status = "CONFIRMED"
	StatusCancelled Status = "CANCELLED"
	StatusCompleted Status = "COMPLETED"
	StatusNoShow    Status = "NO_SHOW"
)

// transitions is the appointment state machine. Absent states are terminal.
var transitions = map[Status][]Status{
	StatusBooked:    {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCompleted, StatusCancelled, StatusNoShow},
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether s admits no further transitions.
func Terminal(s Status) bool {
	return len(transitions[s]) == 0
}

// Active reports whether an appointment in this status occupies its slot.
func Active(s Status) bool {
	return s == StatusBooked || s == StatusConfirmed
}

// DoctorSchedule is one weekly working window for a doctor. Times are local
// wall-clock in "15:04" form; SlotMinutes is the appointment granularity.
type DoctorSchedule struct {
	ID          uuid.UUID    `json:"id"`
	OrgID       string       `json:"org_id"`
	DoctorID    uuid.UUID    `json:"doctor_id"`
	Weekday     time.Weekday `json:"weekday"`
	StartTime   string       `json:"start_time"`
	EndTime     string       `json:"end_time"`
	SlotMinutes int          `json:"slot_minutes"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Slot is one bookable interval, half-open [Start, End).
type Slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Appointment is a booked slot for a patient with a doctor.
type Appointment struct {
	ID        uuid.UUID `json:"id"`
	OrgID     string    `json:"org_id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
	PatientID uuid.UUID `json:"patient_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Status    Status    `json:"status"`
	Channel   string    `json:"channel,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// parseHM parses a "15:04" wall-clock string onto the given date, in the
// date's location.
func parseHM(value string, date time.Time) (time.Time, error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: %w", value, err)
	}
	return time.Date(date.Year(), date.Month(), date.Day(), t.Hour(), t.Minute(), 0, 0, date.Location()), nil
}
