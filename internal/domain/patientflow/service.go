package patientflow

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/orchestrall/orchestrall/internal/platform/notification"
	"github.com/orchestrall/orchestrall/pkg/apperr"
	"github.com/orchestrall/orchestrall/pkg/pagination"
)

// Service implements slot generation, booking, and the appointment state
// machine.
type Service struct {
	schedules    ScheduleRepository
	appointments AppointmentRepository
	dispatcher   notification.Dispatcher
}

func NewService(schedules ScheduleRepository, appointments AppointmentRepository, dispatcher notification.Dispatcher) *Service {
	return &Service{schedules: schedules, appointments: appointments, dispatcher: dispatcher}
}

// AddSchedule registers a weekly working window for a doctor.
func (s *Service) AddSchedule(ctx context.Context, org string, sched *DoctorSchedule) (*DoctorSchedule, error) {
	var fields []apperr.FieldError
	if sched.DoctorID == uuid.Nil {
		fields = append(fields, apperr.FieldError{Field: "doctor_id", Message: "is required"})
	}
	if sched.Weekday < time.Sunday || sched.Weekday > time.Saturday {
		fields = append(fields, apperr.FieldError{Field: "weekday", Message: "must be 0-6"})
	}
	if sched.SlotMinutes <= 0 {
		fields = append(fields, apperr.FieldError{Field: "slot_minutes", Message: "must be positive"})
	}

	ref := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	start, errStart := parseHM(sched.StartTime, ref)
	if errStart != nil {
		fields = append(fields, apperr.FieldError{Field: "start_time", Message: "must be HH:MM"})
	}
	end, errEnd := parseHM(sched.EndTime, ref)
	if errEnd != nil {
		fields = append(fields, apperr.FieldError{Field: "end_time", Message: "must be HH:MM"})
	}
	if errStart == nil && errEnd == nil && !start.Before(end) {
		fields = append(fields, apperr.FieldError{Field: "end_time", Message: "must be after start_time"})
	}

	if len(fields) > 0 {
		return nil, apperr.Validation(fields)
	}
	if err := s.schedules.Create(ctx, org, sched); err != nil {
		return nil, err
	}
	return sched, nil
}

// Schedules lists a doctor's weekly working windows.
func (s *Service) Schedules(ctx context.Context, org string, doctorID uuid.UUID) ([]DoctorSchedule, error) {
	return s.schedules.ListByDoctor(ctx, org, doctorID)
}

// RemoveSchedule deletes a working window. Existing appointments are kept.
func (s *Service) RemoveSchedule(ctx context.Context, org string, id uuid.UUID) error {
	return s.schedules.Delete(ctx, org, id)
}

// AvailableSlots generates the free slots for a doctor on a calendar day.
// Each working window that falls on the day's weekday is walked in
// slot-sized steps; slots overlapping an active appointment are dropped.
func (s *Service) AvailableSlots(ctx context.Context, org string, doctorID uuid.UUID, date time.Time) ([]Slot, error) {
	schedules, err := s.schedules.ListByDoctor(ctx, org, doctorID)
	if err != nil {
		return nil, err
	}

	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	dayEnd := dayStart.Add(24 * time.Hour)

	appts, err := s.appointments.ListByDoctorBetween(ctx, org, doctorID, dayStart, dayEnd, true)
	if err != nil {
		return nil, err
	}

	slots := []Slot{}
	for _, sched := range schedules {
		if sched.Weekday != date.Weekday() {
			continue
		}
		winStart, err := parseHM(sched.StartTime, date)
		if err != nil {
			return nil, err
		}
		winEnd, err := parseHM(sched.EndTime, date)
		if err != nil {
			return nil, err
		}

		step := time.Duration(sched.SlotMinutes) * time.Minute
		for cur := winStart; !cur.Add(step).After(winEnd); cur = cur.Add(step) {
			slotEnd := cur.Add(step)
			taken := false
			for _, a := range appts {
				if Overlaps(cur, slotEnd, a.StartTime, a.EndTime) {
					taken = true
					break
				}
			}
			if !taken {
				slots = append(slots, Slot{Start: cur, End: slotEnd})
			}
		}
	}

	// Windows may arrive in any order; the slot list is always chronological.
	sort.Slice(slots, func(i, j int) bool {
		return slots[i].Start.Before(slots[j].Start)
	})
	return slots, nil
}

// BookRequest is the input to Book.
type BookRequest struct {
	DoctorID  uuid.UUID `json:"doctor_id"`
	PatientID uuid.UUID `json:"patient_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Channel   string    `json:"channel"`
	Reason    string    `json:"reason"`
}

func (r BookRequest) validate() error {
	var fields []apperr.FieldError
	if r.DoctorID == uuid.Nil {
		fields = append(fields, apperr.FieldError{Field: "doctor_id", Message: "is required"})
	}
	if r.PatientID == uuid.Nil {
		fields = append(fields, apperr.FieldError{Field: "patient_id", Message: "is required"})
	}
	if r.StartTime.IsZero() {
		fields = append(fields, apperr.FieldError{Field: "start_time", Message: "is required"})
	}
	if r.EndTime.IsZero() {
		fields = append(fields, apperr.FieldError{Field: "end_time", Message: "is required"})
	} else if !r.StartTime.IsZero() && !r.StartTime.Before(r.EndTime) {
		fields = append(fields, apperr.FieldError{Field: "end_time", Message: "must be after start_time"})
	}
	if len(fields) > 0 {
		return apperr.Validation(fields)
	}
	return nil
}

// withinWorkingHours checks that [start, end) fits inside one of the
// doctor's windows for that weekday.
func (s *Service) withinWorkingHours(ctx context.Context, org string, doctorID uuid.UUID, start, end time.Time) error {
	schedules, err := s.schedules.ListByDoctor(ctx, org, doctorID)
	if err != nil {
		return err
	}
	for _, sched := range schedules {
		if sched.Weekday != start.Weekday() {
			continue
		}
		winStart, err := parseHM(sched.StartTime, start)
		if err != nil {
			return err
		}
		winEnd, err := parseHM(sched.EndTime, start)
		if err != nil {
			return err
		}
		if !start.Before(winStart) && !end.After(winEnd) {
			return nil
		}
	}
	return apperr.E(apperr.KindOutsideWorkingHours, "requested time is outside the doctor's working hours")
}

// Book creates a BOOKED appointment after checking working hours and slot
// availability. The final conflict check is atomic in the store, so losing
// a race surfaces as SlotConflict rather than a double booking.
func (s *Service) Book(ctx context.Context, org string, req BookRequest) (*Appointment, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if err := s.withinWorkingHours(ctx, org, req.DoctorID, req.StartTime, req.EndTime); err != nil {
		return nil, err
	}

	existing, err := s.appointments.ListByDoctorBetween(ctx, org, req.DoctorID, req.StartTime, req.EndTime, true)
	if err != nil {
		return nil, err
	}
	for _, a := range existing {
		if Overlaps(req.StartTime, req.EndTime, a.StartTime, a.EndTime) {
			return nil, apperr.E(apperr.KindSlotConflict, "slot already taken")
		}
	}

	appt := &Appointment{
		DoctorID:  req.DoctorID,
		PatientID: req.PatientID,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Status:    StatusBooked,
		Channel:   req.Channel,
		Reason:    req.Reason,
	}
	if err := s.appointments.CreateIfFree(ctx, org, appt); err != nil {
		return nil, err
	}

	s.notify(ctx, notification.TemplateBooked, appt)
	return appt, nil
}

// Get returns an appointment by id.
func (s *Service) Get(ctx context.Context, org string, id uuid.UUID) (*Appointment, error) {
	return s.appointments.GetByID(ctx, org, id)
}

// PatientAppointments lists a patient's appointments, newest first.
func (s *Service) PatientAppointments(ctx context.Context, org string, patientID uuid.UUID, page pagination.Params) ([]Appointment, int, error) {
	return s.appointments.ListByPatient(ctx, org, patientID, page)
}

// Reschedule moves an active appointment to a new time. The appointment
// keeps its status; terminal appointments cannot move.
func (s *Service) Reschedule(ctx context.Context, org string, id uuid.UUID, start, end time.Time) (*Appointment, error) {
	if !start.Before(end) {
		return nil, apperr.Validation([]apperr.FieldError{{Field: "end_time", Message: "must be after start_time"}})
	}

	appt, err := s.appointments.GetByID(ctx, org, id)
	if err != nil {
		return nil, err
	}
	if !Active(appt.Status) {
		return nil, apperr.E(apperr.KindInvalidTransition, "cannot reschedule a %s appointment", appt.Status)
	}
	if err := s.withinWorkingHours(ctx, org, appt.DoctorID, start, end); err != nil {
		return nil, err
	}

	existing, err := s.appointments.ListByDoctorBetween(ctx, org, appt.DoctorID, start, end, true)
	if err != nil {
		return nil, err
	}
	for _, a := range existing {
		if a.ID != id && Overlaps(start, end, a.StartTime, a.EndTime) {
			return nil, apperr.E(apperr.KindSlotConflict, "slot already taken")
		}
	}

	moved, err := s.appointments.MoveIfFree(ctx, org, id, start, end)
	if err != nil {
		return nil, err
	}

	s.notify(ctx, notification.TemplateRescheduled, moved)
	return moved, nil
}

// Confirm moves a BOOKED appointment to CONFIRMED.
func (s *Service) Confirm(ctx context.Context, org string, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, org, id, StatusConfirmed, notification.TemplateConfirmed)
}

// Cancel moves an active appointment to CANCELLED.
func (s *Service) Cancel(ctx context.Context, org string, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, org, id, StatusCancelled, notification.TemplateCancelled)
}

// Complete moves a CONFIRMED appointment to COMPLETED.
func (s *Service) Complete(ctx context.Context, org string, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, org, id, StatusCompleted, "")
}

// MarkNoShow moves a CONFIRMED appointment to NO_SHOW.
func (s *Service) MarkNoShow(ctx context.Context, org string, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, org, id, StatusNoShow, "")
}

// transition applies the state machine. Re-asserting a terminal state the
// appointment is already in is a no-op, not an error, so retried requests
// stay idempotent.
func (s *Service) transition(ctx context.Context, org string, id uuid.UUID, target Status, templateID string) (*Appointment, error) {
	appt, err := s.appointments.GetByID(ctx, org, id)
	if err != nil {
		return nil, err
	}

	if appt.Status == target && Terminal(target) {
		return appt, nil
	}
	if !CanTransition(appt.Status, target) {
		return nil, apperr.E(apperr.KindInvalidTransition, "cannot transition from %s to %s", appt.Status, target)
	}

	updated, err := s.appointments.UpdateStatus(ctx, org, id, target)
	if err != nil {
		return nil, err
	}

	if templateID != "" {
		s.notify(ctx, templateID, updated)
	}
	return updated, nil
}

// notify dispatches a lifecycle message. Delivery failures are logged and
// never affect the triggering operation.
func (s *Service) notify(ctx context.Context, templateID string, appt *Appointment) {
	if s.dispatcher == nil {
		return
	}
	data := map[string]string{
		"patient_name": appt.PatientID.String(),
		"doctor_name":  appt.DoctorID.String(),
		"date":         appt.StartTime.Format("2006-01-02"),
		"time":         appt.StartTime.Format("15:04"),
	}
	if err := s.dispatcher.AppointmentEvent(ctx, templateID, appt.OrgID, appt.PatientID.String(), data); err != nil {
		log.Warn().Err(err).
			Str("template", templateID).
			Str("appointment_id", appt.ID.String()).
			Msg("notification dispatch failed")
	}
}
