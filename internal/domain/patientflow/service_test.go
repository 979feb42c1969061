package patientflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/orchestrall/orchestrall/pkg/apperr"
	"github.com/orchestrall/orchestrall/pkg/pagination"
)

type mockScheduleRepo struct {
	mu        sync.Mutex
	schedules map[uuid.UUID]DoctorSchedule
}

func newMockScheduleRepo() *mockScheduleRepo {
	return &mockScheduleRepo{schedules: make(map[uuid.UUID]DoctorSchedule)}
}

func (m *mockScheduleRepo) Create(_ context.Context, org string, s *DoctorSchedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	s.OrgID = org
	m.schedules[s.ID] = *s
	return nil
}

func (m *mockScheduleRepo) ListByDoctor(_ context.Context, org string, doctorID uuid.UUID) ([]DoctorSchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []DoctorSchedule
	for _, s := range m.schedules {
		if s.OrgID == org && s.DoctorID == doctorID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *mockScheduleRepo) Delete(_ context.Context, org string, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[id]
	if !ok || s.OrgID != org {
		return apperr.E(apperr.KindNotFound, "schedule %s not found", id)
	}
	delete(m.schedules, id)
	return nil
}

type mockApptRepo struct {
	mu    sync.Mutex
	appts map[uuid.UUID]*Appointment
}

func newMockApptRepo() *mockApptRepo {
	return &mockApptRepo{appts: make(map[uuid.UUID]*Appointment)}
}

func (m *mockApptRepo) GetByID(_ context.Context, org string, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok || a.OrgID != org {
		return nil, apperr.E(apperr.KindNotFound, "appointment %s not found", id)
	}
	cp := *a
	return &cp, nil
}

func (m *mockApptRepo) ListByDoctorBetween(_ context.Context, org string, doctorID uuid.UUID, from, to time.Time, activeOnly bool) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Appointment
	for _, a := range m.appts {
		if a.OrgID != org || a.DoctorID != doctorID {
			continue
		}
		if activeOnly && !Active(a.Status) {
			continue
		}
		if Overlaps(a.StartTime, a.EndTime, from, to) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *mockApptRepo) ListByPatient(_ context.Context, org string, patientID uuid.UUID, _ pagination.Params) ([]Appointment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Appointment
	for _, a := range m.appts {
		if a.OrgID == org && a.PatientID == patientID {
			out = append(out, *a)
		}
	}
	return out, len(out), nil
}

// CreateIfFree checks and writes under one lock, mirroring the exclusion
// constraint in the real store.
func (m *mockApptRepo) CreateIfFree(_ context.Context, org string, appt *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.appts {
		if a.OrgID == org && a.DoctorID == appt.DoctorID && Active(a.Status) &&
			Overlaps(a.StartTime, a.EndTime, appt.StartTime, appt.EndTime) {
			return apperr.E(apperr.KindSlotConflict, "slot already taken")
		}
	}
	if appt.ID == uuid.Nil {
		appt.ID = uuid.New()
	}
	appt.OrgID = org
	cp := *appt
	m.appts[appt.ID] = &cp
	return nil
}

func (m *mockApptRepo) MoveIfFree(_ context.Context, org string, id uuid.UUID, start, end time.Time) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	appt, ok := m.appts[id]
	if !ok || appt.OrgID != org {
		return nil, apperr.E(apperr.KindNotFound, "appointment %s not found", id)
	}
	if !Active(appt.Status) {
		return nil, apperr.E(apperr.KindInvalidTransition, "cannot reschedule a %s appointment", appt.Status)
	}
	for _, a := range m.appts {
		if a.ID != id && a.OrgID == org && a.DoctorID == appt.DoctorID && Active(a.Status) &&
			Overlaps(a.StartTime, a.EndTime, start, end) {
			return nil, apperr.E(apperr.KindSlotConflict, "slot already taken")
		}
	}
	appt.StartTime = start
	appt.EndTime = end
	cp := *appt
	return &cp, nil
}

func (m *mockApptRepo) UpdateStatus(_ context.Context, org string, id uuid.UUID, status Status) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	appt, ok := m.appts[id]
	if !ok || appt.OrgID != org {
		return nil, apperr.E(apperr.KindNotFound, "appointment %s not found", id)
	}
	appt.Status = status
	cp := *appt
	return &cp, nil
}

const testOrg = "acme"

// monday is 2026-09-07.
var monday = time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, doctorID uuid.UUID) *Service {
	t.Helper()
	svc := NewService(newMockScheduleRepo(), newMockApptRepo(), nil)
	_, err := svc.AddSchedule(context.Background(), testOrg, &DoctorSchedule{
		DoctorID:    doctorID,
		Weekday:     time.Monday,
		StartTime:   "09:00",
		EndTime:     "12:00",
		SlotMinutes: 30,
	})
	if err != nil {
		t.Fatalf("add schedule: %v", err)
	}
	return svc
}

func book(t *testing.T, svc *Service, doctorID uuid.UUID, startH, startM int) *Appointment {
	t.Helper()
	start := monday.Add(time.Duration(startH)*time.Hour + time.Duration(startM)*time.Minute)
	appt, err := svc.Book(context.Background(), testOrg, BookRequest{
		DoctorID:  doctorID,
		PatientID: uuid.New(),
		StartTime: start,
		EndTime:   start.Add(30 * time.Minute),
	})
	if err != nil {
		t.Fatalf("book %02d:%02d: %v", startH, startM, err)
	}
	return appt
}

func TestAvailableSlots_WalksWorkingWindow(t *testing.T) {
	doctorID := uuid.New()
	svc := newTestService(t, doctorID)

	slots, err := svc.AvailableSlots(context.Background(), testOrg, doctorID, monday)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slots) != 6 {
		t.Fatalf("expected 6 slots, got %d", len(slots))
	}
	if !slots[0].Start.Equal(monday.Add(9 * time.Hour)) {
		t.Errorf("first slot at %v", slots[0].Start)
	}
	if !slots[5].Start.Equal(monday.Add(11*time.Hour + 30*time.Minute)) {
		t.Errorf("last slot at %v", slots[5].Start)
	}
}

func TestAvailableSlots_SortedAcrossWindows(t *testing.T) {
	doctorID := uuid.New()
	svc := NewService(newMockScheduleRepo(), newMockApptRepo(), nil)

	// Afternoon window registered first; output must still be chronological.
	windows := []struct{ start, end string }{
		{"13:00", "14:00"},
		{"09:00", "12:00"},
	}
	for _, w := range windows {
		_, err := svc.AddSchedule(context.Background(), testOrg, &DoctorSchedule{
			DoctorID:    doctorID,
			Weekday:     time.Monday,
			StartTime:   w.start,
			EndTime:     w.end,
			SlotMinutes: 30,
		})
		if err != nil {
			t.Fatalf("add schedule: %v", err)
		}
	}

	slots, err := svc.AvailableSlots(context.Background(), testOrg, doctorID, monday)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slots) != 8 {
		t.Fatalf("expected 8 slots across both windows, got %d", len(slots))
	}
	for i := 1; i < len(slots); i++ {
		if !slots[i-1].Start.Before(slots[i].Start) {
			t.Fatalf("slots out of order at %d: %v then %v", i, slots[i-1].Start, slots[i].Start)
		}
	}
}

func TestAvailableSlots_ExcludesBookedAndWrongWeekday(t *testing.T) {
	doctorID := uuid.New()
	svc := newTestService(t, doctorID)
	book(t, svc, doctorID, 10, 0)

	slots, err := svc.AvailableSlots(context.Background(), testOrg, doctorID, monday)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slots) != 5 {
		t.Fatalf("expected 5 slots after booking, got %d", len(slots))
	}
	for _, s := range slots {
		if s.Start.Equal(monday.Add(10 * time.Hour)) {
			t.Error("booked slot still offered")
		}
	}

	tuesday := monday.Add(24 * time.Hour)
	slots, err = svc.AvailableSlots(context.Background(), testOrg, doctorID, tuesday)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slots) != 0 {
		t.Errorf("expected no slots on a day without a schedule, got %d", len(slots))
	}
}

func TestBook_ConflictAndBackToBack(t *testing.T) {
	doctorID := uuid.New()
	svc := newTestService(t, doctorID)
	book(t, svc, doctorID, 10, 0)

	start := monday.Add(10*time.Hour + 15*time.Minute)
	_, err := svc.Book(context.Background(), testOrg, BookRequest{
		DoctorID:  doctorID,
		PatientID: uuid.New(),
		StartTime: start,
		EndTime:   start.Add(30 * time.Minute),
	})
	if !apperr.IsKind(err, apperr.KindSlotConflict) {
		t.Fatalf("expected SlotConflict, got %v", err)
	}

	// A back-to-back appointment shares a boundary and does not conflict.
	book(t, svc, doctorID, 10, 30)
}

func TestBook_OutsideWorkingHours(t *testing.T) {
	doctorID := uuid.New()
	svc := newTestService(t, doctorID)

	cases := []struct {
		name  string
		start time.Time
	}{
		{"before window", monday.Add(8 * time.Hour)},
		{"spills past window", monday.Add(11*time.Hour + 45*time.Minute)},
		{"wrong weekday", monday.Add(24*time.Hour + 10*time.Hour)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Book(context.Background(), testOrg, BookRequest{
				DoctorID:  doctorID,
				PatientID: uuid.New(),
				StartTime: tc.start,
				EndTime:   tc.start.Add(30 * time.Minute),
			})
			if !apperr.IsKind(err, apperr.KindOutsideWorkingHours) {
				t.Errorf("expected OutsideWorkingHours, got %v", err)
			}
		})
	}
}

func TestBook_ValidationListsAllFields(t *testing.T) {
	svc := NewService(newMockScheduleRepo(), newMockApptRepo(), nil)
	_, err := svc.Book(context.Background(), testOrg, BookRequest{})
	if !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	appErr := err.(*apperr.Error)
	if len(appErr.Fields) != 4 {
		t.Errorf("expected 4 field errors, got %d: %v", len(appErr.Fields), appErr.Fields)
	}
}

func TestTransitions(t *testing.T) {
	doctorID := uuid.New()
	svc := newTestService(t, doctorID)
	ctx := context.Background()

	appt := book(t, svc, doctorID, 9, 0)

	confirmed, err := svc.Confirm(ctx, testOrg, appt.ID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if confirmed.Status != StatusConfirmed {
		t.Fatalf("expected CONFIRMED, got %s", confirmed.Status)
	}

	completed, err := svc.Complete(ctx, testOrg, appt.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if completed.Status != StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", completed.Status)
	}

	// Terminal states cannot move elsewhere.
	if _, err := svc.Cancel(ctx, testOrg, appt.ID); !apperr.IsKind(err, apperr.KindInvalidTransition) {
		t.Errorf("expected InvalidTransition cancelling a completed appointment, got %v", err)
	}

	// BOOKED cannot jump straight to COMPLETED.
	second := book(t, svc, doctorID, 9, 30)
	if _, err := svc.Complete(ctx, testOrg, second.ID); !apperr.IsKind(err, apperr.KindInvalidTransition) {
		t.Errorf("expected InvalidTransition completing a booked appointment, got %v", err)
	}
}

func TestTransition_TerminalReassertIsIdempotent(t *testing.T) {
	doctorID := uuid.New()
	svc := newTestService(t, doctorID)
	ctx := context.Background()

	appt := book(t, svc, doctorID, 9, 0)
	if _, err := svc.Cancel(ctx, testOrg, appt.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	again, err := svc.Cancel(ctx, testOrg, appt.ID)
	if err != nil {
		t.Fatalf("expected idempotent cancel, got %v", err)
	}
	if again.Status != StatusCancelled {
		t.Errorf("expected CANCELLED, got %s", again.Status)
	}
}

func TestCancel_FreesSlot(t *testing.T) {
	doctorID := uuid.New()
	svc := newTestService(t, doctorID)
	ctx := context.Background()

	appt := book(t, svc, doctorID, 10, 0)
	if _, err := svc.Cancel(ctx, testOrg, appt.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	// The slot is bookable again.
	book(t, svc, doctorID, 10, 0)
}

func TestReschedule(t *testing.T) {
	doctorID := uuid.New()
	svc := newTestService(t, doctorID)
	ctx := context.Background()

	appt := book(t, svc, doctorID, 9, 0)
	book(t, svc, doctorID, 10, 0)

	// Into a taken slot.
	start := monday.Add(10 * time.Hour)
	if _, err := svc.Reschedule(ctx, testOrg, appt.ID, start, start.Add(30*time.Minute)); !apperr.IsKind(err, apperr.KindSlotConflict) {
		t.Errorf("expected SlotConflict, got %v", err)
	}

	// Outside working hours.
	start = monday.Add(14 * time.Hour)
	if _, err := svc.Reschedule(ctx, testOrg, appt.ID, start, start.Add(30*time.Minute)); !apperr.IsKind(err, apperr.KindOutsideWorkingHours) {
		t.Errorf("expected OutsideWorkingHours, got %v", err)
	}

	// Into a free slot.
	start = monday.Add(11 * time.Hour)
	moved, err := svc.Reschedule(ctx, testOrg, appt.ID, start, start.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if !moved.StartTime.Equal(start) {
		t.Errorf("appointment not moved: %v", moved.StartTime)
	}

	// A cancelled appointment cannot be rescheduled.
	if _, err := svc.Cancel(ctx, testOrg, appt.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := svc.Reschedule(ctx, testOrg, appt.ID, start, start.Add(30*time.Minute)); !apperr.IsKind(err, apperr.KindInvalidTransition) {
		t.Errorf("expected InvalidTransition, got %v", err)
	}
}

func TestMoveIfFree_TerminalAppointmentStaysPut(t *testing.T) {
	repo := newMockApptRepo()
	ctx := context.Background()

	start := monday.Add(10 * time.Hour)
	appt := &Appointment{
		DoctorID:  uuid.New(),
		PatientID: uuid.New(),
		StartTime: start,
		EndTime:   start.Add(30 * time.Minute),
		Status:    StatusBooked,
	}
	if err := repo.CreateIfFree(ctx, testOrg, appt); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := repo.UpdateStatus(ctx, testOrg, appt.ID, StatusCancelled); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	// The appointment went terminal after the caller's status check; the
	// move must fail and leave the interval unchanged.
	newStart := monday.Add(11 * time.Hour)
	_, err := repo.MoveIfFree(ctx, testOrg, appt.ID, newStart, newStart.Add(30*time.Minute))
	if !apperr.IsKind(err, apperr.KindInvalidTransition) {
		t.Fatalf("expected InvalidTransition, got %v", err)
	}

	got, err := repo.GetByID(ctx, testOrg, appt.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.StartTime.Equal(start) {
		t.Errorf("interval mutated: %v", got.StartTime)
	}
}

func TestBook_ConcurrentExactlyOneWins(t *testing.T) {
	doctorID := uuid.New()
	svc := newTestService(t, doctorID)
	start := monday.Add(10 * time.Hour)

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Book(context.Background(), testOrg, BookRequest{
				DoctorID:  doctorID,
				PatientID: uuid.New(),
				StartTime: start,
				EndTime:   start.Add(30 * time.Minute),
			})
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else if !apperr.IsKind(err, apperr.KindSlotConflict) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("expected exactly one successful booking, got %d", wins)
	}
}
