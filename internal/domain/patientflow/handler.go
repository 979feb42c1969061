package patientflow

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/orchestrall/orchestrall/internal/platform/auth"
	"github.com/orchestrall/orchestrall/pkg/apperr"
	"github.com/orchestrall/orchestrall/pkg/pagination"
)

// Handler exposes scheduling operations over HTTP.
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts the scheduling routes on the given group. Mutating
// routes additionally pass the write gate.
func (h *Handler) RegisterRoutes(g *echo.Group, write echo.MiddlewareFunc) {
	g.POST("/doctors/:id/schedules", h.HandleAddSchedule, write)
	g.GET("/doctors/:id/schedules", h.HandleListSchedules)
	g.DELETE("/schedules/:id", h.HandleRemoveSchedule, write)
	g.GET("/doctors/:id/slots", h.HandleSlots)
	g.POST("/appointments", h.HandleBook, write)
	g.GET("/appointments/:id", h.HandleGet)
	g.PUT("/appointments/:id/reschedule", h.HandleReschedule, write)
	g.POST("/appointments/:id/confirm", h.transitionHandler((*Service).Confirm), write)
	g.POST("/appointments/:id/cancel", h.transitionHandler((*Service).Cancel), write)
	g.POST("/appointments/:id/complete", h.transitionHandler((*Service).Complete), write)
	g.POST("/appointments/:id/no-show", h.transitionHandler((*Service).MarkNoShow), write)
	g.GET("/patients/:id/appointments", h.HandlePatientAppointments)
}

type errorBody struct {
	Error  string              `json:"error"`
	Kind   string              `json:"kind"`
	Fields []apperr.FieldError `json:"fields,omitempty"`
}

func writeError(c echo.Context, err error) error {
	body := errorBody{
		Error: err.Error(),
		Kind:  apperr.KindOf(err).String(),
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		body.Fields = appErr.Fields
	}
	return c.JSON(apperr.HTTPStatus(err), body)
}

func pathUUID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, apperr.E(apperr.KindInvalidQuery, "invalid %s", name)
	}
	return id, nil
}

type scheduleRequest struct {
	Weekday     int    `json:"weekday"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	SlotMinutes int    `json:"slot_minutes"`
}

// HandleAddSchedule handles POST /doctors/:id/schedules.
func (h *Handler) HandleAddSchedule(c echo.Context) error {
	doctorID, err := pathUUID(c, "id")
	if err != nil {
		return writeError(c, err)
	}

	var req scheduleRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, apperr.E(apperr.KindInvalidQuery, "invalid request body"))
	}

	sched := &DoctorSchedule{
		DoctorID:    doctorID,
		Weekday:     time.Weekday(req.Weekday),
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		SlotMinutes: req.SlotMinutes,
	}
	created, err := h.service.AddSchedule(c.Request().Context(), auth.OrgFromContext(c), sched)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, created)
}

// HandleListSchedules handles GET /doctors/:id/schedules.
func (h *Handler) HandleListSchedules(c echo.Context) error {
	doctorID, err := pathUUID(c, "id")
	if err != nil {
		return writeError(c, err)
	}

	schedules, err := h.service.Schedules(c.Request().Context(), auth.OrgFromContext(c), doctorID)
	if err != nil {
		return writeError(c, err)
	}
	if schedules == nil {
		schedules = []DoctorSchedule{}
	}
	return c.JSON(http.StatusOK, schedules)
}

// HandleRemoveSchedule handles DELETE /schedules/:id.
func (h *Handler) HandleRemoveSchedule(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return writeError(c, err)
	}
	if err := h.service.RemoveSchedule(c.Request().Context(), auth.OrgFromContext(c), id); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// HandleSlots handles GET /doctors/:id/slots?date=2026-09-07.
func (h *Handler) HandleSlots(c echo.Context) error {
	doctorID, err := pathUUID(c, "id")
	if err != nil {
		return writeError(c, err)
	}

	date, err := time.Parse("2006-01-02", c.QueryParam("date"))
	if err != nil {
		return writeError(c, apperr.E(apperr.KindInvalidQuery, "date must be YYYY-MM-DD"))
	}

	slots, err := h.service.AvailableSlots(c.Request().Context(), auth.OrgFromContext(c), doctorID, date)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"slots": slots})
}

// HandleBook handles POST /appointments.
func (h *Handler) HandleBook(c echo.Context) error {
	var req BookRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, apperr.E(apperr.KindInvalidQuery, "invalid request body"))
	}

	appt, err := h.service.Book(c.Request().Context(), auth.OrgFromContext(c), req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, appt)
}

// HandleGet handles GET /appointments/:id.
func (h *Handler) HandleGet(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return writeError(c, err)
	}

	appt, err := h.service.Get(c.Request().Context(), auth.OrgFromContext(c), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, appt)
}

type rescheduleRequest struct {
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// HandleReschedule handles PUT /appointments/:id/reschedule.
func (h *Handler) HandleReschedule(c echo.Context) error {
	id, err := pathUUID(c, "id")
	if err != nil {
		return writeError(c, err)
	}

	var req rescheduleRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, apperr.E(apperr.KindInvalidQuery, "invalid request body"))
	}

	appt, err := h.service.Reschedule(c.Request().Context(), auth.OrgFromContext(c), id, req.StartTime, req.EndTime)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, appt)
}

// transitionHandler wraps one state machine move as an HTTP handler.
func (h *Handler) transitionHandler(fn func(*Service, context.Context, string, uuid.UUID) (*Appointment, error)) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := pathUUID(c, "id")
		if err != nil {
			return writeError(c, err)
		}

		appt, err := fn(h.service, c.Request().Context(), auth.OrgFromContext(c), id)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, appt)
	}
}

// HandlePatientAppointments handles GET /patients/:id/appointments.
func (h *Handler) HandlePatientAppointments(c echo.Context) error {
	patientID, err := pathUUID(c, "id")
	if err != nil {
		return writeError(c, err)
	}

	page := pagination.FromContext(c)
	appts, total, err := h.service.PatientAppointments(c.Request().Context(), auth.OrgFromContext(c), patientID, page)
	if err != nil {
		return writeError(c, err)
	}
	if appts == nil {
		appts = []Appointment{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(appts, total, page))
}
