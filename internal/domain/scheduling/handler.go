package scheduling

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/clinical-engine/internal/platform/auth"
	"github.com/ehr/clinical-engine/internal/platform/civil"
	"github.com/ehr/clinical-engine/pkg/pagination"
)

const (
	defaultSlotLimit = 500
	maxSlotLimit     = 5000
)

type Handler struct {
	svc *Service
	gen *Generator
}

func NewHandler(svc *Service, gen *Generator) *Handler {
	return &Handler{svc: svc, gen: gen}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole("admin", "physician", "nurse", "receptionist"))
	read.GET("/schedules", h.ListSchedules)
	read.GET("/schedules/:id", h.GetSchedule)
	read.GET("/slots", h.Slots)
	read.GET("/bookings", h.ListBookings)

	book := api.Group("", auth.RequireRole("admin", "physician", "receptionist"))
	book.POST("/bookings", h.Book)
	book.POST("/bookings/:id/cancel", h.CancelBooking)

	admin := api.Group("", auth.RequireRole("admin"))
	admin.POST("/schedules", h.CreateSchedule)
	admin.DELETE("/schedules/:id", h.DeleteSchedule)
}

func optionalUUID(c echo.Context, name string) (*uuid.UUID, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return &id, nil
}

func parseWindow(c echo.Context, required bool) (Window, error) {
	var w Window
	for _, p := range []struct {
		name string
		dst  *civil.Date
	}{{"start", &w.From}, {"end", &w.To}} {
		raw := c.QueryParam(p.name)
		if raw == "" {
			if required {
				return w, echo.NewHTTPError(http.StatusBadRequest, p.name+" is required")
			}
			continue
		}
		d, err := civil.ParseDate(raw)
		if err != nil {
			return w, echo.NewHTTPError(http.StatusBadRequest, p.name+": "+err.Error())
		}
		*p.dst = d
	}
	return w, nil
}

func (h *Handler) CreateSchedule(c echo.Context) error {
	var sched Schedule
	if err := c.Bind(&sched); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	actor := auth.UserIDFromContext(c.Request().Context())
	if err := h.svc.CreateSchedule(c.Request().Context(), &sched, actor); err != nil {
		if errors.Is(err, ErrInvalidSchedule) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, sched)
}

func (h *Handler) GetSchedule(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	sched, err := h.svc.GetSchedule(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "schedule not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, sched)
}

func (h *Handler) ListSchedules(c echo.Context) error {
	doctorID, err := optionalUUID(c, "doctor_id")
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListSchedules(c.Request().Context(), doctorID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) DeleteSchedule(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeleteSchedule(c.Request().Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "schedule not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

type slotsResponse struct {
	Data      []Slot `json:"data"`
	Truncated bool   `json:"truncated"`
}

// Slots streams the generator into a bounded response.
func (h *Handler) Slots(c echo.Context) error {
	w, err := parseWindow(c, true)
	if err != nil {
		return err
	}
	doctorID, err := optionalUUID(c, "doctor_id")
	if err != nil {
		return err
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = defaultSlotLimit
	}
	if limit > maxSlotLimit {
		limit = maxSlotLimit
	}

	seq, err := h.gen.Generate(c.Request().Context(), w, doctorID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	resp := slotsResponse{Data: []Slot{}}
	for slot := range seq {
		if len(resp.Data) == limit {
			resp.Truncated = true
			break
		}
		resp.Data = append(resp.Data, slot)
	}
	return c.JSON(http.StatusOK, resp)
}

type bookRequest struct {
	ScheduleID uuid.UUID `json:"schedule_id"`
	PatientID  uuid.UUID `json:"patient_id"`
	Start      time.Time `json:"start"`
	Notes      string    `json:"notes"`
}

func (h *Handler) Book(c echo.Context) error {
	var req bookRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ScheduleID == uuid.Nil || req.Start.IsZero() {
		return echo.NewHTTPError(http.StatusBadRequest, "schedule_id and start are required")
	}
	actor := auth.UserIDFromContext(c.Request().Context())
	if actor == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "no authenticated actor")
	}

	b, err := h.svc.Book(c.Request().Context(), req.ScheduleID, req.PatientID, req.Start, req.Notes, actor)
	switch {
	case err == nil:
		return c.JSON(http.StatusCreated, b)
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "schedule not found")
	case errors.Is(err, ErrSlotTaken), errors.Is(err, ErrSlotUnavailable):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusBadRequest, err.Error())
}

func (h *Handler) CancelBooking(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	actor := auth.UserIDFromContext(c.Request().Context())
	b, err := h.svc.CancelBooking(c.Request().Context(), id, actor)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, b)
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "booking not found")
	case errors.Is(err, ErrSlotUnavailable):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func (h *Handler) ListBookings(c echo.Context) error {
	w, err := parseWindow(c, false)
	if err != nil {
		return err
	}
	doctorID, err := optionalUUID(c, "doctor_id")
	if err != nil {
		return err
	}
	patientID, err := optionalUUID(c, "patient_id")
	if err != nil {
		return err
	}
	items, err := h.svc.ListBookings(c.Request().Context(), doctorID, patientID, w)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if items == nil {
		items = []*Booking{}
	}
	return c.JSON(http.StatusOK, items)
}
