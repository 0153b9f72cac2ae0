package clinsched

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/clinical-engine/internal/platform/auth"
	"github.com/ehr/clinical-engine/internal/platform/civil"
	"github.com/ehr/clinical-engine/internal/platform/clinref"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Ward nurses lay out and read schedules as well as physicians.
	g := api.Group("", auth.RequireRole("admin", "physician", "nurse"))
	g.POST("/assignments/:kind/:id/schedule", h.Schedule)
	g.GET("/assignments/:kind/:id/scheduled-appointments", h.ForAssignment)
	g.GET("/scheduled-appointments/today", h.Today)
	g.GET("/scheduled-appointments/overdue", h.Overdue)
	g.GET("/patients/:patient_id/scheduled-appointments", h.PatientSchedule)
}

func parseRef(c echo.Context) (clinref.Ref, error) {
	kind, err := clinref.ParseKind(c.Param("kind"))
	if err != nil {
		return clinref.Ref{}, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return clinref.Ref{}, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return clinref.Ref{Kind: kind, ID: id}, nil
}

func optionalPatient(c echo.Context) (*uuid.UUID, error) {
	raw := c.QueryParam("patient_id")
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
	}
	return &id, nil
}

func optionalDate(c echo.Context, name string) (civil.Date, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return civil.Date{}, nil
	}
	d, err := civil.ParseDate(raw)
	if err != nil {
		return civil.Date{}, echo.NewHTTPError(http.StatusBadRequest, name+": "+err.Error())
	}
	return d, nil
}

func (h *Handler) Schedule(c echo.Context) error {
	ref, err := parseRef(c)
	if err != nil {
		return err
	}
	var plan Plan
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&plan); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	actor := auth.UserIDFromContext(c.Request().Context())
	if actor == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "no authenticated actor")
	}

	appts, err := h.svc.ScheduleAssignment(c.Request().Context(), ref, plan, actor)
	switch {
	case err == nil:
		return c.JSON(http.StatusCreated, appts)
	case errors.Is(err, clinref.ErrUnknownAssignment):
		return echo.NewHTTPError(http.StatusNotFound, "assignment not found")
	case errors.Is(err, ErrAssignmentClosed):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusBadRequest, err.Error())
}

func (h *Handler) ForAssignment(c echo.Context) error {
	ref, err := parseRef(c)
	if err != nil {
		return err
	}
	appts, err := h.svc.ForAssignment(c.Request().Context(), ref)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, appts)
}

func (h *Handler) Today(c echo.Context) error {
	patientID, err := optionalPatient(c)
	if err != nil {
		return err
	}
	appts, err := h.svc.TodaySchedule(c.Request().Context(), patientID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, appts)
}

func (h *Handler) Overdue(c echo.Context) error {
	patientID, err := optionalPatient(c)
	if err != nil {
		return err
	}
	appts, err := h.svc.OverdueAppointments(c.Request().Context(), patientID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, appts)
}

func (h *Handler) PatientSchedule(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("patient_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
	}
	from, err := optionalDate(c, "start")
	if err != nil {
		return err
	}
	to, err := optionalDate(c, "end")
	if err != nil {
		return err
	}
	appts, err := h.svc.PatientSchedule(c.Request().Context(), patientID, from, to)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, appts)
}
