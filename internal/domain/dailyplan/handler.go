package dailyplan

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/clinical-engine/internal/platform/auth"
	"github.com/ehr/clinical-engine/internal/platform/civil"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireRole("admin", "physician", "nurse"))
	g.GET("/patients/:patient_id/daily-plan", h.Get)
}

// Get serves the plan. hide_terminated=true drops cancelled and rejected
// assignments.
func (h *Handler) Get(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("patient_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
	}
	var w Window
	if w.From, err = civil.ParseDate(c.QueryParam("start")); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "start: "+err.Error())
	}
	if w.To, err = civil.ParseDate(c.QueryParam("end")); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "end: "+err.Error())
	}
	var opts Options
	if raw := c.QueryParam("hide_terminated"); raw != "" {
		if opts.HideTerminated, err = strconv.ParseBool(raw); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid hide_terminated")
		}
	}

	if err := w.validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	plan, err := h.svc.Project(c.Request().Context(), patientID, w, opts)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, plan)
}
