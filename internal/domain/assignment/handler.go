package assignment

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/clinical-engine/internal/platform/auth"
	"github.com/ehr/clinical-engine/internal/platform/clinref"
	"github.com/ehr/clinical-engine/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole("admin", "physician", "nurse"))
	read.GET("/assignments/:kind/:id", h.GetAssignment)
	read.GET("/assignments/:kind/:id/history", h.GetHistory)
	read.GET("/patients/:patient_id/assignments", h.ListByPatient)

	// Ordering and terminating assignments is a clinician action.
	write := api.Group("", auth.RequireRole("admin", "physician"))
	write.POST("/assignments/:kind", h.CreateAssignment)
	write.POST("/assignments/:kind/:id/:action", h.Transition)
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

func (h *Handler) CreateAssignment(c echo.Context) error {
	kind, err := clinref.ParseKind(c.Param("kind"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := New(kind)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Bind(a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	actor := auth.UserIDFromContext(c.Request().Context())
	if actor == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "no authenticated actor")
	}
	if err := h.svc.CreateAssignment(c.Request().Context(), a, actor); err != nil {
		if errors.Is(err, ErrInvalidAssignment) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) GetAssignment(c echo.Context) error {
	ref, err := parseRef(c)
	if err != nil {
		return err
	}
	a, err := h.svc.Get(c.Request().Context(), ref)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) GetHistory(c echo.Context) error {
	ref, err := parseRef(c)
	if err != nil {
		return err
	}
	a, err := h.svc.Get(c.Request().Context(), ref)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, History(a))
}

func (h *Handler) ListByPatient(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("patient_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
	}
	kind, err := clinref.ParseKind(c.QueryParam("kind"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "kind query parameter is required: "+err.Error())
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListByPatient(c.Request().Context(), patientID, kind, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

type transitionRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) Transition(c echo.Context) error {
	ref, err := parseRef(c)
	if err != nil {
		return err
	}
	action, err := ParseAction(c.Param("action"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	var req transitionRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	actor := auth.UserIDFromContext(c.Request().Context())
	if actor == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "no authenticated actor")
	}

	a, err := h.svc.Transition(c.Request().Context(), ref, action, actor, req.Reason)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func mapError(err error) error {
	var invalid *InvalidTransitionError
	switch {
	case errors.As(err, &invalid):
		return echo.NewHTTPError(http.StatusConflict, invalid.Error())
	case errors.Is(err, clinref.ErrUnknownAssignment):
		return echo.NewHTTPError(http.StatusNotFound, "assignment not found")
	case errors.Is(err, ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
