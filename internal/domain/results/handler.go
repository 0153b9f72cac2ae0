package results

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/clinical-engine/internal/platform/auth"
	"github.com/ehr/clinical-engine/internal/platform/clinref"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole("admin", "physician", "nurse", "lab_technician"))
	read.GET("/results/:kind/:id", h.Get)
	read.GET("/assignments/:kind/:id/results", h.ListByAssignment)

	write := api.Group("", auth.RequireRole("admin", "physician", "lab_technician"))
	write.POST("/results", h.Create)

	// Physical deletion is discouraged; admins only.
	api.DELETE("/results/:kind/:id", h.Delete, auth.RequireRole("admin"))
}

func parseResultKey(c echo.Context) (Kind, uuid.UUID, error) {
	kind, err := ParseKind(c.Param("kind"))
	if err != nil {
		return "", uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return "", uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return kind, id, nil
}

func (h *Handler) Create(c echo.Context) error {
	var res Result
	if err := c.Bind(&res); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	actor := auth.UserIDFromContext(c.Request().Context())
	if actor == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "no authenticated actor")
	}
	if err := h.svc.Create(c.Request().Context(), &res, actor); err != nil {
		if errors.Is(err, clinref.ErrUnknownAssignment) {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, "result references an unknown assignment")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *Handler) Get(c echo.Context) error {
	kind, id, err := parseResultKey(c)
	if err != nil {
		return err
	}
	res, err := h.svc.Get(c.Request().Context(), kind, id)
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "result not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) ListByAssignment(c echo.Context) error {
	kind, err := clinref.ParseKind(c.Param("kind"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	list, err := h.svc.ListByAssignment(c.Request().Context(), clinref.Ref{Kind: kind, ID: id})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if list == nil {
		list = []*Result{}
	}
	return c.JSON(http.StatusOK, list)
}

func (h *Handler) Delete(c echo.Context) error {
	kind, id, err := parseResultKey(c)
	if err != nil {
		return err
	}
	actor := auth.UserIDFromContext(c.Request().Context())
	if err := h.svc.Delete(c.Request().Context(), kind, id, actor); err != nil {
		if errors.Is(err, ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "result not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
