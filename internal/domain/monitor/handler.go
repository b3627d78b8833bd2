package monitor

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/caresight/caresight/internal/domain/investigation"
	"github.com/caresight/caresight/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/investigations/:id/progress-checks", h.Assess,
		auth.RequireRole(auth.RolePatient, auth.RoleClinician))
}

type assessRequest struct {
	Vitals string `json:"vitals"`
}

func (h *Handler) Assess(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req assessRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Vitals) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "vitals are required")
	}

	assessment, err := h.svc.Assess(c.Request().Context(), id, req.Vitals)
	if err != nil {
		switch {
		case errors.Is(err, investigation.ErrNotFound):
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		case errors.Is(err, ErrNotCompleted):
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		case errors.Is(err, ErrAssessmentUnavailable):
			return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, assessment)
}
