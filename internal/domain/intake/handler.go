package intake

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/caresight/caresight/internal/platform/auth"
	"github.com/caresight/caresight/internal/platform/wallet"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/intake", auth.RequireRole(auth.RolePatient))
	g.POST("/start", h.Start)
	g.POST("/turns", h.NextTurn)
	g.POST("/complete", h.Complete)
}

func (h *Handler) Start(c echo.Context) error {
	ctx := c.Request().Context()
	greeting, err := h.svc.Start(ctx, auth.ActorIDFromContext(ctx))
	if err != nil {
		if errors.Is(err, wallet.ErrInsufficientFunds) {
			return echo.NewHTTPError(http.StatusPaymentRequired, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, echo.Map{"greeting": greeting, "total_questions": TotalQuestions})
}

type turnRequest struct {
	Transcript []Entry `json:"transcript"`
}

func (h *Handler) NextTurn(c echo.Context) error {
	var req turnRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	turn, err := h.svc.NextTurn(c.Request().Context(), req.Transcript)
	if err != nil {
		switch {
		case errors.Is(err, ErrInterviewComplete):
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		case errors.Is(err, ErrInferenceUnavailable):
			return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, turn)
}

type completeRequest struct {
	PatientName string  `json:"patient_name"`
	Transcript  []Entry `json:"transcript"`
}

func (h *Handler) Complete(c echo.Context) error {
	var req completeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.PatientName == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_name is required")
	}
	ctx := c.Request().Context()
	inv, err := h.svc.Complete(ctx, auth.ActorIDFromContext(ctx), req.PatientName, req.Transcript)
	if err != nil {
		switch {
		case errors.Is(err, ErrInterviewIncomplete):
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, ErrInferenceUnavailable):
			return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, inv)
}
