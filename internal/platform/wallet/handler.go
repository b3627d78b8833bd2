package wallet

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/caresight/caresight/internal/platform/auth"
	"github.com/caresight/caresight/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/wallet", auth.RequireRole(auth.RolePatient))
	g.GET("", h.Balance)
	g.GET("/entries", h.Entries)
	g.POST("/top-up", h.TopUp)
}

func (h *Handler) Balance(c echo.Context) error {
	ctx := c.Request().Context()
	balance, err := h.svc.Balance(ctx, auth.ActorIDFromContext(ctx))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, echo.Map{"balance_cents": balance})
}

func (h *Handler) Entries(c echo.Context) error {
	ctx := c.Request().Context()
	pg := pagination.FromContext(c)
	items, total, err := h.svc.Entries(ctx, auth.ActorIDFromContext(ctx), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

type topUpRequest struct {
	AmountCents int64 `json:"amount_cents"`
}

// TopUp credits the caller's balance. Payment gateway verification happens
// upstream of this API.
func (h *Handler) TopUp(c echo.Context) error {
	var req topUpRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	actorID := auth.ActorIDFromContext(ctx)
	if err := h.svc.Credit(ctx, actorID, req.AmountCents, "wallet top-up"); err != nil {
		if errors.Is(err, ErrInvalidAmount) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	balance, err := h.svc.Balance(ctx, actorID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, echo.Map{"balance_cents": balance})
}
