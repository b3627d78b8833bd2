package investigation

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/caresight/caresight/internal/domain/fieldvisit"
	"github.com/caresight/caresight/internal/platform/auth"
	"github.com/caresight/caresight/internal/platform/notification"
	"github.com/caresight/caresight/pkg/pagination"
)

type Handler struct {
	svc      *Service
	messages *notification.Service
}

func NewHandler(svc *Service, messages *notification.Service) *Handler {
	return &Handler{svc: svc, messages: messages}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/investigations")

	anyActor := auth.RequireRole(auth.RolePatient, auth.RoleClinician, auth.RoleFieldWorker)
	clinician := auth.RequireRole(auth.RoleClinician)
	fieldWorker := auth.RequireRole(auth.RoleFieldWorker)

	g.GET("", h.List, anyActor)
	g.GET("/:id", h.Get, anyActor)
	g.GET("/:id/steps", h.ListSteps, anyActor)
	g.GET("/:id/history", h.ListHistory, clinician)
	g.GET("/:id/messages", h.ListMessages, anyActor)

	g.POST("/:id/claim", h.Claim, clinician)
	g.POST("/:id/dispatch", h.Dispatch, clinician)
	g.POST("/:id/reject", h.Reject, clinician)
	g.POST("/:id/follow-up", h.RequestFollowUp, clinician)
	g.POST("/:id/finalize", h.Finalize, clinician)

	g.POST("/:id/visits", h.SubmitVisit, fieldWorker)
}

func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()
	pg := pagination.FromContext(c)
	actorID := auth.ActorIDFromContext(ctx)

	switch auth.RoleFromContext(ctx) {
	case auth.RolePatient:
		items, total, err := h.svc.ListByPatient(ctx, actorID, pg.Limit, pg.Offset)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
	case auth.RoleFieldWorker:
		items, total, err := h.svc.ListByFieldWorker(ctx, actorID, pg.Limit, pg.Offset)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
	default:
		if status := Status(c.QueryParam("status")); status != "" {
			if !status.Valid() {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid status")
			}
			items, total, err := h.svc.ListByStatus(ctx, status, pg.Limit, pg.Offset)
			if err != nil {
				return httpError(err)
			}
			return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
		}
		items, total, err := h.svc.ListByClinician(ctx, actorID, pg.Limit, pg.Offset)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
	}
}

func (h *Handler) Get(c echo.Context) error {
	inv, err := h.loadAuthorized(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) ListSteps(c echo.Context) error {
	inv, err := h.loadAuthorized(c)
	if err != nil {
		return err
	}
	steps, err := h.svc.Steps(c.Request().Context(), inv.ID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, steps)
}

func (h *Handler) ListHistory(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	history, err := h.svc.StatusHistory(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, history)
}

func (h *Handler) ListMessages(c echo.Context) error {
	inv, err := h.loadAuthorized(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.messages.List(c.Request().Context(), inv.ID, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Claim(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if err := h.svc.ClaimReview(ctx, id, auth.ActorIDFromContext(ctx)); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type dispatchRequest struct {
	FieldWorkerID uuid.UUID     `json:"field_worker_id"`
	Plan          ClinicianPlan `json:"plan"`
}

func (h *Handler) Dispatch(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req dispatchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.FieldWorkerID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "field_worker_id is required")
	}
	ctx := c.Request().Context()
	if err := h.svc.Dispatch(ctx, id, auth.ActorIDFromContext(ctx), req.FieldWorkerID, &req.Plan); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) Reject(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req rejectRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	if err := h.svc.Reject(ctx, id, auth.ActorIDFromContext(ctx), req.Reason); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type followUpHTTPRequest struct {
	Note             string                `json:"note"`
	RequiredFeedback []fieldvisit.Modality `json:"required_feedback"`
	Force            bool                  `json:"force"`
}

func (h *Handler) RequestFollowUp(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req followUpHTTPRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	if err := h.svc.RequestFollowUp(ctx, id, auth.ActorIDFromContext(ctx), req.Note, req.RequiredFeedback, req.Force); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Finalize(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if err := h.svc.Finalize(ctx, id, auth.ActorIDFromContext(ctx)); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) SubmitVisit(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var bundle fieldvisit.Bundle
	if err := c.Bind(&bundle); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	step, err := h.svc.SubmitFieldVisit(ctx, id, auth.ActorIDFromContext(ctx), bundle)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, step)
}

func (h *Handler) loadAuthorized(c echo.Context) (*Investigation, error) {
	id, err := parseID(c)
	if err != nil {
		return nil, err
	}
	ctx := c.Request().Context()
	inv, err := h.svc.Get(ctx, id)
	if err != nil {
		return nil, httpError(err)
	}
	if !h.svc.AuthorizedFor(inv, auth.ActorIDFromContext(ctx), auth.RoleFromContext(ctx)) {
		return nil, echo.NewHTTPError(http.StatusForbidden, ErrAuthorizationDenied.Error())
	}
	return inv, nil
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// httpError maps the domain error taxonomy onto HTTP statuses.
func httpError(err error) error {
	var incomplete *IncompleteEvidenceError
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.As(err, &incomplete):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, echo.Map{
			"error":             "incomplete evidence",
			"missing_lab_tests": incomplete.Missing.MissingLabTests,
			"missing_feedback":  incomplete.Missing.MissingFeedback,
		})
	case errors.Is(err, ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrConcurrentModification):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrAuthorizationDenied):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrRefinementUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
