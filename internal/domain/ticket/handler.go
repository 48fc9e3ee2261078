package ticket

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/patholab/lis/internal/platform/apperr"
	"github.com/patholab/lis/internal/platform/auth"
	"github.com/patholab/lis/pkg/pagination"
)

type Handler struct {
	svc    *Service
	policy *auth.Policy
}

func NewHandler(svc *Service, policy *auth.Policy) *Handler {
	return &Handler{svc: svc, policy: policy}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/tickets")

	own := g.Group("", h.policy.Require(auth.PermTicketWrite))
	own.POST("", h.Create)
	own.GET("", h.Search)
	own.GET("/:ticket_code", h.Get)
	own.PUT("/:ticket_code", h.Update)

	manage := g.Group("", h.policy.Require(auth.PermTicketManage))
	manage.PUT("/:ticket_code/status", h.ChangeStatus)
	manage.PUT("/:ticket_code/assignee", h.Assign)
	manage.DELETE("/:ticket_code", h.Delete)
}

func bind(c echo.Context, dst interface{}) error {
	if err := c.Bind(dst); err != nil {
		return apperr.BadParameter("invalid request body: %v", err)
	}
	return nil
}

func (h *Handler) manages(ctx context.Context) bool {
	return h.policy.Check(ctx, auth.PermTicketManage) == nil
}

// loadVisible returns the ticket when the caller created it or manages tickets.
func (h *Handler) loadVisible(ctx context.Context, code string) (*Ticket, error) {
	t, err := h.svc.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	if !h.manages(ctx) && t.CreatedBy != auth.UserIDFromContext(ctx) {
		return nil, apperr.Forbidden("ticket %s belongs to another user", code)
	}
	return t, nil
}

func (h *Handler) Create(c echo.Context) error {
	var in CreateInput
	if err := bind(c, &in); err != nil {
		return err
	}
	t, err := h.svc.Create(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) Get(c echo.Context) error {
	t, err := h.loadVisible(c.Request().Context(), c.Param("ticket_code"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) Search(c echo.Context) error {
	ctx := c.Request().Context()
	f := SearchFilter{
		Status:     Status(c.QueryParam("status")),
		Category:   c.QueryParam("category"),
		CreatedBy:  c.QueryParam("created_by"),
		AssignedTo: c.QueryParam("assigned_to"),
	}
	if !h.manages(ctx) {
		f.CreatedBy = auth.UserIDFromContext(ctx)
	}

	pg := pagination.FromContext(c)
	items, total, err := h.svc.Search(ctx, f, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*Ticket{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Update(c echo.Context) error {
	var in UpdateInput
	if err := bind(c, &in); err != nil {
		return err
	}
	ctx := c.Request().Context()
	code := c.Param("ticket_code")
	if _, err := h.loadVisible(ctx, code); err != nil {
		return err
	}
	t, err := h.svc.Update(ctx, code, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) ChangeStatus(c echo.Context) error {
	var body struct {
		Status Status `json:"status"`
	}
	if err := bind(c, &body); err != nil {
		return err
	}
	t, err := h.svc.ChangeStatus(c.Request().Context(), c.Param("ticket_code"), body.Status)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) Assign(c echo.Context) error {
	var body struct {
		AssignedTo string `json:"assigned_to"`
	}
	if err := bind(c, &body); err != nil {
		return err
	}
	t, err := h.svc.Assign(c.Request().Context(), c.Param("ticket_code"), body.AssignedTo)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) Delete(c echo.Context) error {
	if err := h.svc.Delete(c.Request().Context(), c.Param("ticket_code")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
