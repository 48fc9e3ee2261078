package approval

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/patholab/lis/internal/domain/cases"
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
	g := api.Group("/approvals")

	read := g.Group("", h.policy.Require(auth.PermApprovalRead))
	read.GET("", h.Search)
	read.GET("/:approval_code", h.Get)

	write := g.Group("", h.policy.Require(auth.PermApprovalWrite))
	write.POST("", h.Create)
	write.PUT("/:approval_code", h.Update)
	write.PUT("/:approval_code/pathologist", h.AssignPathologist)

	g.PUT("/:approval_code/state", h.ChangeState, h.policy.Require(auth.PermApprovalWrite, auth.PermApprovalDecide))
	g.DELETE("/:approval_code", h.Delete, h.policy.Require(auth.PermApprovalDelete))
}

func bind(c echo.Context, dst interface{}) error {
	if err := c.Bind(dst); err != nil {
		return apperr.BadParameter("invalid request body: %v", err)
	}
	return nil
}

func (h *Handler) Create(c echo.Context) error {
	var in CreateInput
	if err := bind(c, &in); err != nil {
		return err
	}
	req, err := h.svc.Create(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, req)
}

func (h *Handler) Get(c echo.Context) error {
	req, err := h.svc.Get(c.Request().Context(), c.Param("approval_code"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, req)
}

func queryDate(c echo.Context, name string, endOfDay bool) (*time.Time, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, apperr.BadParameter("%s must be YYYY-MM-DD, got %q", name, raw)
	}
	if endOfDay {
		t = t.AddDate(0, 0, 1)
	}
	return &t, nil
}

func (h *Handler) Search(c echo.Context) error {
	f := SearchFilter{
		State:            State(c.QueryParam("approval_state")),
		OriginalCaseCode: c.QueryParam("original_case_code"),
	}
	var err error
	if f.RequestFrom, err = queryDate(c, "request_date_from", false); err != nil {
		return err
	}
	if f.RequestTo, err = queryDate(c, "request_date_to", true); err != nil {
		return err
	}

	pg := pagination.FromContext(c)
	items, total, err := h.svc.Search(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*Request{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Update(c echo.Context) error {
	var in UpdateInput
	if err := bind(c, &in); err != nil {
		return err
	}
	req, err := h.svc.Update(c.Request().Context(), c.Param("approval_code"), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, req)
}

func (h *Handler) AssignPathologist(c echo.Context) error {
	var p cases.Pathologist
	if err := bind(c, &p); err != nil {
		return err
	}
	req, err := h.svc.AssignPathologist(c.Request().Context(), c.Param("approval_code"), p)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, req)
}

type stateRequest struct {
	ApprovalState State `json:"approval_state"`
}

// ChangeState moves a request forward. Deciding (approve or reject) needs the
// decide permission; sending a request to pending_approval only needs write.
func (h *Handler) ChangeState(c echo.Context) error {
	var body stateRequest
	if err := bind(c, &body); err != nil {
		return err
	}
	ctx := c.Request().Context()
	perm := auth.PermApprovalWrite
	if body.ApprovalState.Decided() {
		perm = auth.PermApprovalDecide
	}
	if err := h.policy.Check(ctx, perm); err != nil {
		return err
	}
	req, err := h.svc.Transition(ctx, c.Param("approval_code"), body.ApprovalState)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, req)
}

func (h *Handler) Delete(c echo.Context) error {
	if err := h.svc.Delete(c.Request().Context(), c.Param("approval_code")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
