package account

import (
	"net/http"
	"strconv"

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
	a := api.Group("/auth")
	a.POST("/login", h.Login)
	a.POST("/refresh", h.Refresh)
	a.GET("/me", h.Me)

	users := api.Group("/users", h.policy.Require(auth.PermUserAdmin))
	users.POST("", h.CreateUser)
	users.GET("", h.ListUsers)
	users.PUT("/:id/active", h.SetActive)
}

func bind(c echo.Context, dst interface{}) error {
	if err := c.Bind(dst); err != nil {
		return apperr.BadParameter("invalid request body: %v", err)
	}
	return nil
}

type loginRequest struct {
	Email    string `json:"email" form:"username"`
	Password string `json:"password" form:"password"`
}

func (h *Handler) Login(c echo.Context) error {
	var body loginRequest
	if err := bind(c, &body); err != nil {
		return err
	}
	res, err := h.svc.Login(c.Request().Context(), body.Email, body.Password)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) Refresh(c echo.Context) error {
	res, err := h.svc.Refresh(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) Me(c echo.Context) error {
	u, err := h.svc.Me(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) CreateUser(c echo.Context) error {
	var in CreateUserInput
	if err := bind(c, &in); err != nil {
		return err
	}
	u, err := h.svc.CreateUser(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, u)
}

func (h *Handler) ListUsers(c echo.Context) error {
	f := ListFilter{Role: auth.Role(c.QueryParam("role"))}
	if raw := c.QueryParam("is_active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			return apperr.BadParameter("is_active must be a boolean, got %q", raw)
		}
		f.IsActive = &active
	}
	pg := pagination.FromContext(c)
	users, total, err := h.svc.ListUsers(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	if users == nil {
		users = []*User{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(users, total, pg.Limit, pg.Offset))
}

func (h *Handler) SetActive(c echo.Context) error {
	var body struct {
		IsActive *bool `json:"is_active"`
	}
	if err := bind(c, &body); err != nil {
		return err
	}
	if body.IsActive == nil {
		return apperr.BadParameter("is_active is required")
	}
	u, err := h.svc.SetActive(c.Request().Context(), c.Param("id"), *body.IsActive)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, u)
}
