package counter

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/patholab/lis/internal/platform/apperr"
	"github.com/patholab/lis/internal/platform/auth"
)

type Handler struct {
	svc    *Service
	policy *auth.Policy
}

func NewHandler(svc *Service, policy *auth.Policy) *Handler {
	return &Handler{svc: svc, policy: policy}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	admin := api.Group("/counters", h.policy.Require(auth.PermCounterPeek))
	admin.GET("/:key/:year/next", h.Peek)
}

type peekResponse struct {
	Key  string `json:"key"`
	Year int    `json:"year"`
	Next int64  `json:"next"`
}

func (h *Handler) Peek(c echo.Context) error {
	year, err := strconv.Atoi(c.Param("year"))
	if err != nil {
		return apperr.BadParameter("invalid year %q", c.Param("year"))
	}
	key := c.Param("key")
	n, err := h.svc.Peek(c.Request().Context(), key, year)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, peekResponse{Key: key, Year: year, Next: n})
}
