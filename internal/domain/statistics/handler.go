package statistics

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/patholab/lis/internal/platform/apperr"
	"github.com/patholab/lis/internal/platform/auth"
)

const xlsxMIME = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type Handler struct {
	svc    *Service
	policy *auth.Policy
}

func NewHandler(svc *Service, policy *auth.Policy) *Handler {
	return &Handler{svc: svc, policy: policy}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/cases/urgent", h.Urgent, h.policy.Require(auth.PermUrgentRead))

	g := api.Group("/statistics", h.policy.Require(auth.PermStatistics))
	g.GET("/opportunity/general", h.General)
	g.GET("/opportunity/monthly", h.Monthly)
	g.GET("/opportunity/monthly/export", h.ExportMonthly)
	g.GET("/opportunity/yearly", h.Yearly)
	g.GET("/opportunity/pathologists", h.Pathologists)
	g.GET("/opportunity/tests", h.Tests)
	g.GET("/cases-by-month/:year", h.CasesByMonth)
	g.GET("/current-month", h.CurrentMonth)
}

// intParam reads an optional integer query parameter.
func intParam(c echo.Context, name string, def int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.BadParameter("%s must be an integer, got %q", name, raw)
	}
	return v, nil
}

func (h *Handler) Urgent(c echo.Context) error {
	limit, err := intParam(c, "limit", DefaultUrgentLimit)
	if err != nil {
		return err
	}
	minDays, err := intParam(c, "min_days", DefaultUrgentDays)
	if err != nil {
		return err
	}
	out, err := h.svc.Urgent(c.Request().Context(), UrgentQuery{
		Limit:       limit,
		MinDays:     minDays,
		Pathologist: c.QueryParam("pathologist"),
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

// monthlyQuery defaults month and year to the previous full month.
func (h *Handler) monthlyQuery(c echo.Context) (MonthlyQuery, error) {
	today := h.svc.today()
	py, pm := shiftMonth(today.Year(), int(today.Month()), -1)

	var q MonthlyQuery
	var err error
	if q.Month, err = intParam(c, "month", pm); err != nil {
		return q, err
	}
	if q.Year, err = intParam(c, "year", py); err != nil {
		return q, err
	}
	if q.ThresholdDays, err = intParam(c, "threshold_days", DefaultThresholdDays); err != nil {
		return q, err
	}
	q.Entity = c.QueryParam("entity")
	q.Pathologist = c.QueryParam("pathologist")
	return q, nil
}

func (h *Handler) Monthly(c echo.Context) error {
	q, err := h.monthlyQuery(c)
	if err != nil {
		return err
	}
	r, err := h.svc.Monthly(c.Request().Context(), q)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) ExportMonthly(c echo.Context) error {
	q, err := h.monthlyQuery(c)
	if err != nil {
		return err
	}
	body, err := h.svc.ExportMonthly(c.Request().Context(), q)
	if err != nil {
		return err
	}
	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf(`attachment; filename="oportunidad-%d-%02d.xlsx"`, q.Year, q.Month))
	return c.Blob(http.StatusOK, xlsxMIME, body)
}

func (h *Handler) Pathologists(c echo.Context) error {
	q, err := h.monthlyQuery(c)
	if err != nil {
		return err
	}
	out, err := h.svc.Pathologists(c.Request().Context(), q)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) Tests(c echo.Context) error {
	q, err := h.monthlyQuery(c)
	if err != nil {
		return err
	}
	out, err := h.svc.Tests(c.Request().Context(), q)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) Yearly(c echo.Context) error {
	year, err := intParam(c, "year", h.svc.today().Year())
	if err != nil {
		return err
	}
	threshold, err := intParam(c, "threshold_days", DefaultThresholdDays)
	if err != nil {
		return err
	}
	r, err := h.svc.Yearly(c.Request().Context(), year, threshold)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) General(c echo.Context) error {
	threshold, err := intParam(c, "threshold_days", DefaultThresholdDays)
	if err != nil {
		return err
	}
	r, err := h.svc.General(c.Request().Context(), threshold)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) CasesByMonth(c echo.Context) error {
	year, err := strconv.Atoi(c.Param("year"))
	if err != nil {
		return apperr.BadParameter("invalid year %q", c.Param("year"))
	}
	r, err := h.svc.CasesByMonth(c.Request().Context(), year, c.QueryParam("pathologist"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) CurrentMonth(c echo.Context) error {
	r, err := h.svc.CurrentMonth(c.Request().Context(), c.QueryParam("pathologist"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, r)
}
