package cases

import (
	"net/http"
	"time"

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

// RegisterRoutes mounts the case endpoints. /cases/urgent is served by the
// statistics package.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/cases")

	read := g.Group("", h.policy.Require(auth.PermCaseRead))
	read.GET("", h.SearchCases)
	read.GET("/:case_code", h.GetCase)
	read.GET("/:case_code/result", h.GetResult)

	write := g.Group("", h.policy.Require(auth.PermCaseWrite))
	write.POST("", h.CreateCase)
	write.PUT("/:case_code", h.UpdateCase)
	write.POST("/:case_code/notes", h.AddNote)
	write.PUT("/patients/:patient_code", h.ChangePatientCode)

	g.DELETE("/:case_code", h.DeleteCase, h.policy.Require(auth.PermCaseDelete))
	g.PUT("/:case_code/pathologist", h.AssignPathologist, h.policy.Require(auth.PermCaseAssign))
	g.PUT("/:case_code/state", h.ChangeState, h.policy.Require(auth.PermCaseTransition))
	g.POST("/:case_code/deliver", h.Deliver, h.policy.Require(auth.PermCaseDeliver))

	g.PUT("/:case_code/result", h.UpdateResult, h.policy.Require(auth.PermResultEdit))
	g.POST("/:case_code/sign", h.Sign, h.policy.Require(auth.PermCaseSign))
	g.GET("/:case_code/sign/validate", h.ValidateSign, h.policy.Require(auth.PermCaseSign))
}

func bind(c echo.Context, dst interface{}) error {
	if err := c.Bind(dst); err != nil {
		return apperr.BadParameter("invalid request body: %v", err)
	}
	return nil
}

func (h *Handler) CreateCase(c echo.Context) error {
	var in CreateInput
	if err := bind(c, &in); err != nil {
		return err
	}
	created, err := h.svc.Create(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, created)
}

func (h *Handler) GetCase(c echo.Context) error {
	found, err := h.svc.Get(c.Request().Context(), c.Param("case_code"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, found)
}

func (h *Handler) GetResult(c echo.Context) error {
	v, err := h.svc.GetResult(c.Request().Context(), c.Param("case_code"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, v)
}

func parseDate(c echo.Context, name string) (*time.Time, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, apperr.BadParameter("%s must be YYYY-MM-DD or RFC3339, got %q", name, raw)
	}
	return &t, nil
}

// endOfDay turns a date-only upper bound into an exclusive next-day bound.
func endOfDay(c echo.Context, name string) (*time.Time, error) {
	t, err := parseDate(c, name)
	if err != nil || t == nil {
		return t, err
	}
	if len(c.QueryParam(name)) == len("2006-01-02") {
		next := t.AddDate(0, 0, 1)
		return &next, nil
	}
	return t, nil
}

func filterFromQuery(c echo.Context) (SearchFilter, error) {
	f := SearchFilter{
		CaseCode:    c.QueryParam("case_code"),
		PatientCode: c.QueryParam("patient_code"),
		PatientName: c.QueryParam("patient_name"),
		State:       State(c.QueryParam("state")),
		Priority:    Priority(c.QueryParam("priority")),
		Entity:      c.QueryParam("entity"),
		Pathologist: c.QueryParam("pathologist"),
		TestID:      c.QueryParam("test"),
	}
	var err error
	if f.CreatedFrom, err = parseDate(c, "created_from"); err != nil {
		return f, err
	}
	if f.CreatedTo, err = endOfDay(c, "created_to"); err != nil {
		return f, err
	}
	if f.SignedFrom, err = parseDate(c, "signed_from"); err != nil {
		return f, err
	}
	if f.SignedTo, err = endOfDay(c, "signed_to"); err != nil {
		return f, err
	}
	return f, nil
}

func (h *Handler) SearchCases(c echo.Context) error {
	f, err := filterFromQuery(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.Search(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*Case{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateCase(c echo.Context) error {
	var in UpdateInput
	if err := bind(c, &in); err != nil {
		return err
	}
	updated, err := h.svc.Update(c.Request().Context(), c.Param("case_code"), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *Handler) DeleteCase(c echo.Context) error {
	if err := h.svc.Delete(c.Request().Context(), c.Param("case_code")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) AssignPathologist(c echo.Context) error {
	var p Pathologist
	if err := bind(c, &p); err != nil {
		return err
	}
	updated, err := h.svc.AssignPathologist(c.Request().Context(), c.Param("case_code"), p)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, updated)
}

type noteRequest struct {
	Note string `json:"note"`
}

func (h *Handler) AddNote(c echo.Context) error {
	var req noteRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	updated, err := h.svc.AddNote(c.Request().Context(), c.Param("case_code"), req.Note)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, updated)
}

type patientCodeRequest struct {
	NewPatientCode string `json:"new_patient_code"`
}

func (h *Handler) ChangePatientCode(c echo.Context) error {
	var req patientCodeRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	n, err := h.svc.ChangePatientCode(c.Request().Context(), c.Param("patient_code"), req.NewPatientCode)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]int64{"modified": n})
}

type stateRequest struct {
	State       State  `json:"state"`
	DeliveredTo string `json:"delivered_to"`
}

func (h *Handler) ChangeState(c echo.Context) error {
	var req stateRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	updated, err := h.svc.Transition(c.Request().Context(), c.Param("case_code"), req.State,
		TransitionInput{DeliveredTo: req.DeliveredTo})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, updated)
}

type deliverRequest struct {
	DeliveredTo string `json:"delivered_to"`
}

func (h *Handler) Deliver(c echo.Context) error {
	var req deliverRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	updated, err := h.svc.Deliver(c.Request().Context(), c.Param("case_code"), req.DeliveredTo)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *Handler) UpdateResult(c echo.Context) error {
	var patch ResultPatch
	if err := bind(c, &patch); err != nil {
		return err
	}
	updated, err := h.svc.UpdateResult(c.Request().Context(), c.Param("case_code"), patch)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *Handler) Sign(c echo.Context) error {
	var patch SignPatch
	if err := bind(c, &patch); err != nil {
		return err
	}
	signed, err := h.svc.Sign(c.Request().Context(), c.Param("case_code"), patch)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, signed)
}

func (h *Handler) ValidateSign(c echo.Context) error {
	v, err := h.svc.ValidateSign(c.Request().Context(), c.Param("case_code"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, v)
}
