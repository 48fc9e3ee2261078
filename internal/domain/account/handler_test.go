package account

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patholab/lis/internal/platform/apperr"
	"github.com/patholab/lis/internal/platform/auth"
)

// newTestServer mounts the handler behind the real bearer middleware.
func newTestServer(f *fixture) *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = apperr.HTTPErrorHandler(zerolog.Nop())
	e.Use(auth.BearerMiddleware(f.issuer, f.svc, auth.AuthSkipper))
	NewHandler(f.svc, auth.NewPolicy(false)).RegisterRoutes(e.Group(""))
	return e
}

func call(e *echo.Echo, token, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func login(t *testing.T, e *echo.Echo, email, password string) string {
	t.Helper()
	rec := call(e, "", http.MethodPost, "/auth/login", `{"email":"`+email+`","password":"`+password+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res struct {
		Token auth.Token      `json:"token"`
		User  json.RawMessage `json:"user"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.NotContains(t, string(res.User), "password")
	return res.Token.AccessToken
}

func TestHandler_LoginMeRefresh(t *testing.T) {
	f := newFixture()
	f.mustCreate(t, pathologistInput())
	e := newTestServer(f)

	token := login(t, e, "Ana.Gomez@lab.test", "s3cret-pass")

	rec := call(e, token, http.MethodGet, "/auth/me", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"pathologist_code":"P-001"`)

	rec = call(e, token, http.MethodPost, "/auth/refresh", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"token_type":"bearer"`)

	rec = call(e, "", http.MethodGet, "/auth/me", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = call(e, "", http.MethodPost, "/auth/login", `{"email":"ana.gomez@lab.test","password":"nope-nope"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandler_UserAdministration(t *testing.T) {
	f := newFixture()
	admin := f.mustCreate(t, CreateUserInput{Email: "admin@lab.test", Name: "Admin", Role: auth.RoleAdministrator, Password: "admin-password"})
	f.mustCreate(t, pathologistInput())
	e := newTestServer(f)

	adminToken := login(t, e, "admin@lab.test", "admin-password")
	pathToken := login(t, e, "ana.gomez@lab.test", "s3cret-pass")

	rec := call(e, pathToken, http.MethodGet, "/users", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = call(e, adminToken, http.MethodPost, "/users",
		`{"email":"billing@lab.test","name":"Billing","role":"billing","password":"billing-pass","billing_code":"F-9"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = call(e, adminToken, http.MethodGet, "/users?role=billing", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total":1`)

	rec = call(e, adminToken, http.MethodGet, "/users?is_active=maybe", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(e, adminToken, http.MethodPut, "/users/"+created.ID.String()+"/active", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(e, adminToken, http.MethodPut, "/users/"+created.ID.String()+"/active", `{"is_active":false}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"is_active":false`)

	rec = call(e, adminToken, http.MethodPut, "/users/"+admin.ID.String()+"/active", `{"is_active":false}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(e, "", http.MethodPost, "/auth/login", `{"email":"billing@lab.test","password":"billing-pass"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandler_DeactivatedTokenRejected(t *testing.T) {
	f := newFixture()
	u := f.mustCreate(t, pathologistInput())
	e := newTestServer(f)
	token := login(t, e, "ana.gomez@lab.test", "s3cret-pass")

	_, err := f.svc.SetActive(context.Background(), u.ID.String(), false)
	require.NoError(t, err)

	rec := call(e, token, http.MethodGet, "/auth/me", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
