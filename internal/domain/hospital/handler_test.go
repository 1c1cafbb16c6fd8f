package hospital

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/pottech/document-creation/internal/platform/auth"
	"github.com/pottech/document-creation/internal/platform/validation"
)

func newEcho() *echo.Echo {
	e := echo.New()
	e.Validator = validation.New()
	return e
}

func newContext(e *echo.Echo, method, target, body string) (echo.Context, *httptest.ResponseRecorder) {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	auth.SetIdentity(c, &auth.Identity{User: &auth.User{ID: uuid.New(), Name: "Admin", IsServiceAdmin: true}})
	return c, rec
}

func statusOf(t *testing.T, err error) int {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected *echo.HTTPError, got %v", err)
	}
	return he.Code
}

func TestHandler_Create(t *testing.T) {
	fx := newFixture()
	h, e := NewHandler(fx.svc), newEcho()

	c, rec := newContext(e, http.MethodPost, "/", `{"name":"Sakura Clinic","slug":"sakura"}`)
	if err := h.Create(c); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}

	tests := []struct {
		name string
		body string
		want int
	}{
		{"duplicate slug", `{"name":"Again","slug":"sakura"}`, http.StatusConflict},
		{"bad slug", `{"name":"Bad","slug":"Not A Slug"}`, http.StatusBadRequest},
		{"reserved slug", `{"name":"Admin","slug":"admin"}`, http.StatusBadRequest},
		{"missing name", `{"slug":"x"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newContext(e, http.MethodPost, "/", tt.body)
			if code := statusOf(t, h.Create(c)); code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, code)
			}
		})
	}
}

func TestHandler_Get_WithMembers(t *testing.T) {
	fx := newFixture()
	hosp := fx.hospital(t, "sakura")
	fx.repo.addMember(hosp.ID, "doc", auth.RoleHospitalUser)
	h, e := NewHandler(fx.svc), newEcho()

	c, rec := newContext(e, http.MethodGet, "/", "")
	c.SetParamNames("hospitalId")
	c.SetParamValues(hosp.ID.String())
	if err := h.Get(c); err != nil {
		t.Fatal(err)
	}
	var d Details
	if err := json.Unmarshal(rec.Body.Bytes(), &d); err != nil {
		t.Fatal(err)
	}
	if d.Slug != "sakura" || len(d.Members) != 1 {
		t.Errorf("unexpected details %s", rec.Body.String())
	}

	c, _ = newContext(e, http.MethodGet, "/", "")
	c.SetParamNames("hospitalId")
	c.SetParamValues("bogus")
	if code := statusOf(t, h.Get(c)); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}
}

func TestHandler_CreateInvitation(t *testing.T) {
	fx := newFixture()
	hosp := fx.hospital(t, "sakura")
	h, e := NewHandler(fx.svc), newEcho()

	c, rec := newContext(e, http.MethodPost, "/", `{"email":"nurse@example.com","role":"hospital_user"}`)
	auth.SetHospitalAccess(c, &auth.HospitalAccess{Hospital: *hosp, IsAdmin: true})
	if err := h.CreateInvitation(c); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusCreated || !strings.Contains(rec.Body.String(), `"url":"https://docs.example.com/invite/`) {
		t.Errorf("unexpected response %d %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), `"token"`) {
		t.Error("token must only appear in the url")
	}

	c, _ = newContext(e, http.MethodPost, "/", `{"email":"not-an-email","role":"hospital_user"}`)
	auth.SetHospitalAccess(c, &auth.HospitalAccess{Hospital: *hosp, IsAdmin: true})
	if code := statusOf(t, h.CreateInvitation(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_ChangeRole_LastAdminConflict(t *testing.T) {
	fx := newFixture()
	hosp := fx.hospital(t, "sakura")
	admin := fx.repo.addMember(hosp.ID, "admin", auth.RoleHospitalAdmin)
	h, e := NewHandler(fx.svc), newEcho()

	c, _ := newContext(e, http.MethodPut, "/", `{"role":"hospital_user"}`)
	auth.SetHospitalAccess(c, &auth.HospitalAccess{Hospital: *hosp, IsAdmin: true})
	c.SetParamNames("membershipId")
	c.SetParamValues(admin.MembershipID.String())
	if code := statusOf(t, h.ChangeRole(c)); code != http.StatusConflict {
		t.Errorf("expected 409, got %d", code)
	}
}

func apiContext(e *echo.Echo, client *auth.APIClientContext, target string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	auth.SetIdentity(c, &auth.Identity{APIClient: client})
	return c, rec
}

func TestAPIHandler_Info(t *testing.T) {
	fx := newFixture()
	h, e := NewAPIHandler(fx.svc), newEcho()
	client := &auth.APIClientContext{Client: auth.APIClient{ID: uuid.New(), KeycloakClientID: "api-system-x", Name: "ETL"}}

	c, rec := apiContext(e, client, "/api/v1")
	if err := h.Info(c); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(rec.Body.String(), `"clientId":"api-system-x"`) || !strings.Contains(rec.Body.String(), `"scopes":[]`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}

	c, rec = apiContext(e, nil, "/api/v1")
	if err := h.Info(c); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestAPIHandler_Hospitals(t *testing.T) {
	fx := newFixture()
	a := fx.hospital(t, "a")
	b := fx.hospital(t, "b")
	h, e := NewAPIHandler(fx.svc), newEcho()
	bound := &auth.APIClientContext{Client: auth.APIClient{ID: uuid.New(), HospitalID: &a.ID}}

	c, rec := apiContext(e, bound, "/api/v1/hospitals")
	if err := h.ListHospitals(c); err != nil {
		t.Fatal(err)
	}
	var list struct {
		Data  []APIHospital `json:"data"`
		Total int           `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if list.Total != 1 || list.Data[0].ID != a.ID {
		t.Errorf("bound client list %s", rec.Body.String())
	}

	// The route runs RequireAPIHospital before GetHospital.
	get := auth.RequireAPIHospital("hospitalId")(h.GetHospital)

	c, rec = apiContext(e, bound, "/api/v1/hospitals/"+b.ID.String())
	c.SetParamNames("hospitalId")
	c.SetParamValues(b.ID.String())
	if err := get(c); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for another hospital, got %d", rec.Code)
	}

	system := &auth.APIClientContext{Client: auth.APIClient{ID: uuid.New()}}
	missing := uuid.New().String()
	c, rec = apiContext(e, system, "/api/v1/hospitals/"+missing)
	c.SetParamNames("hospitalId")
	c.SetParamValues(missing)
	if err := get(c); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusNotFound || !strings.Contains(rec.Body.String(), `"statusCode":404`) {
		t.Errorf("expected 404 envelope, got %d %s", rec.Code, rec.Body.String())
	}

	c, rec = apiContext(e, bound, "/api/v1/hospitals/"+a.ID.String())
	c.SetParamNames("hospitalId")
	c.SetParamValues(a.ID.String())
	if err := get(c); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"slug":"a"`) {
		t.Errorf("unexpected response %d %s", rec.Code, rec.Body.String())
	}
}

func TestHandler_Dashboard_Routed(t *testing.T) {
	fx := newFixture()
	a := fx.hospital(t, "a")
	fx.hospital(t, "b")
	fx.repo.addMember(a.ID, "doc", auth.RoleHospitalUser)
	fx.repo.addMember(a.ID, "nurse", auth.RoleHospitalUser)

	e := newEcho()
	NewHandler(fx.svc).RegisterAdminRoutes(e.Group("/admin"))

	for _, target := range []string{"/admin", "/admin/"} {
		t.Run(target, func(t *testing.T) {
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
			}
			var d Dashboard
			if err := json.Unmarshal(rec.Body.Bytes(), &d); err != nil {
				t.Fatal(err)
			}
			if d.HospitalCount != 2 || d.UserCount != 2 {
				t.Errorf("unexpected counts %+v", d)
			}
		})
	}
}

func TestHandler_Overview_Routed(t *testing.T) {
	fx := newFixture()
	hosp := fx.hospital(t, "sakura")
	membership := &auth.Membership{ID: uuid.New(), UserID: uuid.New(), HospitalID: hosp.ID, Role: auth.RoleHospitalUser}

	e := newEcho()
	g := e.Group("/:hospitalSlug", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth.SetHospitalAccess(c, &auth.HospitalAccess{Hospital: *hosp, Membership: membership})
			return next(c)
		}
	})
	NewHandler(fx.svc).RegisterHospitalRoutes(g)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sakura", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var got struct {
		Hospital        auth.Hospital    `json:"hospital"`
		Membership      *auth.Membership `json:"membership"`
		IsHospitalAdmin bool             `json:"isHospitalAdmin"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Hospital.Slug != "sakura" || got.Membership == nil || got.Membership.ID != membership.ID || got.IsHospitalAdmin {
		t.Errorf("unexpected overview %+v", got)
	}
}

func TestHandler_Overview_WithoutAccess(t *testing.T) {
	fx := newFixture()
	c, _ := newContext(newEcho(), http.MethodGet, "/sakura", "")
	if code := statusOf(t, NewHandler(fx.svc).Overview(c)); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}
}
