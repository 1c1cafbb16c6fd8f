package auditlog

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/pottech/document-creation/internal/platform/audit"
	"github.com/pottech/document-creation/internal/platform/auth"
)

// capturingStore records the last filter and returns canned entries.
type capturingStore struct {
	filter audit.Filter
	logs   []*audit.Entry
	total  int
}

func (s *capturingStore) Insert(context.Context, *audit.Entry) error { return nil }

func (s *capturingStore) Search(_ context.Context, f audit.Filter) (*audit.Result, error) {
	s.filter = f
	return &audit.Result{Logs: s.logs, Total: s.total}, nil
}

func newHandler() (*Handler, *capturingStore) {
	store := &capturingStore{}
	return NewHandler(audit.NewLogger(store, zerolog.Nop())), store
}

func newContext(target string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	return echo.New().NewContext(req, rec), rec
}

func statusOf(t *testing.T, err error) int {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected *echo.HTTPError, got %v", err)
	}
	return he.Code
}

func TestList_Filters(t *testing.T) {
	h, store := newHandler()
	store.logs = []*audit.Entry{{ID: uuid.New(), Action: audit.ActionPatientView, Success: true}}
	store.total = 30
	userID := uuid.New()

	c, rec := newContext("/audit-logs?userId=" + userID.String() +
		"&action=patient.view&targetType=patient&dateFrom=2024-04-01&dateTo=2024-04-30&success=true&limit=10&offset=10")
	if err := h.List(c); err != nil {
		t.Fatal(err)
	}

	f := store.filter
	if f.UserID == nil || *f.UserID != userID {
		t.Errorf("userId not applied: %+v", f)
	}
	if f.Action != audit.ActionPatientView || f.TargetType != audit.TargetPatient {
		t.Errorf("action/targetType not applied: %+v", f)
	}
	if f.DateFrom == nil || f.DateFrom.Format("2006-01-02") != "2024-04-01" || f.DateTo == nil {
		t.Errorf("date range not applied: %+v", f)
	}
	if f.Success == nil || !*f.Success || f.Limit != 10 || f.Offset != 10 {
		t.Errorf("unexpected filter %+v", f)
	}

	var body struct {
		Data    []audit.Entry `json:"data"`
		Total   int           `json:"total"`
		HasMore bool          `json:"hasMore"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Data) != 1 || body.Total != 30 || !body.HasMore {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestList_PinnedToHospital(t *testing.T) {
	h, store := newHandler()
	hosp := auth.Hospital{ID: uuid.New(), Slug: "sakura"}

	c, rec := newContext("/audit-logs?hospitalId=" + uuid.New().String())
	auth.SetHospitalAccess(c, &auth.HospitalAccess{Hospital: hosp, IsAdmin: true})
	if err := h.List(c); err != nil {
		t.Fatal(err)
	}
	if store.filter.HospitalID == nil || *store.filter.HospitalID != hosp.ID {
		t.Errorf("filter not pinned to the hospital: %+v", store.filter)
	}
	if body := rec.Body.String(); !json.Valid(rec.Body.Bytes()) || body == "" {
		t.Errorf("unexpected body %q", body)
	}
}

func TestList_BadQuery(t *testing.T) {
	tests := []struct {
		name  string
		query string
	}{
		{"user id", "userId=nope"},
		{"action", "action=patient.explode"},
		{"target type", "targetType=spaceship"},
		{"date", "dateFrom=01/04/2024"},
		{"reversed range", "dateFrom=2024-04-30&dateTo=2024-04-01"},
		{"success", "success=maybe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newHandler()
			c, _ := newContext("/audit-logs?" + tt.query)
			if code := statusOf(t, h.List(c)); code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", code)
			}
		})
	}
}

func TestHistory(t *testing.T) {
	h, store := newHandler()
	target := uuid.New()
	hosp := auth.Hospital{ID: uuid.New()}

	c, rec := newContext("/")
	c.SetParamNames("targetType", "targetId")
	c.SetParamValues("care_plan", target.String())
	auth.SetHospitalAccess(c, &auth.HospitalAccess{Hospital: hosp, IsAdmin: true})
	if err := h.History(c); err != nil {
		t.Fatal(err)
	}
	f := store.filter
	if f.TargetType != audit.TargetCarePlan || *f.TargetID != target || *f.HospitalID != hosp.ID || f.Limit != historyLimit {
		t.Errorf("unexpected filter %+v", f)
	}
	if rec.Body.String() != "{\"data\":[]}\n" {
		t.Errorf("unexpected body %q", rec.Body.String())
	}

	c, _ = newContext("/")
	c.SetParamNames("targetType", "targetId")
	c.SetParamValues("spaceship", target.String())
	if code := statusOf(t, h.History(c)); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}
}

func TestUserActivity(t *testing.T) {
	h, store := newHandler()
	user := uuid.New()

	c, _ := newContext("/")
	c.SetParamNames("userId")
	c.SetParamValues(user.String())
	if err := h.UserActivity(c); err != nil {
		t.Fatal(err)
	}
	if store.filter.UserID == nil || *store.filter.UserID != user {
		t.Errorf("unexpected filter %+v", store.filter)
	}
}
