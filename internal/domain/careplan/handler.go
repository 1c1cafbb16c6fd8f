package careplan

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/pottech/document-creation/internal/domain/patient"
	"github.com/pottech/document-creation/internal/platform/auth"
	"github.com/pottech/document-creation/internal/platform/validation"
	"github.com/pottech/document-creation/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the care plan routes on a hospital group, which must
// already run auth.RequireHospital.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/care-plans", h.List)
	g.GET("/care-plans/stats", h.Stats)
	g.GET("/care-plans/daily", h.DailyCounts)

	g.GET("/patients/:patientId/care-plans", h.ListForPatient)
	g.POST("/patients/:patientId/care-plans", h.Create)
	g.GET("/patients/:patientId/care-plans/new", h.NewDraft)
	g.GET("/patients/:patientId/care-plans/:planId", h.Get)
	g.PUT("/patients/:patientId/care-plans/:planId", h.Update)
	g.DELETE("/patients/:patientId/care-plans/:planId", h.Delete, auth.RequireHospitalAdmin())
}

func httpError(err error) error {
	switch {
	case errors.Is(err, patient.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "care plan not found")
	case errors.Is(err, ErrSigned):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidInput):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return err
}

func pathID(c echo.Context, name string, notFound error) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, httpError(notFound)
	}
	return id, nil
}

func ids(c echo.Context) (hospitalID, patientID, planID uuid.UUID, err error) {
	hospitalID = auth.HospitalAccessFrom(c).Hospital.ID
	if patientID, err = pathID(c, "patientId", patient.ErrNotFound); err != nil {
		return
	}
	if c.Param("planId") != "" {
		planID, err = pathID(c, "planId", ErrNotFound)
	}
	return
}

func queryDate(c echo.Context, name string) (patient.Date, error) {
	v := c.QueryParam(name)
	if v == "" {
		return patient.Date{}, nil
	}
	d, err := patient.ParseDate(v)
	if err != nil {
		return patient.Date{}, echo.NewHTTPError(http.StatusBadRequest, name+": "+err.Error())
	}
	return d, nil
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	opts := ListOptions{
		Status:   Status(c.QueryParam("status")),
		PlanType: PlanType(c.QueryParam("planType")),
		Limit:    pg.Limit,
		Offset:   pg.Offset,
	}
	if v := c.QueryParam("patientId"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "patientId must be a valid id")
		}
		opts.PatientID = &id
	}
	var err error
	if opts.ConsultationDate, err = queryDate(c, "consultationDate"); err != nil {
		return err
	}
	if opts.DateFrom, err = queryDate(c, "dateFrom"); err != nil {
		return err
	}
	if opts.DateTo, err = queryDate(c, "dateTo"); err != nil {
		return err
	}

	items, total, err := h.svc.List(c.Request().Context(), auth.HospitalAccessFrom(c).Hospital.ID, opts)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*ListItem{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) Stats(c echo.Context) error {
	from, err := queryDate(c, "dateFrom")
	if err != nil {
		return err
	}
	to, err := queryDate(c, "dateTo")
	if err != nil {
		return err
	}
	st, err := h.svc.Stats(c.Request().Context(), auth.HospitalAccessFrom(c).Hospital.ID, from, to)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) DailyCounts(c echo.Context) error {
	var year, month int
	var err error
	if v := c.QueryParam("year"); v != "" {
		if year, err = strconv.Atoi(v); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "year must be a number")
		}
	}
	if v := c.QueryParam("month"); v != "" {
		if month, err = strconv.Atoi(v); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "month must be a number")
		}
	}
	counts, err := h.svc.DailyCounts(c.Request().Context(), auth.HospitalAccessFrom(c).Hospital.ID, year, time.Month(month))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, counts)
}

func (h *Handler) ListForPatient(c echo.Context) error {
	hid, pid, _, err := ids(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListForPatient(c.Request().Context(), hid, pid, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*ListItem{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) NewDraft(c echo.Context) error {
	hid, pid, _, err := ids(c)
	if err != nil {
		return err
	}
	d, err := h.svc.NewDraft(c.Request().Context(), hid, pid)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) Create(c echo.Context) error {
	hid, pid, _, err := ids(c)
	if err != nil {
		return err
	}
	var in Input
	if err := validation.BindAndValidate(c, &in); err != nil {
		return err
	}
	cp, err := h.svc.Create(c.Request().Context(), auth.ActorFrom(c), hid, pid, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, cp)
}

func (h *Handler) Get(c echo.Context) error {
	hid, pid, id, err := ids(c)
	if err != nil {
		return err
	}
	d, err := h.svc.Get(c.Request().Context(), auth.ActorFrom(c), hid, pid, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) Update(c echo.Context) error {
	hid, pid, id, err := ids(c)
	if err != nil {
		return err
	}
	var in Input
	if err := validation.BindAndValidate(c, &in); err != nil {
		return err
	}
	cp, err := h.svc.Update(c.Request().Context(), auth.ActorFrom(c), hid, pid, id, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, cp)
}

func (h *Handler) Delete(c echo.Context) error {
	hid, pid, id, err := ids(c)
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), auth.ActorFrom(c), hid, pid, id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
