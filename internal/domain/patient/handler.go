package patient

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/pottech/document-creation/internal/platform/auth"
	"github.com/pottech/document-creation/internal/platform/validation"
	"github.com/pottech/document-creation/pkg/pagination"
)

type Handler struct {
	svc *Service
	now func() time.Time
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc, now: time.Now}
}

// RegisterRoutes mounts the patient routes on a hospital group, which must
// already run auth.RequireHospital.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/patients", h.List)
	g.POST("/patients", h.Create)
	g.GET("/patients/:patientId", h.Get)
	g.PUT("/patients/:patientId", h.Update)
	g.DELETE("/patients/:patientId", h.Delete, auth.RequireHospitalAdmin())
}

// View is a patient with its current age.
type View struct {
	*Patient
	Age int `json:"age"`
}

func (h *Handler) view(p *Patient) View {
	return View{Patient: p, Age: Age(p.BirthDate, h.now())}
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "patient not found")
	case errors.Is(err, ErrDuplicateNumber):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidInput):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return err
}

func patientID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("patientId"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusNotFound, "patient not found")
	}
	return id, nil
}

func (h *Handler) List(c echo.Context) error {
	access := auth.HospitalAccessFrom(c)
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), access.Hospital.ID, ListOptions{
		Search: c.QueryParam("search"),
		Limit:  pg.Limit,
		Offset: pg.Offset,
	})
	if err != nil {
		return err
	}
	views := make([]View, 0, len(items))
	for _, p := range items {
		views = append(views, h.view(p))
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(views, total, pg))
}

func (h *Handler) Create(c echo.Context) error {
	var in Input
	if err := validation.BindAndValidate(c, &in); err != nil {
		return err
	}
	access := auth.HospitalAccessFrom(c)
	p, err := h.svc.Create(c.Request().Context(), auth.ActorFrom(c), access.Hospital.ID, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, h.view(p))
}

func (h *Handler) Get(c echo.Context) error {
	id, err := patientID(c)
	if err != nil {
		return err
	}
	access := auth.HospitalAccessFrom(c)
	p, err := h.svc.Get(c.Request().Context(), auth.ActorFrom(c), access.Hospital.ID, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, h.view(p))
}

func (h *Handler) Update(c echo.Context) error {
	id, err := patientID(c)
	if err != nil {
		return err
	}
	var in Input
	if err := validation.BindAndValidate(c, &in); err != nil {
		return err
	}
	access := auth.HospitalAccessFrom(c)
	p, err := h.svc.Update(c.Request().Context(), auth.ActorFrom(c), access.Hospital.ID, id, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, h.view(p))
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := patientID(c)
	if err != nil {
		return err
	}
	access := auth.HospitalAccessFrom(c)
	if err := h.svc.Delete(c.Request().Context(), auth.ActorFrom(c), access.Hospital.ID, id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
