package apiclient

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/pottech/document-creation/internal/platform/auth"
	"github.com/pottech/document-creation/internal/platform/validation"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterAdminRoutes mounts client management for service admins.
func (h *Handler) RegisterAdminRoutes(g *echo.Group) {
	g.GET("/api-clients", h.List)
	g.POST("/api-clients", h.Create)
	h.registerClientRoutes(g)
}

// RegisterHospitalRoutes mounts management of a hospital's own clients on a
// hospital group, which must already run auth.RequireHospital.
func (h *Handler) RegisterHospitalRoutes(g *echo.Group) {
	admin := g.Group("", auth.RequireHospitalAdmin())
	admin.GET("/api-clients", h.List)
	admin.POST("/api-clients", h.Create)
	h.registerClientRoutes(admin)
}

func (h *Handler) registerClientRoutes(g *echo.Group) {
	g.GET("/api-clients/:clientId", h.Get)
	g.PUT("/api-clients/:clientId/enabled", h.SetEnabled)
	g.POST("/api-clients/:clientId/secret", h.RegenerateSecret)
	g.DELETE("/api-clients/:clientId", h.Delete)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "api client not found")
	case errors.Is(err, auth.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "hospital not found")
	case errors.Is(err, ErrProviderClientMissing):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return err
}

// load resolves :clientId to a client the caller may manage. Inside a
// hospital only that hospital's clients are visible.
func (h *Handler) load(c echo.Context) (*Details, error) {
	id, err := uuid.Parse(c.Param("clientId"))
	if err != nil {
		return nil, httpError(ErrNotFound)
	}
	client, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return nil, httpError(err)
	}
	if access := auth.HospitalAccessFrom(c); access != nil {
		if client.HospitalID == nil || *client.HospitalID != access.Hospital.ID {
			return nil, httpError(ErrNotFound)
		}
	}
	ok, err := h.svc.CanUserAccess(c.Request().Context(), auth.IdentityFrom(c).User, &client.APIClient)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, echo.NewHTTPError(http.StatusForbidden, "no access to this api client")
	}
	return client, nil
}

func (h *Handler) List(c echo.Context) error {
	var f ListFilter
	if access := auth.HospitalAccessFrom(c); access != nil {
		hid := access.Hospital.ID
		f.HospitalID = &hid
	} else {
		f.SystemOnly = c.QueryParam("scope") == "system"
		if v := c.QueryParam("hospitalId"); v != "" {
			hid, err := uuid.Parse(v)
			if err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "hospitalId must be a valid id")
			}
			f.HospitalID = &hid
		}
	}
	items, err := h.svc.List(c.Request().Context(), f)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) Create(c echo.Context) error {
	var in CreateInput
	if err := validation.BindAndValidate(c, &in); err != nil {
		return err
	}
	if access := auth.HospitalAccessFrom(c); access != nil {
		hid := access.Hospital.ID
		in.HospitalID = &hid
	}
	created, err := h.svc.Create(c.Request().Context(), auth.ActorFrom(c), in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, created)
}

func (h *Handler) Get(c echo.Context) error {
	client, err := h.load(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, client)
}

type enabledInput struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

func (h *Handler) SetEnabled(c echo.Context) error {
	client, err := h.load(c)
	if err != nil {
		return err
	}
	var in enabledInput
	if err := validation.BindAndValidate(c, &in); err != nil {
		return err
	}
	updated, err := h.svc.SetEnabled(c.Request().Context(), auth.ActorFrom(c), client.ID, *in.Enabled)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, updated)
}

func (h *Handler) RegenerateSecret(c echo.Context) error {
	client, err := h.load(c)
	if err != nil {
		return err
	}
	secret, err := h.svc.RegenerateSecret(c.Request().Context(), auth.ActorFrom(c), client.ID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"clientId": client.KeycloakClientID, "clientSecret": secret})
}

func (h *Handler) Delete(c echo.Context) error {
	client, err := h.load(c)
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), auth.ActorFrom(c), client.ID); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
