package hospital

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/pottech/document-creation/internal/platform/auth"
)

// APIHandler serves the machine API. Every route runs behind bearer
// authentication, so an API client context is always present.
type APIHandler struct {
	svc *Service
}

func NewAPIHandler(svc *Service) *APIHandler {
	return &APIHandler{svc: svc}
}

func (h *APIHandler) RegisterRoutes(g *echo.Group) {
	g.GET("", h.Info)
	g.GET("/hospitals", h.ListHospitals)
	g.GET("/hospitals/:hospitalId", h.GetHospital, auth.RequireAPIHospital("hospitalId"))
}

type clientInfo struct {
	ID         uuid.UUID  `json:"id"`
	ClientID   string     `json:"clientId"`
	Name       string     `json:"name"`
	HospitalID *uuid.UUID `json:"hospitalId"`
	Scopes     []string   `json:"scopes"`
}

// Info describes the calling client.
func (h *APIHandler) Info(c echo.Context) error {
	client := auth.IdentityFrom(c).APIClient
	if client == nil {
		return auth.APIError(c, http.StatusUnauthorized, "api client context not found")
	}
	scopes := client.Scopes
	if scopes == nil {
		scopes = []string{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"version": "v1",
		"client": clientInfo{
			ID:         client.Client.ID,
			ClientID:   client.Client.KeycloakClientID,
			Name:       client.Client.Name,
			HospitalID: client.Client.HospitalID,
			Scopes:     scopes,
		},
	})
}

func (h *APIHandler) ListHospitals(c echo.Context) error {
	client := auth.IdentityFrom(c).APIClient
	if client == nil {
		return auth.APIError(c, http.StatusUnauthorized, "api client context not found")
	}
	items, err := h.svc.ForClient(c.Request().Context(), &client.Client)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": items, "total": len(items)})
}

func (h *APIHandler) GetHospital(c echo.Context) error {
	id, err := uuid.Parse(c.Param("hospitalId"))
	if err != nil {
		return auth.APIError(c, http.StatusNotFound, "hospital not found")
	}
	hosp, err := h.svc.Get(c.Request().Context(), id)
	if errors.Is(err, ErrNotFound) {
		return auth.APIError(c, http.StatusNotFound, "hospital not found")
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toAPI(hosp))
}
