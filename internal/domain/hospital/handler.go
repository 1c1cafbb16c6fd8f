package hospital

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

// RegisterAdminRoutes mounts hospital management on a group restricted to
// service admins.
func (h *Handler) RegisterAdminRoutes(g *echo.Group) {
	g.GET("", h.Dashboard)
	g.GET("/", h.Dashboard)
	g.GET("/hospitals", h.List)
	g.POST("/hospitals", h.Create)
	g.GET("/hospitals/:hospitalId", h.Get)
	g.PUT("/hospitals/:hospitalId", h.Update)
}

// RegisterHospitalRoutes mounts member and invitation management on a
// hospital group, which must already run auth.RequireHospital.
func (h *Handler) RegisterHospitalRoutes(g *echo.Group) {
	g.GET("", h.Overview)
	g.GET("/", h.Overview)
	admin := g.Group("", auth.RequireHospitalAdmin())
	admin.GET("/members", h.ListMembers)
	admin.PUT("/members/:membershipId/role", h.ChangeRole)
	admin.DELETE("/members/:membershipId", h.RemoveMember)
	admin.GET("/invitations", h.ListInvitations)
	admin.POST("/invitations", h.CreateInvitation)
	admin.DELETE("/invitations/:invitationId", h.CancelInvitation)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "hospital not found")
	case errors.Is(err, ErrMemberMissing):
		return echo.NewHTTPError(http.StatusNotFound, "member not found")
	case errors.Is(err, auth.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "invitation not found")
	case errors.Is(err, ErrDuplicateSlug), errors.Is(err, ErrLastAdmin):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrReservedSlug), errors.Is(err, auth.ErrInvalidRole):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return err
}

func paramID(c echo.Context, name string, notFound error) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, httpError(notFound)
	}
	return id, nil
}

func (h *Handler) List(c echo.Context) error {
	items, err := h.svc.List(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) Dashboard(c echo.Context) error {
	d, err := h.svc.Dashboard(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, d)
}

// Overview describes the hospital the request resolved to and the caller's
// standing in it.
func (h *Handler) Overview(c echo.Context) error {
	access := auth.HospitalAccessFrom(c)
	if access == nil {
		return httpError(ErrNotFound)
	}
	return c.JSON(http.StatusOK, Overview{
		Hospital:        access.Hospital,
		Membership:      access.Membership,
		IsHospitalAdmin: access.IsAdmin,
	})
}

func (h *Handler) Create(c echo.Context) error {
	var in Input
	if err := validation.BindAndValidate(c, &in); err != nil {
		return err
	}
	hosp, err := h.svc.Create(c.Request().Context(), auth.ActorFrom(c), in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, hosp)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := paramID(c, "hospitalId", ErrNotFound)
	if err != nil {
		return err
	}
	d, err := h.svc.Details(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) Update(c echo.Context) error {
	id, err := paramID(c, "hospitalId", ErrNotFound)
	if err != nil {
		return err
	}
	var in Input
	if err := validation.BindAndValidate(c, &in); err != nil {
		return err
	}
	hosp, err := h.svc.Update(c.Request().Context(), auth.ActorFrom(c), id, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, hosp)
}

func (h *Handler) ListMembers(c echo.Context) error {
	members, err := h.svc.Members(c.Request().Context(), auth.HospitalAccessFrom(c).Hospital.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, members)
}

func (h *Handler) ChangeRole(c echo.Context) error {
	id, err := paramID(c, "membershipId", ErrMemberMissing)
	if err != nil {
		return err
	}
	var in RoleInput
	if err := validation.BindAndValidate(c, &in); err != nil {
		return err
	}
	m, err := h.svc.ChangeRole(c.Request().Context(), auth.ActorFrom(c), auth.HospitalAccessFrom(c).Hospital.ID, id, in.Role)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, m)
}

func (h *Handler) RemoveMember(c echo.Context) error {
	id, err := paramID(c, "membershipId", ErrMemberMissing)
	if err != nil {
		return err
	}
	if err := h.svc.RemoveMember(c.Request().Context(), auth.ActorFrom(c), auth.HospitalAccessFrom(c).Hospital.ID, id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListInvitations(c echo.Context) error {
	items, err := h.svc.ListInvitations(c.Request().Context(), auth.HospitalAccessFrom(c).Hospital.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) CreateInvitation(c echo.Context) error {
	var in InvitationInput
	if err := validation.BindAndValidate(c, &in); err != nil {
		return err
	}
	issued, err := h.svc.Invite(c.Request().Context(), auth.ActorFrom(c), auth.HospitalAccessFrom(c).Hospital.ID, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, issued)
}

func (h *Handler) CancelInvitation(c echo.Context) error {
	id, err := paramID(c, "invitationId", auth.ErrNotFound)
	if err != nil {
		return err
	}
	if err := h.svc.CancelInvitation(c.Request().Context(), auth.ActorFrom(c), auth.HospitalAccessFrom(c).Hospital.ID, id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
