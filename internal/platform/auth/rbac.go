package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

const hospitalAccessKey = "auth_hospital_access"

// HospitalAccess is the tenant a hospital-scoped request operates in.
type HospitalAccess struct {
	Hospital   Hospital
	Membership *Membership
	// IsAdmin is true for hospital admins and service admins.
	IsAdmin bool
}

// HospitalAccessFrom returns the access resolved by RequireHospital, or nil.
func HospitalAccessFrom(c echo.Context) *HospitalAccess {
	a, _ := c.Get(hospitalAccessKey).(*HospitalAccess)
	return a
}

// SetHospitalAccess stores a on the request.
func SetHospitalAccess(c echo.Context, a *HospitalAccess) {
	c.Set(hospitalAccessKey, a)
}

// RequireUser redirects anonymous browser requests to the login page.
func RequireUser() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if IdentityFrom(c).User == nil {
				return c.Redirect(http.StatusSeeOther, "/login")
			}
			return next(c)
		}
	}
}

// RequireServiceAdmin admits only service admins. Other signed-in users are
// sent to the start page.
func RequireServiceAdmin() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			u := IdentityFrom(c).User
			if u == nil {
				return c.Redirect(http.StatusSeeOther, "/login")
			}
			if !u.IsServiceAdmin {
				return c.Redirect(http.StatusSeeOther, "/")
			}
			return next(c)
		}
	}
}

// SessionHospitalSetter moves a session to another hospital.
type SessionHospitalSetter interface {
	UpdateSessionHospital(ctx context.Context, id string, hospitalID *uuid.UUID) error
}

// RequireHospital resolves the :hospitalSlug path parameter. Members and
// service admins are admitted; the session is pointed at the hospital when
// it was pointing elsewhere.
func RequireHospital(memberships MembershipStore, sessions SessionHospitalSetter, logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := IdentityFrom(c)
			if id.User == nil {
				return c.Redirect(http.StatusSeeOther, "/login")
			}
			ctx := c.Request().Context()

			h, err := memberships.GetHospitalBySlug(ctx, c.Param("hospitalSlug"))
			if errors.Is(err, ErrNotFound) {
				return echo.NewHTTPError(http.StatusNotFound, "hospital not found")
			}
			if err != nil {
				return err
			}

			m, err := memberships.GetMembership(ctx, id.User.ID, h.ID)
			if err != nil && !errors.Is(err, ErrNotFound) {
				return err
			}
			if m == nil && !id.User.IsServiceAdmin {
				return echo.NewHTTPError(http.StatusForbidden, "no access to this hospital")
			}

			if id.SessionID != "" && (id.Hospital == nil || id.Hospital.ID != h.ID) {
				hid := h.ID
				if err := sessions.UpdateSessionHospital(ctx, id.SessionID, &hid); err != nil {
					logger.Error().Err(err).Msg("failed to update session hospital")
				}
			}
			id.Hospital = h
			id.Membership = m

			SetHospitalAccess(c, &HospitalAccess{
				Hospital:   *h,
				Membership: m,
				IsAdmin:    m.IsAdmin() || id.User.IsServiceAdmin,
			})
			return next(c)
		}
	}
}

// RequireHospitalAdmin must run after RequireHospital.
func RequireHospitalAdmin() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			a := HospitalAccessFrom(c)
			if a == nil || !a.IsAdmin {
				return echo.NewHTTPError(http.StatusForbidden, "hospital admin role required")
			}
			return next(c)
		}
	}
}

// RequireAPIHospital denies hospital-bound API clients access to any hospital
// other than their own. The hospital id is read from the named path parameter.
func RequireAPIHospital(param string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			client := IdentityFrom(c).APIClient
			if client == nil {
				return APIError(c, http.StatusUnauthorized, "api client context not found")
			}
			hid, err := uuid.Parse(c.Param(param))
			if err != nil {
				if client.Client.HospitalID != nil {
					return APIError(c, http.StatusForbidden, "access to this hospital is not allowed")
				}
				return APIError(c, http.StatusNotFound, "hospital not found")
			}
			if !client.Client.CanAccessHospital(hid) {
				return APIError(c, http.StatusForbidden, "access to this hospital is not allowed")
			}
			return next(c)
		}
	}
}
