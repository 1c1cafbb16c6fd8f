package auth

import (
	"github.com/labstack/echo/v4"

	"github.com/pottech/document-creation/internal/platform/audit"
)

// ActorFrom describes the signed-in user of c for the audit trail. The
// hospital is the one resolved by RequireHospital, else the session's.
func ActorFrom(c echo.Context) audit.Actor {
	id := IdentityFrom(c)
	a := audit.Actor{
		IPAddress: c.RealIP(),
		UserAgent: c.Request().UserAgent(),
	}
	if id.User != nil {
		a.UserID = id.User.ID
		a.UserName = id.User.Name
	}
	h := id.Hospital
	if access := HospitalAccessFrom(c); access != nil {
		h = &access.Hospital
	}
	if h != nil {
		a.HospitalID = hospitalIDPtr(h.ID)
		a.HospitalName = h.Name
	}
	return a
}
