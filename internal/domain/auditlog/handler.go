// Package auditlog serves the audit trail to service and hospital admins.
package auditlog

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/pottech/document-creation/internal/platform/audit"
	"github.com/pottech/document-creation/internal/platform/auth"
	"github.com/pottech/document-creation/pkg/pagination"
)

const historyLimit = 50

type Handler struct {
	log *audit.Logger
}

func NewHandler(log *audit.Logger) *Handler {
	return &Handler{log: log}
}

// RegisterAdminRoutes mounts the system-wide trail for service admins.
func (h *Handler) RegisterAdminRoutes(g *echo.Group) {
	g.GET("/audit-logs", h.List)
	g.GET("/audit-logs/users/:userId", h.UserActivity)
	g.GET("/audit-logs/:targetType/:targetId", h.History)
}

// RegisterHospitalRoutes mounts the trail of one hospital on a hospital group.
func (h *Handler) RegisterHospitalRoutes(g *echo.Group) {
	admin := g.Group("", auth.RequireHospitalAdmin())
	admin.GET("/audit-logs", h.List)
	admin.GET("/audit-logs/:targetType/:targetId", h.History)
}

func badRequest(msg string) error {
	return echo.NewHTTPError(http.StatusBadRequest, msg)
}

func parseUUID(c echo.Context, name string) (*uuid.UUID, error) {
	v := c.QueryParam(name)
	if v == "" {
		return nil, nil
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return nil, badRequest(name + " must be a valid id")
	}
	return &id, nil
}

func parseDay(c echo.Context, name string) (*time.Time, error) {
	v := c.QueryParam(name)
	if v == "" {
		return nil, nil
	}
	d, err := time.Parse("2006-01-02", v)
	if err != nil {
		return nil, badRequest(name + " must be YYYY-MM-DD")
	}
	return &d, nil
}

// filterFrom reads the query string into a filter. Inside a hospital the
// filter is pinned to it whatever hospitalId says.
func filterFrom(c echo.Context) (audit.Filter, error) {
	var (
		f   audit.Filter
		err error
	)
	pg := pagination.FromContext(c)
	f.Limit, f.Offset = pg.Limit, pg.Offset

	if f.HospitalID, err = parseUUID(c, "hospitalId"); err != nil {
		return f, err
	}
	if access := auth.HospitalAccessFrom(c); access != nil {
		hid := access.Hospital.ID
		f.HospitalID = &hid
	}
	if f.UserID, err = parseUUID(c, "userId"); err != nil {
		return f, err
	}
	if f.TargetID, err = parseUUID(c, "targetId"); err != nil {
		return f, err
	}
	if v := c.QueryParam("action"); v != "" {
		f.Action = audit.Action(v)
		if !f.Action.Valid() {
			return f, badRequest("unknown action " + v)
		}
	}
	if v := c.QueryParam("targetType"); v != "" {
		f.TargetType = audit.TargetType(v)
		if !f.TargetType.Valid() {
			return f, badRequest("unknown targetType " + v)
		}
	}
	if f.DateFrom, err = parseDay(c, "dateFrom"); err != nil {
		return f, err
	}
	if f.DateTo, err = parseDay(c, "dateTo"); err != nil {
		return f, err
	}
	if f.DateFrom != nil && f.DateTo != nil && f.DateTo.Before(*f.DateFrom) {
		return f, badRequest("dateTo is before dateFrom")
	}
	if v := c.QueryParam("success"); v != "" {
		ok, err := strconv.ParseBool(v)
		if err != nil {
			return f, badRequest("success must be true or false")
		}
		f.Success = &ok
	}
	return f, nil
}

func (h *Handler) List(c echo.Context) error {
	f, err := filterFrom(c)
	if err != nil {
		return err
	}
	res, err := h.log.Search(c.Request().Context(), f)
	if err != nil {
		return err
	}
	logs := res.Logs
	if logs == nil {
		logs = []*audit.Entry{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(logs, res.Total, pagination.Params{Limit: f.Limit, Offset: f.Offset}))
}

// History lists the latest entries about one record.
func (h *Handler) History(c echo.Context) error {
	tt := audit.TargetType(c.Param("targetType"))
	if !tt.Valid() {
		return echo.NewHTTPError(http.StatusNotFound, "unknown target type")
	}
	id, err := uuid.Parse(c.Param("targetId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "target not found")
	}
	var logs []*audit.Entry
	if access := auth.HospitalAccessFrom(c); access != nil {
		hid := access.Hospital.ID
		res, err := h.log.Search(c.Request().Context(), audit.Filter{HospitalID: &hid, TargetType: tt, TargetID: &id, Limit: historyLimit})
		if err != nil {
			return err
		}
		logs = res.Logs
	} else if logs, err = h.log.ForTarget(c.Request().Context(), tt, id, historyLimit); err != nil {
		return err
	}
	if logs == nil {
		logs = []*audit.Entry{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": logs})
}

// UserActivity lists the latest entries made by one user across hospitals.
func (h *Handler) UserActivity(c echo.Context) error {
	id, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "user not found")
	}
	logs, err := h.log.ForUser(c.Request().Context(), id, historyLimit)
	if err != nil {
		return err
	}
	if logs == nil {
		logs = []*audit.Entry{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": logs})
}
