package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/pottech/document-creation/internal/platform/audit"
	"github.com/pottech/document-creation/internal/platform/idp"
)

const (
	stateCookie      = "oauth_state"
	verifierCookie   = "oauth_verifier"
	invitationCookie = "invitation_token"

	flowCookieTTL = 10 * time.Minute

	noHospitalPath = "/no-hospital"
)

// OIDC is the identity-provider side of the browser login; *idp.Client
// implements it.
type OIDC interface {
	AuthCodeURL(state, verifier string, register bool) string
	Exchange(ctx context.Context, code, verifier string) (*idp.Tokens, error)
	UserInfo(ctx context.Context, accessToken string) (*idp.UserInfo, error)
	LogoutURL(postLogoutRedirect string) string
}

// OAuthConfig configures OAuthHandler.
type OAuthConfig struct {
	// Origin is the public base URL of the application.
	Origin        string
	SecureCookies bool
}

// OAuthHandler serves the browser login, invitation and logout flow.
type OAuthHandler struct {
	oidc        OIDC
	sessions    *SessionManager
	provisioner *Provisioner
	invitations *InvitationManager
	memberships MembershipStore
	audit       *audit.Logger
	cfg         OAuthConfig
	logger      zerolog.Logger
	metrics     *Metrics
}

func NewOAuthHandler(oidc OIDC, sessions *SessionManager, provisioner *Provisioner, invitations *InvitationManager,
	memberships MembershipStore, auditLog *audit.Logger, cfg OAuthConfig, logger zerolog.Logger, metrics *Metrics) *OAuthHandler {
	return &OAuthHandler{
		oidc:        oidc,
		sessions:    sessions,
		provisioner: provisioner,
		invitations: invitations,
		memberships: memberships,
		audit:       auditLog,
		cfg:         cfg,
		logger:      logger.With().Str("component", "oauth").Logger(),
		metrics:     metrics,
	}
}

func (h *OAuthHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/", h.Home)
	e.GET("/no-hospital", h.NoHospital)
	e.GET("/login", h.LoginPage)
	e.POST("/login", h.Login)
	e.GET("/invite/:token", h.InvitationPreview)
	e.POST("/invite/:token/accept", h.AcceptInvitation)
	e.POST("/invite/:token/register", h.RegisterWithInvitation)
	e.GET("/auth/callback", h.Callback)
	e.POST("/auth/logout", h.Logout)
}

func (h *OAuthHandler) setFlowCookie(c echo.Context, name, value string) {
	c.SetCookie(&http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(flowCookieTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *OAuthHandler) deleteFlowCookie(c echo.Context, name string) {
	c.SetCookie(&http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *OAuthHandler) startFlow(c echo.Context, invitationToken string, register bool) error {
	state := idp.GenerateState()
	verifier := idp.GenerateVerifier()

	h.setFlowCookie(c, stateCookie, state)
	h.setFlowCookie(c, verifierCookie, verifier)
	if invitationToken != "" {
		h.setFlowCookie(c, invitationCookie, invitationToken)
	}
	return c.Redirect(http.StatusSeeOther, h.oidc.AuthCodeURL(state, verifier, register))
}

// Home sends the browser to the page that fits who it is.
func (h *OAuthHandler) Home(c echo.Context) error {
	target, err := h.landing(c.Request().Context(), IdentityFrom(c).User)
	if err != nil {
		return err
	}
	return c.Redirect(http.StatusSeeOther, target)
}

func (h *OAuthHandler) landing(ctx context.Context, u *User) (string, error) {
	if u == nil {
		return "/login", nil
	}
	if u.IsServiceAdmin {
		return "/admin", nil
	}
	hosp, err := h.memberships.FirstHospital(ctx, u.ID)
	if errors.Is(err, ErrNotFound) {
		return noHospitalPath, nil
	}
	if err != nil {
		return "", err
	}
	return "/" + hosp.Slug, nil
}

type noHospitalView struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Message string `json:"message"`
}

// NoHospital is the landing state of a signed-in user who belongs to no
// hospital yet. Everyone else is sent on to their own landing page.
func (h *OAuthHandler) NoHospital(c echo.Context) error {
	u := IdentityFrom(c).User
	target, err := h.landing(c.Request().Context(), u)
	if err != nil {
		return err
	}
	if target != noHospitalPath {
		return c.Redirect(http.StatusSeeOther, target)
	}
	return c.JSON(http.StatusOK, noHospitalView{
		Name:    u.Name,
		Email:   u.Email,
		Message: "not a member of any hospital; ask a hospital admin for an invitation",
	})
}

// LoginPage redirects signed-in users away and starts the flow otherwise.
func (h *OAuthHandler) LoginPage(c echo.Context) error {
	if u := IdentityFrom(c).User; u != nil {
		if u.IsServiceAdmin {
			return c.Redirect(http.StatusSeeOther, "/admin")
		}
		return c.Redirect(http.StatusSeeOther, "/")
	}
	return h.startFlow(c, "", false)
}

func (h *OAuthHandler) Login(c echo.Context) error {
	return h.startFlow(c, "", false)
}

type invitationPreview struct {
	Email        string `json:"email"`
	HospitalName string `json:"hospitalName"`
	Role         Role   `json:"role"`
	InvitedBy    string `json:"invitedBy"`
	IsLoggedIn   bool   `json:"isLoggedIn"`
}

func (h *OAuthHandler) InvitationPreview(c echo.Context) error {
	d, err := h.invitations.GetInvitationByToken(c.Request().Context(), c.Param("token"))
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "invitation not found or expired")
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, invitationPreview{
		Email:        d.Invitation.Email,
		HospitalName: d.Hospital.Name,
		Role:         d.Invitation.Role,
		InvitedBy:    d.InviterName,
		IsLoggedIn:   IdentityFrom(c).User != nil,
	})
}

func (h *OAuthHandler) AcceptInvitation(c echo.Context) error {
	return h.startFlow(c, c.Param("token"), false)
}

func (h *OAuthHandler) RegisterWithInvitation(c echo.Context) error {
	return h.startFlow(c, c.Param("token"), true)
}

func cookieValue(c echo.Context, name string) string {
	ck, err := c.Cookie(name)
	if err != nil {
		return ""
	}
	return ck.Value
}

// Callback completes the login: it exchanges the code, provisions the user,
// applies a pending invitation and opens a session.
func (h *OAuthHandler) Callback(c echo.Context) error {
	code := c.QueryParam("code")
	state := c.QueryParam("state")
	storedState := cookieValue(c, stateCookie)
	verifier := cookieValue(c, verifierCookie)
	invitationToken := cookieValue(c, invitationCookie)

	h.deleteFlowCookie(c, stateCookie)
	h.deleteFlowCookie(c, verifierCookie)
	h.deleteFlowCookie(c, invitationCookie)

	if code == "" || state == "" || storedState == "" || state != storedState || verifier == "" {
		h.metrics.login("invalid_callback")
		return echo.NewHTTPError(http.StatusBadRequest, "invalid OAuth callback")
	}

	target, err := h.completeLogin(c, code, verifier, invitationToken)
	if err != nil {
		h.metrics.login("failure")
		h.logger.Error().Err(err).Msg("OAuth callback failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "authentication failed")
	}
	h.metrics.login("success")
	return c.Redirect(http.StatusSeeOther, target)
}

func (h *OAuthHandler) completeLogin(c echo.Context, code, verifier, invitationToken string) (string, error) {
	ctx := c.Request().Context()

	tokens, err := h.oidc.Exchange(ctx, code, verifier)
	if err != nil {
		return "", err
	}
	info, err := h.oidc.UserInfo(ctx, tokens.AccessToken)
	if err != nil {
		return "", err
	}
	user, err := h.provisioner.FindOrCreateUser(ctx, info)
	if err != nil {
		return "", err
	}
	accepted, err := h.provisioner.AcceptPendingInvitation(ctx, user, info.Email, invitationToken)
	if err != nil {
		return "", err
	}

	var hospital *Hospital
	switch {
	case accepted != nil:
		hospital, err = h.memberships.GetHospital(ctx, accepted.HospitalID)
	case !user.IsServiceAdmin:
		hospital, err = h.memberships.FirstHospital(ctx, user.ID)
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		return "", fmt.Errorf("resolve initial hospital: %w", err)
	}

	ns := NewSession{
		UserID:               user.ID,
		AccessToken:          tokens.AccessToken,
		RefreshToken:         tokens.RefreshToken,
		AccessTokenExpiresAt: tokens.AccessTokenExpiresAt,
	}
	if hospital != nil {
		hid := hospital.ID
		ns.HospitalID = &hid
	}
	sessionID, err := h.sessions.CreateSession(ctx, ns)
	if err != nil {
		return "", err
	}
	SetSessionCookie(c, sessionID, h.cfg.SecureCookies)

	entry := audit.Entry{
		UserID:     user.ID,
		UserName:   user.Name,
		Action:     audit.ActionLogin,
		TargetType: audit.TargetSession,
	}
	if hospital != nil {
		entry.HospitalID, entry.HospitalName = &hospital.ID, hospital.Name
	}
	if accepted != nil {
		entry.Metadata = map[string]interface{}{"invitationRole": accepted.Role}
	}
	h.audit.Log(ctx, audit.RequestInfo(c, entry))

	switch {
	case user.IsServiceAdmin:
		return "/admin", nil
	case hospital != nil:
		return "/" + hospital.Slug, nil
	default:
		return noHospitalPath, nil
	}
}

// Logout ends the local session and sends the browser to the provider's
// end-session endpoint.
func (h *OAuthHandler) Logout(c echo.Context) error {
	id := IdentityFrom(c)
	if id.SessionID != "" {
		if err := h.sessions.DeleteSession(c.Request().Context(), id.SessionID); err != nil {
			h.logger.Error().Err(err).Msg("failed to delete session on logout")
		}
	}
	ClearSessionCookie(c, h.cfg.SecureCookies)

	if id.User != nil {
		entry := audit.Entry{
			UserID:     id.User.ID,
			UserName:   id.User.Name,
			Action:     audit.ActionLogout,
			TargetType: audit.TargetSession,
		}
		if id.Hospital != nil {
			entry.HospitalID, entry.HospitalName = hospitalIDPtr(id.Hospital.ID), id.Hospital.Name
		}
		h.audit.Log(c.Request().Context(), audit.RequestInfo(c, entry))
	}

	return c.Redirect(http.StatusSeeOther, h.oidc.LogoutURL(h.cfg.Origin))
}

func hospitalIDPtr(id uuid.UUID) *uuid.UUID {
	return &id
}
