package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/pottech/document-creation/internal/platform/idp"
)

// SessionCookieName is the cookie carrying the session id.
const SessionCookieName = "session"

const identityKey = "auth_identity"

// Identity is who a request acts as. A browser request carries User (and
// possibly Hospital and Membership); a machine request carries APIClient.
// Both are empty for anonymous requests.
type Identity struct {
	SessionID  string
	User       *User
	Hospital   *Hospital
	Membership *Membership
	APIClient  *APIClientContext
}

func (i *Identity) Authenticated() bool {
	return i.User != nil || i.APIClient != nil
}

// IdentityFrom returns the identity of the request. It is never nil.
func IdentityFrom(c echo.Context) *Identity {
	if id, ok := c.Get(identityKey).(*Identity); ok {
		return id
	}
	return &Identity{}
}

// SetIdentity stores id on the request.
func SetIdentity(c echo.Context, id *Identity) {
	c.Set(identityKey, id)
}

// SessionResolver resolves session ids; *SessionManager implements it.
type SessionResolver interface {
	GetSession(ctx context.Context, id string) (*SessionData, error)
}

// BearerAuthenticator is the API-client side; *Gateway implements it.
type BearerAuthenticator interface {
	ValidateBearerToken(ctx context.Context, token string) *idp.Introspection
	ClientFromIntrospection(ctx context.Context, in *idp.Introspection) (*APIClientContext, error)
}

// AuthenticateConfig configures Authenticate.
type AuthenticateConfig struct {
	Sessions      SessionResolver
	Gateway       BearerAuthenticator
	APIPrefix     string
	SecureCookies bool
	Logger        zerolog.Logger
	Metrics       *Metrics
	// Skipper, when set, lets matching requests through anonymously.
	Skipper func(c echo.Context) bool
}

// Authenticate resolves every request to an Identity before handlers run.
// Requests under APIPrefix must present a valid bearer token of an enabled
// client and never fall back to the session cookie. Other requests use the
// session cookie and continue anonymously without one; an invalid session's
// cookie is cleared.
func Authenticate(cfg AuthenticateConfig) echo.MiddlewareFunc {
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = "/api/"
	}
	logger := cfg.Logger.With().Str("component", "authenticate").Logger()

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := &Identity{}
			SetIdentity(c, id)
			if cfg.Skipper != nil && cfg.Skipper(c) {
				return next(c)
			}

			req := c.Request()
			ctx := req.Context()

			if strings.HasPrefix(req.URL.Path, cfg.APIPrefix) {
				token, ok := ExtractBearerToken(req.Header.Get(echo.HeaderAuthorization))
				if !ok {
					cfg.Metrics.api("missing_token")
					return APIError(c, http.StatusUnauthorized, "missing or malformed bearer token")
				}
				in := cfg.Gateway.ValidateBearerToken(ctx, token)
				if in == nil {
					cfg.Metrics.api("invalid_token")
					return APIError(c, http.StatusUnauthorized, "invalid or expired token")
				}
				client, err := cfg.Gateway.ClientFromIntrospection(ctx, in)
				if err != nil {
					cfg.Metrics.api("lookup_error")
					return APIError(c, http.StatusInternalServerError, "authentication is temporarily unavailable")
				}
				if client == nil {
					cfg.Metrics.api("unknown_client")
					return APIError(c, http.StatusForbidden, "api client is not registered or disabled")
				}
				cfg.Metrics.api("ok")
				id.APIClient = client
				return next(c)
			}

			cookie, err := c.Cookie(SessionCookieName)
			if err != nil || cookie.Value == "" {
				return next(c)
			}

			data, err := cfg.Sessions.GetSession(ctx, cookie.Value)
			if err != nil {
				logger.Error().Err(err).Msg("session lookup failed")
				return next(c)
			}
			if data == nil {
				ClearSessionCookie(c, cfg.SecureCookies)
				return next(c)
			}

			id.SessionID = data.SessionID
			id.User = &data.User
			id.Hospital = data.Hospital
			id.Membership = data.Membership
			return next(c)
		}
	}
}

// SetSessionCookie writes the session cookie for SessionTTL.
func SetSessionCookie(c echo.Context, sessionID string, secure bool) {
	c.SetCookie(&http.Cookie{
		Name:     SessionCookieName,
		Value:    sessionID,
		Path:     "/",
		MaxAge:   int(SessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie expires the session cookie.
func ClearSessionCookie(c echo.Context, secure bool) {
	c.SetCookie(&http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}
