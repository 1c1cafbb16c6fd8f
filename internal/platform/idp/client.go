// Package idp talks to the external OpenID Connect provider (Keycloak): the
// browser login flow, token refresh, userinfo, token introspection for machine
// clients and the realm administration API used to manage those clients.
package idp

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

var (
	// ErrInactiveToken is returned by Introspect when the provider reports the
	// token as not active.
	ErrInactiveToken = errors.New("token is not active")

	// ErrNoClientSecret means introspection cannot authenticate itself.
	ErrNoClientSecret = errors.New("client secret is not configured")
)

// defaultAccessTokenTTL applies when neither expires_in nor an exp claim is
// available on a freshly issued access token.
const defaultAccessTokenTTL = 5 * time.Minute

var loginScopes = []string{"openid", "profile", "email"}

// Tokens is the result of a code or refresh-token exchange.
type Tokens struct {
	AccessToken          string
	RefreshToken         string
	AccessTokenExpiresAt time.Time
}

// UserInfo is the subset of the userinfo response used for provisioning.
type UserInfo struct {
	Sub               string `json:"sub"`
	Email             string `json:"email"`
	EmailVerified     bool   `json:"email_verified"`
	Name              string `json:"name,omitempty"`
	PreferredUsername string `json:"preferred_username,omitempty"`
	GivenName         string `json:"given_name,omitempty"`
	FamilyName        string `json:"family_name,omitempty"`
}

// Introspection is an RFC 7662 token introspection response.
type Introspection struct {
	Active    bool             `json:"active"`
	ClientID  string           `json:"client_id,omitempty"`
	Scope     string           `json:"scope,omitempty"`
	Exp       int64            `json:"exp,omitempty"`
	Iat       int64            `json:"iat,omitempty"`
	Sub       string           `json:"sub,omitempty"`
	Aud       jwt.ClaimStrings `json:"aud,omitempty"`
	Iss       string           `json:"iss,omitempty"`
	TokenType string           `json:"token_type,omitempty"`
}

// Config configures a Client.
type Config struct {
	Endpoints    Endpoints
	ClientID     string
	ClientSecret string
	RedirectURL  string
	HTTPClient   *http.Client
}

// Client is the application's confidential OIDC client.
type Client struct {
	oauth      *oauth2.Config
	endpoints  Endpoints
	httpClient *http.Client
	now        func() time.Time
}

func NewClient(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       loginScopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.Endpoints.AuthorizationEndpoint,
				TokenURL:  cfg.Endpoints.TokenEndpoint,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		endpoints:  cfg.Endpoints,
		httpClient: hc,
		now:        time.Now,
	}
}

func (c *Client) ctx(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

// GenerateState returns a random URL-safe state value.
func GenerateState() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("idp: crypto/rand failed: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// GenerateVerifier returns a PKCE code verifier.
func GenerateVerifier() string {
	return oauth2.GenerateVerifier()
}

// AuthCodeURL builds the authorization request. register routes the user to
// the provider's registration screen instead of the login screen.
func (c *Client) AuthCodeURL(state, verifier string, register bool) string {
	opts := []oauth2.AuthCodeOption{oauth2.S256ChallengeOption(verifier)}
	if register {
		opts = append(opts, oauth2.SetAuthURLParam("kc_action", "register"))
	}
	return c.oauth.AuthCodeURL(state, opts...)
}

// Exchange trades an authorization code for tokens.
func (c *Client) Exchange(ctx context.Context, code, verifier string) (*Tokens, error) {
	tok, err := c.oauth.Exchange(c.ctx(ctx), code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}
	return c.tokens(tok), nil
}

// Refresh exchanges a refresh token for a new access token. When the provider
// does not rotate the refresh token the old one is returned.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*Tokens, error) {
	src := c.oauth.TokenSource(c.ctx(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("refresh access token: %w", err)
	}
	t := c.tokens(tok)
	if t.RefreshToken == "" {
		t.RefreshToken = refreshToken
	}
	return t, nil
}

func (c *Client) tokens(tok *oauth2.Token) *Tokens {
	return &Tokens{
		AccessToken:          tok.AccessToken,
		RefreshToken:         tok.RefreshToken,
		AccessTokenExpiresAt: accessTokenExpiry(tok, c.now()),
	}
}

// accessTokenExpiry prefers expires_in, then the token's own exp claim.
// The claim is read without signature verification; it only schedules the
// next refresh.
func accessTokenExpiry(tok *oauth2.Token, now time.Time) time.Time {
	if !tok.Expiry.IsZero() {
		return tok.Expiry
	}
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(tok.AccessToken, &claims); err == nil && claims.ExpiresAt != nil {
		return claims.ExpiresAt.Time
	}
	return now.Add(defaultAccessTokenTTL)
}

// UserInfo fetches the profile of the user owning accessToken.
func (c *Client) UserInfo(ctx context.Context, accessToken string) (*UserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoints.UserinfoEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch user info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch user info: status %d", resp.StatusCode)
	}

	var info UserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode user info: %w", err)
	}
	if info.Sub == "" || info.Email == "" {
		return nil, fmt.Errorf("user info is missing sub or email")
	}
	return &info, nil
}

// Introspect asks the provider whether token is currently active, using this
// application's client credentials. Inactive tokens yield ErrInactiveToken.
func (c *Client) Introspect(ctx context.Context, token string) (*Introspection, error) {
	if c.oauth.ClientSecret == "" {
		return nil, ErrNoClientSecret
	}

	form := url.Values{"token": {token}, "token_type_hint": {"access_token"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoints.IntrospectionEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build introspection request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.oauth.ClientID, c.oauth.ClientSecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token introspection: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("token introspection: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result Introspection
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode introspection response: %w", err)
	}
	if !result.Active {
		return nil, ErrInactiveToken
	}
	return &result, nil
}

// LogoutURL is the provider end-session URL. When postLogoutRedirect is set
// the provider sends the browser back there.
func (c *Client) LogoutURL(postLogoutRedirect string) string {
	u, err := url.Parse(c.endpoints.EndSessionEndpoint)
	if err != nil {
		return c.endpoints.EndSessionEndpoint
	}
	if postLogoutRedirect != "" {
		q := u.Query()
		q.Set("post_logout_redirect_uri", postLogoutRedirect)
		q.Set("client_id", c.oauth.ClientID)
		u.RawQuery = q.Encode()
	}
	return u.String()
}
