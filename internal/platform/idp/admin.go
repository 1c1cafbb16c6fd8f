package idp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// adminTokenBuffer is how long before expiry a cached admin token stops being
// handed out.
const adminTokenBuffer = 60 * time.Second

// TokenCache holds one admin access token. It is safe for concurrent use;
// concurrent misses may each fetch a token and the last write wins.
type TokenCache struct {
	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// Get returns the cached token if it stays valid for at least the buffer.
func (c *TokenCache) Get(now time.Time) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == "" || !c.expiresAt.After(now.Add(adminTokenBuffer)) {
		return "", false
	}
	return c.token, true
}

func (c *TokenCache) Set(token string, expiresAt time.Time) {
	c.mu.Lock()
	c.token, c.expiresAt = token, expiresAt
	c.mu.Unlock()
}

// KeycloakClient is a client representation from the admin API.
type KeycloakClient struct {
	ID                     string `json:"id"`
	ClientID               string `json:"clientId"`
	Name                   string `json:"name,omitempty"`
	Description            string `json:"description,omitempty"`
	Enabled                bool   `json:"enabled"`
	ServiceAccountsEnabled bool   `json:"serviceAccountsEnabled"`
}

// CreatedClient is returned once when a machine client is registered; the
// secret is not stored locally.
type CreatedClient struct {
	ID           string
	ClientID     string
	ClientSecret string
}

// AdminConfig configures an AdminClient.
type AdminConfig struct {
	BaseURL    string // e.g. http://localhost:8080
	Realm      string
	Username   string
	Password   string
	HTTPClient *http.Client
	Cache      *TokenCache
}

// AdminClient manages service-account clients through the Keycloak admin API.
type AdminClient struct {
	baseURL    string
	realm      string
	username   string
	password   string
	httpClient *http.Client
	cache      *TokenCache
	now        func() time.Time
	// passwordGrant is the master-realm admin-cli login.
	passwordGrant *oauth2.Config
}

func NewAdminClient(cfg AdminConfig) *AdminClient {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	cache := cfg.Cache
	if cache == nil {
		cache = &TokenCache{}
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	return &AdminClient{
		baseURL:    baseURL,
		realm:      cfg.Realm,
		username:   cfg.Username,
		password:   cfg.Password,
		httpClient: hc,
		cache:      cache,
		now:        time.Now,
		passwordGrant: &oauth2.Config{
			ClientID: "admin-cli",
			Endpoint: oauth2.Endpoint{
				TokenURL:  baseURL + "/realms/master/protocol/openid-connect/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
	}
}

func (a *AdminClient) clientsURL(parts ...string) string {
	return a.baseURL + path.Join(append([]string{"/admin/realms", a.realm, "clients"}, parts...)...)
}

// AccessToken returns a master-realm admin token, reusing the cached one while
// it has more than a minute left.
func (a *AdminClient) AccessToken(ctx context.Context) (string, error) {
	if tok, ok := a.cache.Get(a.now()); ok {
		return tok, nil
	}

	tok, err := a.passwordGrant.PasswordCredentialsToken(
		context.WithValue(ctx, oauth2.HTTPClient, a.httpClient), a.username, a.password)
	if err != nil {
		return "", fmt.Errorf("get admin token: %w", err)
	}

	a.cache.Set(tok.AccessToken, tok.Expiry)
	return tok.AccessToken, nil
}

func (a *AdminClient) authed(ctx context.Context, method, u string, body interface{}) (*http.Request, error) {
	tok, err := a.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// do sends req and decodes a JSON body into out when out is non-nil. Any
// status other than want is an error carrying the response text.
func (a *AdminClient) do(req *http.Request, want int, out interface{}) error {
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// CreateServiceClient registers a confidential client with only the client
// credentials grant enabled and returns its generated secret.
func (a *AdminClient) CreateServiceClient(ctx context.Context, clientID, name, description string) (*CreatedClient, error) {
	req, err := a.authed(ctx, http.MethodPost, a.clientsURL(), map[string]interface{}{
		"clientId":                  clientID,
		"name":                      name,
		"description":               description,
		"enabled":                   true,
		"clientAuthenticatorType":   "client-secret",
		"serviceAccountsEnabled":    true,
		"standardFlowEnabled":       false,
		"implicitFlowEnabled":       false,
		"directAccessGrantsEnabled": false,
		"publicClient":              false,
		"protocol":                  "openid-connect",
	})
	if err != nil {
		return nil, err
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("create keycloak client: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("create keycloak client: status %d", resp.StatusCode)
	}

	location := resp.Header.Get("Location")
	if location == "" {
		return nil, fmt.Errorf("create keycloak client: no Location header in response")
	}
	id := path.Base(location)

	secret, err := a.ClientSecret(ctx, id)
	if err != nil {
		return nil, err
	}
	return &CreatedClient{ID: id, ClientID: clientID, ClientSecret: secret}, nil
}

// ClientSecret reads the current secret of the client with internal id.
func (a *AdminClient) ClientSecret(ctx context.Context, id string) (string, error) {
	return a.secret(ctx, http.MethodGet, id)
}

// RegenerateSecret rotates the secret of the client with internal id.
func (a *AdminClient) RegenerateSecret(ctx context.Context, id string) (string, error) {
	return a.secret(ctx, http.MethodPost, id)
}

func (a *AdminClient) secret(ctx context.Context, method, id string) (string, error) {
	req, err := a.authed(ctx, method, a.clientsURL(id, "client-secret"), nil)
	if err != nil {
		return "", err
	}
	var data struct {
		Value string `json:"value"`
	}
	if err := a.do(req, http.StatusOK, &data); err != nil {
		return "", fmt.Errorf("client secret: %w", err)
	}
	return data.Value, nil
}

// SetClientEnabled flips the enabled flag while keeping the rest of the
// client representation intact.
func (a *AdminClient) SetClientEnabled(ctx context.Context, id string, enabled bool) error {
	req, err := a.authed(ctx, http.MethodGet, a.clientsURL(id), nil)
	if err != nil {
		return err
	}
	var rep map[string]interface{}
	if err := a.do(req, http.StatusOK, &rep); err != nil {
		return fmt.Errorf("get keycloak client: %w", err)
	}

	rep["enabled"] = enabled
	req, err = a.authed(ctx, http.MethodPut, a.clientsURL(id), rep)
	if err != nil {
		return err
	}
	if err := a.do(req, http.StatusNoContent, nil); err != nil {
		return fmt.Errorf("update keycloak client: %w", err)
	}
	return nil
}

// DeleteClient removes the client with internal id.
func (a *AdminClient) DeleteClient(ctx context.Context, id string) error {
	req, err := a.authed(ctx, http.MethodDelete, a.clientsURL(id), nil)
	if err != nil {
		return err
	}
	if err := a.do(req, http.StatusNoContent, nil); err != nil {
		return fmt.Errorf("delete keycloak client: %w", err)
	}
	return nil
}

// FindClient looks a client up by its public clientId. It returns nil, nil
// when no such client exists.
func (a *AdminClient) FindClient(ctx context.Context, clientID string) (*KeycloakClient, error) {
	req, err := a.authed(ctx, http.MethodGet, a.clientsURL()+"?clientId="+url.QueryEscape(clientID), nil)
	if err != nil {
		return nil, err
	}
	var clients []KeycloakClient
	if err := a.do(req, http.StatusOK, &clients); err != nil {
		return nil, fmt.Errorf("search keycloak clients: %w", err)
	}
	if len(clients) == 0 {
		return nil, nil
	}
	return &clients[0], nil
}
