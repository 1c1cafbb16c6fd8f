package idp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Endpoints are the provider URLs the application talks to.
type Endpoints struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	UserinfoEndpoint      string `json:"userinfo_endpoint"`
	IntrospectionEndpoint string `json:"introspection_endpoint"`
	EndSessionEndpoint    string `json:"end_session_endpoint"`
}

// KeycloakEndpoints derives the standard Keycloak endpoint layout from a realm
// URL such as http://localhost:8080/realms/document-creation.
func KeycloakEndpoints(realmURL string) Endpoints {
	realmURL = strings.TrimRight(realmURL, "/")
	base := realmURL + "/protocol/openid-connect"
	return Endpoints{
		Issuer:                realmURL,
		AuthorizationEndpoint: base + "/auth",
		TokenEndpoint:         base + "/token",
		UserinfoEndpoint:      base + "/userinfo",
		IntrospectionEndpoint: base + "/token/introspect",
		EndSessionEndpoint:    base + "/logout",
	}
}

// Discover fetches the OpenID Connect discovery document of issuerURL.
// Endpoints missing from the document are filled from the Keycloak layout.
func Discover(ctx context.Context, httpClient *http.Client, issuerURL string) (Endpoints, error) {
	issuerURL = strings.TrimRight(issuerURL, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, issuerURL+"/.well-known/openid-configuration", nil)
	if err != nil {
		return Endpoints{}, fmt.Errorf("build discovery request: %w", err)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return Endpoints{}, fmt.Errorf("fetching OIDC discovery document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Endpoints{}, fmt.Errorf("OIDC discovery endpoint returned status %d", resp.StatusCode)
	}

	var ep Endpoints
	if err := json.NewDecoder(resp.Body).Decode(&ep); err != nil {
		return Endpoints{}, fmt.Errorf("decoding OIDC discovery document: %w", err)
	}
	if ep.AuthorizationEndpoint == "" || ep.TokenEndpoint == "" {
		return Endpoints{}, fmt.Errorf("OIDC discovery document missing authorization or token endpoint")
	}

	fallback := KeycloakEndpoints(issuerURL)
	if ep.Issuer == "" {
		ep.Issuer = fallback.Issuer
	}
	if ep.UserinfoEndpoint == "" {
		ep.UserinfoEndpoint = fallback.UserinfoEndpoint
	}
	if ep.IntrospectionEndpoint == "" {
		ep.IntrospectionEndpoint = fallback.IntrospectionEndpoint
	}
	if ep.EndSessionEndpoint == "" {
		ep.EndSessionEndpoint = fallback.EndSessionEndpoint
	}
	return ep, nil
}
