package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/pottech/document-creation/internal/platform/idp"
)

// ExtractBearerToken returns the token of an "Authorization: Bearer <token>"
// header. The header must be exactly two space separated parts and the scheme
// is case-insensitive.
func ExtractBearerToken(header string) (string, bool) {
	parts := strings.Split(header, " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// Introspector checks tokens with the identity provider.
type Introspector interface {
	Introspect(ctx context.Context, token string) (*idp.Introspection, error)
}

// Gateway turns bearer tokens into machine-client identities. Token validity
// is decided by the identity provider on every call; whether the client may
// act here is decided by the local registry.
type Gateway struct {
	introspector Introspector
	clients      APIClientStore
	logger       zerolog.Logger
}

func NewGateway(introspector Introspector, clients APIClientStore, logger zerolog.Logger) *Gateway {
	return &Gateway{
		introspector: introspector,
		clients:      clients,
		logger:       logger.With().Str("component", "api_gateway").Logger(),
	}
}

// ValidateBearerToken returns the introspection result of an active token, or
// nil when the token is inactive or the provider could not be asked.
func (g *Gateway) ValidateBearerToken(ctx context.Context, token string) *idp.Introspection {
	res, err := g.introspector.Introspect(ctx, token)
	if err != nil {
		if !errors.Is(err, idp.ErrInactiveToken) {
			g.logger.Error().Err(err).Msg("token introspection failed")
		}
		return nil
	}
	if !res.Active {
		return nil
	}
	return res
}

// ClientFromIntrospection maps an active token to its registered client.
// Unknown and disabled clients yield nil; an error means the registry could
// not be read.
func (g *Gateway) ClientFromIntrospection(ctx context.Context, in *idp.Introspection) (*APIClientContext, error) {
	if in == nil || in.ClientID == "" {
		return nil, nil
	}
	client, err := g.clients.GetAPIClientByKeycloakID(ctx, in.ClientID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		g.logger.Error().Err(err).Str("client_id", in.ClientID).Msg("api client lookup failed")
		return nil, fmt.Errorf("look up api client: %w", err)
	}
	if !client.IsEnabled {
		return nil, nil
	}
	return &APIClientContext{Client: *client, Scopes: strings.Fields(in.Scope)}, nil
}
