package apiclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pottech/document-creation/internal/platform/audit"
	"github.com/pottech/document-creation/internal/platform/auth"
	"github.com/pottech/document-creation/internal/platform/idp"
)

// Provider manages the client registrations at the identity provider.
// *idp.AdminClient implements it.
type Provider interface {
	CreateServiceClient(ctx context.Context, clientID, name, description string) (*idp.CreatedClient, error)
	FindClient(ctx context.Context, clientID string) (*idp.KeycloakClient, error)
	SetClientEnabled(ctx context.Context, id string, enabled bool) error
	RegenerateSecret(ctx context.Context, id string) (string, error)
	DeleteClient(ctx context.Context, id string) error
}

// Directory resolves hospitals and memberships.
type Directory interface {
	GetHospital(ctx context.Context, id uuid.UUID) (*auth.Hospital, error)
	GetMembership(ctx context.Context, userID, hospitalID uuid.UUID) (*auth.Membership, error)
}

type Service struct {
	repo     Repository
	provider Provider
	dir      Directory
	audit    *audit.Logger
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(repo Repository, provider Provider, dir Directory, auditLog *audit.Logger, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		provider: provider,
		dir:      dir,
		audit:    auditLog,
		logger:   logger.With().Str("component", "apiclient").Logger(),
		now:      time.Now,
	}
}

func (s *Service) List(ctx context.Context, f ListFilter) ([]*Details, error) {
	return s.repo.List(ctx, f)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Details, error) {
	return s.repo.Get(ctx, id)
}

// Create registers the client at the provider, then stores it. The provider
// registration is rolled back when the local insert fails.
func (s *Service) Create(ctx context.Context, actor audit.Actor, in CreateInput) (*Created, error) {
	var slug string
	if in.HospitalID != nil {
		h, err := s.dir.GetHospital(ctx, *in.HospitalID)
		if err != nil {
			return nil, err
		}
		slug = h.Slug
	}
	clientID, err := GenerateClientID(slug, s.now())
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(in.Name)
	desc := strings.TrimSpace(in.Description)
	kc, err := s.provider.CreateServiceClient(ctx, clientID, name, desc)
	if err != nil {
		return nil, fmt.Errorf("register api client: %w", err)
	}

	createdBy := actor.UserID
	c := &auth.APIClient{
		HospitalID:       in.HospitalID,
		KeycloakClientID: kc.ClientID,
		Name:             name,
		Description:      desc,
		IsEnabled:        true,
		CreatedBy:        &createdBy,
	}
	if err := s.repo.Create(ctx, c); err != nil {
		if derr := s.provider.DeleteClient(ctx, kc.ID); derr != nil {
			s.logger.Error().Err(derr).Str("client_id", kc.ClientID).Msg("failed to roll back provider client")
		}
		return nil, fmt.Errorf("store api client: %w", err)
	}

	e := actor.Entry(audit.ActionAPIClientCreate, audit.TargetAPIClient, &c.ID, c.Name)
	e.Metadata = map[string]interface{}{"clientId": c.KeycloakClientID, "systemWide": c.HospitalID == nil}
	s.audit.Log(ctx, e)
	return &Created{Client: c, ClientSecret: kc.ClientSecret}, nil
}

// providerID returns the provider's internal id of the client.
func (s *Service) providerID(ctx context.Context, c *Details) (string, error) {
	kc, err := s.provider.FindClient(ctx, c.KeycloakClientID)
	if err != nil {
		return "", err
	}
	if kc == nil {
		return "", ErrProviderClientMissing
	}
	return kc.ID, nil
}

func (s *Service) SetEnabled(ctx context.Context, actor audit.Actor, id uuid.UUID, enabled bool) (*Details, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	pid, err := s.providerID(ctx, c)
	if err != nil {
		return nil, err
	}
	if err := s.provider.SetClientEnabled(ctx, pid, enabled); err != nil {
		return nil, err
	}
	if err := s.repo.SetEnabled(ctx, id, enabled); err != nil {
		return nil, err
	}

	e := actor.Entry(audit.ActionAPIClientUpdate, audit.TargetAPIClient, &c.ID, c.Name)
	e.Changes = audit.Changes{"isEnabled": {Before: c.IsEnabled, After: enabled}}
	s.audit.Log(ctx, e)

	c.IsEnabled = enabled
	return c, nil
}

// RegenerateSecret rotates the client's secret and returns the new one. The
// old secret stops working immediately.
func (s *Service) RegenerateSecret(ctx context.Context, actor audit.Actor, id uuid.UUID) (string, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return "", err
	}
	pid, err := s.providerID(ctx, c)
	if err != nil {
		return "", err
	}
	secret, err := s.provider.RegenerateSecret(ctx, pid)
	if err != nil {
		return "", err
	}
	if err := s.repo.Touch(ctx, id); err != nil {
		return "", err
	}

	e := actor.Entry(audit.ActionAPIClientUpdate, audit.TargetAPIClient, &c.ID, c.Name)
	e.Metadata = map[string]interface{}{"operation": "regenerate_secret"}
	s.audit.Log(ctx, e)
	return secret, nil
}

// Delete removes the client locally and at the provider. A client the
// provider already forgot is still removed locally.
func (s *Service) Delete(ctx context.Context, actor audit.Actor, id uuid.UUID) error {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	pid, err := s.providerID(ctx, c)
	switch {
	case err == nil:
		if err := s.provider.DeleteClient(ctx, pid); err != nil {
			return err
		}
	case !errors.Is(err, ErrProviderClientMissing):
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	e := actor.Entry(audit.ActionAPIClientDelete, audit.TargetAPIClient, &c.ID, c.Name)
	e.Metadata = map[string]interface{}{"clientId": c.KeycloakClientID}
	s.audit.Log(ctx, e)
	return nil
}

// CanUserAccess reports whether user may manage c. Service admins manage
// every client; system-wide clients are theirs alone; otherwise the user must
// be an admin of the client's hospital.
func (s *Service) CanUserAccess(ctx context.Context, user *auth.User, c *auth.APIClient) (bool, error) {
	if user == nil {
		return false, nil
	}
	if user.IsServiceAdmin {
		return true, nil
	}
	if c.HospitalID == nil {
		return false, nil
	}
	m, err := s.dir.GetMembership(ctx, user.ID, *c.HospitalID)
	if errors.Is(err, auth.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return m.IsAdmin(), nil
}
