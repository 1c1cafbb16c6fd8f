package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/pottech/document-creation/internal/platform/idp"
)

// Provisioner maps identity-provider profiles to local users and applies
// pending invitations at login.
type Provisioner struct {
	users       UserStore
	invitations InvitationStore
	logger      zerolog.Logger
	metrics     *Metrics
	now         func() time.Time
}

func NewProvisioner(users UserStore, invitations InvitationStore, logger zerolog.Logger, metrics *Metrics) *Provisioner {
	return &Provisioner{
		users:       users,
		invitations: invitations,
		logger:      logger.With().Str("component", "provisioning").Logger(),
		metrics:     metrics,
		now:         time.Now,
	}
}

// FindOrCreateUser returns the user with the profile's subject. Failing that,
// a user with the same email is linked to the subject. Otherwise a new,
// non-admin user is created.
func (p *Provisioner) FindOrCreateUser(ctx context.Context, info *idp.UserInfo) (*User, error) {
	u, err := p.users.GetUserByKeycloakID(ctx, info.Sub)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("find user by subject: %w", err)
	}

	email := NormalizeEmail(info.Email)
	u, err = p.users.GetUserByEmail(ctx, email)
	if err == nil {
		linked, err := p.users.LinkKeycloakID(ctx, u.ID, info.Sub, info.Name)
		if err != nil {
			return nil, fmt.Errorf("link user: %w", err)
		}
		p.logger.Info().Str("user_id", linked.ID.String()).Msg("linked existing user to identity provider")
		return linked, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("find user by email: %w", err)
	}

	sub := info.Sub
	u = &User{
		KeycloakID: &sub,
		Email:      email,
		Name:       displayName(info),
	}
	if err := p.users.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// NormalizeEmail is the form emails are stored and matched in.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func displayName(info *idp.UserInfo) string {
	if info.Name != "" {
		return info.Name
	}
	if info.PreferredUsername != "" {
		return info.PreferredUsername
	}
	local, _, _ := strings.Cut(info.Email, "@")
	return local
}

// AcceptPendingInvitation applies the invitation identified by token, or
// failing that any pending invitation for email. It returns nil when nothing
// was applied.
func (p *Provisioner) AcceptPendingInvitation(ctx context.Context, user *User, email, token string) (*Acceptance, error) {
	now := p.now()

	if token != "" {
		d, err := p.invitations.GetPendingInvitation(ctx, token, now)
		switch {
		case err == nil:
			acc, err := p.invitations.AcceptInvitation(ctx, d.Invitation.ID, user.ID, now)
			if err == nil {
				p.metrics.invitation("token")
				return acc, nil
			}
			if !errors.Is(err, ErrNotFound) {
				return nil, fmt.Errorf("accept invitation: %w", err)
			}
		case !errors.Is(err, ErrNotFound):
			return nil, fmt.Errorf("find invitation: %w", err)
		}
	}

	inv, err := p.invitations.FindPendingInvitationByEmail(ctx, NormalizeEmail(email), now)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find invitation by email: %w", err)
	}
	acc, err := p.invitations.AcceptInvitation(ctx, inv.ID, user.ID, now)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("accept invitation: %w", err)
	}
	p.metrics.invitation("email")
	return acc, nil
}
