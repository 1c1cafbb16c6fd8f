package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// InvitationTTL is how long an invitation can be accepted.
const InvitationTTL = 7 * 24 * time.Hour

var ErrInvalidRole = errors.New("invalid role")

// InvitationManager issues and revokes invitations.
type InvitationManager struct {
	store InvitationStore
	now   func() time.Time
}

func NewInvitationManager(store InvitationStore) *InvitationManager {
	return &InvitationManager{store: store, now: time.Now}
}

// InvitationParams describes a new invitation.
type InvitationParams struct {
	Email      string
	HospitalID uuid.UUID
	Role       Role
	InvitedBy  uuid.UUID
}

func (m *InvitationManager) CreateInvitation(ctx context.Context, p InvitationParams) (*Invitation, error) {
	if !p.Role.Valid() {
		return nil, ErrInvalidRole
	}
	token, err := GenerateInvitationToken()
	if err != nil {
		return nil, err
	}
	invitedBy := p.InvitedBy
	inv := &Invitation{
		Email:      NormalizeEmail(p.Email),
		HospitalID: p.HospitalID,
		Role:       p.Role,
		InvitedBy:  &invitedBy,
		Token:      token,
		ExpiresAt:  m.now().Add(InvitationTTL),
	}
	if err := m.store.CreateInvitation(ctx, inv); err != nil {
		return nil, fmt.Errorf("create invitation: %w", err)
	}
	return inv, nil
}

// GetInvitationByToken returns a pending invitation with its hospital and
// inviter. Unknown, expired and accepted tokens all yield ErrNotFound.
func (m *InvitationManager) GetInvitationByToken(ctx context.Context, token string) (*InvitationDetails, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	d, err := m.store.GetPendingInvitation(ctx, token, m.now())
	if err != nil {
		return nil, err
	}
	return d, nil
}

// ListInvitations returns every invitation of a hospital, oldest first.
func (m *InvitationManager) ListInvitations(ctx context.Context, hospitalID uuid.UUID) ([]*InvitationDetails, error) {
	return m.store.ListInvitations(ctx, hospitalID)
}

// CancelInvitation revokes an invitation by deleting it.
func (m *InvitationManager) CancelInvitation(ctx context.Context, id uuid.UUID) error {
	return m.store.DeleteInvitation(ctx, id)
}
