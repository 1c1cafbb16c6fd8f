package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by stores when a row does not exist or is no longer
// valid (expired session, accepted invitation).
var ErrNotFound = errors.New("not found")

// SessionStore persists browser sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, s *Session) error
	// GetActiveSession returns the session joined with its user when it has
	// not expired at now.
	GetActiveSession(ctx context.Context, id string, now time.Time) (*SessionRecord, error)
	UpdateSessionTokens(ctx context.Context, id, accessToken, refreshToken string, accessTokenExpiresAt time.Time) error
	SetSessionHospital(ctx context.Context, id string, hospitalID *uuid.UUID) error
	DeleteSession(ctx context.Context, id string) error
	DeleteUserSessions(ctx context.Context, userID uuid.UUID) error
	// HospitalContext returns the hospital and userID's membership in it. The
	// membership is nil when the user is not a member.
	HospitalContext(ctx context.Context, hospitalID, userID uuid.UUID) (*HospitalContext, error)
}

// UserStore maps identity-provider subjects to local users.
type UserStore interface {
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)
	GetUserByKeycloakID(ctx context.Context, keycloakID string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	// LinkKeycloakID stamps keycloakID on the user. An empty name keeps the
	// current one.
	LinkKeycloakID(ctx context.Context, userID uuid.UUID, keycloakID, name string) (*User, error)
	CreateUser(ctx context.Context, u *User) error
}

// MembershipStore resolves tenants and the caller's role in them.
type MembershipStore interface {
	GetHospital(ctx context.Context, id uuid.UUID) (*Hospital, error)
	GetHospitalBySlug(ctx context.Context, slug string) (*Hospital, error)
	GetMembership(ctx context.Context, userID, hospitalID uuid.UUID) (*Membership, error)
	// FirstHospital returns the hospital of the user's oldest membership.
	FirstHospital(ctx context.Context, userID uuid.UUID) (*Hospital, error)
}

// InvitationStore persists invitations.
type InvitationStore interface {
	CreateInvitation(ctx context.Context, inv *Invitation) error
	// GetPendingInvitation looks up an unaccepted, unexpired invitation by token.
	GetPendingInvitation(ctx context.Context, token string, now time.Time) (*InvitationDetails, error)
	// FindPendingInvitationByEmail returns the oldest pending invitation for email.
	FindPendingInvitationByEmail(ctx context.Context, email string, now time.Time) (*Invitation, error)
	// AcceptInvitation marks the invitation accepted and grants the membership
	// as one unit of work. It returns ErrNotFound when the invitation is no
	// longer pending. An existing membership is left untouched.
	AcceptInvitation(ctx context.Context, invitationID, userID uuid.UUID, now time.Time) (*Acceptance, error)
	ListInvitations(ctx context.Context, hospitalID uuid.UUID) ([]*InvitationDetails, error)
	DeleteInvitation(ctx context.Context, id uuid.UUID) error
}

// APIClientStore looks up registered machine clients.
type APIClientStore interface {
	GetAPIClientByKeycloakID(ctx context.Context, clientID string) (*APIClient, error)
}

// Store is everything the authentication core persists.
type Store interface {
	SessionStore
	UserStore
	MembershipStore
	InvitationStore
	APIClientStore
}
