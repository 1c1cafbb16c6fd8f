package auth

import (
	"time"

	"github.com/google/uuid"
)

// Role is a user's role inside one hospital.
type Role string

const (
	RoleHospitalAdmin Role = "hospital_admin"
	RoleHospitalUser  Role = "hospital_user"
)

func (r Role) Valid() bool {
	return r == RoleHospitalAdmin || r == RoleHospitalUser
}

// User is a local account. KeycloakID stays nil until the first login through
// the identity provider links the account.
type User struct {
	ID             uuid.UUID `json:"id"`
	KeycloakID     *string   `json:"keycloakId,omitempty"`
	Email          string    `json:"email"`
	Name           string    `json:"name"`
	IsServiceAdmin bool      `json:"isServiceAdmin"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Hospital is a tenant.
type Hospital struct {
	ID              uuid.UUID  `json:"id"`
	Name            string     `json:"name"`
	Slug            string     `json:"slug"`
	HospitalGroupID *uuid.UUID `json:"hospitalGroupId,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// Membership binds a user to a hospital with a role. There is at most one per
// (user, hospital).
type Membership struct {
	ID         uuid.UUID `json:"id"`
	UserID     uuid.UUID `json:"userId"`
	HospitalID uuid.UUID `json:"hospitalId"`
	Role       Role      `json:"role"`
	CreatedAt  time.Time `json:"createdAt"`
}

func (m *Membership) IsAdmin() bool {
	return m != nil && m.Role == RoleHospitalAdmin
}

// Session is a browser session. ID is the cookie value. An empty RefreshToken
// means the provider issued none.
type Session struct {
	ID                   string
	UserID               uuid.UUID
	CurrentHospitalID    *uuid.UUID
	AccessToken          string
	RefreshToken         string
	AccessTokenExpiresAt time.Time
	ExpiresAt            time.Time
	CreatedAt            time.Time
}

// SessionRecord is a session joined with its owner.
type SessionRecord struct {
	Session Session
	User    User
}

// HospitalContext is a hospital together with the caller's membership in it.
// Membership is nil when the caller is not a member, e.g. a service admin.
type HospitalContext struct {
	Hospital   Hospital
	Membership *Membership
}

// SessionData is what a valid session resolves to on each request.
type SessionData struct {
	SessionID   string
	User        User
	Hospital    *Hospital
	Membership  *Membership
	AccessToken string
}

// Invitation grants a role in a hospital to whoever signs in with Email.
type Invitation struct {
	ID         uuid.UUID  `json:"id"`
	Email      string     `json:"email"`
	HospitalID uuid.UUID  `json:"hospitalId"`
	Role       Role       `json:"role"`
	InvitedBy  *uuid.UUID `json:"invitedBy,omitempty"`
	Token      string     `json:"-"`
	ExpiresAt  time.Time  `json:"expiresAt"`
	AcceptedAt *time.Time `json:"acceptedAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// Pending reports whether the invitation can still be accepted at now.
func (i *Invitation) Pending(now time.Time) bool {
	return i.AcceptedAt == nil && now.Before(i.ExpiresAt)
}

// InvitationDetails is an invitation joined with its hospital and inviter.
type InvitationDetails struct {
	Invitation   Invitation `json:"invitation"`
	Hospital     Hospital   `json:"hospital"`
	InviterName  string     `json:"inviterName"`
	InviterEmail string     `json:"inviterEmail"`
}

// Acceptance is the grant applied when an invitation is accepted.
type Acceptance struct {
	HospitalID uuid.UUID `json:"hospitalId"`
	Role       Role      `json:"role"`
}

// APIClient is a machine client registered with the identity provider.
// A nil HospitalID makes the client system-wide.
type APIClient struct {
	ID               uuid.UUID  `json:"id"`
	HospitalID       *uuid.UUID `json:"hospitalId,omitempty"`
	KeycloakClientID string     `json:"clientId"`
	Name             string     `json:"name"`
	Description      string     `json:"description,omitempty"`
	IsEnabled        bool       `json:"isEnabled"`
	CreatedBy        *uuid.UUID `json:"createdBy,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// CanAccessHospital reports whether the client may read data of hospitalID.
func (c *APIClient) CanAccessHospital(hospitalID uuid.UUID) bool {
	return c.HospitalID == nil || *c.HospitalID == hospitalID
}

// APIClientContext is the identity of an authenticated machine request.
type APIClientContext struct {
	Client APIClient
	Scopes []string
}

func (a *APIClientContext) HasScope(scope string) bool {
	for _, s := range a.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}
