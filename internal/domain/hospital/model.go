package hospital

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/pottech/document-creation/internal/platform/auth"
)

var (
	ErrNotFound      = errors.New("hospital not found")
	ErrDuplicateSlug = errors.New("hospital slug already in use")
	ErrMemberMissing = errors.New("member not found")
	ErrLastAdmin     = errors.New("a hospital must keep at least one admin")
	ErrReservedSlug  = errors.New("hospital slug is reserved")
)

// reservedSlugs collide with top-level routes.
var reservedSlugs = map[string]bool{
	"admin": true, "api": true, "auth": true, "login": true, "logout": true,
	"invite": true, "no-hospital": true, "health": true, "metrics": true,
}

// Summary is a hospital with its member count.
type Summary struct {
	auth.Hospital
	MemberCount int `json:"memberCount"`
}

// Dashboard is the service admin landing view.
type Dashboard struct {
	HospitalCount int `json:"hospitalCount"`
	UserCount     int `json:"userCount"`
}

// Overview is the landing view of a hospital workspace.
type Overview struct {
	Hospital        auth.Hospital    `json:"hospital"`
	Membership      *auth.Membership `json:"membership"`
	IsHospitalAdmin bool             `json:"isHospitalAdmin"`
}

// Member is a membership joined with its user.
type Member struct {
	MembershipID uuid.UUID `json:"membershipId"`
	UserID       uuid.UUID `json:"userId"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Role         auth.Role `json:"role"`
	JoinedAt     time.Time `json:"joinedAt"`
}

// Details is a hospital with its members.
type Details struct {
	auth.Hospital
	Members []*Member `json:"members"`
}

// Input creates or renames a hospital.
type Input struct {
	Name string `json:"name" validate:"required,max=255"`
	Slug string `json:"slug" validate:"required,max=100,slug"`
}

// RoleInput changes a member's role.
type RoleInput struct {
	Role auth.Role `json:"role" validate:"required,oneof=hospital_admin hospital_user"`
}

// InvitationInput invites someone to the hospital.
type InvitationInput struct {
	Email string    `json:"email" validate:"required,email,max=255"`
	Role  auth.Role `json:"role" validate:"required,oneof=hospital_admin hospital_user"`
}

// IssuedInvitation is a new invitation and the link to send to its invitee.
type IssuedInvitation struct {
	Invitation *auth.Invitation `json:"invitation"`
	URL        string           `json:"url"`
}

// APIHospital is the machine-API view of a hospital.
type APIHospital struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	CreatedAt time.Time `json:"createdAt"`
}

func toAPI(h *auth.Hospital) APIHospital {
	return APIHospital{ID: h.ID, Name: h.Name, Slug: h.Slug, CreatedAt: h.CreatedAt}
}
