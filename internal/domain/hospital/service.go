package hospital

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/pottech/document-creation/internal/platform/audit"
	"github.com/pottech/document-creation/internal/platform/auth"
)

// Invitations issues and revokes hospital invitations.
type Invitations interface {
	CreateInvitation(ctx context.Context, p auth.InvitationParams) (*auth.Invitation, error)
	ListInvitations(ctx context.Context, hospitalID uuid.UUID) ([]*auth.InvitationDetails, error)
	CancelInvitation(ctx context.Context, id uuid.UUID) error
}

type Service struct {
	repo        Repository
	invitations Invitations
	audit       *audit.Logger
	// origin is the public base URL invitation links point at.
	origin string
}

func NewService(repo Repository, invitations Invitations, auditLog *audit.Logger, origin string) *Service {
	return &Service{repo: repo, invitations: invitations, audit: auditLog, origin: strings.TrimRight(origin, "/")}
}

func (s *Service) List(ctx context.Context) ([]*Summary, error) {
	items, err := s.repo.List(ctx)
	if items == nil {
		items = []*Summary{}
	}
	return items, err
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*auth.Hospital, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) Dashboard(ctx context.Context) (*Dashboard, error) {
	return s.repo.Counts(ctx)
}

// Details returns a hospital with its members.
func (s *Service) Details(ctx context.Context, id uuid.UUID) (*Details, error) {
	h, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	members, err := s.repo.Members(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Details{Hospital: *h, Members: members}, nil
}

func (s *Service) Create(ctx context.Context, actor audit.Actor, in Input) (*auth.Hospital, error) {
	if reservedSlugs[in.Slug] {
		return nil, ErrReservedSlug
	}
	h := &auth.Hospital{Name: strings.TrimSpace(in.Name), Slug: in.Slug}
	if err := s.repo.Create(ctx, h); err != nil {
		return nil, err
	}
	e := actor.Entry(audit.ActionHospitalCreate, audit.TargetHospital, &h.ID, h.Name)
	e.Metadata = map[string]interface{}{"slug": h.Slug}
	s.audit.Log(ctx, e)
	return h, nil
}

func (s *Service) Update(ctx context.Context, actor audit.Actor, id uuid.UUID, in Input) (*auth.Hospital, error) {
	if reservedSlugs[in.Slug] {
		return nil, ErrReservedSlug
	}
	h, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	before := map[string]interface{}{"name": h.Name, "slug": h.Slug}
	h.Name, h.Slug = strings.TrimSpace(in.Name), in.Slug
	if err := s.repo.Update(ctx, h); err != nil {
		return nil, err
	}
	e := actor.Entry(audit.ActionHospitalUpdate, audit.TargetHospital, &h.ID, h.Name)
	e.Changes = audit.CalculateChanges(before, map[string]interface{}{"name": h.Name, "slug": h.Slug}, "name", "slug")
	s.audit.Log(ctx, e)
	return h, nil
}

func (s *Service) Members(ctx context.Context, hospitalID uuid.UUID) ([]*Member, error) {
	return s.repo.Members(ctx, hospitalID)
}

// guardLastAdmin fails when m is the hospital's only admin.
func (s *Service) guardLastAdmin(ctx context.Context, hospitalID uuid.UUID, m *Member) error {
	if m.Role != auth.RoleHospitalAdmin {
		return nil
	}
	n, err := s.repo.CountAdmins(ctx, hospitalID)
	if err != nil {
		return err
	}
	if n <= 1 {
		return ErrLastAdmin
	}
	return nil
}

func (s *Service) ChangeRole(ctx context.Context, actor audit.Actor, hospitalID, membershipID uuid.UUID, role auth.Role) (*Member, error) {
	if !role.Valid() {
		return nil, auth.ErrInvalidRole
	}
	m, err := s.repo.GetMember(ctx, hospitalID, membershipID)
	if err != nil {
		return nil, err
	}
	if m.Role == role {
		return m, nil
	}
	if err := s.guardLastAdmin(ctx, hospitalID, m); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateRole(ctx, hospitalID, membershipID, role); err != nil {
		return nil, err
	}

	e := actor.Entry(audit.ActionMembershipUpdate, audit.TargetMembership, &m.MembershipID, m.Name)
	e.Changes = audit.Changes{"role": {Before: m.Role, After: role}}
	e.Metadata = map[string]interface{}{"userId": m.UserID.String()}
	s.audit.Log(ctx, e)

	m.Role = role
	return m, nil
}

func (s *Service) RemoveMember(ctx context.Context, actor audit.Actor, hospitalID, membershipID uuid.UUID) error {
	m, err := s.repo.GetMember(ctx, hospitalID, membershipID)
	if err != nil {
		return err
	}
	if err := s.guardLastAdmin(ctx, hospitalID, m); err != nil {
		return err
	}
	if err := s.repo.RemoveMember(ctx, hospitalID, membershipID); err != nil {
		return err
	}
	e := actor.Entry(audit.ActionMembershipDelete, audit.TargetMembership, &m.MembershipID, m.Name)
	e.Metadata = map[string]interface{}{"userId": m.UserID.String(), "email": m.Email, "role": m.Role}
	s.audit.Log(ctx, e)
	return nil
}

func (s *Service) ListInvitations(ctx context.Context, hospitalID uuid.UUID) ([]*auth.InvitationDetails, error) {
	items, err := s.invitations.ListInvitations(ctx, hospitalID)
	if items == nil {
		items = []*auth.InvitationDetails{}
	}
	return items, err
}

// Invite issues an invitation and returns the link the invitee accepts it
// through.
func (s *Service) Invite(ctx context.Context, actor audit.Actor, hospitalID uuid.UUID, in InvitationInput) (*IssuedInvitation, error) {
	inv, err := s.invitations.CreateInvitation(ctx, auth.InvitationParams{
		Email:      auth.NormalizeEmail(in.Email),
		HospitalID: hospitalID,
		Role:       in.Role,
		InvitedBy:  actor.UserID,
	})
	if err != nil {
		return nil, err
	}
	e := actor.Entry(audit.ActionInvitationCreate, audit.TargetInvitation, &inv.ID, inv.Email)
	e.Metadata = map[string]interface{}{"email": inv.Email, "role": inv.Role}
	s.audit.Log(ctx, e)
	return &IssuedInvitation{Invitation: inv, URL: s.origin + "/invite/" + inv.Token}, nil
}

// CancelInvitation revokes one of the hospital's invitations. Invitations of
// other hospitals are reported as auth.ErrNotFound.
func (s *Service) CancelInvitation(ctx context.Context, actor audit.Actor, hospitalID, invitationID uuid.UUID) error {
	items, err := s.invitations.ListInvitations(ctx, hospitalID)
	if err != nil {
		return err
	}
	var target *auth.Invitation
	for _, d := range items {
		if d.Invitation.ID == invitationID {
			target = &d.Invitation
			break
		}
	}
	if target == nil {
		return auth.ErrNotFound
	}
	if err := s.invitations.CancelInvitation(ctx, invitationID); err != nil {
		return err
	}
	e := actor.Entry(audit.ActionInvitationCancel, audit.TargetInvitation, &target.ID, target.Email)
	e.Metadata = map[string]interface{}{"email": target.Email, "role": target.Role}
	s.audit.Log(ctx, e)
	return nil
}

// ForClient lists the hospitals an API client may read: its own, or all of
// them for a system-wide client.
func (s *Service) ForClient(ctx context.Context, client *auth.APIClient) ([]APIHospital, error) {
	out := []APIHospital{}
	if client.HospitalID != nil {
		h, err := s.repo.Get(ctx, *client.HospitalID)
		if errors.Is(err, ErrNotFound) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		return append(out, toAPI(h)), nil
	}
	items, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, h := range items {
		out = append(out, toAPI(&h.Hospital))
	}
	return out, nil
}
