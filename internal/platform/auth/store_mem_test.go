package auth

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memStore is an in-memory Store for tests.
type memStore struct {
	mu          sync.Mutex
	users       map[uuid.UUID]*User
	hospitals   map[uuid.UUID]*Hospital
	memberships []*Membership
	sessions    map[string]*Session
	invitations map[uuid.UUID]*Invitation
	clients     map[string]*APIClient

	failGetSession    error
	failUpdateSession error
	failClientLookup  error
}

func newMemStore() *memStore {
	return &memStore{
		users:       map[uuid.UUID]*User{},
		hospitals:   map[uuid.UUID]*Hospital{},
		sessions:    map[string]*Session{},
		invitations: map[uuid.UUID]*Invitation{},
		clients:     map[string]*APIClient{},
	}
}

func (s *memStore) addUser(email, name string, admin bool) *User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := &User{ID: uuid.New(), Email: email, Name: name, IsServiceAdmin: admin, CreatedAt: time.Now()}
	s.users[u.ID] = u
	return u
}

func (s *memStore) addHospital(name, slug string) *Hospital {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := &Hospital{ID: uuid.New(), Name: name, Slug: slug, CreatedAt: time.Now()}
	s.hospitals[h.ID] = h
	return h
}

func (s *memStore) addMembership(userID, hospitalID uuid.UUID, role Role) *Membership {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := &Membership{ID: uuid.New(), UserID: userID, HospitalID: hospitalID, Role: role, CreatedAt: time.Now()}
	s.memberships = append(s.memberships, m)
	return m
}

func (s *memStore) membershipCount(userID, hospitalID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.memberships {
		if m.UserID == userID && m.HospitalID == hospitalID {
			n++
		}
	}
	return n
}

func (s *memStore) CreateSession(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *memStore) GetActiveSession(_ context.Context, id string, now time.Time) (*SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGetSession != nil {
		return nil, s.failGetSession
	}
	sess, ok := s.sessions[id]
	if !ok || !sess.ExpiresAt.After(now) {
		return nil, ErrNotFound
	}
	u, ok := s.users[sess.UserID]
	if !ok {
		return nil, ErrNotFound
	}
	return &SessionRecord{Session: *sess, User: *u}, nil
}

func (s *memStore) UpdateSessionTokens(_ context.Context, id, access, refresh string, exp time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpdateSession != nil {
		return s.failUpdateSession
	}
	if sess, ok := s.sessions[id]; ok {
		sess.AccessToken, sess.RefreshToken, sess.AccessTokenExpiresAt = access, refresh, exp
	}
	return nil
}

func (s *memStore) SetSessionHospital(_ context.Context, id string, hospitalID *uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		sess.CurrentHospitalID = hospitalID
	}
	return nil
}

func (s *memStore) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func (s *memStore) DeleteUserSessions(_ context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		if sess.UserID == userID {
			delete(s.sessions, id)
		}
	}
	return nil
}

func (s *memStore) HospitalContext(_ context.Context, hospitalID, userID uuid.UUID) (*HospitalContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hospitals[hospitalID]
	if !ok {
		return nil, ErrNotFound
	}
	hc := &HospitalContext{Hospital: *h}
	for _, m := range s.memberships {
		if m.UserID == userID && m.HospitalID == hospitalID {
			cp := *m
			hc.Membership = &cp
		}
	}
	return hc, nil
}

func (s *memStore) GetUser(_ context.Context, id uuid.UUID) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (s *memStore) GetUserByKeycloakID(_ context.Context, keycloakID string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.KeycloakID != nil && *u.KeycloakID == keycloakID {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memStore) GetUserByEmail(_ context.Context, email string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memStore) LinkKeycloakID(_ context.Context, userID uuid.UUID, keycloakID, name string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	u.KeycloakID = &keycloakID
	if name != "" {
		u.Name = name
	}
	cp := *u
	return &cp, nil
}

func (s *memStore) CreateUser(_ context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u.ID = uuid.New()
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *memStore) GetHospital(_ context.Context, id uuid.UUID) (*Hospital, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.hospitals[id]; ok {
		cp := *h
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (s *memStore) GetHospitalBySlug(_ context.Context, slug string) (*Hospital, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range s.hospitals {
		if h.Slug == slug {
			cp := *h
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memStore) GetMembership(_ context.Context, userID, hospitalID uuid.UUID) (*Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.memberships {
		if m.UserID == userID && m.HospitalID == hospitalID {
			cp := *m
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memStore) FirstHospital(_ context.Context, userID uuid.UUID) (*Hospital, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.memberships {
		if m.UserID == userID {
			cp := *s.hospitals[m.HospitalID]
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memStore) CreateInvitation(_ context.Context, inv *Invitation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv.ID = uuid.New()
	inv.CreatedAt = time.Now()
	cp := *inv
	s.invitations[inv.ID] = &cp
	return nil
}

func (s *memStore) details(inv *Invitation) *InvitationDetails {
	d := &InvitationDetails{Invitation: *inv}
	if h, ok := s.hospitals[inv.HospitalID]; ok {
		d.Hospital = *h
	}
	if inv.InvitedBy != nil {
		if u, ok := s.users[*inv.InvitedBy]; ok {
			d.InviterName, d.InviterEmail = u.Name, u.Email
		}
	}
	return d
}

func (s *memStore) GetPendingInvitation(_ context.Context, token string, now time.Time) (*InvitationDetails, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, inv := range s.invitations {
		if inv.Token == token && inv.Pending(now) {
			return s.details(inv), nil
		}
	}
	return nil, ErrNotFound
}

func (s *memStore) FindPendingInvitationByEmail(_ context.Context, email string, now time.Time) (*Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found []*Invitation
	for _, inv := range s.invitations {
		if inv.Email == email && inv.Pending(now) {
			found = append(found, inv)
		}
	}
	if len(found) == 0 {
		return nil, ErrNotFound
	}
	sort.Slice(found, func(i, j int) bool { return found[i].CreatedAt.Before(found[j].CreatedAt) })
	cp := *found[0]
	return &cp, nil
}

// AcceptInvitation mirrors the single-transaction store: the accept and the
// conflict-ignoring membership insert happen under one lock.
func (s *memStore) AcceptInvitation(_ context.Context, invitationID, userID uuid.UUID, now time.Time) (*Acceptance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invitations[invitationID]
	if !ok || !inv.Pending(now) {
		return nil, ErrNotFound
	}
	accepted := now
	inv.AcceptedAt = &accepted
	exists := false
	for _, m := range s.memberships {
		if m.UserID == userID && m.HospitalID == inv.HospitalID {
			exists = true
		}
	}
	if !exists {
		s.memberships = append(s.memberships, &Membership{
			ID: uuid.New(), UserID: userID, HospitalID: inv.HospitalID, Role: inv.Role, CreatedAt: now,
		})
	}
	return &Acceptance{HospitalID: inv.HospitalID, Role: inv.Role}, nil
}

func (s *memStore) ListInvitations(_ context.Context, hospitalID uuid.UUID) ([]*InvitationDetails, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*InvitationDetails
	for _, inv := range s.invitations {
		if inv.HospitalID == hospitalID {
			out = append(out, s.details(inv))
		}
	}
	return out, nil
}

func (s *memStore) DeleteInvitation(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.invitations[id]; !ok {
		return ErrNotFound
	}
	delete(s.invitations, id)
	return nil
}

func (s *memStore) GetAPIClientByKeycloakID(_ context.Context, clientID string) (*APIClient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failClientLookup != nil {
		return nil, s.failClientLookup
	}
	if c, ok := s.clients[clientID]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, ErrNotFound
}

var _ Store = (*memStore)(nil)
