package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pottech/document-creation/internal/platform/db"
)

// PGStore is the PostgreSQL implementation of Store.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

var _ Store = (*PGStore)(nil)

func (s *PGStore) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, s.pool)
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// -- sessions --

func (s *PGStore) CreateSession(ctx context.Context, sess *Session) error {
	_, err := s.conn(ctx).Exec(ctx, `
		INSERT INTO sessions (id, user_id, current_hospital_id, access_token, refresh_token,
			access_token_expires_at, expires_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		sess.ID, sess.UserID, sess.CurrentHospitalID, sess.AccessToken, nullString(sess.RefreshToken),
		sess.AccessTokenExpiresAt, sess.ExpiresAt, sess.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *PGStore) GetActiveSession(ctx context.Context, id string, now time.Time) (*SessionRecord, error) {
	var rec SessionRecord
	var refresh *string
	err := s.conn(ctx).QueryRow(ctx, `
		SELECT s.id, s.user_id, s.current_hospital_id, s.access_token, s.refresh_token,
			s.access_token_expires_at, s.expires_at, s.created_at,
			`+userColsU+`
		FROM sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.id = $1 AND s.expires_at > $2`, id, now).Scan(
		&rec.Session.ID, &rec.Session.UserID, &rec.Session.CurrentHospitalID, &rec.Session.AccessToken, &refresh,
		&rec.Session.AccessTokenExpiresAt, &rec.Session.ExpiresAt, &rec.Session.CreatedAt,
		&rec.User.ID, &rec.User.KeycloakID, &rec.User.Email, &rec.User.Name, &rec.User.IsServiceAdmin,
		&rec.User.CreatedAt, &rec.User.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	if refresh != nil {
		rec.Session.RefreshToken = *refresh
	}
	return &rec, nil
}

func (s *PGStore) UpdateSessionTokens(ctx context.Context, id, accessToken, refreshToken string, accessTokenExpiresAt time.Time) error {
	_, err := s.conn(ctx).Exec(ctx, `
		UPDATE sessions SET access_token = $2, refresh_token = $3, access_token_expires_at = $4
		WHERE id = $1`, id, accessToken, nullString(refreshToken), accessTokenExpiresAt)
	return err
}

func (s *PGStore) SetSessionHospital(ctx context.Context, id string, hospitalID *uuid.UUID) error {
	_, err := s.conn(ctx).Exec(ctx, `UPDATE sessions SET current_hospital_id = $2 WHERE id = $1`, id, hospitalID)
	return err
}

func (s *PGStore) DeleteSession(ctx context.Context, id string) error {
	_, err := s.conn(ctx).Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	return err
}

func (s *PGStore) DeleteUserSessions(ctx context.Context, userID uuid.UUID) error {
	_, err := s.conn(ctx).Exec(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID)
	return err
}

func (s *PGStore) HospitalContext(ctx context.Context, hospitalID, userID uuid.UUID) (*HospitalContext, error) {
	var hc HospitalContext
	var (
		mID        *uuid.UUID
		mRole      *string
		mCreatedAt *time.Time
	)
	err := s.conn(ctx).QueryRow(ctx, `
		SELECT `+hospitalColsH+`, m.id, m.role, m.created_at
		FROM hospitals h
		LEFT JOIN hospital_memberships m ON m.hospital_id = h.id AND m.user_id = $2
		WHERE h.id = $1`, hospitalID, userID).Scan(
		&hc.Hospital.ID, &hc.Hospital.Name, &hc.Hospital.Slug, &hc.Hospital.HospitalGroupID,
		&hc.Hospital.CreatedAt, &hc.Hospital.UpdatedAt,
		&mID, &mRole, &mCreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	if mID != nil {
		hc.Membership = &Membership{
			ID: *mID, UserID: userID, HospitalID: hospitalID, Role: Role(*mRole), CreatedAt: *mCreatedAt,
		}
	}
	return &hc, nil
}

// -- users --

const userCols = `id, keycloak_id, email, name, is_service_admin, created_at, updated_at`

const userColsU = `u.id, u.keycloak_id, u.email, u.name, u.is_service_admin, u.created_at, u.updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.KeycloakID, &u.Email, &u.Name, &u.IsServiceAdmin, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (s *PGStore) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	return scanUser(s.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id))
}

func (s *PGStore) GetUserByKeycloakID(ctx context.Context, keycloakID string) (*User, error) {
	return scanUser(s.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE keycloak_id = $1`, keycloakID))
}

func (s *PGStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(s.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE lower(email) = lower($1)`, email))
}

func (s *PGStore) LinkKeycloakID(ctx context.Context, userID uuid.UUID, keycloakID, name string) (*User, error) {
	return scanUser(s.conn(ctx).QueryRow(ctx, `
		UPDATE users SET keycloak_id = $2, name = COALESCE(NULLIF($3, ''), name), updated_at = NOW()
		WHERE id = $1
		RETURNING `+userCols, userID, keycloakID, name))
}

func (s *PGStore) CreateUser(ctx context.Context, u *User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	err := s.conn(ctx).QueryRow(ctx, `
		INSERT INTO users (id, keycloak_id, email, name, is_service_admin)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at, updated_at`,
		u.ID, u.KeycloakID, u.Email, u.Name, u.IsServiceAdmin).Scan(&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// -- hospitals and memberships --

const hospitalCols = `id, name, slug, hospital_group_id, created_at, updated_at`

const hospitalColsH = `h.id, h.name, h.slug, h.hospital_group_id, h.created_at, h.updated_at`

func scanHospital(row pgx.Row) (*Hospital, error) {
	var h Hospital
	if err := row.Scan(&h.ID, &h.Name, &h.Slug, &h.HospitalGroupID, &h.CreatedAt, &h.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	return &h, nil
}

func (s *PGStore) GetHospital(ctx context.Context, id uuid.UUID) (*Hospital, error) {
	return scanHospital(s.conn(ctx).QueryRow(ctx, `SELECT `+hospitalCols+` FROM hospitals WHERE id = $1`, id))
}

func (s *PGStore) GetHospitalBySlug(ctx context.Context, slug string) (*Hospital, error) {
	return scanHospital(s.conn(ctx).QueryRow(ctx, `SELECT `+hospitalCols+` FROM hospitals WHERE slug = $1`, slug))
}

func (s *PGStore) FirstHospital(ctx context.Context, userID uuid.UUID) (*Hospital, error) {
	return scanHospital(s.conn(ctx).QueryRow(ctx, `
		SELECT `+hospitalColsH+`
		FROM hospital_memberships m
		JOIN hospitals h ON h.id = m.hospital_id
		WHERE m.user_id = $1
		ORDER BY m.created_at
		LIMIT 1`, userID))
}

func (s *PGStore) GetMembership(ctx context.Context, userID, hospitalID uuid.UUID) (*Membership, error) {
	var m Membership
	err := s.conn(ctx).QueryRow(ctx, `
		SELECT id, user_id, hospital_id, role, created_at
		FROM hospital_memberships WHERE user_id = $1 AND hospital_id = $2`, userID, hospitalID).Scan(
		&m.ID, &m.UserID, &m.HospitalID, &m.Role, &m.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

// -- invitations --

const invitationCols = `i.id, i.email, i.hospital_id, i.role, i.invited_by, i.token, i.expires_at, i.accepted_at, i.created_at`

func scanInvitation(row pgx.Row, extra ...interface{}) (*Invitation, error) {
	var inv Invitation
	dest := append([]interface{}{&inv.ID, &inv.Email, &inv.HospitalID, &inv.Role, &inv.InvitedBy,
		&inv.Token, &inv.ExpiresAt, &inv.AcceptedAt, &inv.CreatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, notFound(err)
	}
	return &inv, nil
}

func (s *PGStore) CreateInvitation(ctx context.Context, inv *Invitation) error {
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	err := s.conn(ctx).QueryRow(ctx, `
		INSERT INTO invitations (id, email, hospital_id, role, invited_by, token, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at`,
		inv.ID, inv.Email, inv.HospitalID, inv.Role, inv.InvitedBy, inv.Token, inv.ExpiresAt).Scan(&inv.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert invitation: %w", err)
	}
	return nil
}

const invitationDetailsQuery = `
	SELECT ` + invitationCols + `, ` + hospitalColsH + `,
		COALESCE(u.name, ''), COALESCE(u.email, '')
	FROM invitations i
	JOIN hospitals h ON h.id = i.hospital_id
	LEFT JOIN users u ON u.id = i.invited_by`

func scanInvitationDetails(row pgx.Row) (*InvitationDetails, error) {
	var d InvitationDetails
	inv, err := scanInvitation(row,
		&d.Hospital.ID, &d.Hospital.Name, &d.Hospital.Slug, &d.Hospital.HospitalGroupID,
		&d.Hospital.CreatedAt, &d.Hospital.UpdatedAt,
		&d.InviterName, &d.InviterEmail)
	if err != nil {
		return nil, err
	}
	d.Invitation = *inv
	return &d, nil
}

func (s *PGStore) GetPendingInvitation(ctx context.Context, token string, now time.Time) (*InvitationDetails, error) {
	return scanInvitationDetails(s.conn(ctx).QueryRow(ctx, invitationDetailsQuery+`
		WHERE i.token = $1 AND i.accepted_at IS NULL AND i.expires_at > $2`, token, now))
}

func (s *PGStore) FindPendingInvitationByEmail(ctx context.Context, email string, now time.Time) (*Invitation, error) {
	return scanInvitation(s.conn(ctx).QueryRow(ctx, `
		SELECT `+invitationCols+` FROM invitations i
		WHERE lower(i.email) = lower($1) AND i.accepted_at IS NULL AND i.expires_at > $2
		ORDER BY i.created_at
		LIMIT 1`, email, now))
}

func (s *PGStore) AcceptInvitation(ctx context.Context, invitationID, userID uuid.UUID, now time.Time) (*Acceptance, error) {
	var acc Acceptance
	err := db.RunInTx(ctx, s.pool, func(ctx context.Context) error {
		err := s.conn(ctx).QueryRow(ctx, `
			UPDATE invitations SET accepted_at = $2
			WHERE id = $1 AND accepted_at IS NULL AND expires_at > $2
			RETURNING hospital_id, role`, invitationID, now).Scan(&acc.HospitalID, &acc.Role)
		if err != nil {
			return notFound(err)
		}
		_, err = s.conn(ctx).Exec(ctx, `
			INSERT INTO hospital_memberships (id, user_id, hospital_id, role)
			VALUES ($1,$2,$3,$4)
			ON CONFLICT (user_id, hospital_id) DO NOTHING`,
			uuid.New(), userID, acc.HospitalID, acc.Role)
		if err != nil {
			return fmt.Errorf("insert membership: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

func (s *PGStore) ListInvitations(ctx context.Context, hospitalID uuid.UUID) ([]*InvitationDetails, error) {
	rows, err := s.conn(ctx).Query(ctx, invitationDetailsQuery+`
		WHERE i.hospital_id = $1
		ORDER BY i.created_at`, hospitalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*InvitationDetails
	for rows.Next() {
		d, err := scanInvitationDetails(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	return items, rows.Err()
}

func (s *PGStore) DeleteInvitation(ctx context.Context, id uuid.UUID) error {
	tag, err := s.conn(ctx).Exec(ctx, `DELETE FROM invitations WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// -- api clients --

func (s *PGStore) GetAPIClientByKeycloakID(ctx context.Context, clientID string) (*APIClient, error) {
	var c APIClient
	var desc *string
	err := s.conn(ctx).QueryRow(ctx, `
		SELECT id, hospital_id, keycloak_client_id, name, description, is_enabled, created_by, created_at, updated_at
		FROM api_clients WHERE keycloak_client_id = $1`, clientID).Scan(
		&c.ID, &c.HospitalID, &c.KeycloakClientID, &c.Name, &desc, &c.IsEnabled, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	if desc != nil {
		c.Description = *desc
	}
	return &c, nil
}
