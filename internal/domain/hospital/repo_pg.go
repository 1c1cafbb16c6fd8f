package hospital

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pottech/document-creation/internal/platform/auth"
	"github.com/pottech/document-creation/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const hospitalCols = `h.id, h.name, h.slug, h.hospital_group_id, h.created_at, h.updated_at`

func hospitalDest(h *auth.Hospital) []interface{} {
	return []interface{}{&h.ID, &h.Name, &h.Slug, &h.HospitalGroupID, &h.CreatedAt, &h.UpdatedAt}
}

func (r *repoPG) List(ctx context.Context) ([]*Summary, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+hospitalCols+`, COUNT(m.id)
		FROM hospitals h LEFT JOIN hospital_memberships m ON m.hospital_id = h.id
		GROUP BY h.id
		ORDER BY h.name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Summary
	for rows.Next() {
		var s Summary
		if err := rows.Scan(append(hospitalDest(&s.Hospital), &s.MemberCount)...); err != nil {
			return nil, err
		}
		items = append(items, &s)
	}
	return items, rows.Err()
}

func (r *repoPG) Get(ctx context.Context, id uuid.UUID) (*auth.Hospital, error) {
	var h auth.Hospital
	err := r.conn(ctx).QueryRow(ctx, `SELECT `+hospitalCols+` FROM hospitals h WHERE h.id = $1`, id).Scan(hospitalDest(&h)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func (r *repoPG) Create(ctx context.Context, h *auth.Hospital) error {
	h.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO hospitals (id, name, slug, hospital_group_id) VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`,
		h.ID, h.Name, h.Slug, h.HospitalGroupID).Scan(&h.CreatedAt, &h.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return ErrDuplicateSlug
	}
	return err
}

func (r *repoPG) Update(ctx context.Context, h *auth.Hospital) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE hospitals SET name = $2, slug = $3, updated_at = NOW() WHERE id = $1
		RETURNING updated_at`, h.ID, h.Name, h.Slug).Scan(&h.UpdatedAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return ErrNotFound
	case db.IsUniqueViolation(err):
		return ErrDuplicateSlug
	}
	return err
}

const memberQuery = `
	SELECT m.id, u.id, u.email, u.name, m.role, m.created_at
	FROM hospital_memberships m JOIN users u ON u.id = m.user_id`

func (r *repoPG) Counts(ctx context.Context) (*Dashboard, error) {
	var d Dashboard
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT (SELECT COUNT(*) FROM hospitals), (SELECT COUNT(*) FROM users)`).
		Scan(&d.HospitalCount, &d.UserCount)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func scanMember(row pgx.Row) (*Member, error) {
	var m Member
	err := row.Scan(&m.MembershipID, &m.UserID, &m.Email, &m.Name, &m.Role, &m.JoinedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMemberMissing
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *repoPG) Members(ctx context.Context, hospitalID uuid.UUID) ([]*Member, error) {
	rows, err := r.conn(ctx).Query(ctx, memberQuery+` WHERE m.hospital_id = $1 ORDER BY m.created_at`, hospitalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	members := []*Member{}
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func (r *repoPG) GetMember(ctx context.Context, hospitalID, membershipID uuid.UUID) (*Member, error) {
	return scanMember(r.conn(ctx).QueryRow(ctx, memberQuery+` WHERE m.hospital_id = $1 AND m.id = $2`, hospitalID, membershipID))
}

func (r *repoPG) UpdateRole(ctx context.Context, hospitalID, membershipID uuid.UUID, role auth.Role) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE hospital_memberships SET role = $3 WHERE hospital_id = $1 AND id = $2`, hospitalID, membershipID, role)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrMemberMissing
	}
	return nil
}

func (r *repoPG) RemoveMember(ctx context.Context, hospitalID, membershipID uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM hospital_memberships WHERE hospital_id = $1 AND id = $2`, hospitalID, membershipID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrMemberMissing
	}
	return nil
}

func (r *repoPG) CountAdmins(ctx context.Context, hospitalID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM hospital_memberships WHERE hospital_id = $1 AND role = $2`,
		hospitalID, auth.RoleHospitalAdmin).Scan(&n)
	return n, err
}
