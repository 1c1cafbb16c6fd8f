package apiclient

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

const detailsQuery = `
	SELECT c.id, c.hospital_id, c.keycloak_client_id, c.name, COALESCE(c.description, ''), c.is_enabled,
		c.created_by, c.created_at, c.updated_at,
		h.id, h.name, h.slug,
		u.id, u.name, u.email
	FROM api_clients c
	LEFT JOIN hospitals h ON h.id = c.hospital_id
	LEFT JOIN users u ON u.id = c.created_by`

func scanDetails(row pgx.Row) (*Details, error) {
	var d Details
	var hID, uID *uuid.UUID
	var hName, hSlug, uName, uEmail *string
	err := row.Scan(&d.ID, &d.HospitalID, &d.KeycloakClientID, &d.Name, &d.Description, &d.IsEnabled,
		&d.CreatedBy, &d.CreatedAt, &d.UpdatedAt,
		&hID, &hName, &hSlug, &uID, &uName, &uEmail)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if hID != nil {
		d.Hospital = &HospitalRef{ID: *hID, Name: *hName, Slug: *hSlug}
	}
	if uID != nil {
		d.CreatedByUser = &UserRef{ID: *uID, Name: *uName, Email: *uEmail}
	}
	return &d, nil
}

func (r *repoPG) List(ctx context.Context, f ListFilter) ([]*Details, error) {
	query := detailsQuery
	var args []interface{}
	switch {
	case f.SystemOnly:
		query += ` WHERE c.hospital_id IS NULL`
	case f.HospitalID != nil:
		query += ` WHERE c.hospital_id = $1`
		args = append(args, *f.HospitalID)
	}
	rows, err := r.conn(ctx).Query(ctx, query+` ORDER BY c.created_at`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []*Details{}
	for rows.Next() {
		d, err := scanDetails(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	return items, rows.Err()
}

func (r *repoPG) Get(ctx context.Context, id uuid.UUID) (*Details, error) {
	return scanDetails(r.conn(ctx).QueryRow(ctx, detailsQuery+` WHERE c.id = $1`, id))
}

func (r *repoPG) Create(ctx context.Context, c *auth.APIClient) error {
	c.ID = uuid.New()
	var desc *string
	if c.Description != "" {
		desc = &c.Description
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO api_clients (id, hospital_id, keycloak_client_id, name, description, is_enabled, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		c.ID, c.HospitalID, c.KeycloakClientID, c.Name, desc, c.IsEnabled, c.CreatedBy,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
}

func (r *repoPG) exec(ctx context.Context, sql string, args ...interface{}) error {
	tag, err := r.conn(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	return r.exec(ctx, `UPDATE api_clients SET is_enabled = $2, updated_at = NOW() WHERE id = $1`, id, enabled)
}

func (r *repoPG) Touch(ctx context.Context, id uuid.UUID) error {
	return r.exec(ctx, `UPDATE api_clients SET updated_at = NOW() WHERE id = $1`, id)
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	return r.exec(ctx, `DELETE FROM api_clients WHERE id = $1`, id)
}
