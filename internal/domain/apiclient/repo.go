package apiclient

import (
	"context"

	"github.com/google/uuid"

	"github.com/pottech/document-creation/internal/platform/auth"
)

type Repository interface {
	List(ctx context.Context, f ListFilter) ([]*Details, error)
	Get(ctx context.Context, id uuid.UUID) (*Details, error)
	Create(ctx context.Context, c *auth.APIClient) error
	SetEnabled(ctx context.Context, id uuid.UUID, enabled bool) error
	// Touch bumps updated_at, e.g. after a secret rotation.
	Touch(ctx context.Context, id uuid.UUID) error
	Delete(ctx context.Context, id uuid.UUID) error
}
