package patient

import (
	"context"

	"github.com/google/uuid"
)

// Repository is scoped by hospital: a patient of another hospital is
// reported as ErrNotFound.
type Repository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, hospitalID, id uuid.UUID) (*Patient, error)
	GetByNumber(ctx context.Context, hospitalID uuid.UUID, number string) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	Delete(ctx context.Context, hospitalID, id uuid.UUID) error
	List(ctx context.Context, hospitalID uuid.UUID, opts ListOptions) ([]*Patient, int, error)
}
