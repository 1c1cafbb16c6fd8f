package hospital

import (
	"context"

	"github.com/google/uuid"

	"github.com/pottech/document-creation/internal/platform/auth"
)

type Repository interface {
	List(ctx context.Context) ([]*Summary, error)
	Get(ctx context.Context, id uuid.UUID) (*auth.Hospital, error)
	Create(ctx context.Context, h *auth.Hospital) error
	Update(ctx context.Context, h *auth.Hospital) error
	// Counts returns the number of hospitals and users.
	Counts(ctx context.Context) (*Dashboard, error)

	Members(ctx context.Context, hospitalID uuid.UUID) ([]*Member, error)
	GetMember(ctx context.Context, hospitalID, membershipID uuid.UUID) (*Member, error)
	UpdateRole(ctx context.Context, hospitalID, membershipID uuid.UUID, role auth.Role) error
	RemoveMember(ctx context.Context, hospitalID, membershipID uuid.UUID) error
	CountAdmins(ctx context.Context, hospitalID uuid.UUID) (int, error)
}
