package careplan

import (
	"context"

	"github.com/google/uuid"

	"github.com/pottech/document-creation/internal/domain/patient"
)

// Repository is scoped by hospital: a care plan of another hospital is
// reported as ErrNotFound.
type Repository interface {
	// Create inserts cp and its staff assignments as one unit of work.
	Create(ctx context.Context, cp *CarePlan, staffs []Staff) error
	GetByID(ctx context.Context, hospitalID, id uuid.UUID) (*CarePlan, error)
	GetDetails(ctx context.Context, hospitalID, id uuid.UUID) (*Details, error)
	// Update saves cp. A nil staffs leaves the assignments untouched; a
	// non-nil one replaces them.
	Update(ctx context.Context, cp *CarePlan, staffs []Staff) error
	Delete(ctx context.Context, hospitalID, id uuid.UUID) error
	List(ctx context.Context, hospitalID uuid.UUID, opts ListOptions) ([]*ListItem, int, error)
	// Latest returns the patient's most recently created plan.
	Latest(ctx context.Context, hospitalID, patientID uuid.UUID) (*CarePlan, error)
	CountForPatient(ctx context.Context, hospitalID, patientID uuid.UUID) (int, error)
	Stats(ctx context.Context, hospitalID uuid.UUID, from, to patient.Date) (*Stats, error)
	DailyCounts(ctx context.Context, hospitalID uuid.UUID, from, to patient.Date) ([]DayCount, error)
}
