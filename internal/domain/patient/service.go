package patient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pottech/document-creation/internal/platform/audit"
)

var ErrInvalidInput = errors.New("invalid patient")

var auditedFields = []string{"patientNumber", "name", "nameKana", "birthDate", "gender"}

// Input is the editable part of a patient. PatientNumber is ignored on
// update.
type Input struct {
	PatientNumber string `json:"patientNumber" validate:"omitempty,max=50"`
	Name          string `json:"name" validate:"required,max=100"`
	NameKana      string `json:"nameKana" validate:"max=100"`
	BirthDate     Date   `json:"birthDate"`
	Gender        Gender `json:"gender" validate:"required,oneof=male female"`
}

type Service struct {
	repo  Repository
	audit *audit.Logger
	now   func() time.Time
}

func NewService(repo Repository, auditLog *audit.Logger) *Service {
	return &Service{repo: repo, audit: auditLog, now: time.Now}
}

func (s *Service) validate(in *Input) error {
	in.Name = strings.TrimSpace(in.Name)
	in.NameKana = strings.TrimSpace(in.NameKana)
	if in.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if !in.Gender.Valid() {
		return fmt.Errorf("%w: gender must be male or female", ErrInvalidInput)
	}
	if in.BirthDate.IsZero() {
		return fmt.Errorf("%w: birthDate is required", ErrInvalidInput)
	}
	if in.BirthDate.After(s.now()) {
		return fmt.Errorf("%w: birthDate is in the future", ErrInvalidInput)
	}
	return nil
}

func (s *Service) Create(ctx context.Context, actor audit.Actor, hospitalID uuid.UUID, in Input) (*Patient, error) {
	in.PatientNumber = strings.TrimSpace(in.PatientNumber)
	if in.PatientNumber == "" {
		return nil, fmt.Errorf("%w: patientNumber is required", ErrInvalidInput)
	}
	if err := s.validate(&in); err != nil {
		return nil, err
	}

	if _, err := s.repo.GetByNumber(ctx, hospitalID, in.PatientNumber); err == nil {
		return nil, ErrDuplicateNumber
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	p := &Patient{
		HospitalID:    hospitalID,
		PatientNumber: in.PatientNumber,
		Name:          in.Name,
		NameKana:      in.NameKana,
		BirthDate:     in.BirthDate,
		Gender:        in.Gender,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}

	e := actor.Entry(audit.ActionPatientCreate, audit.TargetPatient, &p.ID, p.Name)
	e.Metadata = map[string]interface{}{"patientNumber": p.PatientNumber}
	s.audit.Log(ctx, e)
	return p, nil
}

// Get returns a patient of the hospital and records the view.
func (s *Service) Get(ctx context.Context, actor audit.Actor, hospitalID, id uuid.UUID) (*Patient, error) {
	p, err := s.repo.GetByID(ctx, hospitalID, id)
	if err != nil {
		return nil, err
	}
	s.audit.Log(ctx, actor.Entry(audit.ActionPatientView, audit.TargetPatient, &p.ID, p.Name))
	return p, nil
}

// Lookup returns a patient of the hospital without recording a view.
func (s *Service) Lookup(ctx context.Context, hospitalID, id uuid.UUID) (*Patient, error) {
	return s.repo.GetByID(ctx, hospitalID, id)
}

func (s *Service) Update(ctx context.Context, actor audit.Actor, hospitalID, id uuid.UUID, in Input) (*Patient, error) {
	if err := s.validate(&in); err != nil {
		return nil, err
	}
	p, err := s.repo.GetByID(ctx, hospitalID, id)
	if err != nil {
		return nil, err
	}
	before := p.Fields()

	p.Name, p.NameKana, p.BirthDate, p.Gender = in.Name, in.NameKana, in.BirthDate, in.Gender
	if err := s.repo.Update(ctx, p); err != nil {
		return nil, err
	}

	e := actor.Entry(audit.ActionPatientUpdate, audit.TargetPatient, &p.ID, p.Name)
	e.Changes = audit.CalculateChanges(before, p.Fields(), auditedFields...)
	s.audit.Log(ctx, e)
	return p, nil
}

func (s *Service) Delete(ctx context.Context, actor audit.Actor, hospitalID, id uuid.UUID) error {
	p, err := s.repo.GetByID(ctx, hospitalID, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, hospitalID, id); err != nil {
		return err
	}
	e := actor.Entry(audit.ActionPatientDelete, audit.TargetPatient, &p.ID, p.Name)
	e.Metadata = map[string]interface{}{"patientNumber": p.PatientNumber}
	s.audit.Log(ctx, e)
	return nil
}

func (s *Service) List(ctx context.Context, hospitalID uuid.UUID, opts ListOptions) ([]*Patient, int, error) {
	opts.Search = strings.TrimSpace(opts.Search)
	return s.repo.List(ctx, hospitalID, opts)
}
