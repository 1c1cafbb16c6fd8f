package careplan

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pottech/document-creation/internal/domain/patient"
	"github.com/pottech/document-creation/internal/platform/audit"
	"github.com/pottech/document-creation/internal/platform/auth"
)

// PatientLookup finds a patient of a hospital.
type PatientLookup interface {
	Lookup(ctx context.Context, hospitalID, id uuid.UUID) (*patient.Patient, error)
}

// MemberLookup resolves a user's membership in a hospital.
type MemberLookup interface {
	GetMembership(ctx context.Context, userID, hospitalID uuid.UUID) (*auth.Membership, error)
}

// Input is a care plan form. A nil Staffs keeps the current assignments on
// update.
type Input struct {
	Content
	Staffs []Staff `json:"staffs" validate:"omitempty,dive"`
}

// Draft prefills the form for a patient's next plan.
type Draft struct {
	Patient            *patient.Patient `json:"patient"`
	Latest             *CarePlan        `json:"latest,omitempty"`
	NextSequenceNumber int              `json:"nextSequenceNumber"`
	IsInitial          bool             `json:"isInitial"`
}

type Service struct {
	repo     Repository
	patients PatientLookup
	members  MemberLookup
	audit    *audit.Logger
	now      func() time.Time
}

func NewService(repo Repository, patients PatientLookup, members MemberLookup, auditLog *audit.Logger) *Service {
	return &Service{repo: repo, patients: patients, members: members, audit: auditLog, now: time.Now}
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func (s *Service) validate(ctx context.Context, hospitalID uuid.UUID, in *Input) error {
	c := &in.Content
	if !c.PlanType.Valid() {
		return invalid("planType must be initial or continuous")
	}
	if c.RecordDate.IsZero() || c.ConsultationDate.IsZero() {
		return invalid("recordDate and consultationDate are required")
	}
	if !c.HasDiabetes && !c.HasHypertension && !c.HasHyperlipidemia {
		return invalid("at least one primary disease is required")
	}
	if c.Status == "" {
		c.Status = StatusDraft
	}
	if !c.Status.Valid() {
		return invalid("status must be draft, completed or signed")
	}
	if c.PostMealHours != nil && c.BloodGlucoseCondition != GlucosePostprandial {
		return invalid("bloodGlucosePostMealHours requires a postprandial measurement")
	}
	for _, f := range []*string{
		&c.DietarySituation, &c.ExerciseSituation, &c.SmokingSituation, &c.OtherLifestyle,
		&c.AchievementGoal, &c.BehaviorGoal, &c.GoalAchievementStatus, &c.NextGoal,
		&c.TreatmentIssues, &c.OtherFacilityUsage, &c.PatientSignature,
	} {
		*f = strings.TrimSpace(*f)
	}

	for _, id := range []*uuid.UUID{c.PrimaryDoctorID, c.SecondaryDoctorID} {
		if id == nil {
			continue
		}
		if err := s.requireMember(ctx, hospitalID, *id); err != nil {
			return err
		}
	}

	type slot struct {
		area  GuidanceArea
		order int
	}
	seen := map[slot]bool{}
	for i := range in.Staffs {
		st := &in.Staffs[i]
		if !st.GuidanceArea.Valid() {
			return invalid("unknown guidance area %q", st.GuidanceArea)
		}
		if st.DisplayOrder == 0 {
			st.DisplayOrder = 1
		}
		k := slot{st.GuidanceArea, st.DisplayOrder}
		if seen[k] {
			return invalid("duplicate staff for %s at position %d", st.GuidanceArea, st.DisplayOrder)
		}
		seen[k] = true
		if err := s.requireMember(ctx, hospitalID, st.UserID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) requireMember(ctx context.Context, hospitalID, userID uuid.UUID) error {
	_, err := s.members.GetMembership(ctx, userID, hospitalID)
	if errors.Is(err, auth.ErrNotFound) {
		return invalid("user %s is not a member of this hospital", userID)
	}
	return err
}

func targetName(p *patient.Patient, seq int) string {
	return fmt.Sprintf("%s #%d", p.Name, seq)
}

// NewDraft returns what the form for the patient's next plan starts from.
func (s *Service) NewDraft(ctx context.Context, hospitalID, patientID uuid.UUID) (*Draft, error) {
	p, err := s.patients.Lookup(ctx, hospitalID, patientID)
	if err != nil {
		return nil, err
	}
	n, err := s.repo.CountForPatient(ctx, hospitalID, patientID)
	if err != nil {
		return nil, err
	}
	d := &Draft{Patient: p, NextSequenceNumber: n + 1, IsInitial: n == 0}
	if n > 0 {
		if d.Latest, err = s.repo.Latest(ctx, hospitalID, patientID); err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return d, nil
}

func (s *Service) Create(ctx context.Context, actor audit.Actor, hospitalID, patientID uuid.UUID, in Input) (*CarePlan, error) {
	p, err := s.patients.Lookup(ctx, hospitalID, patientID)
	if err != nil {
		return nil, err
	}
	if err := s.validate(ctx, hospitalID, &in); err != nil {
		return nil, err
	}
	n, err := s.repo.CountForPatient(ctx, hospitalID, patientID)
	if err != nil {
		return nil, err
	}

	cp := &CarePlan{
		HospitalID:     hospitalID,
		PatientID:      patientID,
		SequenceNumber: n + 1,
		Content:        in.Content,
		BMI:            BMI(in.Height, in.WeightCurrent),
	}
	if actor.UserID != uuid.Nil {
		createdBy := actor.UserID
		cp.CreatedBy = &createdBy
	}
	staffs := in.Staffs
	if staffs == nil {
		staffs = []Staff{}
	}
	if err := s.repo.Create(ctx, cp, staffs); err != nil {
		return nil, err
	}

	e := actor.Entry(audit.ActionCarePlanCreate, audit.TargetCarePlan, &cp.ID, targetName(p, cp.SequenceNumber))
	e.Metadata = map[string]interface{}{"patientId": patientID.String(), "planType": cp.PlanType, "status": cp.Status}
	s.audit.Log(ctx, e)
	return cp, nil
}

// Get returns the plan with its patient, doctors and staff, and records the
// view.
func (s *Service) Get(ctx context.Context, actor audit.Actor, hospitalID, patientID, id uuid.UUID) (*Details, error) {
	d, err := s.repo.GetDetails(ctx, hospitalID, id)
	if err != nil {
		return nil, err
	}
	if d.PatientID != patientID {
		return nil, ErrNotFound
	}
	e := actor.Entry(audit.ActionCarePlanView, audit.TargetCarePlan, &d.ID, fmt.Sprintf("%s #%d", d.Patient.Name, d.SequenceNumber))
	s.audit.Log(ctx, e)
	return d, nil
}

func (s *Service) load(ctx context.Context, hospitalID, patientID, id uuid.UUID) (*CarePlan, *patient.Patient, error) {
	cp, err := s.repo.GetByID(ctx, hospitalID, id)
	if err != nil {
		return nil, nil, err
	}
	if cp.PatientID != patientID {
		return nil, nil, ErrNotFound
	}
	p, err := s.patients.Lookup(ctx, hospitalID, patientID)
	if err != nil {
		return nil, nil, err
	}
	return cp, p, nil
}

// Update replaces the form content of a plan. Signed plans are frozen.
func (s *Service) Update(ctx context.Context, actor audit.Actor, hospitalID, patientID, id uuid.UUID, in Input) (*CarePlan, error) {
	cp, p, err := s.load(ctx, hospitalID, patientID, id)
	if err != nil {
		return nil, err
	}
	if cp.Status == StatusSigned {
		return nil, ErrSigned
	}
	if err := s.validate(ctx, hospitalID, &in); err != nil {
		return nil, err
	}

	before := cp.Fields()
	cp.Content = in.Content
	cp.BMI = BMI(cp.Height, cp.WeightCurrent)
	if err := s.repo.Update(ctx, cp, in.Staffs); err != nil {
		return nil, err
	}

	name := targetName(p, cp.SequenceNumber)
	e := actor.Entry(audit.ActionCarePlanUpdate, audit.TargetCarePlan, &cp.ID, name)
	e.Changes = audit.CalculateChanges(before, cp.Fields(), auditedFields...)
	s.audit.Log(ctx, e)
	if cp.Status == StatusSigned {
		s.audit.Log(ctx, actor.Entry(audit.ActionCarePlanSign, audit.TargetCarePlan, &cp.ID, name))
	}
	return cp, nil
}

func (s *Service) Delete(ctx context.Context, actor audit.Actor, hospitalID, patientID, id uuid.UUID) error {
	cp, p, err := s.load(ctx, hospitalID, patientID, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, hospitalID, id); err != nil {
		return err
	}
	e := actor.Entry(audit.ActionCarePlanDelete, audit.TargetCarePlan, &cp.ID, targetName(p, cp.SequenceNumber))
	e.Metadata = map[string]interface{}{"patientId": patientID.String(), "status": cp.Status}
	s.audit.Log(ctx, e)
	return nil
}

// ListForPatient lists a patient's plans, newest consultation first.
func (s *Service) ListForPatient(ctx context.Context, hospitalID, patientID uuid.UUID, limit, offset int) ([]*ListItem, int, error) {
	if _, err := s.patients.Lookup(ctx, hospitalID, patientID); err != nil {
		return nil, 0, err
	}
	return s.repo.List(ctx, hospitalID, ListOptions{PatientID: &patientID, Limit: limit, Offset: offset})
}

func (s *Service) List(ctx context.Context, hospitalID uuid.UUID, opts ListOptions) ([]*ListItem, int, error) {
	if opts.Status != "" && !opts.Status.Valid() {
		return nil, 0, invalid("unknown status %q", opts.Status)
	}
	if opts.PlanType != "" && !opts.PlanType.Valid() {
		return nil, 0, invalid("unknown planType %q", opts.PlanType)
	}
	return s.repo.List(ctx, hospitalID, opts)
}

func (s *Service) Stats(ctx context.Context, hospitalID uuid.UUID, from, to patient.Date) (*Stats, error) {
	return s.repo.Stats(ctx, hospitalID, from, to)
}

// DailyCounts returns consultation counts for each day of one month. A zero
// year or month means the current one.
func (s *Service) DailyCounts(ctx context.Context, hospitalID uuid.UUID, year int, month time.Month) ([]DayCount, error) {
	now := s.now()
	if year == 0 {
		year = now.Year()
	}
	if month == 0 {
		month = now.Month()
	}
	if month < time.January || month > time.December {
		return nil, invalid("month must be between 1 and 12")
	}
	from := patient.NewDate(year, month, 1)
	to := patient.Date{Time: from.AddDate(0, 1, -1)}
	return s.repo.DailyCounts(ctx, hospitalID, from, to)
}
