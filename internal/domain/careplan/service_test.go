package careplan

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pottech/document-creation/internal/domain/patient"
	"github.com/pottech/document-creation/internal/platform/audit"
	"github.com/pottech/document-creation/internal/platform/auth"
)

type mockRepo struct {
	plans  map[uuid.UUID]*CarePlan
	staffs map[uuid.UUID][]Staff
	order  int
}

func newMockRepo() *mockRepo {
	return &mockRepo{plans: map[uuid.UUID]*CarePlan{}, staffs: map[uuid.UUID][]Staff{}}
}

func (m *mockRepo) Create(_ context.Context, cp *CarePlan, staffs []Staff) error {
	cp.ID = uuid.New()
	m.order++
	cp.CreatedAt = time.Date(2024, 1, 1, 0, 0, m.order, 0, time.UTC)
	cp.UpdatedAt = cp.CreatedAt
	c := *cp
	m.plans[cp.ID] = &c
	m.staffs[cp.ID] = staffs
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, hospitalID, id uuid.UUID) (*CarePlan, error) {
	cp, ok := m.plans[id]
	if !ok || cp.HospitalID != hospitalID {
		return nil, ErrNotFound
	}
	c := *cp
	return &c, nil
}

func (m *mockRepo) GetDetails(ctx context.Context, hospitalID, id uuid.UUID) (*Details, error) {
	cp, err := m.GetByID(ctx, hospitalID, id)
	if err != nil {
		return nil, err
	}
	return &Details{CarePlan: cp, Patient: patient.Summary{ID: cp.PatientID, Name: "Yamada Taro"}, Staffs: m.staffs[id]}, nil
}

func (m *mockRepo) Update(_ context.Context, cp *CarePlan, staffs []Staff) error {
	cur, ok := m.plans[cp.ID]
	if !ok || cur.HospitalID != cp.HospitalID {
		return ErrNotFound
	}
	c := *cp
	m.plans[cp.ID] = &c
	if staffs != nil {
		m.staffs[cp.ID] = staffs
	}
	return nil
}

func (m *mockRepo) Delete(_ context.Context, hospitalID, id uuid.UUID) error {
	cp, ok := m.plans[id]
	if !ok || cp.HospitalID != hospitalID {
		return ErrNotFound
	}
	delete(m.plans, id)
	return nil
}

func (m *mockRepo) List(_ context.Context, hospitalID uuid.UUID, opts ListOptions) ([]*ListItem, int, error) {
	var r []*ListItem
	for _, cp := range m.plans {
		if cp.HospitalID != hospitalID || (opts.PatientID != nil && cp.PatientID != *opts.PatientID) {
			continue
		}
		if opts.Status != "" && cp.Status != opts.Status {
			continue
		}
		r = append(r, &ListItem{ID: cp.ID, PlanType: cp.PlanType, SequenceNumber: cp.SequenceNumber,
			ConsultationDate: cp.ConsultationDate, Status: cp.Status, CreatedAt: cp.CreatedAt})
	}
	sort.Slice(r, func(i, j int) bool { return r[i].SequenceNumber > r[j].SequenceNumber })
	return r, len(r), nil
}

func (m *mockRepo) Latest(_ context.Context, hospitalID, patientID uuid.UUID) (*CarePlan, error) {
	var latest *CarePlan
	for _, cp := range m.plans {
		if cp.HospitalID == hospitalID && cp.PatientID == patientID && (latest == nil || cp.CreatedAt.After(latest.CreatedAt)) {
			latest = cp
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return latest, nil
}

func (m *mockRepo) CountForPatient(_ context.Context, hospitalID, patientID uuid.UUID) (int, error) {
	n := 0
	for _, cp := range m.plans {
		if cp.HospitalID == hospitalID && cp.PatientID == patientID {
			n++
		}
	}
	return n, nil
}

func (m *mockRepo) Stats(_ context.Context, hospitalID uuid.UUID, _, _ patient.Date) (*Stats, error) {
	st := &Stats{ByStatus: map[Status]int{}, ByDisease: map[string]int{}}
	for _, cp := range m.plans {
		if cp.HospitalID != hospitalID {
			continue
		}
		st.Total++
		st.ByStatus[cp.Status]++
		for _, d := range cp.Diseases() {
			st.ByDisease[d]++
		}
	}
	return st, nil
}

func (m *mockRepo) DailyCounts(_ context.Context, _ uuid.UUID, from, to patient.Date) ([]DayCount, error) {
	return []DayCount{{Date: from, Count: 1}, {Date: to, Count: 2}}, nil
}

type mockPatients struct {
	byID map[uuid.UUID]*patient.Patient
}

func (m *mockPatients) Lookup(_ context.Context, hospitalID, id uuid.UUID) (*patient.Patient, error) {
	p, ok := m.byID[id]
	if !ok || p.HospitalID != hospitalID {
		return nil, patient.ErrNotFound
	}
	return p, nil
}

type mockMembers struct {
	members map[uuid.UUID]uuid.UUID // user -> hospital
}

func (m *mockMembers) GetMembership(_ context.Context, userID, hospitalID uuid.UUID) (*auth.Membership, error) {
	if h, ok := m.members[userID]; ok && h == hospitalID {
		return &auth.Membership{UserID: userID, HospitalID: hospitalID, Role: auth.RoleHospitalUser}, nil
	}
	return nil, auth.ErrNotFound
}

type auditRecorder struct{ entries []audit.Entry }

func (a *auditRecorder) Insert(_ context.Context, e *audit.Entry) error {
	a.entries = append(a.entries, *e)
	return nil
}

func (a *auditRecorder) Search(context.Context, audit.Filter) (*audit.Result, error) {
	return &audit.Result{}, nil
}

func (a *auditRecorder) actions() []audit.Action {
	var out []audit.Action
	for _, e := range a.entries {
		out = append(out, e.Action)
	}
	return out
}

type fixture struct {
	svc        *Service
	repo       *mockRepo
	members    *mockMembers
	audit      *auditRecorder
	hospitalID uuid.UUID
	patient    *patient.Patient
	doctorID   uuid.UUID
	actor      audit.Actor
}

func newFixture() *fixture {
	hid := uuid.New()
	p := &patient.Patient{ID: uuid.New(), HospitalID: hid, PatientNumber: "P-1", Name: "Yamada Taro"}
	doctor := uuid.New()
	fx := &fixture{
		repo:       newMockRepo(),
		members:    &mockMembers{members: map[uuid.UUID]uuid.UUID{doctor: hid}},
		audit:      &auditRecorder{},
		hospitalID: hid,
		patient:    p,
		doctorID:   doctor,
		actor:      audit.Actor{UserID: doctor, UserName: "Dr. Sato", HospitalID: &hid},
	}
	fx.svc = NewService(fx.repo, &mockPatients{byID: map[uuid.UUID]*patient.Patient{p.ID: p}}, fx.members,
		audit.NewLogger(fx.audit, zerolog.Nop()))
	fx.svc.now = func() time.Time { return time.Date(2024, time.February, 10, 0, 0, 0, 0, time.UTC) }
	return fx
}

func validInput() Input {
	return Input{Content: Content{
		PlanType:         PlanTypeInitial,
		RecordDate:       patient.NewDate(2024, 2, 1),
		ConsultationDate: patient.NewDate(2024, 2, 1),
		HasDiabetes:      true,
		Height:           f(170),
		WeightCurrent:    f(65),
	}}
}

func TestService_Create(t *testing.T) {
	fx := newFixture()
	in := validInput()
	in.PrimaryDoctorID = &fx.doctorID
	in.Staffs = []Staff{{UserID: fx.doctorID, GuidanceArea: AreaDiet}}

	cp, err := fx.svc.Create(context.Background(), fx.actor, fx.hospitalID, fx.patient.ID, in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if cp.SequenceNumber != 1 || cp.Status != StatusDraft {
		t.Errorf("unexpected plan %+v", cp)
	}
	if cp.BMI == nil || *cp.BMI != 22.5 {
		t.Errorf("BMI = %v", cp.BMI)
	}
	if cp.CreatedBy == nil || *cp.CreatedBy != fx.doctorID {
		t.Errorf("createdBy = %v", cp.CreatedBy)
	}
	if s := fx.repo.staffs[cp.ID]; len(s) != 1 || s[0].DisplayOrder != 1 {
		t.Errorf("staff not stored with default order: %+v", s)
	}
	e := fx.audit.entries[0]
	if e.Action != audit.ActionCarePlanCreate || e.TargetName != "Yamada Taro #1" {
		t.Errorf("unexpected audit entry %+v", e)
	}

	second, err := fx.svc.Create(context.Background(), fx.actor, fx.hospitalID, fx.patient.ID, validInput())
	if err != nil {
		t.Fatal(err)
	}
	if second.SequenceNumber != 2 {
		t.Errorf("second sequence = %d", second.SequenceNumber)
	}
}

func TestService_Create_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*fixture, *Input)
	}{
		{"no disease", func(_ *fixture, in *Input) { in.HasDiabetes = false }},
		{"bad plan type", func(_ *fixture, in *Input) { in.PlanType = "annual" }},
		{"no consultation date", func(_ *fixture, in *Input) { in.ConsultationDate = patient.Date{} }},
		{"bad status", func(_ *fixture, in *Input) { in.Status = "archived" }},
		{"post meal hours without postprandial", func(_ *fixture, in *Input) {
			h := 2
			in.PostMealHours = &h
			in.BloodGlucoseCondition = GlucoseFasting
		}},
		{"doctor from another hospital", func(_ *fixture, in *Input) {
			id := uuid.New()
			in.PrimaryDoctorID = &id
		}},
		{"duplicate staff slot", func(fx *fixture, in *Input) {
			in.Staffs = []Staff{
				{UserID: fx.doctorID, GuidanceArea: AreaDiet, DisplayOrder: 1},
				{UserID: fx.doctorID, GuidanceArea: AreaDiet},
			}
		}},
		{"unknown area", func(fx *fixture, in *Input) {
			in.Staffs = []Staff{{UserID: fx.doctorID, GuidanceArea: "sleep"}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture()
			in := validInput()
			tt.modify(fx, &in)
			_, err := fx.svc.Create(context.Background(), fx.actor, fx.hospitalID, fx.patient.ID, in)
			if !errors.Is(err, ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
			if len(fx.repo.plans) != 0 {
				t.Error("invalid plan stored")
			}
		})
	}
}

func TestService_Create_PatientOfOtherHospital(t *testing.T) {
	fx := newFixture()
	_, err := fx.svc.Create(context.Background(), fx.actor, uuid.New(), fx.patient.ID, validInput())
	if !errors.Is(err, patient.ErrNotFound) {
		t.Errorf("expected patient.ErrNotFound, got %v", err)
	}
}

func TestService_Get_ChecksPatient(t *testing.T) {
	fx := newFixture()
	cp, _ := fx.svc.Create(context.Background(), fx.actor, fx.hospitalID, fx.patient.ID, validInput())

	if _, err := fx.svc.Get(context.Background(), fx.actor, fx.hospitalID, uuid.New(), cp.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("plan under another patient: %v", err)
	}
	if _, err := fx.svc.Get(context.Background(), fx.actor, uuid.New(), fx.patient.ID, cp.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("plan of another hospital: %v", err)
	}
	d, err := fx.svc.Get(context.Background(), fx.actor, fx.hospitalID, fx.patient.ID, cp.ID)
	if err != nil {
		t.Fatal(err)
	}
	if d.ID != cp.ID {
		t.Errorf("got %v", d.ID)
	}
	acts := fx.audit.actions()
	if acts[len(acts)-1] != audit.ActionCarePlanView {
		t.Errorf("view not audited: %v", acts)
	}
}

func TestService_Update(t *testing.T) {
	fx := newFixture()
	cp, _ := fx.svc.Create(context.Background(), fx.actor, fx.hospitalID, fx.patient.ID, validInput())
	fx.repo.staffs[cp.ID] = []Staff{{UserID: fx.doctorID, GuidanceArea: AreaExercise, DisplayOrder: 1}}

	in := validInput()
	in.WeightCurrent = f(60)
	in.Status = StatusCompleted
	updated, err := fx.svc.Update(context.Background(), fx.actor, fx.hospitalID, fx.patient.ID, cp.ID, in)
	if err != nil {
		t.Fatal(err)
	}
	if *updated.BMI != 20.8 {
		t.Errorf("BMI not recomputed: %v", *updated.BMI)
	}
	if len(fx.repo.staffs[cp.ID]) != 1 {
		t.Error("nil staffs must keep assignments")
	}
	last := fx.audit.entries[len(fx.audit.entries)-1]
	if last.Action != audit.ActionCarePlanUpdate {
		t.Fatalf("unexpected action %s", last.Action)
	}
	for _, field := range []string{"weightCurrent", "bmi", "status"} {
		if _, ok := last.Changes[field]; !ok {
			t.Errorf("missing change for %s: %+v", field, last.Changes)
		}
	}
	if _, ok := last.Changes["height"]; ok {
		t.Error("unchanged height reported")
	}
}

func TestService_Update_SignAndFreeze(t *testing.T) {
	fx := newFixture()
	cp, _ := fx.svc.Create(context.Background(), fx.actor, fx.hospitalID, fx.patient.ID, validInput())

	in := validInput()
	in.Status = StatusSigned
	in.PatientSignature = "Yamada Taro"
	if _, err := fx.svc.Update(context.Background(), fx.actor, fx.hospitalID, fx.patient.ID, cp.ID, in); err != nil {
		t.Fatal(err)
	}
	acts := fx.audit.actions()
	if acts[len(acts)-1] != audit.ActionCarePlanSign {
		t.Errorf("sign not audited: %v", acts)
	}

	_, err := fx.svc.Update(context.Background(), fx.actor, fx.hospitalID, fx.patient.ID, cp.ID, validInput())
	if !errors.Is(err, ErrSigned) {
		t.Errorf("expected ErrSigned, got %v", err)
	}
}

func TestService_Delete(t *testing.T) {
	fx := newFixture()
	cp, _ := fx.svc.Create(context.Background(), fx.actor, fx.hospitalID, fx.patient.ID, validInput())
	if err := fx.svc.Delete(context.Background(), fx.actor, fx.hospitalID, fx.patient.ID, cp.ID); err != nil {
		t.Fatal(err)
	}
	if len(fx.repo.plans) != 0 {
		t.Error("plan not deleted")
	}
	acts := fx.audit.actions()
	if acts[len(acts)-1] != audit.ActionCarePlanDelete {
		t.Errorf("delete not audited: %v", acts)
	}
}

func TestService_NewDraft(t *testing.T) {
	fx := newFixture()
	d, err := fx.svc.NewDraft(context.Background(), fx.hospitalID, fx.patient.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !d.IsInitial || d.NextSequenceNumber != 1 || d.Latest != nil {
		t.Errorf("unexpected first draft %+v", d)
	}

	fx.svc.Create(context.Background(), fx.actor, fx.hospitalID, fx.patient.ID, validInput())
	in := validInput()
	in.PlanType = PlanTypeContinuous
	second, _ := fx.svc.Create(context.Background(), fx.actor, fx.hospitalID, fx.patient.ID, in)

	d, err = fx.svc.NewDraft(context.Background(), fx.hospitalID, fx.patient.ID)
	if err != nil {
		t.Fatal(err)
	}
	if d.IsInitial || d.NextSequenceNumber != 3 || d.Latest == nil || d.Latest.ID != second.ID {
		t.Errorf("unexpected draft %+v", d)
	}
}

func TestService_DailyCounts_MonthRange(t *testing.T) {
	fx := newFixture()
	counts, err := fx.svc.DailyCounts(context.Background(), fx.hospitalID, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if counts[0].Date.String() != "2024-02-01" || counts[1].Date.String() != "2024-02-29" {
		t.Errorf("unexpected range %s..%s", counts[0].Date, counts[1].Date)
	}
	if _, err := fx.svc.DailyCounts(context.Background(), fx.hospitalID, 2024, 13); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestService_Stats(t *testing.T) {
	fx := newFixture()
	fx.svc.Create(context.Background(), fx.actor, fx.hospitalID, fx.patient.ID, validInput())
	in := validInput()
	in.HasHypertension = true
	in.Status = StatusCompleted
	fx.svc.Create(context.Background(), fx.actor, fx.hospitalID, fx.patient.ID, in)

	st, err := fx.svc.Stats(context.Background(), fx.hospitalID, patient.Date{}, patient.Date{})
	if err != nil {
		t.Fatal(err)
	}
	if st.Total != 2 || st.ByStatus[StatusDraft] != 1 || st.ByDisease["diabetes"] != 2 || st.ByDisease["hypertension"] != 1 {
		t.Errorf("unexpected stats %+v", st)
	}
}
