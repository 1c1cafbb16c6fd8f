package patient

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pottech/document-creation/internal/platform/audit"
)

type mockRepo struct {
	store map[uuid.UUID]*Patient
}

func newMockRepo() *mockRepo { return &mockRepo{store: make(map[uuid.UUID]*Patient)} }

func (m *mockRepo) Create(_ context.Context, p *Patient) error {
	for _, x := range m.store {
		if x.HospitalID == p.HospitalID && x.PatientNumber == p.PatientNumber {
			return ErrDuplicateNumber
		}
	}
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	cp := *p
	m.store[p.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, hospitalID, id uuid.UUID) (*Patient, error) {
	p, ok := m.store[id]
	if !ok || p.HospitalID != hospitalID {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockRepo) GetByNumber(_ context.Context, hospitalID uuid.UUID, number string) (*Patient, error) {
	for _, p := range m.store {
		if p.HospitalID == hospitalID && p.PatientNumber == number {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockRepo) Update(_ context.Context, p *Patient) error {
	cur, ok := m.store[p.ID]
	if !ok || cur.HospitalID != p.HospitalID {
		return ErrNotFound
	}
	cp := *p
	m.store[p.ID] = &cp
	return nil
}

func (m *mockRepo) Delete(_ context.Context, hospitalID, id uuid.UUID) error {
	p, ok := m.store[id]
	if !ok || p.HospitalID != hospitalID {
		return ErrNotFound
	}
	delete(m.store, id)
	return nil
}

func (m *mockRepo) List(_ context.Context, hospitalID uuid.UUID, opts ListOptions) ([]*Patient, int, error) {
	var r []*Patient
	for _, p := range m.store {
		if p.HospitalID != hospitalID {
			continue
		}
		if opts.Search != "" && !strings.Contains(strings.ToLower(p.Name), strings.ToLower(opts.Search)) &&
			!strings.Contains(p.PatientNumber, opts.Search) {
			continue
		}
		r = append(r, p)
	}
	sort.Slice(r, func(i, j int) bool { return r[i].PatientNumber < r[j].PatientNumber })
	return r, len(r), nil
}

type auditRecorder struct {
	entries []audit.Entry
}

func (a *auditRecorder) Insert(_ context.Context, e *audit.Entry) error {
	a.entries = append(a.entries, *e)
	return nil
}

func (a *auditRecorder) Search(context.Context, audit.Filter) (*audit.Result, error) {
	return &audit.Result{}, nil
}

func (a *auditRecorder) last() audit.Entry {
	if len(a.entries) == 0 {
		return audit.Entry{}
	}
	return a.entries[len(a.entries)-1]
}

var testNow = time.Date(2024, time.April, 1, 9, 0, 0, 0, time.UTC)

func newTestService() (*Service, *mockRepo, *auditRecorder) {
	repo := newMockRepo()
	rec := &auditRecorder{}
	svc := NewService(repo, audit.NewLogger(rec, zerolog.Nop()))
	svc.now = func() time.Time { return testNow }
	return svc, repo, rec
}

func testActor(hospitalID uuid.UUID) audit.Actor {
	return audit.Actor{UserID: uuid.New(), UserName: "Dr. Sato", HospitalID: &hospitalID, HospitalName: "Sakura Clinic"}
}

func validInput() Input {
	return Input{
		PatientNumber: "P-001",
		Name:          " Yamada Taro ",
		NameKana:      "ヤマダ タロウ",
		BirthDate:     NewDate(1960, time.March, 3),
		Gender:        GenderMale,
	}
}

func TestService_Create(t *testing.T) {
	svc, _, rec := newTestService()
	hid := uuid.New()

	p, err := svc.Create(context.Background(), testActor(hid), hid, validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.ID == uuid.Nil || p.HospitalID != hid {
		t.Errorf("unexpected patient %+v", p)
	}
	if p.Name != "Yamada Taro" {
		t.Errorf("name not trimmed: %q", p.Name)
	}
	e := rec.last()
	if e.Action != audit.ActionPatientCreate || e.TargetType != audit.TargetPatient || *e.TargetID != p.ID {
		t.Errorf("unexpected audit entry %+v", e)
	}
	if e.Metadata["patientNumber"] != "P-001" || !e.Success {
		t.Errorf("unexpected audit metadata %+v", e)
	}
}

func TestService_Create_DuplicateNumber(t *testing.T) {
	svc, _, rec := newTestService()
	hid := uuid.New()
	if _, err := svc.Create(context.Background(), testActor(hid), hid, validInput()); err != nil {
		t.Fatal(err)
	}
	_, err := svc.Create(context.Background(), testActor(hid), hid, validInput())
	if !errors.Is(err, ErrDuplicateNumber) {
		t.Fatalf("expected ErrDuplicateNumber, got %v", err)
	}
	if len(rec.entries) != 1 {
		t.Errorf("duplicate should not be audited, got %d entries", len(rec.entries))
	}

	other := uuid.New()
	if _, err := svc.Create(context.Background(), testActor(other), other, validInput()); err != nil {
		t.Errorf("same number in another hospital: %v", err)
	}
}

func TestService_Create_Invalid(t *testing.T) {
	svc, _, _ := newTestService()
	hid := uuid.New()
	tests := []struct {
		name   string
		modify func(*Input)
	}{
		{"no number", func(in *Input) { in.PatientNumber = "  " }},
		{"blank name", func(in *Input) { in.Name = " " }},
		{"bad gender", func(in *Input) { in.Gender = "other" }},
		{"no birth date", func(in *Input) { in.BirthDate = Date{} }},
		{"future birth date", func(in *Input) { in.BirthDate = NewDate(2030, 1, 1) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput()
			tt.modify(&in)
			_, err := svc.Create(context.Background(), testActor(hid), hid, in)
			if !errors.Is(err, ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestService_Get_OtherHospital(t *testing.T) {
	svc, _, rec := newTestService()
	hid := uuid.New()
	p, _ := svc.Create(context.Background(), testActor(hid), hid, validInput())

	if _, err := svc.Get(context.Background(), testActor(hid), uuid.New(), p.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	got, err := svc.Get(context.Background(), testActor(hid), hid, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != p.ID || rec.last().Action != audit.ActionPatientView {
		t.Errorf("view not audited: %+v", rec.last())
	}
}

func TestService_Update_RecordsChanges(t *testing.T) {
	svc, _, rec := newTestService()
	hid := uuid.New()
	p, _ := svc.Create(context.Background(), testActor(hid), hid, validInput())

	in := validInput()
	in.PatientNumber = "IGNORED"
	in.Name = "Yamada Jiro"
	updated, err := svc.Update(context.Background(), testActor(hid), hid, p.ID, in)
	if err != nil {
		t.Fatal(err)
	}
	if updated.PatientNumber != "P-001" {
		t.Errorf("patient number must not change on update, got %q", updated.PatientNumber)
	}
	e := rec.last()
	if e.Action != audit.ActionPatientUpdate {
		t.Fatalf("unexpected action %s", e.Action)
	}
	if len(e.Changes) != 1 {
		t.Fatalf("expected one change, got %+v", e.Changes)
	}
	if c := e.Changes["name"]; c.Before != "Yamada Taro" || c.After != "Yamada Jiro" {
		t.Errorf("unexpected name change %+v", c)
	}
}

func TestService_Delete(t *testing.T) {
	svc, repo, rec := newTestService()
	hid := uuid.New()
	p, _ := svc.Create(context.Background(), testActor(hid), hid, validInput())

	if err := svc.Delete(context.Background(), testActor(hid), uuid.New(), p.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("delete from other hospital: %v", err)
	}
	if err := svc.Delete(context.Background(), testActor(hid), hid, p.ID); err != nil {
		t.Fatal(err)
	}
	if len(repo.store) != 0 {
		t.Error("patient not deleted")
	}
	if rec.last().Action != audit.ActionPatientDelete {
		t.Errorf("delete not audited")
	}
}

func TestService_List_Search(t *testing.T) {
	svc, _, _ := newTestService()
	hid := uuid.New()
	a := validInput()
	b := validInput()
	b.PatientNumber, b.Name = "P-002", "Suzuki Hanako"
	svc.Create(context.Background(), testActor(hid), hid, a)
	svc.Create(context.Background(), testActor(hid), hid, b)

	items, total, err := svc.List(context.Background(), hid, ListOptions{Search: " suzuki "})
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || items[0].PatientNumber != "P-002" {
		t.Errorf("unexpected result %d %+v", total, items)
	}
}
