package patient

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound        = errors.New("patient not found")
	ErrDuplicateNumber = errors.New("patient number already exists")
)

type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
)

func (g Gender) Valid() bool { return g == GenderMale || g == GenderFemale }

const dateLayout = "2006-01-02"

// Date is a calendar day without a time zone, as stored in DATE columns and
// sent as "YYYY-MM-DD".
type Date struct {
	time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", s)
	}
	return Date{t}, nil
}

func (d Date) String() string { return d.Format(dateLayout) }

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" || s == `""` {
		*d = Date{}
		return nil
	}
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return fmt.Errorf("invalid date %s", s)
	}
	parsed, err := ParseDate(s[1 : len(s)-1])
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d *Date) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*d = Date{}
	case time.Time:
		*d = NewDate(v.Year(), v.Month(), v.Day())
	case string:
		parsed, err := ParseDate(v)
		if err != nil {
			return err
		}
		*d = parsed
	default:
		return fmt.Errorf("cannot scan %T into Date", src)
	}
	return nil
}

func (d Date) Value() (driver.Value, error) {
	if d.IsZero() {
		return nil, nil
	}
	return d.Time, nil
}

// Patient belongs to exactly one hospital; its number is unique there.
type Patient struct {
	ID            uuid.UUID `json:"id"`
	HospitalID    uuid.UUID `json:"hospitalId"`
	PatientNumber string    `json:"patientNumber"`
	Name          string    `json:"name"`
	NameKana      string    `json:"nameKana,omitempty"`
	BirthDate     Date      `json:"birthDate"`
	Gender        Gender    `json:"gender"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Age is the number of whole years between birth and now.
func Age(birth Date, now time.Time) int {
	age := now.Year() - birth.Year()
	if now.Month() < birth.Month() || (now.Month() == birth.Month() && now.Day() < birth.Day()) {
		age--
	}
	return age
}

// Fields is the audited view of a patient.
func (p *Patient) Fields() map[string]interface{} {
	return map[string]interface{}{
		"patientNumber": p.PatientNumber,
		"name":          p.Name,
		"nameKana":      p.NameKana,
		"birthDate":     p.BirthDate.String(),
		"gender":        p.Gender,
	}
}

// Summary is the part of a patient shown next to its care plans.
type Summary struct {
	ID            uuid.UUID `json:"id"`
	PatientNumber string    `json:"patientNumber"`
	Name          string    `json:"name"`
	BirthDate     Date      `json:"birthDate"`
	Gender        Gender    `json:"gender"`
}

// ListOptions filters a hospital's patient list.
type ListOptions struct {
	// Search matches name or patient number, case-insensitively.
	Search string
	Limit  int
	Offset int
}
