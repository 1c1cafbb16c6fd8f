package audit

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestWhereClause(t *testing.T) {
	hid := uuid.New()
	ok := false
	from := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 4, 30, 0, 0, 0, 0, time.UTC)

	where, args := whereClause(Filter{
		HospitalID: &hid,
		Action:     ActionPatientView,
		DateFrom:   &from,
		DateTo:     &to,
		Success:    &ok,
	})

	for _, want := range []string{"hospital_id = $1", "action = $2", "created_at >= $3", "created_at < $4", "success = $5"} {
		if !strings.Contains(where, want) {
			t.Errorf("where clause %q missing %q", where, want)
		}
	}
	if len(args) != 5 {
		t.Fatalf("expected 5 args, got %d", len(args))
	}
	if end := args[3].(time.Time); !end.Equal(to.AddDate(0, 0, 1)) {
		t.Errorf("date-to must include the whole day, got %v", end)
	}
}

func TestWhereClause_Empty(t *testing.T) {
	where, args := whereClause(Filter{})
	if where != " WHERE 1=1" || len(args) != 0 {
		t.Errorf("unexpected empty clause %q %v", where, args)
	}
}

func TestFilterDefaults(t *testing.T) {
	f := Filter{Limit: 1000, Offset: -3}
	f.applyDefaults()
	if f.Limit != MaxLimit || f.Offset != 0 {
		t.Errorf("unexpected defaults: %+v", f)
	}
}
