package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pottech/document-creation/internal/platform/db"
)

// Store persists audit entries.
type Store interface {
	Insert(ctx context.Context, e *Entry) error
	Search(ctx context.Context, f Filter) (*Result, error)
}

type pgStore struct{ pool *pgxpool.Pool }

func NewPGStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

func (s *pgStore) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, s.pool)
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func jsonOrNil(v interface{}, empty bool) ([]byte, error) {
	if empty {
		return nil, nil
	}
	return json.Marshal(v)
}

func (s *pgStore) Insert(ctx context.Context, e *Entry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	changes, err := jsonOrNil(e.Changes, len(e.Changes) == 0)
	if err != nil {
		return fmt.Errorf("encode changes: %w", err)
	}
	metadata, err := jsonOrNil(e.Metadata, len(e.Metadata) == 0)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	return s.conn(ctx).QueryRow(ctx, `
		INSERT INTO audit_logs (id, user_id, user_name, hospital_id, hospital_name, action, target_type,
			target_id, target_name, changes, metadata, ip_address, user_agent, success, error_message)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		RETURNING created_at`,
		e.ID, e.UserID, e.UserName, e.HospitalID, nullString(e.HospitalName), e.Action, e.TargetType,
		e.TargetID, nullString(e.TargetName), changes, metadata, nullString(e.IPAddress), nullString(e.UserAgent),
		e.Success, nullString(e.ErrorMessage)).Scan(&e.CreatedAt)
}

const entryCols = `id, user_id, user_name, hospital_id, hospital_name, action, target_type,
	target_id, target_name, changes, metadata, ip_address, user_agent, success, error_message, created_at`

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	var hospitalName, targetName, ip, ua, errMsg *string
	var changes, metadata []byte
	err := row.Scan(&e.ID, &e.UserID, &e.UserName, &e.HospitalID, &hospitalName, &e.Action, &e.TargetType,
		&e.TargetID, &targetName, &changes, &metadata, &ip, &ua, &e.Success, &errMsg, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	e.HospitalName = deref(hospitalName)
	e.TargetName = deref(targetName)
	e.IPAddress = deref(ip)
	e.UserAgent = deref(ua)
	e.ErrorMessage = deref(errMsg)
	if len(changes) > 0 {
		if err := json.Unmarshal(changes, &e.Changes); err != nil {
			return nil, fmt.Errorf("decode changes: %w", err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &e, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// whereClause builds the condition shared by the page and count queries.
func whereClause(f Filter) (string, []interface{}) {
	where := ` WHERE 1=1`
	var args []interface{}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where += fmt.Sprintf(" AND "+cond, len(args))
	}
	if f.HospitalID != nil {
		add("hospital_id = $%d", *f.HospitalID)
	}
	if f.UserID != nil {
		add("user_id = $%d", *f.UserID)
	}
	if f.Action != "" {
		add("action = $%d", f.Action)
	}
	if f.TargetType != "" {
		add("target_type = $%d", f.TargetType)
	}
	if f.TargetID != nil {
		add("target_id = $%d", *f.TargetID)
	}
	if f.DateFrom != nil {
		add("created_at >= $%d", *f.DateFrom)
	}
	if f.DateTo != nil {
		add("created_at < $%d", f.DateTo.AddDate(0, 0, 1))
	}
	if f.Success != nil {
		add("success = $%d", *f.Success)
	}
	return where, args
}

func (s *pgStore) Search(ctx context.Context, f Filter) (*Result, error) {
	f.applyDefaults()
	where, args := whereClause(f)

	var total int
	if err := s.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM audit_logs`+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count audit logs: %w", err)
	}

	query := `SELECT ` + entryCols + ` FROM audit_logs` + where +
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	rows, err := s.conn(ctx).Query(ctx, query, append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("search audit logs: %w", err)
	}
	defer rows.Close()

	res := &Result{Logs: []*Entry{}, Total: total}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		res.Logs = append(res.Logs, e)
	}
	return res, rows.Err()
}
