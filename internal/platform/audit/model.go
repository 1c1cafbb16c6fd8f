// Package audit records who did what to which record. Writing is best
// effort: a failed write is logged and never reaches the caller.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// Action is what was done.
type Action string

const (
	ActionCarePlanCreate Action = "care_plan.create"
	ActionCarePlanUpdate Action = "care_plan.update"
	ActionCarePlanView   Action = "care_plan.view"
	ActionCarePlanDelete Action = "care_plan.delete"
	ActionCarePlanPDF    Action = "care_plan.pdf"
	ActionCarePlanSign   Action = "care_plan.sign"

	ActionPatientCreate Action = "patient.create"
	ActionPatientUpdate Action = "patient.update"
	ActionPatientView   Action = "patient.view"
	ActionPatientDelete Action = "patient.delete"

	ActionLogin  Action = "auth.login"
	ActionLogout Action = "auth.logout"

	ActionUserCreate Action = "user.create"
	ActionUserUpdate Action = "user.update"

	ActionHospitalCreate Action = "hospital.create"
	ActionHospitalUpdate Action = "hospital.update"

	ActionMembershipUpdate Action = "membership.update"
	ActionMembershipDelete Action = "membership.delete"

	ActionInvitationCreate Action = "invitation.create"
	ActionInvitationCancel Action = "invitation.cancel"

	ActionAPIClientCreate Action = "api_client.create"
	ActionAPIClientUpdate Action = "api_client.update"
	ActionAPIClientDelete Action = "api_client.delete"
)

var actions = map[Action]bool{
	ActionCarePlanCreate: true, ActionCarePlanUpdate: true, ActionCarePlanView: true,
	ActionCarePlanDelete: true, ActionCarePlanPDF: true, ActionCarePlanSign: true,
	ActionPatientCreate: true, ActionPatientUpdate: true, ActionPatientView: true, ActionPatientDelete: true,
	ActionLogin: true, ActionLogout: true,
	ActionUserCreate: true, ActionUserUpdate: true,
	ActionHospitalCreate: true, ActionHospitalUpdate: true,
	ActionMembershipUpdate: true, ActionMembershipDelete: true,
	ActionInvitationCreate: true, ActionInvitationCancel: true,
	ActionAPIClientCreate: true, ActionAPIClientUpdate: true, ActionAPIClientDelete: true,
}

func (a Action) Valid() bool { return actions[a] }

// TargetType is the kind of record acted on.
type TargetType string

const (
	TargetCarePlan   TargetType = "care_plan"
	TargetPatient    TargetType = "patient"
	TargetUser       TargetType = "user"
	TargetHospital   TargetType = "hospital"
	TargetSession    TargetType = "session"
	TargetMembership TargetType = "membership"
	TargetInvitation TargetType = "invitation"
	TargetAPIClient  TargetType = "api_client"
)

func (t TargetType) Valid() bool {
	switch t {
	case TargetCarePlan, TargetPatient, TargetUser, TargetHospital, TargetSession,
		TargetMembership, TargetInvitation, TargetAPIClient:
		return true
	}
	return false
}

// Change is the before and after value of one field.
type Change struct {
	Before interface{} `json:"before"`
	After  interface{} `json:"after"`
}

// Changes maps field names to their change.
type Changes map[string]Change

// Entry is one audit record. Names are snapshots so entries stay readable
// after the user or hospital is gone.
type Entry struct {
	ID           uuid.UUID              `json:"id"`
	UserID       uuid.UUID              `json:"userId"`
	UserName     string                 `json:"userName"`
	HospitalID   *uuid.UUID             `json:"hospitalId,omitempty"`
	HospitalName string                 `json:"hospitalName,omitempty"`
	Action       Action                 `json:"action"`
	TargetType   TargetType             `json:"targetType"`
	TargetID     *uuid.UUID             `json:"targetId,omitempty"`
	TargetName   string                 `json:"targetName,omitempty"`
	Changes      Changes                `json:"changes,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	IPAddress    string                 `json:"ipAddress,omitempty"`
	UserAgent    string                 `json:"userAgent,omitempty"`
	Success      bool                   `json:"success"`
	ErrorMessage string                 `json:"errorMessage,omitempty"`
	CreatedAt    time.Time              `json:"createdAt"`
}

// Filter selects entries. Zero fields do not filter.
type Filter struct {
	HospitalID *uuid.UUID
	UserID     *uuid.UUID
	Action     Action
	TargetType TargetType
	TargetID   *uuid.UUID
	// DateFrom and DateTo are calendar days; DateTo includes its whole day.
	DateFrom *time.Time
	DateTo   *time.Time
	Success  *bool
	Limit    int
	Offset   int
}

const (
	DefaultLimit = 50
	MaxLimit     = 200
)

func (f *Filter) applyDefaults() {
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}

// Result is one page of entries and the total matching the filter.
type Result struct {
	Logs  []*Entry `json:"logs"`
	Total int      `json:"total"`
}

// Actor is who performs an action and from where.
type Actor struct {
	UserID       uuid.UUID
	UserName     string
	HospitalID   *uuid.UUID
	HospitalName string
	IPAddress    string
	UserAgent    string
}

// Entry starts an entry about one target on behalf of a.
func (a Actor) Entry(action Action, targetType TargetType, targetID *uuid.UUID, targetName string) Entry {
	return Entry{
		UserID:       a.UserID,
		UserName:     a.UserName,
		HospitalID:   a.HospitalID,
		HospitalName: a.HospitalName,
		Action:       action,
		TargetType:   targetType,
		TargetID:     targetID,
		TargetName:   targetName,
		IPAddress:    a.IPAddress,
		UserAgent:    a.UserAgent,
	}
}
