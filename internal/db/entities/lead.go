package entities

import (
	"encoding/json"
	"time"

	"github.com/havenly/havenly-backend/internal/db/interfaces"
)

const (
	LeadStatusNew       = "new"
	LeadStatusContacted = "contacted"
	LeadStatusQualified = "qualified"
	LeadStatusClosed    = "closed"
	LeadStatusLost      = "lost"
)

const (
	CRMStatusPending = "pending"
	CRMStatusSynced  = "synced"
	CRMStatusFailed  = "failed"
	CRMStatusSkipped = "skipped"
)

const (
	FollowupPending = "pending"
	FollowupSent    = "sent"
	FollowupFailed  = "failed"
)

// FollowupStep is one entry of a lead's follow-up schedule.
type FollowupStep struct {
	Step     int        `json:"step"`
	DueAt    time.Time  `json:"dueAt"`
	Status   string     `json:"status"`
	SentAt   *time.Time `json:"sentAt,omitempty"`
	Error    string     `json:"error,omitempty"`
	Attempts int        `json:"attempts,omitempty"`
}

// Lead is a contact captured from a public form.
type Lead struct {
	ID            string          `json:"id" db:"id"`
	Name          string          `json:"name" db:"name"`
	Email         *string         `json:"email,omitempty" db:"email"`
	Phone         *string         `json:"phone,omitempty" db:"phone"`
	Message       *string         `json:"message,omitempty" db:"message"`
	Source        string          `json:"source" db:"source"`
	PropertyID    *string         `json:"propertyId,omitempty" db:"property_id"`
	PageURL       *string         `json:"pageUrl,omitempty" db:"page_url"`
	City          *string         `json:"city,omitempty" db:"city"`
	Status        string          `json:"status" db:"status"`
	AssignedAgent *string         `json:"assignedAgent,omitempty" db:"assigned_agent"`
	CRMStatus     string          `json:"crmStatus" db:"crm_status"`
	CRMID         *string         `json:"crmId,omitempty" db:"crm_id"`
	CRMError      *string         `json:"crmError,omitempty" db:"crm_error"`
	FollowupState json.RawMessage `json:"followupState,omitempty" db:"followup_state"`
	ReferralCode  *string         `json:"referralCode,omitempty" db:"referral_code"`
	CreatedAt     time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time       `json:"updatedAt" db:"updated_at"`
}

// Followups parses FollowupState. An empty column yields no steps.
func (l *Lead) Followups() ([]FollowupStep, error) {
	if len(l.FollowupState) == 0 || string(l.FollowupState) == "null" {
		return nil, nil
	}
	var steps []FollowupStep
	if err := json.Unmarshal(l.FollowupState, &steps); err != nil {
		return nil, err
	}
	return steps, nil
}

var LeadSchema = &interfaces.Schema{
	TableName: "leads",
	Fields: map[string]interfaces.FieldSchema{
		"id":             {Type: interfaces.FieldString, PrimaryKey: true},
		"name":           {Type: interfaces.FieldString},
		"email":          {Type: interfaces.FieldString, Nullable: true},
		"phone":          {Type: interfaces.FieldString, Nullable: true},
		"message":        {Type: interfaces.FieldString, Nullable: true},
		"source":         {Type: interfaces.FieldString, DefaultValue: "contact"},
		"property_id":    {Type: interfaces.FieldString, Nullable: true},
		"page_url":       {Type: interfaces.FieldString, Nullable: true},
		"city":           {Type: interfaces.FieldString, Nullable: true},
		"status":         {Type: interfaces.FieldString, DefaultValue: LeadStatusNew},
		"assigned_agent": {Type: interfaces.FieldString, Nullable: true},
		"crm_status":     {Type: interfaces.FieldString, DefaultValue: CRMStatusPending},
		"crm_id":         {Type: interfaces.FieldString, Nullable: true},
		"crm_error":      {Type: interfaces.FieldString, Nullable: true},
		"followup_state": {Type: interfaces.FieldJSON, Nullable: true},
		"referral_code":  {Type: interfaces.FieldString, Nullable: true},
		"created_at":     {Type: interfaces.FieldTime},
		"updated_at":     {Type: interfaces.FieldTime},
	},
	Indexes: []interfaces.Index{
		{Name: "idx_leads_created_at", Columns: []string{"created_at"}},
		{Name: "idx_leads_crm_id", Columns: []string{"crm_id"}},
	},
}
