package entities

import (
	"time"

	"github.com/havenly/havenly-backend/internal/db/interfaces"
)

// Reward statuses: requested -> approved -> paid, requested -> denied.
const (
	RewardRequested = "requested"
	RewardApproved  = "approved"
	RewardPaid      = "paid"
	RewardDenied    = "denied"
)

// Redemption statuses: requested -> approved -> fulfilled, requested -> rejected.
const (
	RedemptionRequested = "requested"
	RedemptionApproved  = "approved"
	RedemptionFulfilled = "fulfilled"
	RedemptionRejected  = "rejected"
)

const (
	FamilyRoleOwner  = "owner"
	FamilyRoleMember = "member"
)

type FamilyGroup struct {
	ID         string    `json:"id" db:"id"`
	Name       string    `json:"name" db:"name"`
	OwnerID    string    `json:"ownerId" db:"owner_id"`
	InviteCode string    `json:"inviteCode" db:"invite_code"`
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt  time.Time `json:"updatedAt" db:"updated_at"`
}

var FamilyGroupSchema = &interfaces.Schema{
	TableName: "family_groups",
	Fields: map[string]interfaces.FieldSchema{
		"id":   {Type: interfaces.FieldString, PrimaryKey: true},
		"name": {Type: interfaces.FieldString},
		"owner_id": {
			Type:       interfaces.FieldString,
			ForeignKey: &interfaces.ForeignKey{Table: "users", Column: "id", OnDelete: "CASCADE"},
		},
		"invite_code": {Type: interfaces.FieldString, Unique: true},
		"created_at":  {Type: interfaces.FieldTime},
		"updated_at":  {Type: interfaces.FieldTime},
	},
}

// FamilyMember places a user in a group. A user belongs to at most one group.
type FamilyMember struct {
	ID        string    `json:"id" db:"id"`
	GroupID   string    `json:"groupId" db:"group_id"`
	UserID    string    `json:"userId" db:"user_id"`
	Role      string    `json:"role" db:"role"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

var FamilyMemberSchema = &interfaces.Schema{
	TableName: "family_members",
	Fields: map[string]interfaces.FieldSchema{
		"id": {Type: interfaces.FieldString, PrimaryKey: true},
		"group_id": {
			Type:       interfaces.FieldString,
			ForeignKey: &interfaces.ForeignKey{Table: "family_groups", Column: "id", OnDelete: "CASCADE"},
		},
		"user_id": {
			Type:       interfaces.FieldString,
			Unique:     true,
			ForeignKey: &interfaces.ForeignKey{Table: "users", Column: "id", OnDelete: "CASCADE"},
		},
		"role":       {Type: interfaces.FieldString, DefaultValue: FamilyRoleMember},
		"created_at": {Type: interfaces.FieldTime},
	},
}

type ReferralCode struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"userId" db:"user_id"`
	Code      string    `json:"code" db:"code"`
	Uses      int64     `json:"uses" db:"uses"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

var ReferralCodeSchema = &interfaces.Schema{
	TableName: "referral_codes",
	Fields: map[string]interfaces.FieldSchema{
		"id": {Type: interfaces.FieldString, PrimaryKey: true},
		"user_id": {
			Type:       interfaces.FieldString,
			Unique:     true,
			ForeignKey: &interfaces.ForeignKey{Table: "users", Column: "id", OnDelete: "CASCADE"},
		},
		"code":       {Type: interfaces.FieldString, Unique: true},
		"uses":       {Type: interfaces.FieldInt64, DefaultValue: 0},
		"created_at": {Type: interfaces.FieldTime},
		"updated_at": {Type: interfaces.FieldTime},
	},
}

type ReferralReward struct {
	ID           string     `json:"id" db:"id"`
	UserID       string     `json:"userId" db:"user_id"`
	Points       int64      `json:"points" db:"points"`
	Reason       *string    `json:"reason,omitempty" db:"reason"`
	Status       string     `json:"status" db:"status"`
	SourceUserID *string    `json:"sourceUserId,omitempty" db:"source_user_id"`
	DecidedAt    *time.Time `json:"decidedAt,omitempty" db:"decided_at"`
	CreatedAt    time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time  `json:"updatedAt" db:"updated_at"`
}

var ReferralRewardSchema = &interfaces.Schema{
	TableName: "referral_rewards",
	Fields: map[string]interfaces.FieldSchema{
		"id": {Type: interfaces.FieldString, PrimaryKey: true},
		"user_id": {
			Type:       interfaces.FieldString,
			ForeignKey: &interfaces.ForeignKey{Table: "users", Column: "id", OnDelete: "CASCADE"},
		},
		"points": {Type: interfaces.FieldInt64},
		"reason": {Type: interfaces.FieldString, Nullable: true},
		"status": {Type: interfaces.FieldString, DefaultValue: RewardRequested},
		"source_user_id": {
			Type:       interfaces.FieldString,
			Nullable:   true,
			ForeignKey: &interfaces.ForeignKey{Table: "users", Column: "id", OnDelete: "SET_NULL"},
		},
		"decided_at": {Type: interfaces.FieldTime, Nullable: true},
		"created_at": {Type: interfaces.FieldTime},
		"updated_at": {Type: interfaces.FieldTime},
	},
	Indexes: []interfaces.Index{
		{Name: "idx_referral_rewards_user_status", Columns: []string{"user_id", "status"}},
	},
}

type ReferralRedemption struct {
	ID        string     `json:"id" db:"id"`
	UserID    string     `json:"userId" db:"user_id"`
	Points    int64      `json:"points" db:"points"`
	Status    string     `json:"status" db:"status"`
	Note      *string    `json:"note,omitempty" db:"note"`
	DecidedAt *time.Time `json:"decidedAt,omitempty" db:"decided_at"`
	CreatedAt time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time  `json:"updatedAt" db:"updated_at"`
}

var ReferralRedemptionSchema = &interfaces.Schema{
	TableName: "referral_redemptions",
	Fields: map[string]interfaces.FieldSchema{
		"id": {Type: interfaces.FieldString, PrimaryKey: true},
		"user_id": {
			Type:       interfaces.FieldString,
			ForeignKey: &interfaces.ForeignKey{Table: "users", Column: "id", OnDelete: "CASCADE"},
		},
		"points":     {Type: interfaces.FieldInt64},
		"status":     {Type: interfaces.FieldString, DefaultValue: RedemptionRequested},
		"note":       {Type: interfaces.FieldString, Nullable: true},
		"decided_at": {Type: interfaces.FieldTime, Nullable: true},
		"created_at": {Type: interfaces.FieldTime},
		"updated_at": {Type: interfaces.FieldTime},
	},
	Indexes: []interfaces.Index{
		{Name: "idx_referral_redemptions_user_status", Columns: []string{"user_id", "status"}},
	},
}
