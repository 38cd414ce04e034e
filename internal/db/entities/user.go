package entities

import (
	"time"

	"github.com/havenly/havenly-backend/internal/db/interfaces"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User is an account holder. PasswordHash never leaves the server.
type User struct {
	ID           string    `json:"id" db:"id"`
	Email        string    `json:"email" db:"email"`
	PasswordHash string    `json:"-" db:"password_hash"`
	Name         *string   `json:"name,omitempty" db:"name"`
	Phone        *string   `json:"phone,omitempty" db:"phone"`
	Role         string    `json:"role" db:"role"`
	ReferredBy   *string   `json:"referredBy,omitempty" db:"referred_by"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time `json:"updatedAt" db:"updated_at"`
}

func (u *User) Record() map[string]interface{} {
	m := map[string]interface{}{
		"email":         u.Email,
		"password_hash": u.PasswordHash,
		"name":          optional(u.Name),
		"phone":         optional(u.Phone),
		"role":          u.Role,
		"referred_by":   optional(u.ReferredBy),
	}
	if u.ID != "" {
		m["id"] = u.ID
	}
	return m
}

var UserSchema = &interfaces.Schema{
	TableName: "users",
	Fields: map[string]interfaces.FieldSchema{
		"id":            {Type: interfaces.FieldString, PrimaryKey: true},
		"email":         {Type: interfaces.FieldString, Unique: true},
		"password_hash": {Type: interfaces.FieldString},
		"name":          {Type: interfaces.FieldString, Nullable: true},
		"phone":         {Type: interfaces.FieldString, Nullable: true},
		"role":          {Type: interfaces.FieldString, DefaultValue: RoleUser},
		"referred_by": {
			Type:       interfaces.FieldString,
			Nullable:   true,
			ForeignKey: &interfaces.ForeignKey{Table: "users", Column: "id", OnDelete: "SET_NULL"},
		},
		"created_at": {Type: interfaces.FieldTime},
		"updated_at": {Type: interfaces.FieldTime},
	},
}
