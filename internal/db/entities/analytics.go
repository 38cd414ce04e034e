package entities

import (
	"time"

	"github.com/havenly/havenly-backend/internal/db/interfaces"
)

const (
	SubscriberActive       = "active"
	SubscriberUnsubscribed = "unsubscribed"
)

type PageView struct {
	ID         string    `json:"id" db:"id"`
	Path       string    `json:"path" db:"path"`
	Referrer   *string   `json:"referrer,omitempty" db:"referrer"`
	VisitorID  *string   `json:"visitorId,omitempty" db:"visitor_id"`
	UserAgent  *string   `json:"userAgent,omitempty" db:"user_agent"`
	PropertyID *string   `json:"propertyId,omitempty" db:"property_id"`
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
}

var PageViewSchema = &interfaces.Schema{
	TableName: "page_views",
	Fields: map[string]interfaces.FieldSchema{
		"id":          {Type: interfaces.FieldString, PrimaryKey: true},
		"path":        {Type: interfaces.FieldString},
		"referrer":    {Type: interfaces.FieldString, Nullable: true},
		"visitor_id":  {Type: interfaces.FieldString, Nullable: true},
		"user_agent":  {Type: interfaces.FieldString, Nullable: true},
		"property_id": {Type: interfaces.FieldString, Nullable: true},
		"created_at":  {Type: interfaces.FieldTime},
	},
	Indexes: []interfaces.Index{
		{Name: "idx_page_views_created_at", Columns: []string{"created_at"}},
	},
}

type NewsletterSubscriber struct {
	ID             string     `json:"id" db:"id"`
	Email          string     `json:"email" db:"email"`
	Status         string     `json:"status" db:"status"`
	Source         *string    `json:"source,omitempty" db:"source"`
	SubscribedAt   time.Time  `json:"subscribedAt" db:"subscribed_at"`
	UnsubscribedAt *time.Time `json:"unsubscribedAt,omitempty" db:"unsubscribed_at"`
	CreatedAt      time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt      time.Time  `json:"updatedAt" db:"updated_at"`
}

var NewsletterSubscriberSchema = &interfaces.Schema{
	TableName: "newsletter_subscribers",
	Fields: map[string]interfaces.FieldSchema{
		"id":              {Type: interfaces.FieldString, PrimaryKey: true},
		"email":           {Type: interfaces.FieldString, Unique: true},
		"status":          {Type: interfaces.FieldString, DefaultValue: SubscriberActive},
		"source":          {Type: interfaces.FieldString, Nullable: true},
		"subscribed_at":   {Type: interfaces.FieldTime},
		"unsubscribed_at": {Type: interfaces.FieldTime, Nullable: true},
		"created_at":      {Type: interfaces.FieldTime},
		"updated_at":      {Type: interfaces.FieldTime},
	},
}
