package entities

import (
	"encoding/json"
	"time"

	"github.com/havenly/havenly-backend/internal/db/interfaces"
)

// Known admin_settings keys.
const (
	SettingLandingGenerateOnRequest = "landing.generate_on_request"
	SettingFeaturedCity             = "home.featured_city"
)

type AdminSetting struct {
	Key       string          `json:"key" db:"key"`
	Value     json.RawMessage `json:"value" db:"value"`
	UpdatedBy *string         `json:"updatedBy,omitempty" db:"updated_by"`
	CreatedAt time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time       `json:"updatedAt" db:"updated_at"`
}

var AdminSettingSchema = &interfaces.Schema{
	TableName: "admin_settings",
	Fields: map[string]interfaces.FieldSchema{
		"key":        {Type: interfaces.FieldString, PrimaryKey: true},
		"value":      {Type: interfaces.FieldJSON},
		"updated_by": {Type: interfaces.FieldString, Nullable: true},
		"created_at": {Type: interfaces.FieldTime},
		"updated_at": {Type: interfaces.FieldTime},
	},
}

const (
	TopicStatusNew       = "new"
	TopicStatusDrafted   = "drafted"
	TopicStatusDismissed = "dismissed"
	TopicSourceTrends    = "google-trends"
	TopicSourceManual    = "manual"
)

// DiscoveredTopic is a trending search term considered for a blog post.
type DiscoveredTopic struct {
	ID           string    `json:"id" db:"id"`
	Term         string    `json:"term" db:"term"`
	Source       string    `json:"source" db:"source"`
	Traffic      *string   `json:"traffic,omitempty" db:"traffic"`
	Score        float64   `json:"score" db:"score"`
	Status       string    `json:"status" db:"status"`
	Related      []string  `json:"related,omitempty" db:"related"`
	DiscoveredAt time.Time `json:"discoveredAt" db:"discovered_at"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time `json:"updatedAt" db:"updated_at"`
}

var DiscoveredTopicSchema = &interfaces.Schema{
	TableName: "discovered_topics",
	Fields: map[string]interfaces.FieldSchema{
		"id":            {Type: interfaces.FieldString, PrimaryKey: true},
		"term":          {Type: interfaces.FieldString, Unique: true},
		"source":        {Type: interfaces.FieldString, DefaultValue: TopicSourceTrends},
		"traffic":       {Type: interfaces.FieldString, Nullable: true},
		"score":         {Type: interfaces.FieldFloat64, DefaultValue: 0.0},
		"status":        {Type: interfaces.FieldString, DefaultValue: TopicStatusNew},
		"related":       {Type: interfaces.FieldStringArray, Nullable: true},
		"discovered_at": {Type: interfaces.FieldTime},
		"created_at":    {Type: interfaces.FieldTime},
		"updated_at":    {Type: interfaces.FieldTime},
	},
}
