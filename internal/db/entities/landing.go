package entities

import (
	"encoding/json"
	"time"

	"github.com/havenly/havenly-backend/internal/db/interfaces"
)

// LandingPage stores generated copy for one (city, kind) pair.
type LandingPage struct {
	ID           string          `json:"id" db:"id"`
	City         string          `json:"city" db:"city"`
	PageName     string          `json:"pageName" db:"page_name"`
	Content      json.RawMessage `json:"content" db:"content"`
	HeroImageURL *string         `json:"heroImageUrl,omitempty" db:"hero_image_url"`
	GeneratedAt  *time.Time      `json:"generatedAt,omitempty" db:"generated_at"`
	CreatedAt    time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time       `json:"updatedAt" db:"updated_at"`
}

var LandingPageSchema = &interfaces.Schema{
	TableName: "landing_pages",
	Fields: map[string]interfaces.FieldSchema{
		"id":             {Type: interfaces.FieldString, PrimaryKey: true},
		"city":           {Type: interfaces.FieldString},
		"page_name":      {Type: interfaces.FieldString},
		"content":        {Type: interfaces.FieldJSON},
		"hero_image_url": {Type: interfaces.FieldString, Nullable: true},
		"generated_at":   {Type: interfaces.FieldTime, Nullable: true},
		"created_at":     {Type: interfaces.FieldTime},
		"updated_at":     {Type: interfaces.FieldTime},
	},
	Indexes: []interfaces.Index{
		{Name: "uq_landing_pages_city_page", Columns: []string{"city", "page_name"}, Unique: true},
	},
}
