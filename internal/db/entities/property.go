package entities

import (
	"time"

	"github.com/havenly/havenly-backend/internal/db/interfaces"
)

const PropertyStatusActive = "Active"

// Property is one MLS listing. Rows are ingested by an external pipeline;
// the application reads them and toggles Hidden.
type Property struct {
	ListingKey            string     `json:"listingKey" db:"listing_key"`
	ListPrice             *float64   `json:"listPrice,omitempty" db:"list_price"`
	StreetAddress         *string    `json:"streetAddress,omitempty" db:"street_address"`
	City                  string     `json:"city" db:"city"`
	StateOrProvince       string     `json:"stateOrProvince" db:"state_or_province"`
	PostalCode            *string    `json:"postalCode,omitempty" db:"postal_code"`
	BedroomsTotal         *int64     `json:"bedroomsTotal,omitempty" db:"bedrooms_total"`
	BathroomsTotal        *float64   `json:"bathroomsTotal,omitempty" db:"bathrooms_total"`
	LivingArea            *float64   `json:"livingArea,omitempty" db:"living_area"`
	LotSizeAcres          *float64   `json:"lotSizeAcres,omitempty" db:"lot_size_acres"`
	YearBuilt             *int64     `json:"yearBuilt,omitempty" db:"year_built"`
	PropertyType          *string    `json:"propertyType,omitempty" db:"property_type"`
	PropertySubType       *string    `json:"propertySubType,omitempty" db:"property_sub_type"`
	Status                string     `json:"status" db:"status"`
	Photos                []string   `json:"photos,omitempty" db:"photos"`
	PrimaryPhotoURL       *string    `json:"primaryPhotoUrl,omitempty" db:"primary_photo_url"`
	Latitude              *float64   `json:"latitude,omitempty" db:"latitude"`
	Longitude             *float64   `json:"longitude,omitempty" db:"longitude"`
	PublicRemarks         *string    `json:"publicRemarks,omitempty" db:"public_remarks"`
	HasPool               *bool      `json:"hasPool,omitempty" db:"has_pool"`
	HasView               *bool      `json:"hasView,omitempty" db:"has_view"`
	Hidden                *bool      `json:"hidden,omitempty" db:"hidden"`
	Embedding             []float64  `json:"-" db:"embedding"`
	FirstSeenAt           *time.Time `json:"firstSeenAt,omitempty" db:"first_seen_at"`
	ModificationTimestamp *time.Time `json:"modificationTimestamp,omitempty" db:"modification_timestamp"`
	CreatedAt             time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt             time.Time  `json:"updatedAt" db:"updated_at"`
}

// PhotoURL returns the primary photo, falling back to the first gallery photo.
func (p *Property) PhotoURL() string {
	if p.PrimaryPhotoURL != nil && *p.PrimaryPhotoURL != "" {
		return *p.PrimaryPhotoURL
	}
	if len(p.Photos) > 0 {
		return p.Photos[0]
	}
	return ""
}

func (p *Property) IsHidden() bool {
	return p.Hidden != nil && *p.Hidden
}

func (p *Property) Record() map[string]interface{} {
	return map[string]interface{}{
		"listing_key":            p.ListingKey,
		"list_price":             optional(p.ListPrice),
		"street_address":         optional(p.StreetAddress),
		"city":                   p.City,
		"state_or_province":      p.StateOrProvince,
		"postal_code":            optional(p.PostalCode),
		"bedrooms_total":         optional(p.BedroomsTotal),
		"bathrooms_total":        optional(p.BathroomsTotal),
		"living_area":            optional(p.LivingArea),
		"lot_size_acres":         optional(p.LotSizeAcres),
		"year_built":             optional(p.YearBuilt),
		"property_type":          optional(p.PropertyType),
		"property_sub_type":      optional(p.PropertySubType),
		"status":                 p.Status,
		"photos":                 p.Photos,
		"primary_photo_url":      optional(p.PrimaryPhotoURL),
		"latitude":               optional(p.Latitude),
		"longitude":              optional(p.Longitude),
		"public_remarks":         optional(p.PublicRemarks),
		"has_pool":               optional(p.HasPool),
		"has_view":               optional(p.HasView),
		"hidden":                 optional(p.Hidden),
		"embedding":              p.Embedding,
		"first_seen_at":          optional(p.FirstSeenAt),
		"modification_timestamp": optional(p.ModificationTimestamp),
	}
}

var PropertySchema = &interfaces.Schema{
	TableName: "properties",
	Fields: map[string]interfaces.FieldSchema{
		"listing_key":            {Type: interfaces.FieldString, PrimaryKey: true},
		"list_price":             {Type: interfaces.FieldFloat64, Nullable: true},
		"street_address":         {Type: interfaces.FieldString, Nullable: true},
		"city":                   {Type: interfaces.FieldString},
		"state_or_province":      {Type: interfaces.FieldString},
		"postal_code":            {Type: interfaces.FieldString, Nullable: true},
		"bedrooms_total":         {Type: interfaces.FieldInt64, Nullable: true},
		"bathrooms_total":        {Type: interfaces.FieldFloat64, Nullable: true},
		"living_area":            {Type: interfaces.FieldFloat64, Nullable: true},
		"lot_size_acres":         {Type: interfaces.FieldFloat64, Nullable: true},
		"year_built":             {Type: interfaces.FieldInt64, Nullable: true},
		"property_type":          {Type: interfaces.FieldString, Nullable: true},
		"property_sub_type":      {Type: interfaces.FieldString, Nullable: true},
		"status":                 {Type: interfaces.FieldString, DefaultValue: PropertyStatusActive},
		"photos":                 {Type: interfaces.FieldStringArray, Nullable: true},
		"primary_photo_url":      {Type: interfaces.FieldString, Nullable: true},
		"latitude":               {Type: interfaces.FieldFloat64, Nullable: true},
		"longitude":              {Type: interfaces.FieldFloat64, Nullable: true},
		"public_remarks":         {Type: interfaces.FieldString, Nullable: true},
		"has_pool":               {Type: interfaces.FieldBool, Nullable: true},
		"has_view":               {Type: interfaces.FieldBool, Nullable: true},
		"hidden":                 {Type: interfaces.FieldBool, Nullable: true, DefaultValue: false},
		"embedding":              {Type: interfaces.FieldFloatArray, Nullable: true},
		"first_seen_at":          {Type: interfaces.FieldTime, Nullable: true},
		"modification_timestamp": {Type: interfaces.FieldTime, Nullable: true},
		"created_at":             {Type: interfaces.FieldTime},
		"updated_at":             {Type: interfaces.FieldTime},
	},
	Indexes: []interfaces.Index{
		{Name: "idx_properties_city", Columns: []string{"city"}},
		{Name: "idx_properties_state", Columns: []string{"state_or_province"}},
		{Name: "idx_properties_status_hidden", Columns: []string{"status", "hidden"}},
		{Name: "idx_properties_list_price", Columns: []string{"list_price"}},
	},
}
