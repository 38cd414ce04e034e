package db

import (
	"context"
	"fmt"
	"time"

	"github.com/havenly/havenly-backend/internal/db/entities"
	"github.com/havenly/havenly-backend/internal/db/interfaces"
)

type propertyFixture struct {
	key, city, state, ptype string
	price                   float64
	beds                    int64
	baths                   float64
	pool, view, hidden      bool
	status                  string
	ageDays                 int
}

var propertyFixtures = []propertyFixture{
	{"MAL-1001", "Malibu", "CA", "Residential", 2450000, 4, 3.5, true, true, false, "Active", 2},
	{"MAL-1002", "Malibu", "CA", "Condominium", 875000, 2, 2, false, true, false, "Active", 6},
	{"MAL-1003", "Malibu", "CA", "Residential", 640000, 2, 1, false, false, false, "Active", 11},
	{"MAL-1004", "Malibu", "CA", "Residential", 990000, 3, 2, true, false, true, "Active", 3},
	{"MAL-1005", "Malibu", "CA", "Residential", 720000, 3, 2, false, false, false, "Pending", 20},
	{"LA-2001", "Los Angeles", "CA", "Residential", 1150000, 3, 2.5, true, false, false, "Active", 1},
	{"LA-2002", "Los Angeles", "CA", "Condominium", 585000, 1, 1, false, true, false, "Active", 8},
	{"SD-3001", "San Diego", "CA", "Residential", 1320000, 4, 3, true, true, false, "Active", 4},
	{"AUS-4001", "Austin", "TX", "Residential", 615000, 3, 2, true, false, false, "Active", 5},
	{"AUS-4002", "Austin", "TX", "Townhouse", 449000, 2, 2.5, false, false, false, "Active", 9},
	{"MIA-5001", "Miami", "FL", "Condominium", 899000, 2, 2, true, true, false, "Active", 2},
	{"MIA-5002", "Miami Beach", "FL", "Residential", 3100000, 5, 4.5, true, true, false, "Active", 14},
}

// PropertyFixtures returns sample listings relative to now. One is hidden and
// one is not Active so visibility rules can be exercised.
func PropertyFixtures(now time.Time) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(propertyFixtures))
	for i, f := range propertyFixtures {
		seen := now.Add(-time.Duration(f.ageDays) * 24 * time.Hour)
		modified := seen.Add(time.Duration(i) * time.Hour)
		photo := fmt.Sprintf("https://photos.havenly.homes/%s/1.jpg", f.key)
		p := &entities.Property{
			ListingKey:            f.key,
			ListPrice:             &f.price,
			City:                  f.city,
			StateOrProvince:       f.state,
			BedroomsTotal:         &f.beds,
			BathroomsTotal:        &f.baths,
			PropertyType:          &f.ptype,
			Status:                f.status,
			Photos:                []string{photo},
			PrimaryPhotoURL:       &photo,
			HasPool:               &f.pool,
			HasView:               &f.view,
			Hidden:                &f.hidden,
			FirstSeenAt:           &seen,
			ModificationTimestamp: &modified,
		}
		out = append(out, p.Record())
	}
	return out
}

// PostFixtures returns a published post, one scheduled in the past (due), one
// scheduled in the future and a draft.
func PostFixtures(now time.Time) []map[string]interface{} {
	return []map[string]interface{}{
		{
			"slug":             "malibu-market-update",
			"status":           entities.PostStatusPublished,
			"title_primary":    "Malibu Market Update",
			"meta_description": "Prices, inventory and days on market along the Malibu coast.",
			"content_md":       "# Malibu Market Update\n\nInventory along the coast tightened again this month.",
			"city":             "Malibu",
			"template":         "market-update",
			"published_at":     now.Add(-72 * time.Hour),
		},
		{
			"slug":          "first-time-buyer-checklist",
			"status":        entities.PostStatusScheduled,
			"title_primary": "First-Time Buyer Checklist",
			"content_md":    "Get pre-approved before you tour.",
			"template":      "buyer-tips",
			"scheduled_at":  now.Add(-time.Hour),
		},
		{
			"slug":          "selling-in-spring",
			"status":        entities.PostStatusScheduled,
			"title_primary": "Why Spring Is the Season to Sell",
			"content_md":    "Buyers return in force every March.",
			"template":      "seller-tips",
			"scheduled_at":  now.Add(48 * time.Hour),
		},
		{
			"slug":          "austin-neighborhood-guide",
			"status":        entities.PostStatusDraft,
			"title_primary": "Austin Neighborhood Guide",
			"content_md":    "From Zilker to Mueller.",
			"city":          "Austin",
			"template":      "neighborhood-guide",
		},
	}
}

// SettingFixtures returns the default admin settings.
func SettingFixtures() []map[string]interface{} {
	return []map[string]interface{}{
		{"key": entities.SettingLandingGenerateOnRequest, "value": false},
		{"key": entities.SettingFeaturedCity, "value": "Malibu"},
	}
}

// SeedFixtures loads every fixture set into db.
func SeedFixtures(ctx context.Context, db interfaces.Database, now time.Time) error {
	sets := []struct {
		schema *interfaces.Schema
		data   []map[string]interface{}
	}{
		{entities.PropertySchema, PropertyFixtures(now)},
		{entities.PostSchema, PostFixtures(now)},
		{entities.AdminSettingSchema, SettingFixtures()},
	}
	for _, set := range sets {
		if err := db.Seed(ctx, set.schema, set.data); err != nil {
			return fmt.Errorf("seed %s: %w", set.schema.TableName, err)
		}
	}
	return nil
}

// AllSchemas returns all entity schemas for migration
func AllSchemas() []*interfaces.Schema {
	return entities.All()
}
