package listings

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/havenly/havenly-backend/internal/db"
	"github.com/havenly/havenly-backend/internal/db/entities"
	"github.com/havenly/havenly-backend/internal/db/interfaces"
	"github.com/havenly/havenly-backend/internal/log"
	"github.com/havenly/havenly-backend/internal/metrics"
	"github.com/havenly/havenly-backend/internal/store"
	memkv "github.com/havenly/havenly-backend/pkg/kv/memory"
)

func newTestService(t *testing.T) (*Service, interfaces.Database) {
	t.Helper()
	ctx := context.Background()
	database := db.NewInMemoryDatabase(log.Nop())
	require.NoError(t, db.ConnectAndMigrate(ctx, database, db.AllSchemas()))
	require.NoError(t, db.SeedFixtures(ctx, database, time.Now().UTC()))

	cache := store.NewCache(memkv.New(0), log.Nop(), metrics.NewNoop())
	t.Cleanup(func() { cache.Close() })
	return NewService(database, cache, log.Nop()), database
}

func ptr[T any](v T) *T { return &v }

func TestSearchOnlyReturnsMatchingVisibleRows(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	testCases := []struct {
		name string
		opts SearchOptions
	}{
		{"no filters", SearchOptions{}},
		{"price range", SearchOptions{MinPrice: ptr(500000.0), MaxPrice: ptr(1000000.0)}},
		{"beds and baths", SearchOptions{MinBeds: ptr(3), MaxBaths: ptr(3.0)}},
		{"type substring", SearchOptions{PropertyType: "condo"}},
		{"pool", SearchOptions{HasPool: ptr(true), City: "mal"}},
		{"state", SearchOptions{State: "texas"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := svc.Search(ctx, tc.opts)
			require.NoError(t, err)
			require.NotEmpty(t, res.Properties)
			for _, p := range res.Properties {
				assert.Equal(t, entities.PropertyStatusActive, p.Status)
				assert.False(t, p.IsHidden(), p.ListingKey)
				if tc.opts.MinPrice != nil {
					assert.GreaterOrEqual(t, *p.ListPrice, *tc.opts.MinPrice)
				}
				if tc.opts.MaxPrice != nil {
					assert.LessOrEqual(t, *p.ListPrice, *tc.opts.MaxPrice)
				}
				if tc.opts.MinBeds != nil {
					assert.GreaterOrEqual(t, *p.BedroomsTotal, int64(*tc.opts.MinBeds))
				}
				if tc.opts.MaxBaths != nil {
					assert.LessOrEqual(t, *p.BathroomsTotal, *tc.opts.MaxBaths)
				}
				if tc.opts.PropertyType != "" {
					assert.Contains(t, strings.ToLower(*p.PropertyType), tc.opts.PropertyType)
				}
				if tc.opts.HasPool != nil {
					assert.True(t, *p.HasPool)
				}
				if tc.opts.State != "" {
					assert.Equal(t, "TX", p.StateOrProvince)
				}
			}
		})
	}
}

func TestCityStateReinterpretation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	byCity, err := svc.Search(ctx, SearchOptions{City: "california"})
	require.NoError(t, err)
	byState, err := svc.Search(ctx, SearchOptions{State: "CA"})
	require.NoError(t, err)
	assert.Equal(t, byState, byCity)
	assert.Equal(t, int64(6), byCity.Pagination.Total)

	prefixed, err := svc.Search(ctx, SearchOptions{City: "state:fl"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), prefixed.Pagination.Total)

	opts, err := SearchOptions{City: "Atlantis"}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, "Atlantis", opts.City)
	assert.Empty(t, opts.State)
}

func TestSortOrder(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	asc, err := svc.Search(ctx, SearchOptions{Sort: SortPriceAsc, Limit: 100})
	require.NoError(t, err)
	for i := 1; i < len(asc.Properties); i++ {
		assert.LessOrEqual(t, *asc.Properties[i-1].ListPrice, *asc.Properties[i].ListPrice)
	}

	desc, err := svc.Search(ctx, SearchOptions{Sort: SortPriceDesc, Limit: 100})
	require.NoError(t, err)
	for i := 1; i < len(desc.Properties); i++ {
		assert.GreaterOrEqual(t, *desc.Properties[i-1].ListPrice, *desc.Properties[i].ListPrice)
	}

	newest, err := svc.Search(ctx, SearchOptions{Sort: SortNewest, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, "LA-2001", newest.Properties[0].ListingKey)

	_, err = svc.Search(ctx, SearchOptions{Sort: "cheapest"})
	assert.ErrorIs(t, err, ErrInvalidSearch)
}

func TestMalibuPriceScenario(t *testing.T) {
	svc, _ := newTestService(t)

	res, err := svc.Search(context.Background(), SearchOptions{
		City:     "Malibu",
		MinPrice: ptr(500000.0),
		MaxPrice: ptr(1000000.0),
		Limit:    1,
	})
	require.NoError(t, err)
	assert.Len(t, res.Properties, 1)
	assert.Equal(t, int64(2), res.Pagination.Total, "total ignores limit")
	assert.True(t, res.Pagination.HasMore)
	assert.Equal(t, 1, res.Pagination.Limit)
}

func TestPaginationDefaults(t *testing.T) {
	opts, err := SearchOptions{Limit: 500}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, MaxLimit, opts.Limit)
	assert.Equal(t, SortUpdated, opts.Sort)

	opts, err = SearchOptions{}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, DefaultLimit, opts.Limit)

	_, err = SearchOptions{Offset: -1}.Normalize()
	assert.ErrorIs(t, err, ErrInvalidSearch)
}

func TestInvalidRowsAreDropped(t *testing.T) {
	svc, database := newTestService(t)
	ctx := context.Background()

	_, err := database.Repository(entities.PropertySchema).Create(ctx, map[string]interface{}{
		"listing_key":       "BAD-1",
		"city":              "Malibu",
		"state_or_province": "CA",
		"list_price":        -5,
	})
	require.NoError(t, err)

	res, err := svc.Search(ctx, SearchOptions{City: "Malibu", Limit: 100})
	require.NoError(t, err)
	for _, p := range res.Properties {
		assert.NotEqual(t, "BAD-1", p.ListingKey)
	}
	assert.Equal(t, int64(4), res.Pagination.Total, "total still counts the row")
}

func TestGetAndAdminVisibility(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Get(ctx, "MAL-1004")
	assert.ErrorIs(t, err, ErrNotFound, "hidden listing")
	_, err = svc.Get(ctx, "MAL-1005")
	assert.ErrorIs(t, err, ErrNotFound, "inactive listing")

	admin, err := svc.AdminList(ctx, AdminListOptions{Query: "MAL-100", Limit: 50})
	require.NoError(t, err)
	assert.Equal(t, int64(5), admin.Pagination.Total)

	_, err = svc.SetHidden(ctx, "MAL-1004", false)
	require.NoError(t, err)
	p, err := svc.Get(ctx, "MAL-1004")
	require.NoError(t, err)
	assert.Equal(t, "Malibu", p.City)

	require.NoError(t, svc.Delete(ctx, "MAL-1004"))
	assert.ErrorIs(t, svc.Delete(ctx, "MAL-1004"), ErrNotFound)
}

func TestSimilarAndFeatured(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	similar, err := svc.Similar(ctx, "MAL-1002", 5)
	require.NoError(t, err)
	assert.Empty(t, similar, "no other visible Malibu condo in range")

	similar, err = svc.Similar(ctx, "MAL-1003", 5)
	require.NoError(t, err)
	for _, p := range similar {
		assert.NotEqual(t, "MAL-1003", p.ListingKey)
		assert.InDelta(t, 640000, *p.ListPrice, 640000*0.25)
	}

	featured, err := svc.Featured(ctx, "Austin", 3)
	require.NoError(t, err)
	assert.Len(t, featured, 2)

	again, err := svc.Featured(ctx, "Austin", 3)
	require.NoError(t, err)
	assert.Equal(t, len(featured), len(again))
}

func TestEstimateMortgage(t *testing.T) {
	est, err := EstimateMortgage(500000, 20, 6, 30)
	require.NoError(t, err)
	assert.Equal(t, "100000.00", est.DownPayment)
	assert.Equal(t, "400000.00", est.LoanAmount)
	assert.Equal(t, "2398.20", est.MonthlyPayment)
	assert.Equal(t, "463352.00", est.TotalInterest)

	zero, err := EstimateMortgage(300000, 40, 0, 15)
	require.NoError(t, err)
	assert.Equal(t, "1000.00", zero.MonthlyPayment)

	_, err = EstimateMortgage(0, 20, 6, 30)
	assert.ErrorIs(t, err, ErrInvalidSearch)
	_, err = EstimateMortgage(100000, 20, 6, 50)
	assert.ErrorIs(t, err, ErrInvalidSearch)
}
