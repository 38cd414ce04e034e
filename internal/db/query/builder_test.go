package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/havenly/havenly-backend/internal/db/interfaces"
)

var testSchema = &interfaces.Schema{
	TableName: "properties",
	Fields: map[string]interfaces.FieldSchema{
		"listing_key":   {Type: interfaces.FieldString, PrimaryKey: true},
		"city":          {Type: interfaces.FieldString},
		"list_price":    {Type: interfaces.FieldFloat64, Nullable: true},
		"bedrooms":      {Type: interfaces.FieldInt64, Nullable: true},
		"hidden":        {Type: interfaces.FieldBool, Nullable: true},
		"status":        {Type: interfaces.FieldString},
		"first_seen_at": {Type: interfaces.FieldTime, Nullable: true},
	},
}

func visible() *interfaces.Filters {
	return interfaces.Where(interfaces.Eq("status", "Active")).And(
		interfaces.AnyOf(
			interfaces.Where(interfaces.Eq("hidden", false)),
			interfaces.Where(interfaces.IsNull("hidden")),
		),
	)
}

func TestMatchesFilters(t *testing.T) {
	b := NewBuilder(testSchema)

	testCases := []struct {
		name    string
		record  map[string]interface{}
		filters *interfaces.Filters
		want    bool
	}{
		{
			name:    "nil filters match everything",
			record:  map[string]interface{}{"city": "Austin"},
			filters: nil,
			want:    true,
		},
		{
			name:    "hidden null counts as visible",
			record:  map[string]interface{}{"status": "Active", "hidden": nil},
			filters: visible(),
			want:    true,
		},
		{
			name:    "hidden true is excluded",
			record:  map[string]interface{}{"status": "Active", "hidden": true},
			filters: visible(),
			want:    false,
		},
		{
			name:    "inactive is excluded",
			record:  map[string]interface{}{"status": "Pending", "hidden": false},
			filters: visible(),
			want:    false,
		},
		{
			name:    "int filter matches float column",
			record:  map[string]interface{}{"list_price": 500000.0},
			filters: interfaces.Where(interfaces.Between("list_price", 400000, 600000)),
			want:    true,
		},
		{
			name:    "range excludes null",
			record:  map[string]interface{}{"list_price": nil},
			filters: interfaces.Where(interfaces.Gte("list_price", 1)),
			want:    false,
		},
		{
			name:    "case-insensitive contains",
			record:  map[string]interface{}{"city": "San Antonio"},
			filters: interfaces.Where(interfaces.ILike("city", "antonio")),
			want:    true,
		},
		{
			name:    "empty in matches nothing",
			record:  map[string]interface{}{"city": "Austin"},
			filters: interfaces.Where(interfaces.In("city")),
			want:    false,
		},
		{
			name:    "in matches member",
			record:  map[string]interface{}{"bedrooms": int64(3)},
			filters: interfaces.Where(interfaces.In("bedrooms", 2, 3)),
			want:    true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, b.MatchesFilters(tc.record, tc.filters))
		})
	}
}

func TestApplySortNullsLastAndTiebreak(t *testing.T) {
	b := NewBuilder(testSchema)
	records := []map[string]interface{}{
		{"listing_key": "c", "list_price": 300.0},
		{"listing_key": "a", "list_price": nil},
		{"listing_key": "b", "list_price": 300.0},
		{"listing_key": "d", "list_price": 900.0},
	}

	desc := b.ApplySort(records, []interfaces.OrderBy{{Field: "list_price", Direction: "desc"}})
	keys := func(rs []map[string]interface{}) []string {
		out := make([]string, len(rs))
		for i, r := range rs {
			out[i] = r["listing_key"].(string)
		}
		return out
	}
	assert.Equal(t, []string{"d", "b", "c", "a"}, keys(desc))

	asc := b.ApplySort(records, []interfaces.OrderBy{{Field: "list_price", Direction: "asc"}})
	assert.Equal(t, []string{"b", "c", "d", "a"}, keys(asc))
}

func TestApplyPagination(t *testing.T) {
	b := NewBuilder(testSchema)
	records := make([]map[string]interface{}, 5)
	for i := range records {
		records[i] = map[string]interface{}{"n": i}
	}

	assert.Len(t, b.ApplyPagination(records, interfaces.Limit(2), interfaces.Limit(4)), 1)
	assert.Empty(t, b.ApplyPagination(records, interfaces.Limit(2), interfaces.Limit(10)))
	assert.Len(t, b.ApplyPagination(records, nil, nil), 5)
}

func TestSelectSQL(t *testing.T) {
	b := NewBuilder(testSchema)

	sql, args, err := b.SelectSQL(&interfaces.Query{
		Where:   visible().And(interfaces.Where(interfaces.ILike("city", "aus_tin"))),
		OrderBy: []interfaces.OrderBy{{Field: "list_price", Direction: "desc"}},
		Limit:   interfaces.Limit(20),
		Offset:  interfaces.Limit(40),
	})
	require.NoError(t, err)

	assert.Equal(t,
		`SELECT * FROM "properties" WHERE (("status" = $1) AND ((("hidden" = $2) OR ("hidden" IS NULL)))) AND ("city" ILIKE $3)`+
			` ORDER BY "list_price" DESC NULLS LAST, "listing_key" ASC NULLS LAST LIMIT $4 OFFSET $5`,
		sql)
	assert.Equal(t, []interface{}{"Active", false, `%aus\_tin%`, 20, 40}, args)
}

func TestSelectSQLRejectsUnknownFields(t *testing.T) {
	b := NewBuilder(testSchema)

	_, _, err := b.SelectSQL(&interfaces.Query{OrderBy: []interfaces.OrderBy{{Field: "price; DROP TABLE", Direction: "asc"}}})
	assert.ErrorIs(t, err, interfaces.ErrInvalidQuery)

	_, _, err = b.SelectSQL(&interfaces.Query{OrderBy: []interfaces.OrderBy{{Field: "city", Direction: "sideways"}}})
	assert.ErrorIs(t, err, interfaces.ErrInvalidQuery)

	_, _, err = b.SelectSQL(&interfaces.Query{Where: interfaces.Where(interfaces.Eq("nope", 1))})
	assert.ErrorIs(t, err, interfaces.ErrInvalidQuery)
}

func TestWriteSQL(t *testing.T) {
	b := NewBuilder(testSchema)
	seen := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	sql, args := b.InsertSQL(map[string]interface{}{"listing_key": "k1", "city": "Austin", "first_seen_at": seen})
	assert.Equal(t, `INSERT INTO "properties" ("city", "first_seen_at", "listing_key") VALUES ($1, $2, $3) RETURNING *`, sql)
	assert.Equal(t, []interface{}{"Austin", seen, "k1"}, args)

	sql, _, err := b.UpsertSQL([]string{"listing_key"}, map[string]interface{}{"listing_key": "k1", "city": "Austin"})
	require.NoError(t, err)
	assert.Equal(t, `INSERT INTO "properties" ("city", "listing_key") VALUES ($1, $2) ON CONFLICT ("listing_key") DO UPDATE SET "city" = EXCLUDED."city" RETURNING *`, sql)

	sql, _, err = b.UpsertSQL([]string{"listing_key"},
		map[string]interface{}{"listing_key": "k1", "city": "Austin", "status": "Active"}, "status")
	require.NoError(t, err)
	assert.Contains(t, sql, `DO UPDATE SET "status" = EXCLUDED."status" RETURNING *`)

	sql, args, err = b.UpdateWhereSQL(interfaces.Where(interfaces.Eq("status", "Active")), map[string]interface{}{"hidden": true})
	require.NoError(t, err)
	assert.Equal(t, `UPDATE "properties" SET "hidden" = $1 WHERE "status" = $2`, sql)
	assert.Equal(t, []interface{}{true, "Active"}, args)

	sql, args = b.DeleteByKeySQL("k1")
	assert.Equal(t, `DELETE FROM "properties" WHERE "listing_key" = $1`, sql)
	assert.Equal(t, []interface{}{"k1"}, args)
}
