package query

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/havenly/havenly-backend/internal/db/interfaces"
)

// Builder evaluates queries against in-memory records and renders them as
// SQL. Both paths share one set of semantics so the memory backend behaves
// like Postgres.
type Builder struct {
	schema *interfaces.Schema
}

// NewBuilder creates a new query builder for a schema
func NewBuilder(schema *interfaces.Schema) *Builder {
	return &Builder{schema: schema}
}

// Validate checks that every field referenced by q exists in the schema and
// that sort directions are valid.
func (b *Builder) Validate(q *interfaces.Query) error {
	if q == nil {
		return nil
	}
	if err := b.validateFilters(q.Where); err != nil {
		return err
	}
	for _, f := range q.Select {
		if !b.schema.HasField(f) {
			return fmt.Errorf("%w: unknown select field %q", interfaces.ErrInvalidQuery, f)
		}
	}
	for _, o := range q.OrderBy {
		if !b.schema.HasField(o.Field) {
			return fmt.Errorf("%w: unknown sort field %q", interfaces.ErrInvalidQuery, o.Field)
		}
		if _, err := direction(o.Direction); err != nil {
			return err
		}
	}
	if q.Limit != nil && *q.Limit < 0 {
		return fmt.Errorf("%w: negative limit", interfaces.ErrInvalidQuery)
	}
	if q.Offset != nil && *q.Offset < 0 {
		return fmt.Errorf("%w: negative offset", interfaces.ErrInvalidQuery)
	}
	return nil
}

func (b *Builder) validateFilters(f *interfaces.Filters) error {
	if f == nil {
		return nil
	}
	for _, c := range f.Conditions {
		if !b.schema.HasField(c.Field) {
			return fmt.Errorf("%w: unknown filter field %q", interfaces.ErrInvalidQuery, c.Field)
		}
	}
	for _, sub := range f.AND {
		if err := b.validateFilters(sub); err != nil {
			return err
		}
	}
	for _, sub := range f.OR {
		if err := b.validateFilters(sub); err != nil {
			return err
		}
	}
	return nil
}

func direction(d string) (string, error) {
	switch strings.ToLower(d) {
	case "", "asc":
		return "ASC", nil
	case "desc":
		return "DESC", nil
	}
	return "", fmt.Errorf("%w: bad sort direction %q", interfaces.ErrInvalidQuery, d)
}

// MatchesFilters checks if a record matches the given filters
func (b *Builder) MatchesFilters(record map[string]interface{}, filters *interfaces.Filters) bool {
	if filters == nil {
		return true
	}

	for _, andFilter := range filters.AND {
		if !b.MatchesFilters(record, andFilter) {
			return false
		}
	}

	if len(filters.OR) > 0 {
		hasMatch := false
		for _, orFilter := range filters.OR {
			if b.MatchesFilters(record, orFilter) {
				hasMatch = true
				break
			}
		}
		if !hasMatch {
			return false
		}
	}

	for _, condition := range filters.Conditions {
		if !b.matchesCondition(record, condition) {
			return false
		}
	}

	return true
}

func (b *Builder) matchesCondition(record map[string]interface{}, condition interfaces.Filter) bool {
	fieldValue := record[condition.Field]

	if condition.Operator == nil {
		if condition.Value == nil {
			return fieldValue == nil
		}
		return fieldValue != nil && equal(fieldValue, condition.Value)
	}

	op := condition.Operator

	if op.IsNull && fieldValue != nil {
		return false
	}
	if op.IsNotNull && fieldValue == nil {
		return false
	}

	// Like SQL, any comparison against NULL is false.
	needsValue := op.Eq != nil || op.Ne != nil || op.Gt != nil || op.Gte != nil ||
		op.Lt != nil || op.Lte != nil || op.In != nil || len(op.NotIn) > 0 ||
		op.Like != "" || op.NotLike != ""
	if needsValue && fieldValue == nil {
		return false
	}

	if op.Eq != nil && !equal(fieldValue, op.Eq) {
		return false
	}
	if op.Ne != nil && equal(fieldValue, op.Ne) {
		return false
	}
	if op.Gt != nil && !ordered(fieldValue, op.Gt, func(c int) bool { return c > 0 }) {
		return false
	}
	if op.Gte != nil && !ordered(fieldValue, op.Gte, func(c int) bool { return c >= 0 }) {
		return false
	}
	if op.Lt != nil && !ordered(fieldValue, op.Lt, func(c int) bool { return c < 0 }) {
		return false
	}
	if op.Lte != nil && !ordered(fieldValue, op.Lte, func(c int) bool { return c <= 0 }) {
		return false
	}

	if op.In != nil {
		found := false
		for _, val := range op.In {
			if equal(fieldValue, val) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, val := range op.NotIn {
		if equal(fieldValue, val) {
			return false
		}
	}

	caseSensitive := op.CaseSensitive == nil || *op.CaseSensitive
	if op.Like != "" && !containsPattern(fieldValue, op.Like, caseSensitive) {
		return false
	}
	if op.NotLike != "" && containsPattern(fieldValue, op.NotLike, caseSensitive) {
		return false
	}

	return true
}

// containsPattern treats the pattern as a substring; '%' wildcards are
// ignored so callers may pass either "austin" or "%austin%".
func containsPattern(v interface{}, pattern string, caseSensitive bool) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	pattern = strings.ReplaceAll(pattern, "%", "")
	if !caseSensitive {
		s = strings.ToLower(s)
		pattern = strings.ToLower(pattern)
	}
	return strings.Contains(s, pattern)
}

func ordered(a, b interface{}, ok func(int) bool) bool {
	c, comparable := compare(a, b)
	return comparable && ok(c)
}

func equal(a, b interface{}) bool {
	if c, ok := compare(a, b); ok {
		return c == 0
	}
	if ra, ok := a.(json.RawMessage); ok {
		if rb, ok := b.(json.RawMessage); ok {
			return bytes.Equal(ra, rb)
		}
	}
	return reflect.DeepEqual(a, b)
}

// compare orders two scalar values. Numbers compare across integer and
// float types. The second result is false when the values are not comparable.
func compare(a, b interface{}) (int, bool) {
	if fa, ok := interfaces.ToFloat(a); ok {
		if fb, ok := interfaces.ToFloat(b); ok {
			switch {
			case fa < fb:
				return -1, true
			case fa > fb:
				return 1, true
			}
			return 0, true
		}
		return 0, false
	}

	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv), true
		}
	case bool:
		if bv, ok := b.(bool); ok {
			switch {
			case av == bv:
				return 0, true
			case !av:
				return -1, true
			}
			return 1, true
		}
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return av.Compare(bv), true
		}
	}
	return 0, false
}

// ApplySort sorts records according to orderBy, breaking ties on the primary
// key. Nulls sort last in either direction.
func (b *Builder) ApplySort(records []map[string]interface{}, orderBy []interfaces.OrderBy) []map[string]interface{} {
	sorted := make([]map[string]interface{}, len(records))
	copy(sorted, records)

	orders := b.withTiebreaker(orderBy)
	sort.SliceStable(sorted, func(i, j int) bool {
		for _, order := range orders {
			av, bv := sorted[i][order.Field], sorted[j][order.Field]
			switch {
			case av == nil && bv == nil:
				continue
			case av == nil:
				return false
			case bv == nil:
				return true
			}
			c, _ := compare(av, bv)
			if c == 0 {
				continue
			}
			if strings.EqualFold(order.Direction, "desc") {
				return c > 0
			}
			return c < 0
		}
		return false
	})

	return sorted
}

func (b *Builder) withTiebreaker(orderBy []interfaces.OrderBy) []interfaces.OrderBy {
	pk := b.schema.PrimaryKey()
	for _, o := range orderBy {
		if o.Field == pk {
			return orderBy
		}
	}
	out := make([]interfaces.OrderBy, 0, len(orderBy)+1)
	out = append(out, orderBy...)
	if b.schema.HasField(pk) {
		out = append(out, interfaces.OrderBy{Field: pk, Direction: "asc"})
	}
	return out
}

// ApplyPagination applies limit and offset to the records
func (b *Builder) ApplyPagination(records []map[string]interface{}, limit, offset *int) []map[string]interface{} {
	start := 0
	if offset != nil {
		start = *offset
	}

	if start >= len(records) {
		return []map[string]interface{}{}
	}

	end := len(records)
	if limit != nil && start+*limit < end {
		end = start + *limit
	}

	return records[start:end]
}

// Project keeps only the selected fields; an empty selection keeps all.
func (b *Builder) Project(record map[string]interface{}, fields []string) map[string]interface{} {
	if len(fields) == 0 {
		return record
	}
	out := make(map[string]interface{}, len(fields))
	for _, f := range fields {
		out[f] = record[f]
	}
	return out
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Equal reports whether two stored values are equal under the same rules
// filters use.
func Equal(a, b interface{}) bool {
	return equal(a, b)
}
