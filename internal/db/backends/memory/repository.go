package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/havenly/havenly-backend/internal/db/interfaces"
	"github.com/havenly/havenly-backend/internal/db/query"
)

// Repository implements the Repository interface for in-memory storage
type Repository struct {
	db        *Database
	schema    *interfaces.Schema
	builder   *query.Builder
	tableName string
	pk        string
	undo      *undoLog // set for transaction-bound repositories
}

// NewRepository creates a new in-memory repository
func NewRepository(db *Database, schema *interfaces.Schema) *Repository {
	return &Repository{
		db:        db,
		schema:    schema,
		builder:   query.NewBuilder(schema),
		tableName: schema.TableName,
		pk:        schema.PrimaryKey(),
	}
}

func (r *Repository) table() table {
	t, ok := r.db.tables[r.tableName]
	if !ok {
		t = make(table)
		r.db.tables[r.tableName] = t
	}
	return t
}

func (r *Repository) GetByID(ctx context.Context, id interfaces.ID) (map[string]interface{}, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	record, ok := r.db.tables[r.tableName][id.String()]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return copyRecord(record), nil
}

func (r *Repository) FindOne(ctx context.Context, q *interfaces.Query) (map[string]interface{}, error) {
	one := interfaces.Query{}
	if q != nil {
		one = *q
	}
	one.Limit = interfaces.Limit(1)

	result, err := r.FindMany(ctx, &one)
	if err != nil {
		return nil, err
	}
	if len(result.Data) == 0 {
		return nil, interfaces.ErrNotFound
	}
	return result.Data[0], nil
}

func (r *Repository) FindMany(ctx context.Context, q *interfaces.Query) (*interfaces.ResultPage, error) {
	if q == nil {
		q = &interfaces.Query{}
	}
	if err := r.builder.Validate(q); err != nil {
		return nil, err
	}

	records := r.matching(q.Where)
	total := int64(len(records))

	records = r.builder.ApplySort(records, q.OrderBy)
	records = r.builder.ApplyPagination(records, q.Limit, q.Offset)

	data := make([]map[string]interface{}, len(records))
	for i, record := range records {
		data[i] = r.builder.Project(record, q.Select)
	}

	offset, pageSize := 0, len(data)
	if q.Offset != nil {
		offset = *q.Offset
	}
	if q.Limit != nil {
		pageSize = *q.Limit
	}
	page := 1
	if pageSize > 0 {
		page = offset/pageSize + 1
	}

	return &interfaces.ResultPage{
		Data:     data,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	}, nil
}

// matching returns copies of every record satisfying where.
func (r *Repository) matching(where *interfaces.Filters) []map[string]interface{} {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	var out []map[string]interface{}
	for _, record := range r.db.tables[r.tableName] {
		if r.builder.MatchesFilters(record, where) {
			out = append(out, copyRecord(record))
		}
	}
	return out
}

func (r *Repository) Create(ctx context.Context, data map[string]interface{}) (map[string]interface{}, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return r.createLocked(data)
}

func (r *Repository) createLocked(data map[string]interface{}) (map[string]interface{}, error) {
	record, err := r.schema.Normalize(data, false)
	if err != nil {
		return nil, err
	}

	if record[r.pk] == nil {
		if r.schema.Fields[r.pk].Type != interfaces.FieldString {
			return nil, fmt.Errorf("%w: %s requires %q", interfaces.ErrInvalidData, r.tableName, r.pk)
		}
		record[r.pk] = uuid.New().String()
	}

	now := time.Now().UTC()
	if r.schema.HasField("created_at") && record["created_at"] == nil {
		record["created_at"] = now
	}
	if r.schema.HasField("updated_at") {
		record["updated_at"] = now
	}

	t := r.table()
	key := keyString(record[r.pk])
	if _, exists := t[key]; exists {
		return nil, fmt.Errorf("%w: %s %q already exists", interfaces.ErrUniqueConstraint, r.pk, key)
	}
	if err := r.checkUnique(t, record, ""); err != nil {
		return nil, err
	}
	if err := r.checkForeignKeys(record); err != nil {
		return nil, err
	}

	r.undo.remember(r.db, r.tableName, key)
	t[key] = record
	return copyRecord(record), nil
}

func (r *Repository) Update(ctx context.Context, id interfaces.ID, data map[string]interface{}) (map[string]interface{}, error) {
	changes, err := r.schema.Normalize(data, true)
	if err != nil {
		return nil, err
	}

	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	existing, ok := r.db.tables[r.tableName][id.String()]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	updated, err := r.applyLocked(id.String(), existing, changes)
	if err != nil {
		return nil, err
	}
	return copyRecord(updated), nil
}

func (r *Repository) UpdateWhere(ctx context.Context, where *interfaces.Filters, data map[string]interface{}) (int64, error) {
	if err := r.builder.Validate(&interfaces.Query{Where: where}); err != nil {
		return 0, err
	}
	changes, err := r.schema.Normalize(data, true)
	if err != nil {
		return 0, err
	}

	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	var n int64
	for key, record := range r.db.tables[r.tableName] {
		if !r.builder.MatchesFilters(record, where) {
			continue
		}
		if _, err := r.applyLocked(key, record, changes); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// applyLocked merges changes into existing and stores the result. Caller holds db.mu.
func (r *Repository) applyLocked(key string, existing, changes map[string]interface{}) (map[string]interface{}, error) {
	if v, ok := changes[r.pk]; ok && keyString(v) != key {
		return nil, fmt.Errorf("%w: primary key %q cannot change", interfaces.ErrInvalidData, r.pk)
	}

	updated := copyRecord(existing)
	for k, v := range changes {
		if v == nil && !r.schema.Fields[k].Nullable {
			return nil, fmt.Errorf("%w: field %q cannot be null", interfaces.ErrInvalidData, k)
		}
		updated[k] = v
	}
	if r.schema.HasField("updated_at") {
		updated["updated_at"] = time.Now().UTC()
	}

	t := r.table()
	if err := r.checkUnique(t, updated, key); err != nil {
		return nil, err
	}
	if err := r.checkForeignKeys(updated); err != nil {
		return nil, err
	}
	r.undo.remember(r.db, r.tableName, key)
	t[key] = updated
	return updated, nil
}

// Upsert finds the row matching uniqueFields and applies data to it, or
// creates a row from both maps. The lookup and write happen under one lock.
func (r *Repository) Upsert(ctx context.Context, uniqueFields map[string]interface{}, data map[string]interface{}) (map[string]interface{}, error) {
	conds := make([]interfaces.Filter, 0, len(uniqueFields))
	for field, value := range uniqueFields {
		if !r.schema.HasField(field) {
			return nil, fmt.Errorf("%w: unknown field %q", interfaces.ErrInvalidQuery, field)
		}
		nv, err := interfaces.NormalizeValue(r.schema.Fields[field].Type, value)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", interfaces.ErrInvalidData, field, err)
		}
		conds = append(conds, interfaces.Eq(field, nv))
	}
	where := interfaces.Where(conds...)

	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	for key, record := range r.db.tables[r.tableName] {
		if !r.builder.MatchesFilters(record, where) {
			continue
		}
		changes, err := r.schema.Normalize(data, true)
		if err != nil {
			return nil, err
		}
		delete(changes, "created_at")
		delete(changes, r.pk)
		updated, err := r.applyLocked(key, record, changes)
		if err != nil {
			return nil, err
		}
		return copyRecord(updated), nil
	}

	merged := make(map[string]interface{}, len(data)+len(uniqueFields))
	for k, v := range data {
		merged[k] = v
	}
	for k, v := range uniqueFields {
		merged[k] = v
	}
	return r.createLocked(merged)
}

func (r *Repository) Delete(ctx context.Context, id interfaces.ID) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	record, ok := r.db.tables[r.tableName][id.String()]
	if !ok {
		return interfaces.ErrNotFound
	}
	if err := r.onDeleteLocked(record); err != nil {
		return err
	}
	r.undo.remember(r.db, r.tableName, id.String())
	delete(r.db.tables[r.tableName], id.String())
	return nil
}

func (r *Repository) Count(ctx context.Context, q *interfaces.Query) (int64, error) {
	var where *interfaces.Filters
	if q != nil {
		where = q.Where
	}
	if err := r.builder.Validate(&interfaces.Query{Where: where}); err != nil {
		return 0, err
	}
	return int64(len(r.matching(where))), nil
}

func (r *Repository) GetSchema() *interfaces.Schema {
	return r.schema
}

func (r *Repository) checkUnique(t table, record map[string]interface{}, excludeKey string) error {
	for _, field := range r.schema.UniqueFields() {
		value := record[field]
		if value == nil {
			continue
		}
		for key, other := range t {
			if key != excludeKey && query.Equal(other[field], value) {
				return fmt.Errorf("%w: field '%s' value '%v'", interfaces.ErrUniqueConstraint, field, value)
			}
		}
	}

	for _, index := range r.schema.Indexes {
		if !index.Unique {
			continue
		}
		for key, other := range t {
			if key == excludeKey {
				continue
			}
			match := true
			for _, col := range index.Columns {
				// NULLs never collide, as in Postgres.
				if record[col] == nil || other[col] == nil || !query.Equal(record[col], other[col]) {
					match = false
					break
				}
			}
			if match {
				return fmt.Errorf("%w: unique index '%s'", interfaces.ErrUniqueConstraint, index.Name)
			}
		}
	}
	return nil
}

func (r *Repository) checkForeignKeys(record map[string]interface{}) error {
	for field, fs := range r.schema.Fields {
		if fs.ForeignKey == nil || record[field] == nil {
			continue
		}
		ref, ok := r.db.tables[fs.ForeignKey.Table]
		if !ok {
			return fmt.Errorf("%w: referenced table '%s' does not exist", interfaces.ErrForeignKeyConstraint, fs.ForeignKey.Table)
		}
		found := false
		for _, row := range ref {
			if query.Equal(row[fs.ForeignKey.Column], record[field]) {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: field '%s' references non-existent record '%v'", interfaces.ErrForeignKeyConstraint, field, record[field])
		}
	}
	return nil
}

// onDeleteLocked applies ON DELETE rules of every registered schema that
// references this table.
func (r *Repository) onDeleteLocked(record map[string]interface{}) error {
	type action struct {
		table string
		field string
		rule  string
	}
	var actions []action

	for name, schema := range r.db.schemas {
		for field, fs := range schema.Fields {
			if fs.ForeignKey == nil || fs.ForeignKey.Table != r.tableName {
				continue
			}
			target := record[fs.ForeignKey.Column]
			for _, row := range r.db.tables[name] {
				if row[field] == nil || !query.Equal(row[field], target) {
					continue
				}
				switch fs.ForeignKey.OnDelete {
				case "CASCADE", "SET_NULL":
					actions = append(actions, action{name, field, fs.ForeignKey.OnDelete})
				default:
					return fmt.Errorf("%w: record is referenced by table '%s', field '%s'", interfaces.ErrForeignKeyConstraint, name, field)
				}
				break
			}
		}
	}

	for _, a := range actions {
		target := record[r.db.schemas[a.table].Fields[a.field].ForeignKey.Column]
		for key, row := range r.db.tables[a.table] {
			if row[a.field] == nil || !query.Equal(row[a.field], target) {
				continue
			}
			r.undo.remember(r.db, a.table, key)
			if a.rule == "CASCADE" {
				delete(r.db.tables[a.table], key)
			} else {
				updated := copyRecord(row)
				updated[a.field] = nil
				r.db.tables[a.table][key] = updated
			}
		}
	}
	return nil
}

func copyRecord(record map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(record))
	for k, v := range record {
		switch t := v.(type) {
		case []string:
			out[k] = append([]string{}, t...)
		case []float64:
			out[k] = append([]float64{}, t...)
		case json.RawMessage:
			out[k] = append(json.RawMessage(nil), t...)
		default:
			out[k] = v
		}
	}
	return out
}
