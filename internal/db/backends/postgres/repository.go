package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/havenly/havenly-backend/internal/db/interfaces"
	"github.com/havenly/havenly-backend/internal/db/query"
)

// Repository implements interfaces.Repository with SQL rendered by
// query.Builder.
type Repository struct {
	q       querier
	schema  *interfaces.Schema
	builder *query.Builder
	pk      string
}

func newRepository(q querier, schema *interfaces.Schema) *Repository {
	return &Repository{
		q:       q,
		schema:  schema,
		builder: query.NewBuilder(schema),
		pk:      schema.PrimaryKey(),
	}
}

func (r *Repository) GetSchema() *interfaces.Schema {
	return r.schema
}

func (r *Repository) GetByID(ctx context.Context, id interfaces.ID) (map[string]interface{}, error) {
	key, err := r.keyValue(id)
	if err != nil {
		return nil, err
	}
	return r.FindOne(ctx, &interfaces.Query{Where: interfaces.Where(interfaces.Eq(r.pk, key))})
}

func (r *Repository) FindOne(ctx context.Context, q *interfaces.Query) (map[string]interface{}, error) {
	one := interfaces.Query{}
	if q != nil {
		one = *q
	}
	one.Limit = interfaces.Limit(1)

	sql, args, err := r.builder.SelectSQL(&one)
	if err != nil {
		return nil, err
	}
	rows, err := r.queryRecords(ctx, "find one", sql, args)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, interfaces.ErrNotFound
	}
	return rows[0], nil
}

func (r *Repository) FindMany(ctx context.Context, q *interfaces.Query) (*interfaces.ResultPage, error) {
	if q == nil {
		q = &interfaces.Query{}
	}
	sql, args, err := r.builder.SelectSQL(q)
	if err != nil {
		return nil, err
	}
	data, err := r.queryRecords(ctx, "find many", sql, args)
	if err != nil {
		return nil, err
	}
	total, err := r.count(ctx, q.Where)
	if err != nil {
		return nil, err
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
	if data == nil {
		data = []map[string]interface{}{}
	}

	return &interfaces.ResultPage{Data: data, Total: total, Page: page, PageSize: pageSize}, nil
}

func (r *Repository) Count(ctx context.Context, q *interfaces.Query) (int64, error) {
	var where *interfaces.Filters
	if q != nil {
		where = q.Where
	}
	return r.count(ctx, where)
}

func (r *Repository) count(ctx context.Context, where *interfaces.Filters) (int64, error) {
	sql, args, err := r.builder.CountSQL(where)
	if err != nil {
		return 0, err
	}
	rows, err := r.q.Query(ctx, sql, args...)
	if err != nil {
		return 0, mapError("count", err)
	}
	n, err := pgx.CollectOneRow(rows, pgx.RowTo[int64])
	if err != nil {
		return 0, mapError("count", err)
	}
	return n, nil
}

func (r *Repository) Create(ctx context.Context, data map[string]interface{}) (map[string]interface{}, error) {
	record, err := r.prepareInsert(data)
	if err != nil {
		return nil, err
	}
	sql, args := r.builder.InsertSQL(record)
	return r.one(ctx, "create", sql, args)
}

func (r *Repository) Update(ctx context.Context, id interfaces.ID, data map[string]interface{}) (map[string]interface{}, error) {
	key, err := r.keyValue(id)
	if err != nil {
		return nil, err
	}
	changes, err := r.prepareUpdate(data)
	if err != nil {
		return nil, err
	}
	if v, ok := changes[r.pk]; ok && !query.Equal(v, key) {
		return nil, fmt.Errorf("%w: primary key %q cannot change", interfaces.ErrInvalidData, r.pk)
	}
	sql, args := r.builder.UpdateByKeySQL(key, changes)
	return r.one(ctx, "update", sql, args)
}

func (r *Repository) UpdateWhere(ctx context.Context, where *interfaces.Filters, data map[string]interface{}) (int64, error) {
	changes, err := r.prepareUpdate(data)
	if err != nil {
		return 0, err
	}
	sql, args, err := r.builder.UpdateWhereSQL(where, changes)
	if err != nil {
		return 0, err
	}
	tag, err := r.q.Exec(ctx, sql, args...)
	if err != nil {
		return 0, mapError("update where", err)
	}
	return tag.RowsAffected(), nil
}

// Upsert relies on a unique constraint covering exactly the uniqueFields
// columns. When data alone cannot form a full row the existing row is
// updated instead.
func (r *Repository) Upsert(ctx context.Context, uniqueFields map[string]interface{}, data map[string]interface{}) (map[string]interface{}, error) {
	conflict := make([]string, 0, len(uniqueFields))
	for field := range uniqueFields {
		if !r.schema.HasField(field) {
			return nil, fmt.Errorf("%w: unknown field %q", interfaces.ErrInvalidQuery, field)
		}
		conflict = append(conflict, field)
	}
	sort.Strings(conflict)

	merged := make(map[string]interface{}, len(data)+len(uniqueFields))
	for k, v := range data {
		merged[k] = v
	}
	for k, v := range uniqueFields {
		merged[k] = v
	}

	record, insertErr := r.prepareInsert(merged)
	if insertErr == nil {
		updateCols := make([]string, 0, len(data)+1)
		for k := range data {
			updateCols = append(updateCols, k)
		}
		if r.schema.HasField("updated_at") {
			updateCols = append(updateCols, "updated_at")
		}
		sort.Strings(updateCols)

		sql, args, err := r.builder.UpsertSQL(conflict, record, updateCols...)
		if err != nil {
			return nil, err
		}
		return r.one(ctx, "upsert", sql, args)
	}

	conds := make([]interfaces.Filter, 0, len(conflict))
	for _, field := range conflict {
		conds = append(conds, interfaces.Eq(field, uniqueFields[field]))
	}
	changes, err := r.prepareUpdate(data)
	if err != nil {
		return nil, err
	}
	delete(changes, "created_at")
	delete(changes, r.pk)

	existing, err := r.FindOne(ctx, &interfaces.Query{Where: interfaces.Where(conds...)})
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, insertErr
	}
	if err != nil {
		return nil, err
	}
	sql, args := r.builder.UpdateByKeySQL(existing[r.pk], changes)
	return r.one(ctx, "upsert", sql, args)
}

func (r *Repository) Delete(ctx context.Context, id interfaces.ID) error {
	key, err := r.keyValue(id)
	if err != nil {
		return err
	}
	sql, args := r.builder.DeleteByKeySQL(key)
	tag, err := r.q.Exec(ctx, sql, args...)
	if err != nil {
		return mapError("delete", err)
	}
	if tag.RowsAffected() == 0 {
		return interfaces.ErrNotFound
	}
	return nil
}

func (r *Repository) prepareInsert(data map[string]interface{}) (map[string]interface{}, error) {
	record, err := r.schema.Normalize(data, false)
	if err != nil {
		return nil, err
	}
	if record[r.pk] == nil {
		if r.schema.Fields[r.pk].Type != interfaces.FieldString {
			return nil, fmt.Errorf("%w: %s requires %q", interfaces.ErrInvalidData, r.schema.TableName, r.pk)
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
	return record, nil
}

func (r *Repository) prepareUpdate(data map[string]interface{}) (map[string]interface{}, error) {
	changes, err := r.schema.Normalize(data, true)
	if err != nil {
		return nil, err
	}
	for k, v := range changes {
		if v == nil && !r.schema.Fields[k].Nullable {
			return nil, fmt.Errorf("%w: field %q cannot be null", interfaces.ErrInvalidData, k)
		}
	}
	if r.schema.HasField("updated_at") {
		changes["updated_at"] = time.Now().UTC()
	}
	if len(changes) == 0 {
		return nil, fmt.Errorf("%w: nothing to update", interfaces.ErrInvalidData)
	}
	return changes, nil
}

func (r *Repository) keyValue(id interfaces.ID) (interface{}, error) {
	v, err := interfaces.NormalizeValue(r.schema.Fields[r.pk].Type, idValue(id))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidData, err)
	}
	return v, nil
}

func idValue(id interfaces.ID) interface{} {
	switch v := id.(type) {
	case interfaces.IntID:
		return int64(v)
	case interfaces.StringID:
		return string(v)
	}
	return id.String()
}

func (r *Repository) one(ctx context.Context, op, sql string, args []interface{}) (map[string]interface{}, error) {
	rows, err := r.queryRecords(ctx, op, sql, args)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, interfaces.ErrNotFound
	}
	return rows[0], nil
}

// queryRecords runs sql and converts each row into a record whose values use
// the same canonical types as the memory backend.
func (r *Repository) queryRecords(ctx context.Context, op, sql string, args []interface{}) ([]map[string]interface{}, error) {
	rows, err := r.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapError(op, err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []map[string]interface{}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, mapError(op, err)
		}
		record := make(map[string]interface{}, len(values))
		for i, fd := range fields {
			name := fd.Name
			fs, ok := r.schema.Fields[name]
			if !ok {
				record[name] = values[i]
				continue
			}
			v, err := interfaces.NormalizeValue(fs.Type, values[i])
			if err != nil {
				return nil, &interfaces.DatabaseError{Op: op, Err: fmt.Errorf("column %q: %w", name, err)}
			}
			record[name] = v
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(op, err)
	}
	return out, nil
}

// mapError translates driver errors into the shared sentinel errors.
func mapError(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return interfaces.ErrNotFound
	}
	if errors.Is(err, interfaces.ErrDatabaseNotConnected) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return &interfaces.DatabaseError{Op: op, Err: fmt.Errorf("%w: %s", interfaces.ErrUniqueConstraint, pgErr.ConstraintName)}
		case "23503":
			return &interfaces.DatabaseError{Op: op, Err: fmt.Errorf("%w: %s", interfaces.ErrForeignKeyConstraint, pgErr.ConstraintName)}
		case "23502", "23514", "22P02":
			return &interfaces.DatabaseError{Op: op, Err: fmt.Errorf("%w: %s", interfaces.ErrInvalidData, pgErr.Message)}
		}
	}
	return &interfaces.DatabaseError{Op: op, Err: err}
}
