package query

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/havenly/havenly-backend/internal/db/interfaces"
)

// Args accumulates positional parameters for a Postgres statement.
type Args struct {
	values []interface{}
}

func (a *Args) add(v interface{}) string {
	a.values = append(a.values, v)
	return fmt.Sprintf("$%d", len(a.values))
}

// Values returns the collected parameters in placeholder order.
func (a *Args) Values() []interface{} {
	return a.values
}

func ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func (b *Builder) table() string {
	return ident(b.schema.TableName)
}

// SelectSQL renders q as a SELECT with parameter placeholders.
func (b *Builder) SelectSQL(q *interfaces.Query) (string, []interface{}, error) {
	if q == nil {
		q = &interfaces.Query{}
	}
	if err := b.Validate(q); err != nil {
		return "", nil, err
	}

	cols := "*"
	if len(q.Select) > 0 {
		quoted := make([]string, len(q.Select))
		for i, f := range q.Select {
			quoted[i] = ident(f)
		}
		cols = strings.Join(quoted, ", ")
	}

	args := &Args{}
	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s", cols, b.table())

	where, err := b.WhereSQL(q.Where, args)
	if err != nil {
		return "", nil, err
	}
	if where != "" {
		sb.WriteString(" WHERE ")
		sb.WriteString(where)
	}

	orders := b.withTiebreaker(q.OrderBy)
	if len(orders) > 0 {
		parts := make([]string, len(orders))
		for i, o := range orders {
			dir, _ := direction(o.Direction)
			parts[i] = fmt.Sprintf("%s %s NULLS LAST", ident(o.Field), dir)
		}
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(parts, ", "))
	}

	if q.Limit != nil {
		fmt.Fprintf(&sb, " LIMIT %s", args.add(*q.Limit))
	}
	if q.Offset != nil && *q.Offset > 0 {
		fmt.Fprintf(&sb, " OFFSET %s", args.add(*q.Offset))
	}

	return sb.String(), args.Values(), nil
}

// CountSQL renders a COUNT(*) over the rows matching where.
func (b *Builder) CountSQL(where *interfaces.Filters) (string, []interface{}, error) {
	if err := b.validateFilters(where); err != nil {
		return "", nil, err
	}
	args := &Args{}
	clause, err := b.WhereSQL(where, args)
	if err != nil {
		return "", nil, err
	}
	sql := "SELECT COUNT(*) FROM " + b.table()
	if clause != "" {
		sql += " WHERE " + clause
	}
	return sql, args.Values(), nil
}

// InsertSQL renders an INSERT of data returning the stored row.
func (b *Builder) InsertSQL(data map[string]interface{}) (string, []interface{}) {
	cols, placeholders, args := b.columns(data, &Args{})
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING *",
		b.table(), strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	return sql, args.Values()
}

// UpsertSQL inserts data or, on conflict with conflictCols, overwrites the
// columns named in updateCols (every supplied column when empty). created_at
// and the primary key are never overwritten.
func (b *Builder) UpsertSQL(conflictCols []string, data map[string]interface{}, updateCols ...string) (string, []interface{}, error) {
	if len(conflictCols) == 0 {
		return "", nil, fmt.Errorf("%w: upsert needs conflict columns", interfaces.ErrInvalidQuery)
	}
	conflict := make(map[string]bool, len(conflictCols))
	quotedConflict := make([]string, len(conflictCols))
	for i, c := range conflictCols {
		if !b.schema.HasField(c) {
			return "", nil, fmt.Errorf("%w: unknown conflict field %q", interfaces.ErrInvalidQuery, c)
		}
		conflict[c] = true
		quotedConflict[i] = ident(c)
	}

	cols, placeholders, args := b.columns(data, &Args{})

	update := updateCols
	if len(update) == 0 {
		update = sortedKeys(data)
	}
	var sets []string
	for _, name := range update {
		if _, ok := data[name]; !ok {
			continue
		}
		if conflict[name] || name == "created_at" || name == b.schema.PrimaryKey() {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", ident(name), ident(name)))
	}
	if len(sets) == 0 {
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", quotedConflict[0], quotedConflict[0]))
	}

	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s RETURNING *",
		b.table(), strings.Join(cols, ", "), strings.Join(placeholders, ", "),
		strings.Join(quotedConflict, ", "), strings.Join(sets, ", "))
	return sql, args.Values(), nil
}

// UpdateByKeySQL renders an UPDATE of one row by primary key.
func (b *Builder) UpdateByKeySQL(key interface{}, data map[string]interface{}) (string, []interface{}) {
	args := &Args{}
	sets := b.assignments(data, args)
	sql := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s RETURNING *",
		b.table(), strings.Join(sets, ", "), ident(b.schema.PrimaryKey()), args.add(key))
	return sql, args.Values()
}

// UpdateWhereSQL renders an UPDATE of every row matching where.
func (b *Builder) UpdateWhereSQL(where *interfaces.Filters, data map[string]interface{}) (string, []interface{}, error) {
	if err := b.validateFilters(where); err != nil {
		return "", nil, err
	}
	args := &Args{}
	sets := b.assignments(data, args)
	clause, err := b.WhereSQL(where, args)
	if err != nil {
		return "", nil, err
	}
	sql := fmt.Sprintf("UPDATE %s SET %s", b.table(), strings.Join(sets, ", "))
	if clause != "" {
		sql += " WHERE " + clause
	}
	return sql, args.Values(), nil
}

// DeleteByKeySQL renders a DELETE of one row by primary key.
func (b *Builder) DeleteByKeySQL(key interface{}) (string, []interface{}) {
	args := &Args{}
	sql := fmt.Sprintf("DELETE FROM %s WHERE %s = %s", b.table(), ident(b.schema.PrimaryKey()), args.add(key))
	return sql, args.Values()
}

func (b *Builder) columns(data map[string]interface{}, args *Args) ([]string, []string, *Args) {
	keys := sortedKeys(data)
	cols := make([]string, len(keys))
	placeholders := make([]string, len(keys))
	for i, k := range keys {
		cols[i] = ident(k)
		placeholders[i] = args.add(data[k])
	}
	return cols, placeholders, args
}

func (b *Builder) assignments(data map[string]interface{}, args *Args) []string {
	keys := sortedKeys(data)
	sets := make([]string, len(keys))
	for i, k := range keys {
		sets[i] = fmt.Sprintf("%s = %s", ident(k), args.add(data[k]))
	}
	return sets
}

// WhereSQL renders filters as a boolean SQL expression, appending parameters
// to args. It returns "" for an empty filter.
func (b *Builder) WhereSQL(f *interfaces.Filters, args *Args) (string, error) {
	if f == nil {
		return "", nil
	}

	var parts []string
	for _, c := range f.Conditions {
		s, err := b.conditionSQL(c, args)
		if err != nil {
			return "", err
		}
		parts = append(parts, s)
	}
	for _, sub := range f.AND {
		s, err := b.WhereSQL(sub, args)
		if err != nil {
			return "", err
		}
		if s != "" {
			parts = append(parts, "("+s+")")
		}
	}
	if len(f.OR) > 0 {
		var alts []string
		for _, sub := range f.OR {
			s, err := b.WhereSQL(sub, args)
			if err != nil {
				return "", err
			}
			if s == "" {
				s = "TRUE"
			}
			alts = append(alts, "("+s+")")
		}
		parts = append(parts, "("+strings.Join(alts, " OR ")+")")
	}

	return strings.Join(parts, " AND "), nil
}

func (b *Builder) conditionSQL(c interfaces.Filter, args *Args) (string, error) {
	field, ok := b.schema.Fields[c.Field]
	if !ok {
		return "", fmt.Errorf("%w: unknown filter field %q", interfaces.ErrInvalidQuery, c.Field)
	}
	col := ident(c.Field)

	value := func(v interface{}) (string, error) {
		nv, err := interfaces.NormalizeValue(field.Type, v)
		if err != nil {
			return "", fmt.Errorf("%w: %s: %v", interfaces.ErrInvalidQuery, c.Field, err)
		}
		return args.add(nv), nil
	}

	if c.Operator == nil {
		if c.Value == nil {
			return col + " IS NULL", nil
		}
		p, err := value(c.Value)
		if err != nil {
			return "", err
		}
		return col + " = " + p, nil
	}

	op := c.Operator
	var clauses []string
	add := func(format string, v interface{}) error {
		p, err := value(v)
		if err != nil {
			return err
		}
		clauses = append(clauses, fmt.Sprintf(format, col, p))
		return nil
	}

	if op.IsNull {
		clauses = append(clauses, col+" IS NULL")
	}
	if op.IsNotNull {
		clauses = append(clauses, col+" IS NOT NULL")
	}
	for _, cmp := range []struct {
		v      interface{}
		format string
	}{
		{op.Eq, "%s = %s"},
		{op.Ne, "%s <> %s"},
		{op.Gt, "%s > %s"},
		{op.Gte, "%s >= %s"},
		{op.Lt, "%s < %s"},
		{op.Lte, "%s <= %s"},
	} {
		if cmp.v == nil {
			continue
		}
		if err := add(cmp.format, cmp.v); err != nil {
			return "", err
		}
	}

	if op.In != nil {
		if len(op.In) == 0 {
			clauses = append(clauses, "FALSE")
		} else {
			ps := make([]string, len(op.In))
			for i, v := range op.In {
				p, err := value(v)
				if err != nil {
					return "", err
				}
				ps[i] = p
			}
			clauses = append(clauses, fmt.Sprintf("%s IN (%s)", col, strings.Join(ps, ", ")))
		}
	}
	if len(op.NotIn) > 0 {
		ps := make([]string, len(op.NotIn))
		for i, v := range op.NotIn {
			p, err := value(v)
			if err != nil {
				return "", err
			}
			ps[i] = p
		}
		clauses = append(clauses, fmt.Sprintf("%s NOT IN (%s)", col, strings.Join(ps, ", ")))
	}

	likeOp := "LIKE"
	if op.CaseSensitive != nil && !*op.CaseSensitive {
		likeOp = "ILIKE"
	}
	if op.Like != "" {
		clauses = append(clauses, fmt.Sprintf("%s %s %s", col, likeOp, args.add(likePattern(op.Like))))
	}
	if op.NotLike != "" {
		clauses = append(clauses, fmt.Sprintf("%s NOT %s %s", col, likeOp, args.add(likePattern(op.NotLike))))
	}

	switch len(clauses) {
	case 0:
		return "TRUE", nil
	case 1:
		return clauses[0], nil
	}
	return "(" + strings.Join(clauses, " AND ") + ")", nil
}

// likePattern turns a substring (optionally carrying % wildcards) into an
// escaped contains-pattern so user input cannot inject wildcards.
func likePattern(s string) string {
	s = strings.ReplaceAll(s, "%", "")
	r := strings.NewReplacer(`\`, `\\`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}
