package interfaces

// Where groups conditions that must all hold.
func Where(conds ...Filter) *Filters {
	return &Filters{Conditions: conds}
}

// AnyOf matches when at least one alternative matches.
func AnyOf(alts ...*Filters) *Filters {
	return &Filters{OR: alts}
}

// And returns a new Filters requiring f and every other group.
func (f *Filters) And(others ...*Filters) *Filters {
	out := &Filters{}
	if f != nil {
		out.AND = append(out.AND, f)
	}
	for _, o := range others {
		if o != nil {
			out.AND = append(out.AND, o)
		}
	}
	return out
}

func Eq(field string, v interface{}) Filter {
	return Filter{Field: field, Value: v}
}

func Ne(field string, v interface{}) Filter {
	return Filter{Field: field, Operator: &FilterOperator{Ne: v}}
}

func Gt(field string, v interface{}) Filter {
	return Filter{Field: field, Operator: &FilterOperator{Gt: v}}
}

func Gte(field string, v interface{}) Filter {
	return Filter{Field: field, Operator: &FilterOperator{Gte: v}}
}

func Lt(field string, v interface{}) Filter {
	return Filter{Field: field, Operator: &FilterOperator{Lt: v}}
}

func Lte(field string, v interface{}) Filter {
	return Filter{Field: field, Operator: &FilterOperator{Lte: v}}
}

// Between is inclusive on both ends.
func Between(field string, lo, hi interface{}) Filter {
	return Filter{Field: field, Operator: &FilterOperator{Gte: lo, Lte: hi}}
}

func In(field string, vals ...interface{}) Filter {
	if vals == nil {
		vals = []interface{}{}
	}
	return Filter{Field: field, Operator: &FilterOperator{In: vals}}
}

// ILike is a case-insensitive substring match.
func ILike(field, substr string) Filter {
	cs := false
	return Filter{Field: field, Operator: &FilterOperator{Like: substr, CaseSensitive: &cs}}
}

func IsNull(field string) Filter {
	return Filter{Field: field, Operator: &FilterOperator{IsNull: true}}
}

func IsNotNull(field string) Filter {
	return Filter{Field: field, Operator: &FilterOperator{IsNotNull: true}}
}

// Limit is a convenience for building Query.Limit and Query.Offset.
func Limit(n int) *int {
	return &n
}
