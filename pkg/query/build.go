package query

// Queryable is a native, lazily evaluated store query that grows one predicate
// or ordering at a time. Implementations return a new value and leave the
// receiver untouched.
type Queryable interface {
	Where(field string, op Operator, value any) Queryable
	OrderBy(field string, dir Direction) Queryable
}

// Build folds vars onto base: every filter in order, then every sort in order.
// The result is not executed. Empty Variables return base unchanged.
func Build(base Queryable, vars Variables) Queryable {
	q := base
	for _, f := range vars.FilterBy {
		q = q.Where(f.Field, f.Operator, f.Value)
	}
	for _, s := range vars.SortBy {
		dir := s.Direction
		if dir == "" {
			dir = Asc
		}
		q = q.OrderBy(s.Field, dir)
	}
	return q
}
