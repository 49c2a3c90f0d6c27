package domain

import "time"

// FilterOp is a comparison supported by the data access contract.
type FilterOp string

const (
	OpEq    FilterOp = "eq"
	OpIn    FilterOp = "in"
	OpILike FilterOp = "ilike" // case-insensitive substring
	OpGte   FilterOp = "gte"
	OpLte   FilterOp = "lte"
	OpLt    FilterOp = "lt"
)

// Filter restricts a field of the queried table.
type Filter struct {
	Field string
	Op    FilterOp
	Value any
}

// Query describes a filtered, ordered and limited read of one table.
// Field names are the column names of the table; the repository rejects
// anything it does not know.
type Query struct {
	Filters    []Filter
	OrderBy    string
	Descending bool
	Limit      int
}

// NewQuery returns an empty query.
func NewQuery() *Query {
	return &Query{}
}

// Eq adds an equality filter. Empty string values are ignored so optional
// request parameters can be passed straight through.
func (q *Query) Eq(field string, value any) *Query {
	if s, ok := value.(string); ok && s == "" {
		return q
	}
	q.Filters = append(q.Filters, Filter{Field: field, Op: OpEq, Value: value})
	return q
}

// In adds an inclusion filter. An empty list is ignored.
func (q *Query) In(field string, values []string) *Query {
	if len(values) == 0 {
		return q
	}
	q.Filters = append(q.Filters, Filter{Field: field, Op: OpIn, Value: values})
	return q
}

// ILike adds a case-insensitive substring filter.
func (q *Query) ILike(field, pattern string) *Query {
	if pattern == "" {
		return q
	}
	q.Filters = append(q.Filters, Filter{Field: field, Op: OpILike, Value: pattern})
	return q
}

// Gte adds a lower bound (inclusive).
func (q *Query) Gte(field string, value any) *Query {
	q.Filters = append(q.Filters, Filter{Field: field, Op: OpGte, Value: value})
	return q
}

// Lte adds an upper bound (inclusive).
func (q *Query) Lte(field string, value any) *Query {
	q.Filters = append(q.Filters, Filter{Field: field, Op: OpLte, Value: value})
	return q
}

// Lt adds an upper bound (exclusive).
func (q *Query) Lt(field string, value any) *Query {
	q.Filters = append(q.Filters, Filter{Field: field, Op: OpLt, Value: value})
	return q
}

// Between restricts field to [start, end).
func (q *Query) Between(field string, start, end time.Time) *Query {
	return q.Gte(field, start).Lt(field, end)
}

// Order sets the ordering field and direction.
func (q *Query) Order(field string, descending bool) *Query {
	q.OrderBy = field
	q.Descending = descending
	return q
}

// WithLimit caps the number of rows returned. Zero means no limit.
func (q *Query) WithLimit(n int) *Query {
	q.Limit = n
	return q
}
