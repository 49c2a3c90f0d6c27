// Package analytics provides the pure aggregation functions behind the
// reporting endpoints. Nothing here performs I/O or mutates its input.
package analytics

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"
)

// Unknown is the group key used for records whose key is empty.
const Unknown = "unknown"

// Entry is one key/aggregate pair of a Groups mapping.
type Entry[V any] struct {
	Key   string `json:"key"`
	Value V      `json:"value"`
}

// Groups is a mapping from group key to aggregate that remembers the order
// in which keys were first encountered.
type Groups[V any] struct {
	keys []string
	vals map[string]V
}

func newGroups[V any]() *Groups[V] {
	return &Groups[V]{vals: make(map[string]V)}
}

// Get returns the aggregate for key.
func (g *Groups[V]) Get(key string) (V, bool) {
	v, ok := g.vals[key]
	return v, ok
}

// Entries returns all groups in encounter order.
func (g *Groups[V]) Entries() []Entry[V] {
	out := make([]Entry[V], 0, len(g.keys))
	for _, k := range g.keys {
		out = append(out, Entry[V]{Key: k, Value: g.vals[k]})
	}
	return out
}

// Map returns the groups as a plain map, for JSON encoding.
func (g *Groups[V]) Map() map[string]V {
	out := make(map[string]V, len(g.vals))
	for k, v := range g.vals {
		out[k] = v
	}
	return out
}

// MapValues converts every aggregate with fn.
func MapValues[V, W any](g *Groups[V], fn func(V) W) map[string]W {
	out := make(map[string]W, len(g.vals))
	for k, v := range g.vals {
		out[k] = fn(v)
	}
	return out
}

func (g *Groups[V]) fold(key string, init func() V, fn func(V) V) {
	cur, ok := g.vals[key]
	if !ok {
		cur = init()
		g.keys = append(g.keys, key)
	}
	g.vals[key] = fn(cur)
}

// GroupBy folds records into groups. init builds the empty aggregate for a
// new key; fold adds one record to an aggregate. Empty keys are grouped
// under Unknown.
func GroupBy[T, V any](records []T, key func(T) string, init func() V, fold func(V, T) V) *Groups[V] {
	g := newGroups[V]()
	for _, r := range records {
		g.fold(normalizeKey(key(r)), init, func(v V) V { return fold(v, r) })
	}
	return g
}

// CountBy counts records per key.
func CountBy[T any](records []T, key func(T) string) *Groups[int] {
	return GroupBy(records, key,
		func() int { return 0 },
		func(n int, _ T) int { return n + 1 },
	)
}

// SumBy totals value per key.
func SumBy[T any](records []T, key func(T) string, value func(T) decimal.Decimal) *Groups[decimal.Decimal] {
	return GroupBy(records, key,
		func() decimal.Decimal { return decimal.Zero },
		func(sum decimal.Decimal, r T) decimal.Decimal { return sum.Add(value(r)) },
	)
}

// Sum totals value over all records.
func Sum[T any](records []T, value func(T) decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, r := range records {
		total = total.Add(value(r))
	}
	return total
}

// Count returns how many records satisfy pred.
func Count[T any](records []T, pred func(T) bool) int {
	n := 0
	for _, r := range records {
		if pred(r) {
			n++
		}
	}
	return n
}

// Filter returns the records that satisfy pred, in input order.
func Filter[T any](records []T, pred func(T) bool) []T {
	out := make([]T, 0, len(records))
	for _, r := range records {
		if pred(r) {
			out = append(out, r)
		}
	}
	return out
}

// DistinctCount returns the number of distinct keys. Empty keys count as
// one Unknown key.
func DistinctCount[T any](records []T, key func(T) string) int {
	seen := make(map[string]struct{})
	for _, r := range records {
		seen[normalizeKey(key(r))] = struct{}{}
	}
	return len(seen)
}

// Rate returns numerator/denominator as a percentage rounded to two places,
// or 0 when the denominator is 0.
func Rate[N int | int64 | float64](numerator, denominator N) float64 {
	if denominator == 0 {
		return 0
	}
	return Round2(float64(numerator) / float64(denominator) * 100)
}

// RateDecimal is Rate over decimal amounts.
func RateDecimal(numerator, denominator decimal.Decimal) float64 {
	if denominator.IsZero() {
		return 0
	}
	return Round2(numerator.Div(denominator).InexactFloat64() * 100)
}

// Growth returns the percentage change from previous to current. Growth
// from zero is 100 when current is positive and 0 otherwise.
func Growth[N int | int64 | float64](current, previous N) float64 {
	if previous == 0 {
		if current > 0 {
			return 100
		}
		return 0
	}
	return Round2(float64(current-previous) / math.Abs(float64(previous)) * 100)
}

// Round2 rounds to two decimal places.
func Round2(f float64) float64 {
	return math.Round(f*100) / 100
}

// Money renders a decimal amount as a float rounded to cents.
func Money(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}

// TopN returns at most n groups ordered by ranksAbove. Groups that rank
// equally keep their encounter order. Fewer than n groups are returned as-is.
func TopN[V any](g *Groups[V], n int, ranksAbove func(a, b V) bool) []Entry[V] {
	entries := g.Entries()
	sort.SliceStable(entries, func(i, j int) bool {
		return ranksAbove(entries[i].Value, entries[j].Value)
	})
	if n >= 0 && len(entries) > n {
		entries = entries[:n]
	}
	return entries
}

// TopCounts is TopN over counts, highest first.
func TopCounts(g *Groups[int], n int) []Entry[int] {
	return TopN(g, n, func(a, b int) bool { return a > b })
}

func normalizeKey(k string) string {
	if k == "" {
		return Unknown
	}
	return k
}
