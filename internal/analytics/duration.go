package analytics

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/keeper/internal/domain"
)

// Aging bucket upper bounds in days past due, inclusive.
const (
	AgingCurrentDays = 30
	AgingSecondDays  = 60
	AgingThirdDays   = 90
)

// AgingBucket accumulates open invoice amounts.
type AgingBucket struct {
	Amount decimal.Decimal
	Count  int
}

func (b AgingBucket) add(amount decimal.Decimal) AgingBucket {
	return AgingBucket{Amount: b.Amount.Add(amount), Count: b.Count + 1}
}

// Aging splits open invoices by days past due.
type Aging struct {
	Current    AgingBucket
	Days31To60 AgingBucket
	Days61To90 AgingBucket
	Over90     AgingBucket
}

// Total is the sum of all four buckets.
func (a Aging) Total() decimal.Decimal {
	return a.Current.Amount.Add(a.Days31To60.Amount).Add(a.Days61To90.Amount).Add(a.Over90.Amount)
}

// DaysPastDue returns whole days elapsed since the invoice's due date, or its
// creation when it has none. Invoices not yet due yield a negative count.
func DaysPastDue(inv *domain.Invoice, now time.Time) int {
	ref := inv.CreatedAt
	if inv.DueDate != nil {
		ref = *inv.DueDate
	}
	return int(now.Sub(ref).Hours() / 24)
}

// AgingBuckets classifies the open (sent or overdue) invoices by how long
// they are past due. A boundary day belongs to the lower bucket: exactly 30
// days is current, exactly 60 is 31-60.
func AgingBuckets(invoices []*domain.Invoice, now time.Time) Aging {
	a := Aging{
		Current:    AgingBucket{Amount: decimal.Zero},
		Days31To60: AgingBucket{Amount: decimal.Zero},
		Days61To90: AgingBucket{Amount: decimal.Zero},
		Over90:     AgingBucket{Amount: decimal.Zero},
	}
	for _, inv := range invoices {
		if !inv.IsOpen() {
			continue
		}
		switch days := DaysPastDue(inv, now); {
		case days <= AgingCurrentDays:
			a.Current = a.Current.add(inv.Amount)
		case days <= AgingSecondDays:
			a.Days31To60 = a.Days31To60.add(inv.Amount)
		case days <= AgingThirdDays:
			a.Days61To90 = a.Days61To90.add(inv.Amount)
		default:
			a.Over90 = a.Over90.add(inv.Amount)
		}
	}
	return a
}

// Span describes how to read the correlation key and timestamp from a record.
type Span[T any] struct {
	Key func(T) string
	At  func(T) time.Time
}

// AverageDuration matches each completion to its origin by correlation key
// and returns the mean elapsed time in days. Pairs whose completion precedes
// the origin are discarded. When a key has several origins the earliest one
// is used. Returns 0 when nothing matched.
func AverageDuration[O, C any](origins []O, completions []C, origin Span[O], completion Span[C]) float64 {
	started := make(map[string]time.Time, len(origins))
	for _, o := range origins {
		k, t := origin.Key(o), origin.At(o)
		if k == "" {
			continue
		}
		if prev, ok := started[k]; !ok || t.Before(prev) {
			started[k] = t
		}
	}

	var total float64
	var pairs int
	for _, c := range completions {
		begin, ok := started[completion.Key(c)]
		if !ok {
			continue
		}
		delta := completion.At(c).Sub(begin)
		if delta < 0 {
			continue
		}
		total += delta.Hours() / 24
		pairs++
	}

	if pairs == 0 {
		return 0
	}
	return total / float64(pairs)
}
