// Package query applies client-side filtering, sorting and page-window
// slicing over a consolidated (or raw) record sequence. All operations are
// pure: inputs are never mutated and re-application is idempotent.
package query

import (
	"sort"
	"strings"
	"time"

	"fieldsync/api/internal/record"
)

// Record is anything with named string fields. Satisfied by
// record.RawRecord and consolidate.Document.
type Record interface {
	Field(name string) string
}

const dateLayout = "01/02/2006"

// Filter is a conjunction of constraints; blank values impose none.
type Filter struct {
	// Contains maps field name to a case-insensitive substring.
	Contains map[string]string
	// Equals maps field name to an exact value.
	Equals map[string]string
	// DateField with DateStart/DateEnd bounds records to an inclusive
	// MM/DD/YYYY calendar-day range. Time of day is ignored.
	DateField string
	DateStart string
	DateEnd   string
}

// Sort orders by one field. The document-key field compares by trailing
// number so identifiers like EQJOB62 sort by 62, not lexicographically.
type Sort struct {
	Field      string
	Descending bool
}

// Select keeps the records matching every non-blank constraint.
func Select[T Record](items []T, f Filter) []T {
	kept := make([]T, 0, len(items))
	for _, item := range items {
		if f.match(item) {
			kept = append(kept, item)
		}
	}
	return kept
}

func (f Filter) match(r Record) bool {
	for name, want := range f.Contains {
		if want == "" {
			continue
		}
		if !strings.Contains(strings.ToLower(r.Field(name)), strings.ToLower(want)) {
			return false
		}
	}
	for name, want := range f.Equals {
		if want == "" {
			continue
		}
		if r.Field(name) != want {
			return false
		}
	}

	if f.DateField == "" || (f.DateStart == "" && f.DateEnd == "") {
		return true
	}
	day, err := time.Parse(dateLayout, strings.TrimSpace(r.Field(f.DateField)))
	if err != nil {
		// A record whose date cannot be read never satisfies a bound.
		return false
	}
	if f.DateStart != "" {
		start, err := time.Parse(dateLayout, f.DateStart)
		if err != nil || day.Before(start) {
			return false
		}
	}
	if f.DateEnd != "" {
		end, err := time.Parse(dateLayout, f.DateEnd)
		if err != nil || day.After(end) {
			return false
		}
	}
	return true
}

// Order returns a sorted copy; ties keep their original order.
func Order[T Record](items []T, s Sort) []T {
	if s.Field == "" {
		return items
	}
	sorted := make([]T, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		cmp := compare(sorted[i].Field(s.Field), sorted[j].Field(s.Field), s.Field)
		if s.Descending {
			return cmp > 0
		}
		return cmp < 0
	})
	return sorted
}

// compare orders two field values: numerically by trailing digits for the
// document-key field, lexicographically otherwise.
func compare(a, b, field string) int {
	if field == record.FieldDocumentNumber {
		na, nb := trailingNumber(a), trailingNumber(b)
		switch {
		case na < nb:
			return -1
		case na > nb:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(a, b)
}

// trailingNumber extracts the numeric suffix of an alphanumeric key.
// Keys without one fall back to 0.
func trailingNumber(key string) int64 {
	end := len(key)
	start := end
	for start > 0 && key[start-1] >= '0' && key[start-1] <= '9' {
		start--
	}
	var n int64
	for i := start; i < end; i++ {
		n = n*10 + int64(key[i]-'0')
	}
	return n
}

// Window slices the zero-based page of the given size out of the sequence
// and returns it with the total count, which callers need for page-count
// and "from-to of total" displays.
func Window[T Record](items []T, page, size int) ([]T, int) {
	total := len(items)
	if size <= 0 || page < 0 {
		return []T{}, total
	}
	from := page * size
	if from >= total {
		return []T{}, total
	}
	to := from + size
	if to > total {
		to = total
	}
	out := make([]T, to-from)
	copy(out, items[from:to])
	return out, total
}
