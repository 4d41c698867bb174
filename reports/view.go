package reports

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
)

// Filter names understood by the list views. Views with a single search box
// use FilterQuery.
const (
	FilterQuery = "q"
	FilterID    = "id"
	FilterEmail = "email"
	FilterName  = "name"
)

// View is a filtered list.
type View[Row any] struct {
	Rows  []Row `json:"rows"`
	Count int   `json:"count"` // rows matching the filter
	Total int   `json:"total"` // rows before filtering
}

// ListOptions filters and sorts a list view.
type ListOptions struct {
	// Filters maps a filter name to a case-insensitive substring.
	Filters map[string]string
	Sort    string
	Desc    bool
}

func (o ListOptions) filter(name string) string {
	return strings.TrimSpace(o.Filters[name])
}

// InvalidSortError names a sort column the view does not have.
type InvalidSortError struct {
	Column string
}

func (e *InvalidSortError) Error() string {
	return fmt.Sprintf("cannot sort by %q", e.Column)
}

// column extracts a sortable value from a row; exactly one of text/num is set.
type column[Row any] struct {
	text func(Row) string
	num  func(Row) float64
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

// matchAll reports whether every non-empty filter matches its field.
func matchAll(pairs ...string) bool {
	for i := 0; i+1 < len(pairs); i += 2 {
		field, q := pairs[i], pairs[i+1]
		if q != "" && !containsFold(field, q) {
			return false
		}
	}
	return true
}

func buildView[Row any](rows []Row, keep func(Row) bool, cols map[string]column[Row], opts ListOptions) (View[Row], error) {
	filtered := make([]Row, 0, len(rows))
	for _, r := range rows {
		if keep == nil || keep(r) {
			filtered = append(filtered, r)
		}
	}
	if opts.Sort != "" {
		col, ok := cols[opts.Sort]
		if !ok {
			return View[Row]{}, &InvalidSortError{Column: opts.Sort}
		}
		slices.SortStableFunc(filtered, func(a, b Row) int {
			var c int
			if col.num != nil {
				c = cmp.Compare(col.num(a), col.num(b))
			} else {
				c = cmp.Compare(strings.ToLower(col.text(a)), strings.ToLower(col.text(b)))
			}
			if opts.Desc {
				return -c
			}
			return c
		})
	}
	return View[Row]{Rows: filtered, Count: len(filtered), Total: len(rows)}, nil
}
