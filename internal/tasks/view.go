// internal/tasks/view.go
package tasks

import (
	"fmt"
	"slices"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Filter selects tasks by status. FilterAll keeps everything.
type Filter string

const FilterAll Filter = "all"

// ParseFilter validates a raw filter value
func ParseFilter(s string) (Filter, error) {
	if Filter(s) == FilterAll {
		return FilterAll, nil
	}
	st, err := ParseStatus(s)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidFilter, s)
	}
	return Filter(st), nil
}

// Sort orders the projected view. SortNone keeps fetch order.
type Sort string

const (
	SortNone        Sort = ""
	SortTitleAsc    Sort = "titleAsc"
	SortTitleDesc   Sort = "titleDesc"
	SortDueDateAsc  Sort = "dueDateAsc"
	SortDueDateDesc Sort = "dueDateDesc"
)

// ParseSort validates a raw sort value. "" and "none" both mean no sort.
func ParseSort(s string) (Sort, error) {
	switch st := Sort(s); st {
	case SortNone, SortTitleAsc, SortTitleDesc, SortDueDateAsc, SortDueDateDesc:
		return st, nil
	case "none":
		return SortNone, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidSort, s)
}

// Criteria is the user-selected view configuration
type Criteria struct {
	Filter Filter `json:"filter"`
	Sort   Sort   `json:"sort"`
	Search string `json:"search"`
}

// DefaultCriteria shows every task in fetch order
func DefaultCriteria() Criteria {
	return Criteria{Filter: FilterAll}
}

type projectConfig struct {
	locale language.Tag
}

// ProjectOption tunes Project
type ProjectOption func(*projectConfig)

// WithLocale sets the collation locale used for title sorting
func WithLocale(tag language.Tag) ProjectOption {
	return func(c *projectConfig) {
		c.locale = tag
	}
}

// Project derives the ordered list shown to the user: filter, then search, then sort.
// The input slice is never modified and equal inputs give equal output.
func Project(raw []Task, c Criteria, opts ...ProjectOption) []Task {
	cfg := projectConfig{locale: language.Und}
	for _, opt := range opts {
		opt(&cfg)
	}

	list := make([]Task, 0, len(raw))
	list = append(list, raw...)

	if c.Filter != "" && c.Filter != FilterAll {
		list = slices.DeleteFunc(list, func(t Task) bool {
			return Filter(t.Status) != c.Filter
		})
	}

	// Casers and collators keep internal buffers; build fresh ones per call.
	folder := cases.Fold()
	if keyword := folder.String(strings.TrimSpace(c.Search)); keyword != "" {
		list = slices.DeleteFunc(list, func(t Task) bool {
			return !strings.Contains(folder.String(t.Title), keyword)
		})
	}

	switch c.Sort {
	case SortTitleAsc, SortTitleDesc:
		col := collate.New(cfg.locale)
		slices.SortStableFunc(list, func(a, b Task) int {
			if c.Sort == SortTitleDesc {
				return col.CompareString(b.Title, a.Title)
			}
			return col.CompareString(a.Title, b.Title)
		})
	case SortDueDateAsc:
		slices.SortStableFunc(list, func(a, b Task) int {
			return strings.Compare(a.DueDate, b.DueDate)
		})
	case SortDueDateDesc:
		slices.SortStableFunc(list, func(a, b Task) int {
			return strings.Compare(b.DueDate, a.DueDate)
		})
	}

	return list
}
