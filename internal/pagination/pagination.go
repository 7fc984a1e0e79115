// Package pagination parses page parameters from untrusted input and lays
// out the page links of a paged listing.
package pagination

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

const (
	// WindowSize is how many consecutive page links surround the current page.
	WindowSize = 5

	DefaultPageSize = 10
	MaxPageSize     = 50
)

// parsePositive floors value, or returns ok=false when it is not a finite
// number >= 1.
func parsePositive(value string) (int, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 1 {
		return 0, false
	}
	f = math.Floor(f)
	if f > math.MaxInt32 {
		return math.MaxInt32, true
	}
	return int(f), true
}

// ParsePage returns the page number in value, falling back to 1.
func ParsePage(value string) int {
	if n, ok := parsePositive(value); ok {
		return n
	}
	return 1
}

// ParsePageSize returns the page size in value capped at MaxPageSize, or
// fallback when value is missing or invalid.
func ParsePageSize(value string, fallback int) int {
	n, ok := parsePositive(value)
	if !ok {
		return fallback
	}
	return min(n, MaxPageSize)
}

// Marker tells a page number apart from the two gap markers.
type Marker string

const (
	PageNumber    Marker = ""
	EllipsisStart Marker = "ellipsis-start"
	EllipsisEnd   Marker = "ellipsis-end"
)

// Item is one entry of a page window: a page number or an ellipsis.
type Item struct {
	Marker Marker
	Page   int
}

func (i Item) IsEllipsis() bool { return i.Marker != PageNumber }

func (i Item) String() string {
	if i.IsEllipsis() {
		return string(i.Marker)
	}
	return strconv.Itoa(i.Page)
}

// MarshalJSON encodes pages as numbers and ellipses as their names.
func (i Item) MarshalJSON() ([]byte, error) {
	if i.IsEllipsis() {
		return json.Marshal(string(i.Marker))
	}
	return json.Marshal(i.Page)
}

func page(n int) Item { return Item{Page: n} }

// BuildPageWindow lays out the links for current out of pageCount pages.
// The first and last pages are always present; a window of WindowSize pages
// is centered on current and shifted to stay in range, with ellipses
// marking skipped runs. current is clamped into [1, pageCount].
func BuildPageWindow(current, pageCount int) []Item {
	if pageCount < 1 {
		return []Item{}
	}
	current = max(1, min(current, pageCount))

	half := WindowSize / 2
	start := max(1, current-half)
	end := min(pageCount, current+half)
	if end-start+1 < WindowSize {
		if start == 1 {
			end = min(pageCount, start+WindowSize-1)
		} else if end == pageCount {
			start = max(1, end-WindowSize+1)
		}
	}

	items := make([]Item, 0, WindowSize+4)
	if start > 1 {
		items = append(items, page(1))
		if start > 2 {
			items = append(items, Item{Marker: EllipsisStart})
		}
	}
	for n := start; n <= end; n++ {
		items = append(items, page(n))
	}
	if end < pageCount {
		if end < pageCount-1 {
			items = append(items, Item{Marker: EllipsisEnd})
		}
		items = append(items, page(pageCount))
	}
	return items
}

// Page is one page of a listing.
type Page[T any] struct {
	Items      []T    `json:"items"`
	Page       int    `json:"page"`
	PageSize   int    `json:"pageSize"`
	TotalCount int    `json:"totalCount"`
	TotalPages int    `json:"totalPages"`
	HasMore    bool   `json:"hasMore"`
	Pages      []Item `json:"pages"`
}

// TotalPages is ceil(total/size), 0 for an empty listing.
func TotalPages(total, size int) int {
	if total <= 0 || size <= 0 {
		return 0
	}
	return (total + size - 1) / size
}

// Offset is the row offset of page p.
func Offset(p, size int) int {
	return (max(p, 1) - 1) * size
}

// NewPage assembles a page. items must hold at most size entries.
func NewPage[T any](items []T, p, size, total int) Page[T] {
	if items == nil {
		items = []T{}
	}
	totalPages := TotalPages(total, size)
	return Page[T]{
		Items:      items,
		Page:       p,
		PageSize:   size,
		TotalCount: total,
		TotalPages: totalPages,
		HasMore:    p < totalPages,
		Pages:      BuildPageWindow(p, totalPages),
	}
}
