// Package pagination reads page, limit and sort query parameters and slices
// a sorted listing into the requested page.
package pagination

import (
	"net/url"
	"strconv"
)

// Params is one page request. Page is 1-based.
type Params struct {
	Page   int
	Limit  int
	Offset int
	Sort   string
}

const (
	MaxLimit     = 100
	DefaultPage  = 1
	DefaultLimit = 20

	SortAsc  = "asc"
	SortDesc = "desc"
)

func calculateOffset(page, limit int) int {
	if page < 1 {
		page = 1
	}
	return (page - 1) * limit
}

// normalizeSort maps the accepted spellings onto SortAsc and SortDesc.
func normalizeSort(sort string) (string, bool) {
	switch sort {
	case "asc", "oldest":
		return SortAsc, true
	case "desc", "newest":
		return SortDesc, true
	default:
		return "", false
	}
}

type Option func(*Params)

// WithDefaultLimit sets the page size used when the query has none.
func WithDefaultLimit(limit int) Option {
	return func(p *Params) {
		if limit > 0 {
			p.Limit = limit
		}
	}
}

// WithDefaultSort sets the order used when the query has none. Unknown
// orders are ignored.
func WithDefaultSort(sort string) Option {
	return func(p *Params) {
		if normalized, ok := normalizeSort(sort); ok {
			p.Sort = normalized
		}
	}
}

// FromQuery reads page, limit and sort from q. Invalid values fall back to
// the defaults and the limit is capped at MaxLimit.
func FromQuery(q url.Values, opts ...Option) Params {
	params := Params{
		Page:  DefaultPage,
		Limit: DefaultLimit,
		Sort:  SortAsc,
	}
	for _, opt := range opts {
		opt(&params)
	}

	if page, err := strconv.Atoi(q.Get("page")); err == nil && page > 0 {
		params.Page = page
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil && limit > 0 {
		params.Limit = limit
	}
	params.Limit = min(params.Limit, MaxLimit)
	params.Offset = calculateOffset(params.Page, params.Limit)

	if sort, ok := normalizeSort(q.Get("sort")); ok {
		params.Sort = sort
	}
	return params
}

// Window returns the bounds of the page within total items.
func (p Params) Window(total int) (start, end int) {
	start = min(p.Offset, total)
	end = min(p.Offset+p.Limit, total)
	return start, end
}

// HasNext reports whether items remain after the page.
func (p Params) HasNext(total int) bool {
	return p.Offset+p.Limit < total
}

// Descending reports whether the listing runs in reverse order.
func (p Params) Descending() bool {
	return p.Sort == SortDesc
}
