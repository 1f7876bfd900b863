// Package pagination parses page requests and shapes paginated list
// responses.
package pagination

import (
	"net/http"
	"strconv"
)

const (
	DefaultPerPage = 20
	MaxPerPage     = 100
)

// Params is a 1-based page request.
type Params struct {
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
}

// Normalize returns page and perPage clamped to usable values: pages start
// at 1, a non-positive page size becomes DefaultPerPage and sizes above
// MaxPerPage are capped.
func Normalize(page, perPage int) Params {
	if page < 1 {
		page = 1
	}
	switch {
	case perPage <= 0:
		perPage = DefaultPerPage
	case perPage > MaxPerPage:
		perPage = MaxPerPage
	}
	return Params{Page: page, PerPage: perPage}
}

// Limit is the SQL LIMIT for p.
func (p Params) Limit() int { return p.PerPage }

// Offset is the SQL OFFSET for p.
func (p Params) Offset() int { return (p.Page - 1) * p.PerPage }

// FromRequest reads the page and per_page query parameters. Values that are
// not integers are ignored.
func FromRequest(r *http.Request) Params {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	return Normalize(page, perPage)
}

// Page is the JSON envelope for one page of a list.
type Page[T any] struct {
	Data       []T  `json:"data"`
	TotalCount int  `json:"total_count"`
	Page       int  `json:"page"`
	PerPage    int  `json:"per_page"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
	HasPrev    bool `json:"has_prev"`
}

// NewPage builds the envelope for items, the page p selected out of total
// matching rows. A nil items slice is encoded as [].
func NewPage[T any](items []T, total int, p Params) Page[T] {
	p = Normalize(p.Page, p.PerPage)
	if items == nil {
		items = []T{}
	}
	pages := (total + p.PerPage - 1) / p.PerPage
	return Page[T]{
		Data:       items,
		TotalCount: total,
		Page:       p.Page,
		PerPage:    p.PerPage,
		TotalPages: pages,
		HasNext:    p.Page < pages,
		HasPrev:    p.Page > 1,
	}
}
