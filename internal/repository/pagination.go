// Package repository provides the data access layer for the holdings link service.
package repository

import (
	"net/url"
	"strconv"
)

// Pagination is a LIMIT/OFFSET window over a listing.
type Pagination struct {
	Limit  int
	Offset int
}

const (
	// DefaultLimit is the page size when none is requested.
	DefaultLimit = 50
	// MaxLimit caps the page size.
	MaxLimit = 500
)

// NewPagination clamps limit to [1, MaxLimit], using DefaultLimit for
// non-positive values, and offset to zero or more.
func NewPagination(limit, offset int) Pagination {
	switch {
	case limit <= 0:
		limit = DefaultLimit
	case limit > MaxLimit:
		limit = MaxLimit
	}
	return Pagination{Limit: limit, Offset: max(offset, 0)}
}

// PaginationFromQuery reads the limit and offset query parameters.
// Malformed values fall back to the defaults.
func PaginationFromQuery(q url.Values) Pagination {
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	return NewPagination(limit, offset)
}

// Next returns the following page.
func (p Pagination) Next() Pagination {
	return Pagination{Limit: p.Limit, Offset: p.Offset + p.Limit}
}
