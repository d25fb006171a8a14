// Package pagination reads limit/offset query parameters and wraps list
// results in a page envelope.
package pagination

import (
	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 50
	MaxLimit     = 200
)

type Params struct {
	Limit  int
	Offset int
}

// FromContext binds ?limit= and ?offset=. Malformed or out-of-range values
// fall back to the defaults instead of failing the request.
func FromContext(c echo.Context) Params {
	var p Params
	_ = echo.QueryParamsBinder(c).
		FailFast(false).
		Int("limit", &p.Limit).
		Int("offset", &p.Offset).
		BindErrors()
	return p.clamp()
}

func (p Params) clamp() Params {
	switch {
	case p.Limit <= 0:
		p.Limit = DefaultLimit
	case p.Limit > MaxLimit:
		p.Limit = MaxLimit
	}
	p.Offset = max(p.Offset, 0)
	return p
}

// Page is the list envelope returned by collection endpoints.
type Page[T any] struct {
	Data    []T  `json:"data"`
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

// NewPage builds the envelope; a nil slice is reported as [].
func NewPage[T any](items []T, total int, p Params) Page[T] {
	if items == nil {
		items = []T{}
	}
	return Page[T]{
		Data:    items,
		Total:   total,
		Limit:   p.Limit,
		Offset:  p.Offset,
		HasMore: p.Offset+len(items) < total,
	}
}

// Window is the half-open index range [start, end) this page covers in a
// list of total items.
func (p Params) Window(total int) (start, end int) {
	start = min(p.Offset, total)
	end = min(start+p.Limit, total)
	return start, end
}
