// Package pagination implements limit/offset paging for admin listings.
package pagination

import (
	"net/url"
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

type Params struct {
	Limit  int
	Offset int
}

func queryInt(c echo.Context, name string) int {
	n, err := strconv.Atoi(c.QueryParam(name))
	if err != nil {
		return 0
	}
	return n
}

// FromContext reads ?limit= and ?offset=. Missing or invalid values fall
// back to the defaults and the limit is capped at MaxLimit.
func FromContext(c echo.Context) Params {
	p := Params{Limit: queryInt(c, "limit"), Offset: queryInt(c, "offset")}
	switch {
	case p.Limit <= 0:
		p.Limit = DefaultLimit
	case p.Limit > MaxLimit:
		p.Limit = MaxLimit
	}
	p.Offset = max(p.Offset, 0)
	return p
}

// Next returns the following page, or false when p is the last one.
func (p Params) Next(total int) (Params, bool) {
	if p.Offset+p.Limit >= total {
		return p, false
	}
	return Params{Limit: p.Limit, Offset: p.Offset + p.Limit}, true
}

// Previous returns the preceding page, clamped at offset 0, or false on the
// first page.
func (p Params) Previous() (Params, bool) {
	if p.Offset == 0 {
		return p, false
	}
	return Params{Limit: p.Limit, Offset: max(p.Offset-p.Limit, 0)}, true
}

// URL returns u with the page's limit and offset set, keeping any other
// query parameters.
func (p Params) URL(u *url.URL) string {
	q := u.Query()
	q.Set("limit", strconv.Itoa(p.Limit))
	q.Set("offset", strconv.Itoa(p.Offset))
	out := url.URL{Path: u.Path, RawQuery: q.Encode()}
	return out.String()
}

type Response[T any] struct {
	Data    []T               `json:"data"`
	Total   int               `json:"total"`
	Limit   int               `json:"limit"`
	Offset  int               `json:"offset"`
	HasMore bool              `json:"has_more"`
	Links   map[string]string `json:"links,omitempty"`
}

func NewResponse[T any](data []T, total int, p Params) *Response[T] {
	if data == nil {
		data = []T{}
	}
	_, more := p.Next(total)
	return &Response[T]{Data: data, Total: total, Limit: p.Limit, Offset: p.Offset, HasMore: more}
}

// WithLinks adds self, next and previous links built from the request URL.
func (r *Response[T]) WithLinks(u *url.URL) *Response[T] {
	p := Params{Limit: r.Limit, Offset: r.Offset}
	r.Links = map[string]string{"self": p.URL(u)}
	if next, ok := p.Next(r.Total); ok {
		r.Links["next"] = next.URL(u)
	}
	if prev, ok := p.Previous(); ok {
		r.Links["previous"] = prev.URL(u)
	}
	return r
}
