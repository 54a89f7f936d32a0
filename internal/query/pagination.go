package query

import (
	"encoding/base64"
	"encoding/json"
	"net/url"
	"slices"
	"strconv"
	"time"
)

// Style selects a pagination scheme.
type Style string

const (
	StylePage        Style = "page"
	StyleLimitOffset Style = "limit_offset"
	StyleCursor      Style = "cursor"
)

// Pagination is the per-view pagination configuration.
type Pagination struct {
	Style       Style
	PageSize    int
	MaxPageSize int
}

func (pg Pagination) normalized() Pagination {
	if pg.Style == "" {
		pg.Style = StylePage
	}
	if pg.PageSize < 1 {
		pg.PageSize = 10
	}
	if pg.MaxPageSize < pg.PageSize {
		pg.MaxPageSize = pg.PageSize
	}
	return pg
}

// Counted reports whether the style needs a total row count.
func (p *Params) Counted() bool {
	return p.Pagination.Style != StyleCursor
}

var cursorOrdering = []OrderTerm{{Column: "created_at", Desc: true}, {Column: "id", Desc: true}}

// Cursor is the keyset position a cursor page starts after.
type Cursor struct {
	CreatedAt time.Time `json:"created_at"`
	ID        int64     `json:"id"`
	Reverse   bool      `json:"reverse,omitempty"`
}

// EncodeCursor encodes a cursor as URL-safe base64 JSON.
func EncodeCursor(c Cursor) string {
	data, _ := json.Marshal(c)
	return base64.URLEncoding.EncodeToString(data)
}

// DecodeCursor decodes an opaque cursor.
func DecodeCursor(s string) (*Cursor, error) {
	data, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	var c Cursor
	if err := json.Unmarshal(data, &c); err != nil || c.CreatedAt.IsZero() {
		return nil, ErrInvalidCursor
	}
	return &c, nil
}

// Window is the resolved row range for one page.
type Window struct {
	Limit  int
	Offset int
	Page   int
	Pages  int
}

// Window resolves the page to fetch. count is the total number of matching
// rows and is ignored for cursor pagination.
func (p *Params) Window(count int64) (Window, error) {
	switch p.Pagination.Style {
	case StyleLimitOffset:
		return Window{Limit: p.Limit, Offset: p.Offset}, nil

	case StyleCursor:
		// One extra row tells whether another page follows.
		return Window{Limit: p.PageSize + 1}, nil

	default:
		pages := int((count + int64(p.PageSize) - 1) / int64(p.PageSize))
		if pages < 1 {
			pages = 1
		}
		page := p.Page
		if p.LastPage {
			page = pages
		}
		if page > pages {
			return Window{}, ErrInvalidPage
		}
		return Window{Limit: p.PageSize, Offset: (page - 1) * p.PageSize, Page: page, Pages: pages}, nil
	}
}

// Positioned is implemented by rows that can be cursor-paginated.
type Positioned interface {
	CursorPosition() (time.Time, int64)
}

// Result is one fetched page before it is rendered for a response.
type Result[T Positioned] struct {
	Items  []T
	Count  int64
	Window Window

	params  *Params
	hasNext bool
	hasPrev bool
}

// NewResult trims and orders fetched rows according to the pagination style.
// For cursor pagination rows must have been fetched with Window.Limit.
func NewResult[T Positioned](p *Params, items []T, count int64, w Window) Result[T] {
	r := Result[T]{Items: items, Count: count, Window: w, params: p}

	switch p.Pagination.Style {
	case StyleCursor:
		more := len(items) > p.PageSize
		if more {
			r.Items = items[:p.PageSize]
		}
		if p.Cursor != nil && p.Cursor.Reverse {
			slices.Reverse(r.Items)
			r.hasPrev = more
			r.hasNext = true
		} else {
			r.hasNext = more
			r.hasPrev = p.Cursor != nil
		}
	case StyleLimitOffset:
		r.hasNext = int64(w.Offset)+int64(w.Limit) < count
		r.hasPrev = w.Offset > 0
	default:
		r.hasNext = w.Page < w.Pages
		r.hasPrev = w.Page > 1
	}

	if r.Items == nil {
		r.Items = []T{}
	}
	return r
}

// Envelope is the paginated response body.
type Envelope[T any] struct {
	Count    *int64  `json:"count,omitempty"`
	Next     *string `json:"next"`
	Previous *string `json:"previous"`
	Results  []T     `json:"results"`
}

// Envelope renders the result with absolute next/previous links derived from
// requestURL. Other query parameters are preserved.
func (r Result[T]) Envelope(requestURL *url.URL) Envelope[T] {
	env := Envelope[T]{Results: r.Items}
	if r.params.Counted() {
		count := r.Count
		env.Count = &count
	}

	switch r.params.Pagination.Style {
	case StyleCursor:
		if r.hasNext && len(r.Items) > 0 {
			ts, id := r.Items[len(r.Items)-1].CursorPosition()
			env.Next = link(requestURL, map[string]string{ParamCursor: EncodeCursor(Cursor{CreatedAt: ts, ID: id})})
		}
		if r.hasPrev && len(r.Items) > 0 {
			ts, id := r.Items[0].CursorPosition()
			env.Previous = link(requestURL, map[string]string{ParamCursor: EncodeCursor(Cursor{CreatedAt: ts, ID: id, Reverse: true})})
		}

	case StyleLimitOffset:
		limit := strconv.Itoa(r.Window.Limit)
		if r.hasNext {
			env.Next = link(requestURL, map[string]string{
				ParamLimit:  limit,
				ParamOffset: strconv.FormatInt(int64(r.Window.Offset)+int64(r.Window.Limit), 10),
			})
		}
		if r.hasPrev {
			prev := r.Window.Offset - r.Window.Limit
			if prev <= 0 {
				env.Previous = link(requestURL, map[string]string{ParamLimit: limit, ParamOffset: ""})
			} else {
				env.Previous = link(requestURL, map[string]string{ParamLimit: limit, ParamOffset: strconv.Itoa(prev)})
			}
		}

	default:
		if r.hasNext {
			env.Next = link(requestURL, map[string]string{ParamPage: strconv.Itoa(r.Window.Page + 1)})
		}
		if r.hasPrev {
			if r.Window.Page-1 == 1 {
				env.Previous = link(requestURL, map[string]string{ParamPage: ""})
			} else {
				env.Previous = link(requestURL, map[string]string{ParamPage: strconv.Itoa(r.Window.Page - 1)})
			}
		}
	}
	return env
}

// link copies u with the given parameters replaced. An empty value removes
// the parameter.
func link(u *url.URL, set map[string]string) *string {
	next := *u
	q := next.Query()
	for k, v := range set {
		if v == "" {
			q.Del(k)
		} else {
			q.Set(k, v)
		}
	}
	next.RawQuery = q.Encode()
	s := next.String()
	return &s
}
