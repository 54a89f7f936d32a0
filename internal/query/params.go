// Package query turns list request parameters into SQL fragments and
// pagination envelopes.
//
// Column names in generated SQL are only ever taken from a FieldSet. Request
// values reach the database as bind arguments.
package query

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidFilter   = errors.New("invalid filter value")
	ErrInvalidOrdering = errors.New("invalid ordering field")
	ErrInvalidPage     = errors.New("invalid page")
	ErrInvalidCursor   = errors.New("invalid cursor")
)

// Reserved query parameter names.
const (
	ParamSearch   = "search"
	ParamOrdering = "ordering"
	ParamPage     = "page"
	ParamPageSize = "page_size"
	ParamLimit    = "limit"
	ParamOffset   = "offset"
	ParamCursor   = "cursor"
)

// MaxOffset caps the limit/offset offset so offset+limit stays in range.
const MaxOffset = math.MaxInt32

// FieldType controls how a filter value is converted before binding.
type FieldType int

const (
	String FieldType = iota
	Int
	Time
)

// Filter maps a query parameter to an exact-match column.
type Filter struct {
	Param  string
	Column string
	Type   FieldType
}

// FieldSet declares what a resource allows clients to filter, search and order by.
type FieldSet struct {
	Filters []Filter
	// Search columns are matched case-insensitively by substring.
	Search []string
	// Ordering names are column names.
	Ordering        []string
	DefaultOrdering []string
}

// Condition is a bound exact-match predicate.
type Condition struct {
	Column string
	Value  any
}

// OrderTerm is one ORDER BY entry.
type OrderTerm struct {
	Column string
	Desc   bool
}

// Params is a parsed list request.
type Params struct {
	Conditions    []Condition
	SearchColumns []string
	SearchTerms   []string
	Ordering      []OrderTerm
	Pagination    Pagination

	// Page number style.
	Page     int
	LastPage bool
	PageSize int

	// Limit/offset style.
	Limit  int
	Offset int

	// Cursor style; nil on the first page.
	Cursor *Cursor
}

// Parse reads filters, search, ordering and pagination from values.
// Unknown parameters are ignored.
func Parse(values url.Values, fs FieldSet, pg Pagination) (*Params, error) {
	pg = pg.normalized()
	p := &Params{Pagination: pg, SearchColumns: fs.Search}

	for _, f := range fs.Filters {
		raw := values.Get(f.Param)
		if raw == "" {
			continue
		}
		v, err := convert(raw, f.Type)
		if err != nil {
			return nil, fmt.Errorf("%w: %s=%q", ErrInvalidFilter, f.Param, raw)
		}
		p.Conditions = append(p.Conditions, Condition{Column: f.Column, Value: v})
	}

	if len(fs.Search) > 0 {
		p.SearchTerms = strings.Fields(values.Get(ParamSearch))
	}

	requested := strings.TrimSpace(values.Get(ParamOrdering))
	if pg.Style == StyleCursor {
		if requested != "" {
			return nil, fmt.Errorf("%w: cursor pagination uses a fixed ordering", ErrInvalidOrdering)
		}
		p.Ordering = cursorOrdering
	} else {
		ordering, err := parseOrdering(requested, fs)
		if err != nil {
			return nil, err
		}
		p.Ordering = ordering
	}

	if err := p.parsePagination(values); err != nil {
		return nil, err
	}
	return p, nil
}

func convert(raw string, t FieldType) (any, error) {
	switch t {
	case Int:
		return strconv.ParseInt(raw, 10, 64)
	case Time:
		return time.Parse(time.RFC3339, raw)
	default:
		return raw, nil
	}
}

func parseOrdering(raw string, fs FieldSet) ([]OrderTerm, error) {
	fields := fs.DefaultOrdering
	if raw != "" {
		fields = strings.Split(raw, ",")
	}

	terms := make([]OrderTerm, 0, len(fields)+1)
	seen := make(map[string]bool, len(fields)+1)
	for _, field := range fields {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		term := OrderTerm{Column: field}
		if name, ok := strings.CutPrefix(field, "-"); ok {
			term = OrderTerm{Column: name, Desc: true}
		}
		if !slices.Contains(fs.Ordering, term.Column) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidOrdering, term.Column)
		}
		if seen[term.Column] {
			continue
		}
		seen[term.Column] = true
		terms = append(terms, term)
	}

	if !seen["id"] {
		terms = append(terms, OrderTerm{Column: "id"})
	}
	return terms, nil
}

func (p *Params) parsePagination(values url.Values) error {
	pg := p.Pagination
	switch pg.Style {
	case StylePage:
		p.PageSize = pg.PageSize
		if n, err := strconv.Atoi(values.Get(ParamPageSize)); err == nil && n > 0 {
			p.PageSize = min(n, pg.MaxPageSize)
		}
		switch raw := values.Get(ParamPage); raw {
		case "":
			p.Page = 1
		case "last":
			p.LastPage = true
		default:
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				return ErrInvalidPage
			}
			p.Page = n
		}

	case StyleLimitOffset:
		p.Limit = pg.PageSize
		if n, err := strconv.Atoi(values.Get(ParamLimit)); err == nil && n > 0 {
			p.Limit = min(n, pg.MaxPageSize)
		}
		n, err := strconv.ParseInt(values.Get(ParamOffset), 10, 64)
		if errors.Is(err, strconv.ErrRange) {
			// n is clamped to the int64 bound with the input's sign.
			err = nil
		}
		if err == nil && n > 0 {
			p.Offset = int(min(n, MaxOffset))
		}

	case StyleCursor:
		p.PageSize = pg.PageSize
		if n, err := strconv.Atoi(values.Get(ParamPageSize)); err == nil && n > 0 {
			p.PageSize = min(n, pg.MaxPageSize)
		}
		if raw := values.Get(ParamCursor); raw != "" {
			c, err := DecodeCursor(raw)
			if err != nil {
				return err
			}
			p.Cursor = c
		}
	}
	return nil
}
