package query

import (
	"fmt"
	"strings"
)

// Where renders the filter and search predicates as a WHERE clause with
// placeholders numbered from start. It returns "" when nothing applies.
func (p *Params) Where(start int) (string, []any) {
	clauses, args := p.predicates(start)
	return joinWhere(clauses), args
}

// PageWhere is Where plus the keyset predicate of the current cursor.
func (p *Params) PageWhere(start int) (string, []any) {
	clauses, args := p.predicates(start)
	if p.Cursor != nil {
		n := start + len(args)
		op := "<"
		if p.Cursor.Reverse {
			op = ">"
		}
		clauses = append(clauses, fmt.Sprintf("(created_at, id) %s ($%d, $%d)", op, n, n+1))
		args = append(args, p.Cursor.CreatedAt, p.Cursor.ID)
	}
	return joinWhere(clauses), args
}

func (p *Params) predicates(start int) ([]string, []any) {
	var (
		clauses []string
		args    []any
	)
	n := start

	for _, c := range p.Conditions {
		clauses = append(clauses, fmt.Sprintf("%s = $%d", c.Column, n))
		args = append(args, c.Value)
		n++
	}

	for _, term := range p.SearchTerms {
		ors := make([]string, len(p.SearchColumns))
		for i, col := range p.SearchColumns {
			ors[i] = fmt.Sprintf("%s ILIKE $%d", col, n)
		}
		clauses = append(clauses, "("+strings.Join(ors, " OR ")+")")
		args = append(args, "%"+escapeLike(term)+"%")
		n++
	}

	return clauses, args
}

func joinWhere(clauses []string) string {
	if len(clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(clauses, " AND ")
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// OrderBy renders the ORDER BY clause. A reverse cursor flips every direction
// so the previous page can be read with a forward scan.
func (p *Params) OrderBy() string {
	if len(p.Ordering) == 0 {
		return ""
	}
	flip := p.Cursor != nil && p.Cursor.Reverse

	parts := make([]string, len(p.Ordering))
	for i, t := range p.Ordering {
		desc := t.Desc != flip
		if desc {
			parts[i] = t.Column + " DESC"
		} else {
			parts[i] = t.Column + " ASC"
		}
	}
	return " ORDER BY " + strings.Join(parts, ", ")
}

// LimitOffset renders the LIMIT/OFFSET clause for a resolved window.
func (w Window) LimitOffset() string {
	if w.Offset > 0 {
		return fmt.Sprintf(" LIMIT %d OFFSET %d", w.Limit, w.Offset)
	}
	return fmt.Sprintf(" LIMIT %d", w.Limit)
}
