package duckdb

import (
	"fmt"
	"strings"
	"time"
)

// Builder constructs SELECT queries with a fluent API.
type Builder struct {
	table   string
	columns []string
	conds   []string
	args    []any
	groupBy []string
	orderBy []string
	limit   int
}

// NewQueryBuilder creates a query builder for table.
func NewQueryBuilder(table string) *Builder {
	return &Builder{table: table}
}

// Select specifies the columns or expressions to return.
func (b *Builder) Select(columns ...string) *Builder {
	b.columns = append(b.columns, columns...)
	return b
}

// Where adds a condition. Conditions are combined with AND.
func (b *Builder) Where(expr string, args ...any) *Builder {
	b.conds = append(b.conds, expr)
	b.args = append(b.args, args...)
	return b
}

// Eq adds column = value. Empty strings are treated as no filter.
func (b *Builder) Eq(column string, value any) *Builder {
	if s, ok := value.(string); ok && s == "" {
		return b
	}
	return b.Where(column+" = ?", value)
}

// TimeRange restricts column to [start, end]. Zero times leave that side
// open.
func (b *Builder) TimeRange(column string, start, end time.Time) *Builder {
	if !start.IsZero() {
		b.Where(column+" >= ?", start)
	}
	if !end.IsZero() {
		b.Where(column+" <= ?", end)
	}
	return b
}

// GroupBy adds GROUP BY columns.
func (b *Builder) GroupBy(columns ...string) *Builder {
	b.groupBy = append(b.groupBy, columns...)
	return b
}

// OrderBy adds ORDER BY columns. A "-" prefix sorts descending.
func (b *Builder) OrderBy(columns ...string) *Builder {
	for _, col := range columns {
		if rest, ok := strings.CutPrefix(col, "-"); ok {
			b.orderBy = append(b.orderBy, rest+" DESC")
			continue
		}
		b.orderBy = append(b.orderBy, col)
	}
	return b
}

// Limit caps the number of returned rows. Zero means no limit.
func (b *Builder) Limit(n int) *Builder {
	b.limit = n
	return b
}

// Build returns the query text and its arguments.
func (b *Builder) Build() (string, []any, error) {
	if b.table == "" {
		return "", nil, fmt.Errorf("table name is required")
	}
	if b.limit < 0 {
		return "", nil, fmt.Errorf("negative limit %d", b.limit)
	}

	cols := "*"
	if len(b.columns) > 0 {
		cols = strings.Join(b.columns, ", ")
	}

	var q strings.Builder
	fmt.Fprintf(&q, "SELECT %s FROM %s", cols, b.table)
	if len(b.conds) > 0 {
		q.WriteString(" WHERE " + strings.Join(b.conds, " AND "))
	}
	if len(b.groupBy) > 0 {
		q.WriteString(" GROUP BY " + strings.Join(b.groupBy, ", "))
	}
	if len(b.orderBy) > 0 {
		q.WriteString(" ORDER BY " + strings.Join(b.orderBy, ", "))
	}

	args := append([]any(nil), b.args...)
	if b.limit > 0 {
		q.WriteString(" LIMIT ?")
		args = append(args, b.limit)
	}

	return q.String(), args, nil
}
