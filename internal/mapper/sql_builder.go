package mapper

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// Merge decides how an existing column reacts to a conflicting insert
type Merge int

const (
	// Replace overwrites with the incoming value
	Replace Merge = iota
	// Keep never touches the stored value on conflict
	Keep
	// Coalesce keeps the stored value when the incoming one is NULL
	Coalesce
	// Least keeps the smaller value, NULLs ignored
	Least
	// Greatest keeps the larger value, NULLs ignored
	Greatest
)

// UpsertBuilder translates a column map into a single Postgres
// INSERT ... ON CONFLICT DO UPDATE statement keyed by a natural key
type UpsertBuilder struct {
	table    string
	conflict []string
	merges   map[string]Merge
	touch    string
}

// NewUpsertBuilder targets table with the given conflict columns
func NewUpsertBuilder(table string, conflict ...string) *UpsertBuilder {
	return &UpsertBuilder{table: table, conflict: conflict, merges: map[string]Merge{}}
}

// Merge sets the conflict rule of a column. Columns default to Replace.
func (b *UpsertBuilder) Merge(column string, m Merge) *UpsertBuilder {
	b.merges[column] = m
	return b
}

// Touch names a timestamp column set to NOW() on every write
func (b *UpsertBuilder) Touch(column string) *UpsertBuilder {
	b.touch = column
	return b
}

// Build generates the statement and its positional args. Column order is
// sorted so the same row shape always yields the same SQL.
func (b *UpsertBuilder) Build(row map[string]any) (string, []any, error) {
	if len(row) == 0 {
		return "", nil, fmt.Errorf("no data provided for upsert on table %s", b.table)
	}
	for _, k := range b.conflict {
		if _, ok := row[k]; !ok {
			return "", nil, fmt.Errorf("upsert on %s is missing conflict column %s", b.table, k)
		}
	}

	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	columns := make([]string, 0, len(keys)+1)
	placeholders := make([]string, 0, len(keys)+1)
	args := make([]any, 0, len(keys))
	for i, k := range keys {
		columns = append(columns, quote(k))
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+1))
		v, err := formatValue(row[k])
		if err != nil {
			return "", nil, fmt.Errorf("column %s: %w", k, err)
		}
		args = append(args, v)
	}
	if b.touch != "" {
		if _, ok := row[b.touch]; !ok {
			columns = append(columns, quote(b.touch))
			placeholders = append(placeholders, "NOW()")
		}
	}

	var sets []string
	for _, k := range keys {
		if b.isConflictKey(k) || k == b.touch {
			continue
		}
		if clause, ok := b.setClause(k); ok {
			sets = append(sets, clause)
		}
	}
	if b.touch != "" {
		sets = append(sets, fmt.Sprintf("%s = NOW()", quote(b.touch)))
	}

	conflictCols := make([]string, len(b.conflict))
	for i, k := range b.conflict {
		conflictCols[i] = quote(k)
	}

	action := "DO NOTHING"
	if len(sets) > 0 {
		action = "DO UPDATE SET " + strings.Join(sets, ", ")
	}

	query := fmt.Sprintf(
		"INSERT INTO %s AS t (%s) VALUES (%s) ON CONFLICT (%s) %s",
		quote(b.table),
		strings.Join(columns, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(conflictCols, ", "),
		action,
	)
	return query, args, nil
}

func (b *UpsertBuilder) isConflictKey(k string) bool {
	for _, c := range b.conflict {
		if c == k {
			return true
		}
	}
	return false
}

func (b *UpsertBuilder) setClause(k string) (string, bool) {
	col := quote(k)
	switch b.merges[k] {
	case Keep:
		return "", false
	case Coalesce:
		return fmt.Sprintf("%s = COALESCE(EXCLUDED.%s, t.%s)", col, col, col), true
	case Least:
		return fmt.Sprintf("%s = LEAST(t.%s, EXCLUDED.%s)", col, col, col), true
	case Greatest:
		return fmt.Sprintf("%s = GREATEST(t.%s, EXCLUDED.%s)", col, col, col), true
	default:
		return fmt.Sprintf("%s = EXCLUDED.%s", col, col), true
	}
}

func quote(ident string) string {
	return pgx.Identifier{ident}.Sanitize()
}

// formatValue normalizes Go values into something pgx encodes predictably
func formatValue(v any) (any, error) {
	switch val := v.(type) {
	case decimal.Decimal:
		return val.String(), nil
	case decimal.NullDecimal:
		if !val.Valid {
			return nil, nil
		}
		return val.Decimal.String(), nil
	case *time.Time:
		if val == nil {
			return nil, nil
		}
		return val.UTC(), nil
	case time.Time:
		if val.IsZero() {
			return nil, nil
		}
		return val.UTC(), nil
	case []int64:
		if val == nil {
			val = []int64{}
		}
		raw, err := json.Marshal(val)
		if err != nil {
			return nil, err
		}
		return string(raw), nil
	case json.RawMessage:
		if len(val) == 0 {
			return nil, nil
		}
		return string(val), nil
	default:
		return val, nil
	}
}
