package database

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// MatchRecords runs a raw FTS5 MATCH expression against records_fts and
// returns hits ranked best first. MatchScore carries the bm25 relevance
// (higher is better). Syntax errors from FTS5 are returned unchanged.
func (db *DB) MatchRecords(ftsQuery string, limit int) ([]Record, error) {
	rows, err := db.conn.Query(`
		SELECT `+prefixed("r.", recordColumns)+`, -bm25(records_fts)
		FROM records_fts
		JOIN records r ON r.id = records_fts.rowid
		WHERE records_fts MATCH ?
		ORDER BY rank
		LIMIT ?`, ftsQuery, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var relevance float64
		r, err := scanRecord(rows, &relevance)
		if err != nil {
			return nil, err
		}
		r.MatchScore = &relevance
		records = append(records, *r)
	}
	return records, rows.Err()
}

// RecordQuery is a structured filter over the records table.
type RecordQuery struct {
	Regions    []string
	Categories []int
	ValueMin   decimal.NullDecimal
	ValueMax   decimal.NullDecimal
	// ClosingAfter keeps records whose closing_at is at or after this timestamp.
	ClosingAfter string
	Limit        int
	Offset       int
}

// FilterRecords runs a structured query ordered by publication date, newest first.
func (db *DB) FilterRecords(q RecordQuery) ([]Record, error) {
	var where []string
	var args []any

	if len(q.Regions) > 0 {
		where = append(where, "region_code IN ("+placeholders(len(q.Regions))+")")
		for _, r := range q.Regions {
			args = append(args, r)
		}
	}
	if len(q.Categories) > 0 {
		where = append(where, "category_code IN ("+placeholders(len(q.Categories))+")")
		for _, c := range q.Categories {
			args = append(args, c)
		}
	}
	if q.ValueMin.Valid {
		where = append(where, "estimated_value >= ?")
		args = append(args, q.ValueMin.Decimal.InexactFloat64())
	}
	if q.ValueMax.Valid {
		where = append(where, "estimated_value <= ?")
		args = append(args, q.ValueMax.Decimal.InexactFloat64())
	}
	if q.ClosingAfter != "" {
		where = append(where, "closing_at >= ?")
		args = append(args, q.ClosingAfter)
	}

	query := "SELECT " + recordColumns + " FROM records"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY published_at DESC"

	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	query += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, max(q.Offset, 0))

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("filter records: %w", err)
	}
	return collectRecords(rows)
}

func prefixed(prefix, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = prefix + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
