package database

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// InsertUsage appends a usage event.
func (db *DB) InsertUsage(e *UsageEvent) error {
	_, err := db.conn.Exec(`
		INSERT INTO usage_events (kind, model, input_tokens, output_tokens, cost_usd, day)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.Kind, e.Model, e.InputTokens, e.OutputTokens, e.CostUSD.InexactFloat64(), e.Day,
	)
	if err != nil {
		return fmt.Errorf("insert usage: %w", err)
	}
	return nil
}

// CountUsage returns how many events of a kind were recorded on a day (YYYY-MM-DD).
func (db *DB) CountUsage(kind, day string) (int, error) {
	var n int
	err := db.conn.QueryRow(
		"SELECT COUNT(*) FROM usage_events WHERE kind = ? AND day = ?", kind, day).Scan(&n)
	return n, err
}

// UsageForDay aggregates the usage events of a day.
func (db *DB) UsageForDay(day string) (*UsageTotals, error) {
	t := &UsageTotals{Day: day}
	var cost float64
	err := db.conn.QueryRow(`
		SELECT
			COALESCE(SUM(CASE WHEN kind = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN kind = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(input_tokens + output_tokens), 0),
			COALESCE(SUM(cost_usd), 0)
		FROM usage_events WHERE day = ?`,
		UsageClassification, UsageAnalysis, day,
	).Scan(&t.Classifications, &t.Analyses, &t.Tokens, &cost)
	if err != nil {
		return nil, err
	}
	t.CostUSD = decimal.NewFromFloat(cost).Round(6)
	return t, nil
}

// DeleteUsageBefore removes usage events older than the given day and
// returns how many rows were deleted.
func (db *DB) DeleteUsageBefore(day string) (int64, error) {
	res, err := db.conn.Exec("DELETE FROM usage_events WHERE day < ?", day)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
