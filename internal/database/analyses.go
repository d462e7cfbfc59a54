package database

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// GetAnalysis returns the stored analysis for a record, or nil if none exists.
func (db *DB) GetAnalysis(recordID string) (*Analysis, error) {
	var a Analysis
	var cost float64
	err := db.conn.QueryRow(`
		SELECT record_id, summary, difficulty, next_step, raw_response, model, tokens, cost_usd, created_at
		FROM analyses WHERE record_id = ?`, recordID,
	).Scan(&a.RecordID, &a.Summary, &a.Difficulty, &a.NextStep, &a.RawResponse, &a.Model, &a.Tokens,
		&cost, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.CostUSD = decimal.NewFromFloat(cost)
	return &a, nil
}

// SaveAnalysis stores or replaces the analysis of a record.
func (db *DB) SaveAnalysis(a *Analysis) error {
	_, err := db.conn.Exec(`
		INSERT OR REPLACE INTO analyses (record_id, summary, difficulty, next_step, raw_response, model, tokens, cost_usd)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.RecordID, a.Summary, a.Difficulty, a.NextStep, a.RawResponse, a.Model, a.Tokens, a.CostUSD.InexactFloat64(),
	)
	if err != nil {
		return fmt.Errorf("save analysis %s: %w", a.RecordID, err)
	}
	return nil
}
