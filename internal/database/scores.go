package database

import (
	"database/sql"
	"errors"
	"fmt"
)

// GetScore returns the cached score for an (alert, record) pair, or nil on a miss.
func (db *DB) GetScore(alertID int64, recordID string) (*ScoreEntry, error) {
	var e ScoreEntry
	err := db.conn.QueryRow(`
		SELECT alert_id, record_id, score, rationale, source, created_at
		FROM score_cache WHERE alert_id = ? AND record_id = ?`,
		alertID, recordID,
	).Scan(&e.AlertID, &e.RecordID, &e.Score, &e.Rationale, &e.Source, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// PutScore stores a score for an (alert, record) pair. The first write wins;
// cached entries are never replaced.
func (db *DB) PutScore(e *ScoreEntry) error {
	_, err := db.conn.Exec(`
		INSERT OR IGNORE INTO score_cache (alert_id, record_id, score, rationale, source)
		VALUES (?, ?, ?, ?, ?)`,
		e.AlertID, e.RecordID, e.Score, e.Rationale, e.Source,
	)
	if err != nil {
		return fmt.Errorf("cache score %d/%s: %w", e.AlertID, e.RecordID, err)
	}
	return nil
}
