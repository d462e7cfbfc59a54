package database

import "fmt"

// SentRecordIDs returns the set of record external IDs already notified for an
// (alert, channel) pair.
func (db *DB) SentRecordIDs(alertID int64, channel string) (map[string]bool, error) {
	rows, err := db.conn.Query(
		"SELECT record_id FROM sent_notifications WHERE alert_id = ? AND channel = ?", alertID, channel)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sent := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		sent[id] = true
	}
	return sent, rows.Err()
}

// RecordSent appends a sent-log row. A duplicate triple is ignored, so the
// call is safe to repeat after a partial failure.
func (db *DB) RecordSent(alertID int64, recordID, channel string) error {
	_, err := db.conn.Exec(`
		INSERT INTO sent_notifications (alert_id, record_id, channel)
		VALUES (?, ?, ?)
		ON CONFLICT (alert_id, record_id, channel) DO NOTHING`,
		alertID, recordID, channel,
	)
	if err != nil {
		return fmt.Errorf("record sent %d/%s/%s: %w", alertID, recordID, channel, err)
	}
	return nil
}

// CountSent returns the number of sent-log rows for an alert.
func (db *DB) CountSent(alertID int64) (int, error) {
	var n int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM sent_notifications WHERE alert_id = ?", alertID).Scan(&n)
	return n, err
}
