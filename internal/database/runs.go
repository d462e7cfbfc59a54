package database

import "fmt"

// InsertCollectionRun appends an audit row for one ingestion axis.
func (db *DB) InsertCollectionRun(r *CollectionRun) error {
	success := 0
	if r.Success {
		success = 1
	}
	res, err := db.conn.Exec(`
		INSERT INTO collection_runs (cycle_id, category_code, region_code, date_from, date_to,
			total, new_count, updated_count, success, error_message, duration_ms, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.CycleID, r.CategoryCode, r.RegionCode, r.DateFrom, r.DateTo,
		r.Total, r.NewCount, r.UpdatedCount, success, r.ErrorMessage, r.DurationMS, r.StartedAt, r.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert collection run: %w", err)
	}
	r.ID, _ = res.LastInsertId()
	return nil
}

// RecentRuns returns the most recent collection runs, newest first.
func (db *DB) RecentRuns(limit int) ([]CollectionRun, error) {
	rows, err := db.conn.Query(`
		SELECT id, cycle_id, category_code, region_code, date_from, date_to, total, new_count,
			updated_count, success, error_message, duration_ms, started_at, finished_at
		FROM collection_runs
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []CollectionRun
	for rows.Next() {
		var r CollectionRun
		var success int
		if err := rows.Scan(&r.ID, &r.CycleID, &r.CategoryCode, &r.RegionCode, &r.DateFrom, &r.DateTo,
			&r.Total, &r.NewCount, &r.UpdatedCount, &success, &r.ErrorMessage, &r.DurationMS,
			&r.StartedAt, &r.FinishedAt); err != nil {
			return nil, err
		}
		r.Success = success == 1
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
