package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

const alertColumns = "id, name, keywords, regions, categories, value_min, value_max, channels, active, created_at"

func scanAlert(s rowScanner) (*Alert, error) {
	var a Alert
	var keywords, channels string
	var regions, categories *string
	var active int
	if err := s.Scan(&a.ID, &a.Name, &keywords, &regions, &categories, &a.ValueMin, &a.ValueMax,
		&channels, &active, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.Active = active == 1
	if err := json.Unmarshal([]byte(keywords), &a.Keywords); err != nil {
		return nil, fmt.Errorf("alert %d keywords: %w", a.ID, err)
	}
	if err := json.Unmarshal([]byte(channels), &a.Channels); err != nil {
		return nil, fmt.Errorf("alert %d channels: %w", a.ID, err)
	}
	if regions != nil && *regions != "" {
		if err := json.Unmarshal([]byte(*regions), &a.Regions); err != nil {
			return nil, fmt.Errorf("alert %d regions: %w", a.ID, err)
		}
	}
	if categories != nil && *categories != "" {
		if err := json.Unmarshal([]byte(*categories), &a.Categories); err != nil {
			return nil, fmt.Errorf("alert %d categories: %w", a.ID, err)
		}
	}
	return &a, nil
}

// nullableJSON encodes a slice as a JSON array, or NULL when empty.
func nullableJSON[T any](v []T) (*string, error) {
	if len(v) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}

// InsertAlert stores a new alert and returns its ID.
func (db *DB) InsertAlert(a *Alert) (int64, error) {
	if len(a.Keywords) == 0 {
		return 0, errors.New("alert needs at least one keyword")
	}
	if len(a.Channels) == 0 {
		return 0, errors.New("alert needs at least one channel")
	}
	keywords, _ := json.Marshal(a.Keywords)
	channels, _ := json.Marshal(a.Channels)
	regions, err := nullableJSON(a.Regions)
	if err != nil {
		return 0, err
	}
	categories, err := nullableJSON(a.Categories)
	if err != nil {
		return 0, err
	}
	active := 0
	if a.Active {
		active = 1
	}

	res, err := db.conn.Exec(`
		INSERT INTO alerts (name, keywords, regions, categories, value_min, value_max, channels, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.Name, string(keywords), regions, categories, a.ValueMin, a.ValueMax, string(channels), active,
	)
	if err != nil {
		return 0, fmt.Errorf("insert alert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	a.ID = id
	return id, nil
}

// GetAlert returns an alert by ID, or nil if not found.
func (db *DB) GetAlert(id int64) (*Alert, error) {
	a, err := scanAlert(db.conn.QueryRow("SELECT "+alertColumns+" FROM alerts WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

// ListAlerts returns all alerts, optionally only the active ones.
func (db *DB) ListAlerts(activeOnly bool) ([]Alert, error) {
	query := "SELECT " + alertColumns + " FROM alerts"
	if activeOnly {
		query += " WHERE active = 1"
	}
	query += " ORDER BY id"

	rows, err := db.conn.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, *a)
	}
	return alerts, rows.Err()
}

// SetAlertActive enables or disables an alert. It reports whether the alert exists.
func (db *DB) SetAlertActive(id int64, active bool) (bool, error) {
	v := 0
	if active {
		v = 1
	}
	res, err := db.conn.Exec("UPDATE alerts SET active = ? WHERE id = ?", v, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// DeleteAlert removes an alert together with its sent-log and cached scores.
func (db *DB) DeleteAlert(id int64) (bool, error) {
	res, err := db.conn.Exec("DELETE FROM alerts WHERE id = ?", id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
