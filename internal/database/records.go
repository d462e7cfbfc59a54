package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const recordColumns = `id, external_id, description, category_code, category_name, region_code, city,
	agency_name, agency_cnpj, estimated_value, status_name, published_at, opening_at, closing_at,
	origin_url, extra_info, raw_json, matched, match_score, analyzed, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(s rowScanner, extra ...any) (*Record, error) {
	var r Record
	var matched, analyzed int
	dest := []any{
		&r.ID, &r.ExternalID, &r.Description, &r.CategoryCode, &r.CategoryName, &r.RegionCode, &r.City,
		&r.AgencyName, &r.AgencyCNPJ, &r.EstimatedValue, &r.StatusName, &r.PublishedAt, &r.OpeningAt, &r.ClosingAt,
		&r.OriginURL, &r.ExtraInfo, &r.RawJSON, &matched, &r.MatchScore, &analyzed, &r.CreatedAt, &r.UpdatedAt,
	}
	if err := s.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	r.Matched = matched == 1
	r.Analyzed = analyzed == 1
	return &r, nil
}

func collectRecords(rows *sql.Rows) ([]Record, error) {
	defer rows.Close()
	var records []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *r)
	}
	return records, rows.Err()
}

// UpsertRecord inserts a record or refreshes the mutable fields of an existing
// one with the same external ID. The FTS triggers keep records_fts in step.
func (db *DB) UpsertRecord(r *Record) (UpsertOutcome, error) {
	if r.ExternalID == "" {
		return 0, errors.New("upsert record: empty external id")
	}

	var id int64
	err := db.conn.QueryRow("SELECT id FROM records WHERE external_id = ?", r.ExternalID).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		res, err := db.conn.Exec(`
			INSERT INTO records (external_id, description, category_code, category_name, region_code, city,
				agency_name, agency_cnpj, estimated_value, status_name, published_at, opening_at, closing_at,
				origin_url, extra_info, raw_json)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ExternalID, r.Description, r.CategoryCode, r.CategoryName, r.RegionCode, r.City,
			r.AgencyName, r.AgencyCNPJ, r.EstimatedValue, r.StatusName, r.PublishedAt, r.OpeningAt, r.ClosingAt,
			r.OriginURL, r.ExtraInfo, r.RawJSON,
		)
		if err != nil {
			return 0, fmt.Errorf("insert record %s: %w", r.ExternalID, err)
		}
		r.ID, _ = res.LastInsertId()
		return UpsertNew, nil
	case err != nil:
		return 0, fmt.Errorf("lookup record %s: %w", r.ExternalID, err)
	}

	_, err = db.conn.Exec(`
		UPDATE records SET description = ?, category_code = ?, category_name = ?, region_code = ?, city = ?,
			agency_name = ?, agency_cnpj = ?, estimated_value = ?, status_name = ?, published_at = ?,
			opening_at = ?, closing_at = ?, origin_url = ?, extra_info = ?, raw_json = ?,
			updated_at = datetime('now')
		WHERE id = ?`,
		r.Description, r.CategoryCode, r.CategoryName, r.RegionCode, r.City,
		r.AgencyName, r.AgencyCNPJ, r.EstimatedValue, r.StatusName, r.PublishedAt,
		r.OpeningAt, r.ClosingAt, r.OriginURL, r.ExtraInfo, r.RawJSON, id,
	)
	if err != nil {
		return 0, fmt.Errorf("update record %s: %w", r.ExternalID, err)
	}
	r.ID = id
	return UpsertUpdated, nil
}

// GetRecord returns a record by external ID, or nil if not found.
func (db *DB) GetRecord(externalID string) (*Record, error) {
	row := db.conn.QueryRow("SELECT "+recordColumns+" FROM records WHERE external_id = ?", externalID)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

// GetRecordsByIDs returns the records with the given external IDs, in no particular order.
func (db *DB) GetRecordsByIDs(externalIDs []string) ([]Record, error) {
	if len(externalIDs) == 0 {
		return nil, nil
	}
	args := make([]any, len(externalIDs))
	for i, id := range externalIDs {
		args[i] = id
	}
	rows, err := db.conn.Query(
		"SELECT "+recordColumns+" FROM records WHERE external_id IN ("+placeholders(len(args))+")", args...)
	if err != nil {
		return nil, err
	}
	return collectRecords(rows)
}

// SetMatched flags a record as matching the operator keywords.
func (db *DB) SetMatched(externalID string, score float64) error {
	_, err := db.conn.Exec(
		"UPDATE records SET matched = 1, match_score = ? WHERE external_id = ?", score, externalID)
	return err
}

// MarkAnalyzed flags a record as having a stored deep analysis.
func (db *DB) MarkAnalyzed(externalID string) error {
	_, err := db.conn.Exec("UPDATE records SET analyzed = 1 WHERE external_id = ?", externalID)
	return err
}

// TopMatchedUnanalyzed returns matched records without an analysis, best match first.
func (db *DB) TopMatchedUnanalyzed(limit int) ([]Record, error) {
	rows, err := db.conn.Query(
		"SELECT "+recordColumns+` FROM records
		WHERE matched = 1 AND analyzed = 0
		ORDER BY match_score DESC, published_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	return collectRecords(rows)
}

// TopMatched returns matched records, best score first.
func (db *DB) TopMatched(limit int) ([]Record, error) {
	rows, err := db.conn.Query(
		"SELECT "+recordColumns+` FROM records
		WHERE matched = 1
		ORDER BY match_score DESC, published_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	return collectRecords(rows)
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}
