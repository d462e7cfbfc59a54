package database

// InsertDocument stores a company document.
func (db *DB) InsertDocument(d *CompanyDocument) (int64, error) {
	status := d.Status
	if status == "" {
		status = "valid"
	}
	res, err := db.conn.Exec(
		"INSERT INTO company_documents (kind, name, issuer, expires_at, status) VALUES (?, ?, ?, ?, ?)",
		d.Kind, d.Name, d.Issuer, d.ExpiresAt, status,
	)
	if err != nil {
		return 0, err
	}
	d.ID, err = res.LastInsertId()
	return d.ID, err
}

// DocumentsExpiringBefore returns documents with an expiry date on or before
// the given date (YYYY-MM-DD), earliest first.
func (db *DB) DocumentsExpiringBefore(date string) ([]CompanyDocument, error) {
	rows, err := db.conn.Query(`
		SELECT id, kind, name, issuer, expires_at, status, created_at
		FROM company_documents
		WHERE expires_at IS NOT NULL AND date(expires_at) <= date(?)
		ORDER BY expires_at`, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []CompanyDocument
	for rows.Next() {
		var d CompanyDocument
		if err := rows.Scan(&d.ID, &d.Kind, &d.Name, &d.Issuer, &d.ExpiresAt, &d.Status, &d.CreatedAt); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// SetDocumentStatus updates the status of a document.
func (db *DB) SetDocumentStatus(id int64, status string) error {
	_, err := db.conn.Exec("UPDATE company_documents SET status = ? WHERE id = ?", status, id)
	return err
}
