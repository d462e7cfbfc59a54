package database

import "strconv"

// GetStats returns aggregate database statistics. openAfter is the timestamp
// used to count records still accepting proposals.
func (db *DB) GetStats(openAfter string) (*Stats, error) {
	s := &Stats{}

	counts := []struct {
		dest  *int
		query string
		args  []any
	}{
		{&s.TotalRecords, "SELECT COUNT(*) FROM records", nil},
		{&s.MatchedRecords, "SELECT COUNT(*) FROM records WHERE matched = 1", nil},
		{&s.AnalyzedRecords, "SELECT COUNT(*) FROM records WHERE analyzed = 1", nil},
		{&s.OpenRecords, "SELECT COUNT(*) FROM records WHERE closing_at >= ?", []any{openAfter}},
		{&s.ActiveAlerts, "SELECT COUNT(*) FROM alerts WHERE active = 1", nil},
		{&s.Notifications, "SELECT COUNT(*) FROM sent_notifications", nil},
	}
	for _, c := range counts {
		if err := db.conn.QueryRow(c.query, c.args...).Scan(c.dest); err != nil {
			return nil, err
		}
	}

	rows, err := db.conn.Query(`
		SELECT region_code, COUNT(*) FROM records
		WHERE region_code != ''
		GROUP BY region_code
		ORDER BY COUNT(*) DESC, region_code
		LIMIT 10`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var c CountBy
		if err := rows.Scan(&c.Key, &c.Count); err != nil {
			rows.Close()
			return nil, err
		}
		c.Label = c.Key
		s.ByRegion = append(s.ByRegion, c)
	}
	rows.Close()

	rows, err = db.conn.Query(`
		SELECT category_code, MAX(category_name), COUNT(*) FROM records
		GROUP BY category_code
		ORDER BY COUNT(*) DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var code int
		var c CountBy
		if err := rows.Scan(&code, &c.Label, &c.Count); err != nil {
			return nil, err
		}
		c.Key = strconv.Itoa(code)
		s.ByCategory = append(s.ByCategory, c)
	}
	return s, rows.Err()
}
