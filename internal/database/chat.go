package database

// InsertChatMessage appends a chat history row.
func (db *DB) InsertChatMessage(sessionID, role, content string) error {
	_, err := db.conn.Exec(
		"INSERT INTO chat_history (session_id, role, content) VALUES (?, ?, ?)", sessionID, role, content)
	return err
}

// DeleteChatBefore removes chat history created before the given timestamp
// (SQLite datetime format) and returns how many rows were deleted.
func (db *DB) DeleteChatBefore(ts string) (int64, error) {
	res, err := db.conn.Exec("DELETE FROM chat_history WHERE created_at < ?", ts)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
