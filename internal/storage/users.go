package storage

import (
	"database/sql"
	"errors"
	"time"
)

// PutUserRecord inserts or replaces a user's profile JSON.
func (s *Store) PutUserRecord(id, name, data string) error {
	now := formatTime(time.Now())
	_, err := s.db.Exec(`
		INSERT INTO users (id, name, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, data = excluded.data, updated_at = excluded.updated_at`,
		id, name, data, now, now,
	)
	return err
}

func (s *Store) GetUserRecord(id string) (string, error) {
	var data string
	err := s.db.QueryRow("SELECT data FROM users WHERE id = ?", id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return data, err
}

// ListUserRecords returns profile JSON in creation order. limit <= 0
// returns every row.
func (s *Store) ListUserRecords(limit, offset int) ([]string, error) {
	limit, offset = pageArgs(limit, offset)
	rows, err := s.db.Query(`SELECT data FROM users ORDER BY created_at ASC, id ASC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, rows.Err()
}

func (s *Store) DeleteUserRecord(id string) error {
	return rowsAffected(s.db.Exec("DELETE FROM users WHERE id = ?", id))
}

// CountUsers returns the number of stored users.
func (s *Store) CountUsers() (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM users").Scan(&n)
	return n, err
}
