package storage

import (
	"database/sql"
	"errors"
	"time"
)

const alertColumns = `id, disease, severity, location, published_at, data, created_at`

// SaveAlert upserts an alert. Re-ingesting the same alert ID replaces its
// data but keeps the original created_at.
func (s *Store) SaveAlert(a AlertRecord) error {
	createdAt := a.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO alerts (`+alertColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			disease = excluded.disease,
			severity = excluded.severity,
			location = excluded.location,
			published_at = excluded.published_at,
			data = excluded.data`,
		a.ID, a.Disease, a.Severity, a.Location, formatTime(a.PublishedAt), a.Data, formatTime(createdAt),
	)
	return err
}

func (s *Store) GetAlert(id string) (AlertRecord, error) {
	a, err := scanAlert(s.db.QueryRow(`SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return AlertRecord{}, ErrNotFound
	}
	return a, err
}

// ListAlerts returns alerts newest-published first.
func (s *Store) ListAlerts(limit, offset int) ([]AlertRecord, error) {
	limit, offset = pageArgs(limit, offset)
	rows, err := s.db.Query(`SELECT `+alertColumns+` FROM alerts
		ORDER BY published_at DESC, id ASC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AlertRecord
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(r rowScanner) (AlertRecord, error) {
	var a AlertRecord
	var publishedAt, createdAt string
	if err := r.Scan(&a.ID, &a.Disease, &a.Severity, &a.Location, &publishedAt, &a.Data, &createdAt); err != nil {
		return AlertRecord{}, err
	}
	var err error
	if a.PublishedAt, err = parseTime("published_at", publishedAt); err != nil {
		return AlertRecord{}, err
	}
	if a.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return AlertRecord{}, err
	}
	return a, nil
}
