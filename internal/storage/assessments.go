package storage

import (
	"database/sql"
	"errors"
	"strings"
	"time"
)

const assessmentColumns = `id, user_id, alert_id, risk_level, risk_score, confidence, priority, processing_time_ms, data, created_at`

func (s *Store) SaveAssessment(a AssessmentRecord) error {
	createdAt := a.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO assessments (`+assessmentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.AlertID, a.Level, a.Score, a.Confidence, a.Priority,
		a.ProcessingTimeMs, a.Data, formatTime(createdAt),
	)
	return err
}

func (s *Store) GetAssessment(id string) (AssessmentRecord, error) {
	a, err := scanAssessment(s.db.QueryRow(`SELECT `+assessmentColumns+` FROM assessments WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return AssessmentRecord{}, ErrNotFound
	}
	return a, err
}

// ListAssessments returns matching assessments newest first.
func (s *Store) ListAssessments(f AssessmentFilter) ([]AssessmentRecord, error) {
	var where []string
	var args []any
	if f.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.AlertID != "" {
		where = append(where, "alert_id = ?")
		args = append(args, f.AlertID)
	}

	query := `SELECT ` + assessmentColumns + ` FROM assessments`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id ASC LIMIT ? OFFSET ?"
	limit, offset := pageArgs(f.Limit, f.Offset)
	args = append(args, limit, offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AssessmentRecord
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// PurgeAssessmentsBefore deletes assessments created before cutoff and
// returns how many were removed.
func (s *Store) PurgeAssessmentsBefore(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM assessments WHERE created_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanAssessment(r rowScanner) (AssessmentRecord, error) {
	var a AssessmentRecord
	var createdAt string
	if err := r.Scan(&a.ID, &a.UserID, &a.AlertID, &a.Level, &a.Score, &a.Confidence,
		&a.Priority, &a.ProcessingTimeMs, &a.Data, &createdAt); err != nil {
		return AssessmentRecord{}, err
	}
	t, err := parseTime("created_at", createdAt)
	if err != nil {
		return AssessmentRecord{}, err
	}
	a.CreatedAt = t
	return a, nil
}
