package storage

import "time"

func (s *Store) SaveFeedback(f Feedback) error {
	createdAt := f.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO feedback (id, user_id, alert_id, disease, feedback_type, comment, learned_weight, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.UserID, f.AlertID, f.Disease, f.Type, f.Comment, f.LearnedWeight, formatTime(createdAt),
	)
	return err
}

// ListFeedback returns a user's feedback newest first. An empty userID
// lists feedback from everyone.
func (s *Store) ListFeedback(userID string, limit int) ([]Feedback, error) {
	limit, _ = pageArgs(limit, 0)
	rows, err := s.db.Query(`
		SELECT id, user_id, alert_id, disease, feedback_type, comment, learned_weight, created_at
		FROM feedback WHERE (? = '' OR user_id = ?)
		ORDER BY created_at DESC, id ASC LIMIT ?`, userID, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Feedback
	for rows.Next() {
		var f Feedback
		var createdAt string
		if err := rows.Scan(&f.ID, &f.UserID, &f.AlertID, &f.Disease, &f.Type, &f.Comment, &f.LearnedWeight, &createdAt); err != nil {
			return nil, err
		}
		if f.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
