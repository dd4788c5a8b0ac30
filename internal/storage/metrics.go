package storage

import (
	"database/sql"
	"fmt"
)

// Metrics gathers counts and averages across all tables.
func (s *Store) Metrics() (Metrics, error) {
	m := Metrics{
		ByLevel:        map[string]int{},
		FeedbackByType: map[string]int{},
		JobsByStatus:   map[string]int{},
	}

	counts := []struct {
		table string
		dst   *int
	}{
		{"users", &m.Users},
		{"alerts", &m.Alerts},
		{"assessments", &m.Assessments},
		{"feedback", &m.Feedback},
	}
	for _, c := range counts {
		if err := s.db.QueryRow("SELECT COUNT(*) FROM " + c.table).Scan(c.dst); err != nil {
			return Metrics{}, fmt.Errorf("counting %s: %w", c.table, err)
		}
	}

	groups := []struct {
		query string
		dst   map[string]int
	}{
		{"SELECT risk_level, COUNT(*) FROM assessments GROUP BY risk_level", m.ByLevel},
		{"SELECT feedback_type, COUNT(*) FROM feedback GROUP BY feedback_type", m.FeedbackByType},
		{"SELECT status, COUNT(*) FROM jobs GROUP BY status", m.JobsByStatus},
	}
	for _, g := range groups {
		if err := s.groupCount(g.query, g.dst); err != nil {
			return Metrics{}, err
		}
	}

	var avg sql.NullFloat64
	var last sql.NullString
	if err := s.db.QueryRow("SELECT AVG(processing_time_ms), MAX(created_at) FROM assessments").Scan(&avg, &last); err != nil {
		return Metrics{}, fmt.Errorf("averaging processing time: %w", err)
	}
	m.AvgProcessingMs = avg.Float64
	if last.Valid {
		t, err := parseTime("created_at", last.String)
		if err != nil {
			return Metrics{}, err
		}
		m.LastAssessmentAt = &t
	}
	return m, nil
}

func (s *Store) groupCount(query string, dst map[string]int) error {
	rows, err := s.db.Query(query)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var k string
		var n int
		if err := rows.Scan(&k, &n); err != nil {
			return err
		}
		dst[k] = n
	}
	return rows.Err()
}
