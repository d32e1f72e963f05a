package persistence

import (
	"fmt"
	"time"

	"concierge/pkg/validate"
)

// StoredFinding is one validator finding as read back from the database.
type StoredFinding struct {
	ID        int64
	Identity  string
	Rule      string
	Detail    string
	Excerpt   string
	CreatedAt time.Time
}

// SaveFindings records validator findings for one identity. Implements the
// generation pipeline's findings sink.
func (s *Store) SaveFindings(identity string, findings []validate.Finding) error {
	if len(findings) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`INSERT INTO validation_findings (identity, rule, detail, excerpt) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, f := range findings {
		if _, err := stmt.Exec(identity, f.Rule, f.Detail, f.Excerpt); err != nil {
			return fmt.Errorf("failed to insert finding: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit findings: %w", err)
	}
	return nil
}

// RecentFindings returns the newest findings, most recent first.
func (s *Store) RecentFindings(limit int) ([]StoredFinding, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(`
		SELECT id, identity, rule, detail, excerpt, created_at
		FROM validation_findings
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query findings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var findings []StoredFinding
	for rows.Next() {
		var f StoredFinding
		if err := rows.Scan(&f.ID, &f.Identity, &f.Rule, &f.Detail, &f.Excerpt, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan finding: %w", err)
		}
		findings = append(findings, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate findings: %w", err)
	}
	return findings, nil
}

// FindingCountsByRule aggregates findings per rule for reporting.
func (s *Store) FindingCountsByRule() (map[string]int64, error) {
	rows, err := s.db.Query(`SELECT rule, COUNT(*) FROM validation_findings GROUP BY rule`)
	if err != nil {
		return nil, fmt.Errorf("failed to query finding counts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int64)
	for rows.Next() {
		var rule string
		var count int64
		if err := rows.Scan(&rule, &count); err != nil {
			return nil, fmt.Errorf("failed to scan finding count: %w", err)
		}
		counts[rule] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate finding counts: %w", err)
	}
	return counts, nil
}
