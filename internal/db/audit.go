package db

import (
	"database/sql"
	"fmt"
)

// TransitionEntry is a row in the transitions table.
type TransitionEntry struct {
	ID         int
	Repo       string
	Issue      int
	FromStatus string
	ToStatus   string
	Actor      string
	Rationale  string
	Timestamp  string
}

// ScoreEntry is a row in the scores table.
type ScoreEntry struct {
	ID         int
	Repo       string
	Issue      int
	Scorer     string
	Confidence int
	IssueType  string
	Priority   string
	Timestamp  string
}

// DecisionEntry is a row in the decisions table.
type DecisionEntry struct {
	ID            int
	Repo          string
	Issue         int
	ChangeRequest int
	Outcome       string
	Strategy      string
	Risk          int
	Rationale     string
	Timestamp     string
}

// AppendTransition records a lifecycle transition. The orchestrator treats a
// failed append as the transition never having happened.
func (d *DB) AppendTransition(repo string, issue int, fromStatus, toStatus, actor, rationale string) error {
	_, err := d.conn.Exec(
		`INSERT INTO transitions (repo, issue, from_status, to_status, actor, rationale) VALUES (?, ?, ?, ?, ?, ?)`,
		repo, issue, fromStatus, toStatus, actor, rationale,
	)
	if err != nil {
		return fmt.Errorf("append transition: %w", err)
	}
	return nil
}

// TransitionHistory returns every recorded transition for an issue in insert
// order.
func (d *DB) TransitionHistory(repo string, issue int) ([]TransitionEntry, error) {
	rows, err := d.conn.Query(
		`SELECT id, repo, issue, from_status, to_status, actor, rationale, timestamp
		 FROM transitions WHERE repo = ? AND issue = ? ORDER BY id`,
		repo, issue,
	)
	if err != nil {
		return nil, fmt.Errorf("transition history: %w", err)
	}
	defer rows.Close()

	var entries []TransitionEntry
	for rows.Next() {
		var e TransitionEntry
		var rationale sql.NullString
		if err := rows.Scan(&e.ID, &e.Repo, &e.Issue, &e.FromStatus, &e.ToStatus, &e.Actor, &rationale, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		if rationale.Valid {
			e.Rationale = rationale.String
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// RecordScore records one confidence scoring run.
func (d *DB) RecordScore(repo string, issue int, scorer string, confidence int, issueType, priority string) error {
	_, err := d.conn.Exec(
		`INSERT INTO scores (repo, issue, scorer, confidence, issue_type, priority) VALUES (?, ?, ?, ?, ?, ?)`,
		repo, issue, scorer, confidence, issueType, priority,
	)
	if err != nil {
		return fmt.Errorf("record score: %w", err)
	}
	return nil
}

// LatestScore returns the most recent score for an issue, or nil.
func (d *DB) LatestScore(repo string, issue int) (*ScoreEntry, error) {
	row := d.conn.QueryRow(
		`SELECT id, repo, issue, scorer, confidence, issue_type, priority, timestamp
		 FROM scores WHERE repo = ? AND issue = ? ORDER BY id DESC LIMIT 1`,
		repo, issue,
	)
	var e ScoreEntry
	var issueType, priority sql.NullString
	err := row.Scan(&e.ID, &e.Repo, &e.Issue, &e.Scorer, &e.Confidence, &issueType, &priority, &e.Timestamp)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest score: %w", err)
	}
	if issueType.Valid {
		e.IssueType = issueType.String
	}
	if priority.Valid {
		e.Priority = priority.String
	}
	return &e, nil
}

// RecordDecision records one auto-merge decision.
func (d *DB) RecordDecision(repo string, issue, changeReq int, outcome, strategy string, risk int, rationale string) error {
	_, err := d.conn.Exec(
		`INSERT INTO decisions (repo, issue, change_req, outcome, strategy, risk, rationale) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		repo, issue, changeReq, outcome, strategy, risk, rationale,
	)
	if err != nil {
		return fmt.Errorf("record decision: %w", err)
	}
	return nil
}

// DecisionHistory returns every recorded decision for an issue in insert
// order.
func (d *DB) DecisionHistory(repo string, issue int) ([]DecisionEntry, error) {
	rows, err := d.conn.Query(
		`SELECT id, repo, issue, change_req, outcome, strategy, risk, rationale, timestamp
		 FROM decisions WHERE repo = ? AND issue = ? ORDER BY id`,
		repo, issue,
	)
	if err != nil {
		return nil, fmt.Errorf("decision history: %w", err)
	}
	defer rows.Close()

	var entries []DecisionEntry
	for rows.Next() {
		var e DecisionEntry
		var strategy, rationale sql.NullString
		var risk sql.NullInt64
		if err := rows.Scan(&e.ID, &e.Repo, &e.Issue, &e.ChangeRequest, &e.Outcome, &strategy, &risk, &rationale, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		if strategy.Valid {
			e.Strategy = strategy.String
		}
		if risk.Valid {
			e.Risk = int(risk.Int64)
		}
		if rationale.Valid {
			e.Rationale = rationale.String
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Stats summarizes system activity for the status endpoints.
type Stats struct {
	Transitions int
	Scores      int
	Decisions   int
	AutoMerged  int
	RolledBack  int
}

// GetStats returns aggregate counters across all issues.
func (d *DB) GetStats() (*Stats, error) {
	s := &Stats{}
	queries := []struct {
		dst   *int
		query string
	}{
		{&s.Transitions, "SELECT COUNT(*) FROM transitions"},
		{&s.Scores, "SELECT COUNT(*) FROM scores"},
		{&s.Decisions, "SELECT COUNT(*) FROM decisions"},
		{&s.AutoMerged, "SELECT COUNT(*) FROM decisions WHERE outcome = 'auto-merge'"},
		{&s.RolledBack, "SELECT COUNT(*) FROM transitions WHERE to_status = 'rolled_back'"},
	}
	for _, q := range queries {
		if err := d.conn.QueryRow(q.query).Scan(q.dst); err != nil {
			return nil, fmt.Errorf("stats query: %w", err)
		}
	}
	return s, nil
}
