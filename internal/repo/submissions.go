package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"listingintel/internal/domain"
)

const submissionColumns = `seq,id,url,origin,status,priority,submitted_at,processed_at,exported_at,attempts,COALESCE(error,''),payload_json,completeness_json`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubmission(row rowScanner) (domain.Submission, error) {
	var (
		s                     domain.Submission
		processed, exported   sql.NullString
		payload, completeness sql.NullString
	)
	err := row.Scan(&s.Seq, &s.ID, &s.URL, &s.Origin, &s.Status, &s.Priority, &s.SubmittedAt,
		&processed, &exported, &s.Attempts, &s.Error, &payload, &completeness)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	s.ProcessedAt = stringPtr(processed)
	s.ExportedAt = stringPtr(exported)
	if payload.Valid && payload.String != "" {
		var p domain.ProcessedPayload
		if err := json.Unmarshal([]byte(payload.String), &p); err != nil {
			return s, fmt.Errorf("decode payload for %s: %w", s.ID, err)
		}
		s.Payload = &p
	}
	if completeness.Valid && completeness.String != "" {
		var c domain.CompletenessAssessment
		if err := json.Unmarshal([]byte(completeness.String), &c); err != nil {
			return s, fmt.Errorf("decode completeness for %s: %w", s.ID, err)
		}
		s.Completeness = &c
	}
	return s, nil
}

// InsertSubmission stores a new submission and returns its FIFO sequence.
func (r Repo) InsertSubmission(ctx context.Context, tx *sql.Tx, s domain.Submission) (int64, error) {
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO submissions(id,url,origin,status,priority,submitted_at,attempts) VALUES (?,?,?,?,?,?,?)`,
		s.ID, s.URL, s.Origin, s.Status, s.Priority, s.SubmittedAt, s.Attempts)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetSubmission(ctx context.Context, tx *sql.Tx, id string) (domain.Submission, error) {
	return scanSubmission(r.q(tx).QueryRowContext(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id=?`, id))
}

// UpdateSubmission persists the mutable lifecycle columns of s.
func (r Repo) UpdateSubmission(ctx context.Context, tx *sql.Tx, s domain.Submission) error {
	var payload, completeness any
	if s.Payload != nil {
		data, err := json.Marshal(s.Payload)
		if err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}
		payload = string(data)
	}
	if s.Completeness != nil {
		data, err := json.Marshal(s.Completeness)
		if err != nil {
			return fmt.Errorf("encode completeness: %w", err)
		}
		completeness = string(data)
	}
	var processed any
	if s.ProcessedAt != nil {
		processed = *s.ProcessedAt
	}
	res, err := r.q(tx).ExecContext(ctx, `UPDATE submissions SET status=?,processed_at=?,attempts=?,error=?,payload_json=?,completeness_json=? WHERE id=?`,
		s.Status, processed, s.Attempts, nullable(s.Error), payload, completeness, s.ID)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSubmission reports whether a row was removed.
func (r Repo) DeleteSubmission(ctx context.Context, tx *sql.Tx, id string) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM submissions WHERE id=?`, id)
	if err != nil {
		return false, err
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

type SubmissionFilters struct {
	Status   string
	Priority string
	Limit    int
}

// ListSubmissions returns submissions in FIFO order.
func (r Repo) ListSubmissions(ctx context.Context, tx *sql.Tx, f SubmissionFilters) ([]domain.Submission, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Priority != "" {
		clauses = append(clauses, "priority=?")
		args = append(args, f.Priority)
	}
	query := fmt.Sprintf(`SELECT %s FROM submissions WHERE %s ORDER BY seq ASC`, submissionColumns, strings.Join(clauses, " AND "))
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.q(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Submission
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) MarkExported(ctx context.Context, tx *sql.Tx, ids []string, ts string) error {
	for _, id := range ids {
		if _, err := r.q(tx).ExecContext(ctx, `UPDATE submissions SET exported_at=? WHERE id=?`, ts, id); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) CountSubmissionsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM submissions GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
