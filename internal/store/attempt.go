package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/textchamp/textchamp/internal/model"
)

const attemptColumns = `id, student_id, section, exercise_id, practice_id, status, answers, questions,
	flowchart, grading_source, time_remaining, feedback, score, flowchart_score, started_at, last_saved, completed_at`

// errCorruptAttempt marks a stored attempt whose JSON columns cannot be decoded.
var errCorruptAttempt = errors.New("corrupt attempt record")

// SaveAttempt inserts or updates an attempt. A completed attempt is never
// overwritten: the write is refused with model.ErrAttemptCompleted.
func (s *Store) SaveAttempt(ctx context.Context, a model.PracticeAttempt) error {
	answers, err := json.Marshal(a.Answers)
	if err != nil {
		return fmt.Errorf("encode answers: %w", err)
	}
	questions, err := json.Marshal(a.Questions)
	if err != nil {
		return fmt.Errorf("encode questions: %w", err)
	}
	var flowchart sql.NullString
	if a.Flowchart != nil {
		b, err := json.Marshal(a.Flowchart)
		if err != nil {
			return fmt.Errorf("encode flowchart: %w", err)
		}
		flowchart = sql.NullString{String: string(b), Valid: true}
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO attempts (`+attemptColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			answers = excluded.answers,
			time_remaining = excluded.time_remaining,
			feedback = excluded.feedback,
			score = excluded.score,
			flowchart_score = excluded.flowchart_score,
			last_saved = excluded.last_saved,
			completed_at = excluded.completed_at
		 WHERE attempts.status <> ?`,
		a.ID, a.StudentID, a.Section, a.ExerciseID, a.PracticeID, a.Status, string(answers), string(questions),
		flowchart, a.GradingSource, a.TimeRemaining, a.Feedback, a.Score, a.FlowchartScore,
		a.StartedAt, a.LastSaved, a.CompletedAt,
		model.AttemptCompleted,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("save attempt %s: %w", a.ID, model.ErrAttemptCompleted)
	}
	return nil
}

// GetAttempt returns an attempt by ID.
func (s *Store) GetAttempt(ctx context.Context, id string) (model.PracticeAttempt, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+attemptColumns+` FROM attempts WHERE id = ?`, id)
	a, err := scanAttempt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.PracticeAttempt{}, model.ErrNotFound
	}
	return a, err
}

// LoadAttempts returns every attempt stored for a slot, newest first.
func (s *Store) LoadAttempts(ctx context.Context, key model.AttemptKey) ([]model.PracticeAttempt, error) {
	return s.queryAttempts(ctx,
		`SELECT `+attemptColumns+` FROM attempts
		 WHERE student_id = ? AND section = ? AND exercise_id = ?
		 ORDER BY last_saved DESC`,
		key.StudentID, key.Section, key.ExerciseID)
}

// ListRecentAttempts returns a student's most recently saved attempts, at most
// model.MaxRecentAttempts.
func (s *Store) ListRecentAttempts(ctx context.Context, studentID int64, limit int) ([]model.PracticeAttempt, error) {
	if limit <= 0 || limit > model.MaxRecentAttempts {
		limit = model.MaxRecentAttempts
	}
	return s.queryAttempts(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE student_id = ? ORDER BY last_saved DESC LIMIT ?`,
		studentID, limit)
}

// ListPracticeAttempts returns the attempts belonging to one full-practice run.
func (s *Store) ListPracticeAttempts(ctx context.Context, studentID int64, practiceID string) ([]model.PracticeAttempt, error) {
	return s.queryAttempts(ctx,
		`SELECT `+attemptColumns+` FROM attempts WHERE student_id = ? AND practice_id = ? ORDER BY started_at`,
		studentID, practiceID)
}

// AppendResult adds a completed practice to the results log. No deduplication
// is performed: every submission is a new record.
func (s *Store) AppendResult(ctx context.Context, r model.PracticeResult) error {
	scores, err := json.Marshal(r.SectionScores)
	if err != nil {
		return fmt.Errorf("encode section scores: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO practice_results (student_id, practice_id, section_scores, total, completed_at) VALUES (?, ?, ?, ?, ?)`,
		r.StudentID, r.PracticeID, string(scores), r.Total, r.CompletedAt,
	)
	return err
}

// ListResults returns the results log in insertion order. A zero studentID
// lists every student's results.
func (s *Store) ListResults(ctx context.Context, studentID int64) ([]model.PracticeResult, error) {
	query := `SELECT id, student_id, practice_id, section_scores, total, completed_at FROM practice_results`
	var args []any
	if studentID != 0 {
		query += ` WHERE student_id = ?`
		args = append(args, studentID)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var results []model.PracticeResult
	for rows.Next() {
		var r model.PracticeResult
		var scores string
		if err := rows.Scan(&r.ID, &r.StudentID, &r.PracticeID, &scores, &r.Total, &r.CompletedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(scores), &r.SectionScores); err != nil {
			return nil, fmt.Errorf("decode section scores for result %d: %w", r.ID, err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *Store) queryAttempts(ctx context.Context, query string, args ...any) ([]model.PracticeAttempt, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var attempts []model.PracticeAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if errors.Is(err, errCorruptAttempt) {
			slog.Warn("skipping unreadable attempt", "error", err)
			continue
		}
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

func scanAttempt(row rowScanner) (model.PracticeAttempt, error) {
	var a model.PracticeAttempt
	var answers, questions string
	var flowchart sql.NullString
	err := row.Scan(&a.ID, &a.StudentID, &a.Section, &a.ExerciseID, &a.PracticeID, &a.Status,
		&answers, &questions, &flowchart, &a.GradingSource, &a.TimeRemaining, &a.Feedback, &a.Score,
		&a.FlowchartScore, &a.StartedAt, &a.LastSaved, &a.CompletedAt)
	if err != nil {
		return a, err
	}
	if err := json.Unmarshal([]byte(answers), &a.Answers); err != nil {
		return a, fmt.Errorf("%w %s: answers: %v", errCorruptAttempt, a.ID, err)
	}
	if err := json.Unmarshal([]byte(questions), &a.Questions); err != nil {
		return a, fmt.Errorf("%w %s: questions: %v", errCorruptAttempt, a.ID, err)
	}
	if flowchart.Valid {
		a.Flowchart = &model.Flowchart{}
		if err := json.Unmarshal([]byte(flowchart.String), a.Flowchart); err != nil {
			return a, fmt.Errorf("%w %s: flowchart: %v", errCorruptAttempt, a.ID, err)
		}
	}
	return a, nil
}
