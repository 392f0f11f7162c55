package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/textchamp/textchamp/internal/model"
)

const exerciseColumns = `id, kind, title, description, image_ref, source_text, time_limit_seconds, format, flowchart_options`

// CreateExercise stores an exercise with its questions and flowchart.
func (s *Store) CreateExercise(ctx context.Context, e model.Exercise) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	id, err := insertExercise(ctx, tx, e)
	if err != nil {
		return 0, err
	}
	return id, tx.Commit()
}

func insertExercise(ctx context.Context, tx *sql.Tx, e model.Exercise) (int64, error) {
	options, err := encodeOptions(e.Flowchart)
	if err != nil {
		return 0, err
	}
	now := time.Now()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO exercises (kind, title, description, image_ref, source_text, time_limit_seconds, format, flowchart_options, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Kind, e.Title, e.Description, e.ImageRef, e.SourceText, e.TimeLimitSeconds, e.Format, options, now, now,
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if err := insertChildren(ctx, tx, id, e); err != nil {
		return 0, err
	}
	return id, nil
}

// UpdateExercise replaces an exercise and all of its questions and flowchart
// sections. Attempts grade against the questions, flowchart and passage copied
// when they started, so replacing rows here does not change their grading.
func (s *Store) UpdateExercise(ctx context.Context, e model.Exercise) error {
	options, err := encodeOptions(e.Flowchart)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE exercises SET kind = ?, title = ?, description = ?, image_ref = ?, source_text = ?,
		 time_limit_seconds = ?, format = ?, flowchart_options = ?, updated_at = ? WHERE id = ?`,
		e.Kind, e.Title, e.Description, e.ImageRef, e.SourceText, e.TimeLimitSeconds, e.Format, options, time.Now(), e.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	if err := deleteChildren(ctx, tx, e.ID); err != nil {
		return err
	}
	if err := insertChildren(ctx, tx, e.ID, e); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteExercise removes an exercise and everything it owns.
func (s *Store) DeleteExercise(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := deleteChildren(ctx, tx, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM exercises WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return tx.Commit()
}

// GetExercise returns an exercise by ID with questions ordered by order_index.
func (s *Store) GetExercise(ctx context.Context, id int64) (model.Exercise, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+exerciseColumns+` FROM exercises WHERE id = ?`, id)
	e, options, err := scanExercise(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Exercise{}, model.ErrNotFound
	}
	if err != nil {
		return model.Exercise{}, err
	}
	if err := s.loadChildren(ctx, &e, options); err != nil {
		return model.Exercise{}, err
	}
	return e, nil
}

// ListExercises returns exercises ordered by ID. An empty kind lists every kind.
func (s *Store) ListExercises(ctx context.Context, kind model.ExerciseKind) ([]model.Exercise, error) {
	query := `SELECT ` + exerciseColumns + ` FROM exercises`
	var args []any
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var exercises []model.Exercise
	var options []sql.NullString
	for rows.Next() {
		e, opt, err := scanExercise(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		exercises = append(exercises, e)
		options = append(options, opt)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range exercises {
		if err := s.loadChildren(ctx, &exercises[i], options[i]); err != nil {
			return nil, err
		}
	}
	return exercises, nil
}

// ExerciseCount returns the number of stored exercises.
func (s *Store) ExerciseCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM exercises`).Scan(&count)
	return count, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExercise(row rowScanner) (model.Exercise, sql.NullString, error) {
	var e model.Exercise
	var options sql.NullString
	err := row.Scan(&e.ID, &e.Kind, &e.Title, &e.Description, &e.ImageRef, &e.SourceText,
		&e.TimeLimitSeconds, &e.Format, &options)
	return e, options, err
}

func (s *Store) loadChildren(ctx context.Context, e *model.Exercise, options sql.NullString) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, exercise_id, order_index, prompt, ideal_answer, mark_weight
		 FROM questions WHERE exercise_id = ? ORDER BY order_index`, e.ID)
	if err != nil {
		return err
	}
	for rows.Next() {
		var q model.Question
		if err := rows.Scan(&q.ID, &q.ExerciseID, &q.OrderIndex, &q.Prompt, &q.IdealAnswer, &q.MarkWeight); err != nil {
			rows.Close()
			return err
		}
		e.Questions = append(e.Questions, q)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	if !options.Valid {
		return nil
	}
	fc := &model.Flowchart{}
	if err := json.Unmarshal([]byte(options.String), &fc.Options); err != nil {
		return fmt.Errorf("decode flowchart options for exercise %d: %w", e.ID, err)
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT id, label, paragraph_range, correct_answer
		 FROM flowchart_sections WHERE exercise_id = ? ORDER BY position`, e.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var fs model.FlowchartSection
		if err := rows.Scan(&fs.ID, &fs.Label, &fs.ParagraphRange, &fs.CorrectAnswer); err != nil {
			return err
		}
		fc.Sections = append(fc.Sections, fs)
	}
	e.Flowchart = fc
	return rows.Err()
}

func insertChildren(ctx context.Context, tx *sql.Tx, exerciseID int64, e model.Exercise) error {
	for _, q := range e.Questions {
		weight := q.MarkWeight
		if weight == 0 {
			weight = 1
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO questions (exercise_id, order_index, prompt, ideal_answer, mark_weight) VALUES (?, ?, ?, ?, ?)`,
			exerciseID, q.OrderIndex, q.Prompt, q.IdealAnswer, weight,
		); err != nil {
			return fmt.Errorf("insert question %d: %w", q.OrderIndex, err)
		}
	}
	if e.Flowchart == nil {
		return nil
	}
	for i, fs := range e.Flowchart.Sections {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO flowchart_sections (exercise_id, position, label, paragraph_range, correct_answer) VALUES (?, ?, ?, ?, ?)`,
			exerciseID, i, fs.Label, fs.ParagraphRange, fs.CorrectAnswer,
		); err != nil {
			return fmt.Errorf("insert flowchart section %d: %w", i, err)
		}
	}
	return nil
}

func deleteChildren(ctx context.Context, tx *sql.Tx, exerciseID int64) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM questions WHERE exercise_id = ?`, exerciseID); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `DELETE FROM flowchart_sections WHERE exercise_id = ?`, exerciseID)
	return err
}

func encodeOptions(fc *model.Flowchart) (sql.NullString, error) {
	if fc == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(fc.Options)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode flowchart options: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
