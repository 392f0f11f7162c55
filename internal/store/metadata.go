package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/textchamp/textchamp/internal/model"
)

// GetImportedFileHash returns the content hash recorded for an imported file.
// Returns empty string and nil error if the file was never imported.
func (s *Store) GetImportedFileHash(ctx context.Context, path string) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, `SELECT hash FROM imported_files WHERE path = ?`, path).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return hash, err
}

// ImportExercises stores the exercises of one content file and records the
// file's hash in a single transaction: either the whole file is imported or
// nothing is.
func (s *Store) ImportExercises(ctx context.Context, path, hash string, exercises []model.Exercise) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for i, e := range exercises {
		if _, err := insertExercise(ctx, tx, e); err != nil {
			return fmt.Errorf("insert exercise %d (%q): %w", i+1, e.Title, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO imported_files (path, hash) VALUES (?, ?)
		 ON CONFLICT(path) DO UPDATE SET hash = ?`,
		path, hash, hash,
	); err != nil {
		return fmt.Errorf("record import: %w", err)
	}
	return tx.Commit()
}
