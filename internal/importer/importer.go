// Package importer loads exercise content files into the exercise store.
package importer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/textchamp/textchamp/internal/model"
)

// Target receives imported exercises and remembers which files were imported.
// ImportExercises must store a file's exercises and its hash atomically.
type Target interface {
	GetImportedFileHash(ctx context.Context, path string) (string, error)
	ImportExercises(ctx context.Context, path, hash string, exercises []model.Exercise) error
}

// Report counts what an import run did.
type Report struct {
	Imported  int
	Unchanged int
	Skipped   int
}

// Decode parses a content file. Files ending in .yaml or .yml are read as YAML,
// anything else as JSON. The file holds a list of exercises.
func Decode(name string, data []byte) ([]model.Exercise, error) {
	var raw []model.ExerciseImport
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
	default:
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
	}

	exercises := make([]model.Exercise, 0, len(raw))
	for i, ri := range raw {
		e := ri.Normalize()
		if err := e.Validate(); err != nil {
			return nil, fmt.Errorf("%s: exercise %d (%q): %w", name, i+1, e.Title, err)
		}
		exercises = append(exercises, e)
	}
	return exercises, nil
}

// Outcome describes what happened to one imported file.
type Outcome int

const (
	// Imported means the file was new and its exercises were stored.
	Imported Outcome = iota
	// Unchanged means the same content was imported before.
	Unchanged
	// Changed means a different version of the file was imported before.
	Changed
)

// Import reads each file and stores its exercises. A file is imported once:
// an unchanged file is skipped, and a file that changed since its import is
// skipped with a warning so existing attempts keep pointing at the content they
// were started on.
func Import(ctx context.Context, t Target, paths []string) (Report, error) {
	var rep Report
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return rep, fmt.Errorf("read %s: %w", path, err)
		}
		outcome, n, err := ImportData(ctx, t, path, data)
		if err != nil {
			return rep, err
		}
		switch outcome {
		case Imported:
			rep.Imported += n
		case Unchanged:
			rep.Unchanged++
		case Changed:
			rep.Skipped++
		}
	}
	return rep, nil
}

// ImportData imports the content of one file recorded under name and returns
// how many exercises were stored.
func ImportData(ctx context.Context, t Target, name string, data []byte) (Outcome, int, error) {
	hash := sha256sum(data)
	storedHash, err := t.GetImportedFileHash(ctx, name)
	if err != nil {
		return 0, 0, fmt.Errorf("check import status for %s: %w", name, err)
	}
	if storedHash == hash {
		slog.Info("exercise file unchanged, skipping", "path", name)
		return Unchanged, 0, nil
	}
	if storedHash != "" {
		slog.Warn("exercise file changed since last import, skipping to avoid breaking existing attempts",
			"path", name)
		return Changed, 0, nil
	}

	exercises, err := Decode(name, data)
	if err != nil {
		return 0, 0, err
	}
	if err := t.ImportExercises(ctx, name, hash, exercises); err != nil {
		return 0, 0, fmt.Errorf("import %s: %w", name, err)
	}
	slog.Info("imported exercises", "path", name, "count", len(exercises))
	return Imported, len(exercises), nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
