package importer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/textchamp/textchamp/internal/model"
	"github.com/textchamp/textchamp/internal/store"
)

const yamlExercises = `
- kind: visual
  title: School fair poster
  image_url: posters/fair.png
  description: A poster advertising the school fair.
  questions:
    - text: What is being advertised?
      answer: The school fair.
    - question_text: Who is the target audience?
      ideal_answer: Parents and students.
      marks: 2
- kind: narrative
  title: The Lighthouse
  story: The keeper climbed the stairs every night.
  time_limit: 1200
  questions:
    - text: Who is the keeper?
      answer: An old man.
  flowchart:
    options: [fear, relief, pride]
    sections:
      - label: Beginning
        paragraph_range: "1-2"
        correct_answer: fear
`

const jsonExercises = `[
  {
    "kind": "non_narrative",
    "title": "Why sleep matters",
    "passage": "Teenagers need eight to ten hours of sleep.",
    "time_limit_seconds": 900,
    "questions": [{"order_index": 1, "question_text": "How much sleep?", "answer": "Eight to ten hours.", "mark_weight": 1}]
  }
]`

func TestDecodeYAML(t *testing.T) {
	exercises, err := Decode("set.yaml", []byte(yamlExercises))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(exercises) != 2 {
		t.Fatalf("expected 2 exercises, got %d", len(exercises))
	}

	visual := exercises[0]
	if visual.ImageRef != "posters/fair.png" {
		t.Errorf("expected image alias to be folded, got %q", visual.ImageRef)
	}
	if visual.Questions[1].Prompt != "Who is the target audience?" || visual.Questions[1].MarkWeight != 2 {
		t.Errorf("unexpected second question: %+v", visual.Questions[1])
	}
	if visual.Questions[1].OrderIndex != 2 {
		t.Errorf("expected positional order 2, got %d", visual.Questions[1].OrderIndex)
	}

	narrative := exercises[1]
	if narrative.Format != model.FormatCombined {
		t.Errorf("expected combined format, got %q", narrative.Format)
	}
	if narrative.TimeLimitSeconds != 1200 {
		t.Errorf("expected time limit 1200, got %d", narrative.TimeLimitSeconds)
	}
	if narrative.Flowchart == nil || narrative.Flowchart.Sections[0].CorrectAnswer != "fear" {
		t.Errorf("flowchart not decoded: %+v", narrative.Flowchart)
	}
}

func TestDecodeJSON(t *testing.T) {
	exercises, err := Decode("set.json", []byte(jsonExercises))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(exercises) != 1 {
		t.Fatalf("expected 1 exercise, got %d", len(exercises))
	}
	if exercises[0].SourceText != "Teenagers need eight to ten hours of sleep." {
		t.Errorf("expected passage alias to be folded, got %q", exercises[0].SourceText)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		file string
		data string
	}{
		{"bad json", "x.json", `[{"kind":`},
		{"bad yaml", "x.yml", "- kind: [visual"},
		{"invalid exercise", "x.json", `[{"kind":"visual","title":"No image","questions":[{"text":"Q"}]}]`},
		{"unknown kind", "x.json", `[{"kind":"poetry","title":"T","questions":[{"text":"Q"}]}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.file, []byte(tt.data)); err == nil {
				t.Error("expected error")
			}
		})
	}

	_, err := Decode("x.json", []byte(`[{"kind":"visual","title":"No image","questions":[{"text":"Q"}]}]`))
	if !errors.Is(err, model.ErrInvalidExercise) {
		t.Errorf("expected ErrInvalidExercise, got %v", err)
	}
}

func TestImportSkipsKnownFiles(t *testing.T) {
	db, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()

	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "set.yaml")
	jsonPath := filepath.Join(dir, "set.json")
	if err := os.WriteFile(yamlPath, []byte(yamlExercises), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(jsonPath, []byte(jsonExercises), 0o644); err != nil {
		t.Fatal(err)
	}

	rep, err := Import(ctx, db, []string{yamlPath, jsonPath})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if rep.Imported != 3 {
		t.Errorf("expected 3 imported, got %+v", rep)
	}

	rep, err = Import(ctx, db, []string{yamlPath, jsonPath})
	if err != nil {
		t.Fatalf("second Import: %v", err)
	}
	if rep.Imported != 0 || rep.Unchanged != 2 {
		t.Errorf("expected unchanged files to be skipped, got %+v", rep)
	}

	if err := os.WriteFile(jsonPath, []byte(jsonExercises+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	rep, err = Import(ctx, db, []string{jsonPath})
	if err != nil {
		t.Fatalf("third Import: %v", err)
	}
	if rep.Skipped != 1 {
		t.Errorf("expected changed file to be skipped, got %+v", rep)
	}

	count, err := db.ExerciseCount(ctx)
	if err != nil {
		t.Fatalf("ExerciseCount: %v", err)
	}
	if count != 3 {
		t.Errorf("expected 3 stored exercises, got %d", count)
	}

	if _, err := Import(ctx, db, []string{filepath.Join(dir, "missing.json")}); err == nil {
		t.Error("expected error for missing file")
	}
}
