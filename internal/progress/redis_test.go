package progress

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/textchamp/textchamp/internal/model"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s := NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { s.Close() })
	return s, mr
}

var base = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func testAttempt(id string, exerciseID int64, saved time.Time) model.PracticeAttempt {
	return model.PracticeAttempt{
		ID:         id,
		StudentID:  7,
		Section:    model.SectionA,
		ExerciseID: exerciseID,
		Status:     model.AttemptInProgress,
		Answers:    model.AnswerSet{Questions: map[int64]string{1: "A fair."}},
		Questions:  []model.Question{{ID: 1, OrderIndex: 1, Prompt: "What?"}},
		StartedAt:  saved,
		LastSaved:  saved,
	}
}

func TestNewFailsWithoutServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := New(ctx, "127.0.0.1:1", "", 0); err == nil {
		t.Fatal("expected connection error")
	}
}

func TestSaveAndGetAttempt(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	a := testAttempt("a1", 1, base)
	if err := s.SaveAttempt(ctx, a); err != nil {
		t.Fatalf("SaveAttempt: %v", err)
	}
	if !mr.Exists("textchamp:attempt:a1") {
		t.Error("expected attempt key to exist")
	}

	got, err := s.GetAttempt(ctx, "a1")
	if err != nil {
		t.Fatalf("GetAttempt: %v", err)
	}
	if got.Answers.Questions[1] != "A fair." || !got.LastSaved.Equal(base) {
		t.Errorf("attempt not round-tripped: %+v", got)
	}

	if _, err := s.GetAttempt(ctx, "missing"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestLoadAttemptsNewestFirst(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"old", "mid", "new"} {
		if err := s.SaveAttempt(ctx, testAttempt(id, 1, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("SaveAttempt: %v", err)
		}
	}
	// Saving "old" again moves it to the front.
	old := testAttempt("old", 1, base.Add(time.Hour))
	if err := s.SaveAttempt(ctx, old); err != nil {
		t.Fatalf("SaveAttempt: %v", err)
	}

	list, err := s.LoadAttempts(ctx, old.Key())
	if err != nil {
		t.Fatalf("LoadAttempts: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(list))
	}
	want := []string{"old", "new", "mid"}
	for i, id := range want {
		if list[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, list[i].ID)
		}
	}
}

func TestRecentIndexIsBounded(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		a := testAttempt(fmt.Sprintf("a%d", i), int64(i+1), base.Add(time.Duration(i)*time.Minute))
		if err := s.SaveAttempt(ctx, a); err != nil {
			t.Fatalf("SaveAttempt: %v", err)
		}
	}
	// Re-saving an attempt already in the index must not duplicate it.
	if err := s.SaveAttempt(ctx, testAttempt("a6", 7, base.Add(time.Hour))); err != nil {
		t.Fatalf("SaveAttempt: %v", err)
	}

	ids, err := mr.List("textchamp:recent:7")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(ids) != model.MaxRecentAttempts {
		t.Fatalf("expected index of %d, got %v", model.MaxRecentAttempts, ids)
	}

	tests := []struct {
		name  string
		limit int
		want  []string
	}{
		{"default", 0, []string{"a6", "a7", "a5", "a4", "a3"}},
		{"two", 2, []string{"a6", "a7"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list, err := s.ListRecentAttempts(ctx, 7, tt.limit)
			if err != nil {
				t.Fatalf("ListRecentAttempts: %v", err)
			}
			if len(list) != len(tt.want) {
				t.Fatalf("expected %d attempts, got %d", len(tt.want), len(list))
			}
			for i, id := range tt.want {
				if list[i].ID != id {
					t.Errorf("position %d: expected %s, got %s", i, id, list[i].ID)
				}
			}
		})
	}
}

func TestListPracticeAttempts(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for i, sec := range []model.SectionID{model.SectionC, model.SectionA, model.SectionB} {
		a := testAttempt(string(sec), 1, base.Add(time.Duration(i)*time.Minute))
		a.Section = sec
		a.PracticeID = "run-1"
		if err := s.SaveAttempt(ctx, a); err != nil {
			t.Fatalf("SaveAttempt: %v", err)
		}
	}
	if err := s.SaveAttempt(ctx, testAttempt("solo", 2, base)); err != nil {
		t.Fatalf("SaveAttempt: %v", err)
	}

	list, err := s.ListPracticeAttempts(ctx, 7, "run-1")
	if err != nil {
		t.Fatalf("ListPracticeAttempts: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(list))
	}
	if list[0].ID != "C" || list[2].ID != "B" {
		t.Errorf("expected oldest first, got %s..%s", list[0].ID, list[2].ID)
	}
}

func TestSaveAttemptKeepsCompleted(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	a := testAttempt("a1", 1, base)
	score := 4.0
	done := base.Add(time.Minute)
	a.Status = model.AttemptCompleted
	a.Score = &score
	a.CompletedAt = &done
	if err := s.SaveAttempt(ctx, a); err != nil {
		t.Fatalf("SaveAttempt: %v", err)
	}

	stale := testAttempt("a1", 1, base.Add(2*time.Minute))
	if err := s.SaveAttempt(ctx, stale); !errors.Is(err, model.ErrAttemptCompleted) {
		t.Fatalf("expected ErrAttemptCompleted, got %v", err)
	}
	got, err := s.GetAttempt(ctx, "a1")
	if err != nil {
		t.Fatalf("GetAttempt: %v", err)
	}
	if !got.Completed() || got.Score == nil || *got.Score != 4 {
		t.Errorf("completed attempt was overwritten: %+v", got)
	}
}

func TestListPracticeAttemptsSkipsUnreadable(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	for i, sec := range []model.SectionID{model.SectionA, model.SectionC} {
		a := testAttempt(string(sec), 1, base.Add(time.Duration(i)*time.Minute))
		a.Section = sec
		a.PracticeID = "run-1"
		if err := s.SaveAttempt(ctx, a); err != nil {
			t.Fatalf("SaveAttempt: %v", err)
		}
	}
	if err := mr.Set("textchamp:attempt:A", "{not json"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	list, err := s.ListPracticeAttempts(ctx, 7, "run-1")
	if err != nil {
		t.Fatalf("ListPracticeAttempts: %v", err)
	}
	if len(list) != 1 || list[0].ID != "C" {
		t.Errorf("expected only the readable attempt C, got %+v", list)
	}

	// A corrupt record does not block writing it again.
	if err := s.SaveAttempt(ctx, testAttempt("A", 1, base.Add(time.Hour))); err != nil {
		t.Errorf("SaveAttempt over corrupt record: %v", err)
	}
}

func TestResultsAppendOnly(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	r := model.PracticeResult{
		StudentID:     7,
		PracticeID:    "run-1",
		SectionScores: map[model.SectionID]float64{model.SectionA: 4, model.SectionB: 4, model.SectionC: 4},
		Total:         12,
		CompletedAt:   base,
	}
	for i := 0; i < 2; i++ {
		if err := s.AppendResult(ctx, r); err != nil {
			t.Fatalf("AppendResult: %v", err)
		}
	}
	r.StudentID = 8
	if err := s.AppendResult(ctx, r); err != nil {
		t.Fatalf("AppendResult: %v", err)
	}

	mine, err := s.ListResults(ctx, 7)
	if err != nil {
		t.Fatalf("ListResults: %v", err)
	}
	if len(mine) != 2 {
		t.Fatalf("expected 2 results, got %d", len(mine))
	}
	if mine[0].ID != 1 || mine[1].ID != 2 {
		t.Errorf("expected sequential IDs, got %d and %d", mine[0].ID, mine[1].ID)
	}
	if mine[0].SectionScores[model.SectionB] != 4 {
		t.Errorf("section scores not round-tripped: %+v", mine[0].SectionScores)
	}

	all, err := s.ListResults(ctx, 0)
	if err != nil {
		t.Fatalf("ListResults: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 results overall, got %d", len(all))
	}
}
