package scoring

import (
	"math"
	"testing"
	"time"

	"github.com/textchamp/textchamp/internal/model"
)

func ptr(v float64) *float64 { return &v }

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestClamp(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{-10, 0},
		{0, 0},
		{3.7, 3.7},
		{5, 5},
		{7, 5},
		{math.NaN(), 0},
		{math.Inf(1), 5},
		{math.Inf(-1), 0},
	}
	for _, tt := range tests {
		if got := Clamp(tt.in); got != tt.want {
			t.Errorf("Clamp(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestQuestionsToMarkCorrectMonotonic(t *testing.T) {
	for n := 0; n <= 12; n++ {
		prev := -1
		for i := 0; i <= 50; i++ {
			score := float64(i) / 10
			k := QuestionsToMarkCorrect(score, n)
			if k < prev {
				t.Fatalf("n=%d: count decreased at score %.1f (%d < %d)", n, score, k, prev)
			}
			if k < 0 || k > n {
				t.Fatalf("n=%d score=%.1f: count %d out of range", n, score, k)
			}
			prev = k
		}
		if got := QuestionsToMarkCorrect(0, n); got != 0 {
			t.Errorf("n=%d: score 0 gave %d, want 0", n, got)
		}
		if got := QuestionsToMarkCorrect(5, n); got != n {
			t.Errorf("n=%d: score 5 gave %d, want %d", n, got, n)
		}
	}
}

func TestNormalizeSimpleSection(t *testing.T) {
	// Deliberately out of order to check ordering by OrderIndex.
	questions := []model.Question{
		{ID: 30, OrderIndex: 3, MarkWeight: 2},
		{ID: 10, OrderIndex: 1, MarkWeight: 1},
		{ID: 20, OrderIndex: 2, MarkWeight: 2},
	}
	answers := model.AnswerSet{Questions: map[int64]string{10: "a", 20: "b", 30: "  "}}

	got := Normalize(questions, answers, 3)
	if got.TotalQuestions != 3 {
		t.Errorf("TotalQuestions = %d, want 3", got.TotalQuestions)
	}
	if got.Answered != 2 {
		t.Errorf("Answered = %d, want 2", got.Answered)
	}
	if got.CorrectCount != 2 {
		t.Errorf("CorrectCount = %d, want 2", got.CorrectCount)
	}
	if got.PossibleMarks != 5 {
		t.Errorf("PossibleMarks = %d, want 5", got.PossibleMarks)
	}
	if got.EarnedMarks != 3 {
		t.Errorf("EarnedMarks = %d, want 3", got.EarnedMarks)
	}
	if len(got.Marks) != 3 || got.Marks[0].QuestionID != 10 || !got.Marks[1].Correct || got.Marks[2].Correct {
		t.Errorf("unexpected marks: %+v", got.Marks)
	}
}

func TestNormalizeEdges(t *testing.T) {
	questions := []model.Question{
		{ID: 1, OrderIndex: 1, MarkWeight: 1},
		{ID: 2, OrderIndex: 2, MarkWeight: 3},
	}

	t.Run("no questions", func(t *testing.T) {
		for _, score := range []float64{0, 2.5, 5, -3, 99} {
			got := Normalize(nil, model.AnswerSet{}, score)
			if got.TotalQuestions != 0 || got.CorrectCount != 0 || got.PossibleMarks != 0 || got.EarnedMarks != 0 {
				t.Errorf("score %v: expected zero summary, got %+v", score, got)
			}
		}
	})

	t.Run("full score", func(t *testing.T) {
		got := Normalize(questions, model.AnswerSet{}, 5)
		if got.CorrectCount != 2 || got.EarnedMarks != 4 {
			t.Errorf("expected all correct, got %+v", got)
		}
	})

	t.Run("zero score", func(t *testing.T) {
		got := Normalize(questions, model.AnswerSet{}, 0)
		if got.CorrectCount != 0 || got.EarnedMarks != 0 || got.PossibleMarks != 4 {
			t.Errorf("expected none correct, got %+v", got)
		}
	})
}

func TestFlowchartAnswerCorrect(t *testing.T) {
	options := []string{"Anger", "Relief", " Joy "}
	tests := []struct {
		name    string
		section model.FlowchartSection
		answer  string
		want    bool
	}{
		{"keyed exact", model.FlowchartSection{CorrectAnswer: "Relief"}, "Relief", true},
		{"keyed case and space", model.FlowchartSection{CorrectAnswer: "Relief"}, "  relief ", true},
		{"keyed wrong option", model.FlowchartSection{CorrectAnswer: "Relief"}, "Anger", false},
		{"unkeyed option", model.FlowchartSection{}, "joy", true},
		{"unkeyed not an option", model.FlowchartSection{}, "Sadness", false},
		{"blank", model.FlowchartSection{}, "   ", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FlowchartAnswerCorrect(tt.section, options, tt.answer); got != tt.want {
				t.Errorf("FlowchartAnswerCorrect() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFlowchartScore(t *testing.T) {
	fc := model.Flowchart{
		Options: []string{"fear", "hope", "pride"},
		Sections: []model.FlowchartSection{
			{ID: 1, CorrectAnswer: "fear"},
			{ID: 2, CorrectAnswer: "hope"},
			{ID: 3, CorrectAnswer: "pride"},
		},
	}
	correct, total, pct := FlowchartScore(fc, map[int64]string{1: "Fear", 2: "hope", 3: "anger"})
	if correct != 2 || total != 3 || pct != 67 {
		t.Errorf("FlowchartScore() = %d/%d %.0f%%, want 2/3 67%%", correct, total, pct)
	}

	_, _, pct = FlowchartScore(model.Flowchart{}, nil)
	if pct != 0 {
		t.Errorf("empty flowchart pct = %v, want 0", pct)
	}
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name      string
		question  *float64
		flowchart *float64
		want      float64
	}{
		{"questions only", ptr(3.5), nil, 3.5},
		{"flowchart only is rescaled", nil, ptr(60), 3},
		{"both blend on the 0-5 scale", ptr(4), ptr(80), 4},
		{"both full marks", ptr(5), ptr(100), 5},
		{"out of range question score", ptr(9), nil, 5},
		{"neither", nil, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Aggregate(model.SectionB, tt.question, tt.flowchart)
			if !approx(got.Score, tt.want) {
				t.Errorf("Aggregate() = %v, want %v", got.Score, tt.want)
			}
			if got.Score < 0 || got.Score > MaxScore {
				t.Errorf("Aggregate() = %v escapes the holistic scale", got.Score)
			}
			if got.Section != model.SectionB {
				t.Errorf("Section = %q, want B", got.Section)
			}
		})
	}
}

func TestComposite(t *testing.T) {
	got := Composite(map[model.SectionID]float64{model.SectionA: 3, model.SectionB: 4, model.SectionC: 5})
	if got.Total != 12 {
		t.Errorf("Total = %v, want 12", got.Total)
	}

	got = Composite(map[model.SectionID]float64{model.SectionA: 3})
	if got.Total != 3 {
		t.Errorf("Total = %v, want 3", got.Total)
	}
	if _, ok := got.PerSection[model.SectionB]; ok {
		t.Error("absent section should not appear in PerSection")
	}

	got = Composite(nil)
	if got.Total != 0 {
		t.Errorf("empty composite Total = %v, want 0", got.Total)
	}
}

func TestPreferForDisplay(t *testing.T) {
	now := time.Now()
	completed := &model.PracticeAttempt{ID: "done", Status: model.AttemptCompleted, LastSaved: now.Add(-time.Hour)}
	newer := &model.PracticeAttempt{ID: "newer", Status: model.AttemptInProgress, LastSaved: now}
	older := &model.PracticeAttempt{ID: "older", Status: model.AttemptInProgress, LastSaved: now.Add(-2 * time.Hour)}

	tests := []struct {
		name string
		a, b *model.PracticeAttempt
		want string
	}{
		{"completed beats newer in-progress", completed, newer, "done"},
		{"order does not matter", newer, completed, "done"},
		{"newest in-progress wins", older, newer, "newer"},
		{"nil left", nil, older, "older"},
		{"nil right", older, nil, "older"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PreferForDisplay(tt.a, tt.b)
			if got == nil || got.ID != tt.want {
				t.Errorf("PreferForDisplay() = %v, want %s", got, tt.want)
			}
		})
	}

	if PreferForDisplay(nil, nil) != nil {
		t.Error("expected nil for two nil attempts")
	}

	sel := SelectForDisplay([]model.PracticeAttempt{*older, *newer, *completed})
	if sel == nil || sel.ID != "done" {
		t.Errorf("SelectForDisplay() = %v, want done", sel)
	}
}
