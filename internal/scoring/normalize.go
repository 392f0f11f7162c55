// Package scoring turns holistic grader scores into marks and combines section
// scores into practice totals.
package scoring

import (
	"math"
	"sort"

	"github.com/textchamp/textchamp/internal/model"
)

// MaxScore is the top of the holistic scale.
const MaxScore = 5.0

// Clamp forces a holistic score into [0, MaxScore]. NaN maps to 0.
func Clamp(score float64) float64 {
	if math.IsNaN(score) || score < 0 {
		return 0
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}

// QuestionsToMarkCorrect returns how many of n questions a holistic score is worth.
func QuestionsToMarkCorrect(score float64, n int) int {
	if n <= 0 {
		return 0
	}
	k := int(math.Round(Clamp(score) / MaxScore * float64(n)))
	if k > n {
		k = n
	}
	return k
}

// DeriveQuestionCorrectness approximates per-question correctness from a single
// holistic score: the lowest-ordered questions are marked correct first. It is a
// rank cutoff, not a judgment of individual answers.
func DeriveQuestionCorrectness(questions []model.Question, score float64) map[int64]bool {
	ordered := sortedByOrder(questions)
	k := QuestionsToMarkCorrect(score, len(ordered))

	correct := make(map[int64]bool, len(ordered))
	for i, q := range ordered {
		correct[q.ID] = i < k
	}
	return correct
}

// Normalize derives the mark summary for a graded section.
func Normalize(questions []model.Question, answers model.AnswerSet, score float64) model.MarkSummary {
	var summary model.MarkSummary
	if len(questions) == 0 {
		return summary
	}

	correct := DeriveQuestionCorrectness(questions, score)
	for _, q := range sortedByOrder(questions) {
		mark := model.QuestionMark{
			QuestionID: q.ID,
			OrderIndex: q.OrderIndex,
			Correct:    correct[q.ID],
			MarkWeight: q.MarkWeight,
		}
		if mark.Correct {
			mark.Awarded = q.MarkWeight
			summary.CorrectCount++
		}
		summary.PossibleMarks += q.MarkWeight
		summary.EarnedMarks += mark.Awarded
		summary.Marks = append(summary.Marks, mark)
	}
	summary.TotalQuestions = len(questions)
	summary.Answered = AnsweredCount(questions, answers)
	return summary
}

// AnsweredCount returns how many questions have a non-blank answer.
func AnsweredCount(questions []model.Question, answers model.AnswerSet) int {
	n := 0
	for _, q := range questions {
		if trimmed(answers.Questions[q.ID]) != "" {
			n++
		}
	}
	return n
}

func sortedByOrder(questions []model.Question) []model.Question {
	out := append([]model.Question(nil), questions...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].OrderIndex < out[j].OrderIndex })
	return out
}
