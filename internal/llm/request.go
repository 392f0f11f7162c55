package llm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/textchamp/textchamp/internal/model"
)

// ErrInvalidInput is returned when an evaluation request fails pre-flight checks.
// Such a request is never sent to the grader.
var ErrInvalidInput = errors.New("invalid evaluation input")

// EvaluationRequest is a validated grading request for one section attempt.
type EvaluationRequest struct {
	Story string
	Items []model.AnswerTriple
}

// BuildRequest validates the source text and answer triples. Empty user answers
// are allowed and graded as unanswered.
func BuildRequest(story string, items []model.AnswerTriple) (EvaluationRequest, error) {
	story = strings.TrimSpace(story)
	if story == "" {
		return EvaluationRequest{}, fmt.Errorf("%w: source text is empty", ErrInvalidInput)
	}
	if len(items) == 0 {
		return EvaluationRequest{}, fmt.Errorf("%w: no questions to grade", ErrInvalidInput)
	}
	out := make([]model.AnswerTriple, 0, len(items))
	for i, it := range items {
		if strings.TrimSpace(it.Question) == "" {
			return EvaluationRequest{}, fmt.Errorf("%w: question %d is empty", ErrInvalidInput, i+1)
		}
		out = append(out, model.AnswerTriple{
			Question:    strings.TrimSpace(it.Question),
			IdealAnswer: strings.TrimSpace(it.IdealAnswer),
			UserAnswer:  it.UserAnswer,
		})
	}
	return EvaluationRequest{Story: story, Items: out}, nil
}

// TriplesFor pairs each question with the student's answer, in question order.
func TriplesFor(questions []model.Question, answers model.AnswerSet) []model.AnswerTriple {
	out := make([]model.AnswerTriple, 0, len(questions))
	for _, q := range questions {
		out = append(out, model.AnswerTriple{
			Question:    q.Prompt,
			IdealAnswer: q.IdealAnswer,
			UserAnswer:  answers.Questions[q.ID],
		})
	}
	return out
}
