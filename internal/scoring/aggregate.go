package scoring

import (
	"math"
	"strings"

	"github.com/textchamp/textchamp/internal/model"
)

const (
	questionWeight  = 0.7
	flowchartWeight = 0.3

	// flowchartScale converts a flowchart percentage onto the holistic scale.
	flowchartScale = 100 / MaxScore
)

// FlowchartAnswerCorrect judges one flowchart blank. Matching ignores case and
// surrounding whitespace; without a keyed answer any listed option is accepted.
func FlowchartAnswerCorrect(section model.FlowchartSection, options []string, answer string) bool {
	a := trimmed(answer)
	if a == "" {
		return false
	}
	if key := trimmed(section.CorrectAnswer); key != "" {
		return strings.EqualFold(a, key)
	}
	for _, opt := range options {
		if strings.EqualFold(a, trimmed(opt)) {
			return true
		}
	}
	return false
}

// FlowchartScore grades a flowchart and returns the percentage of correct blanks,
// rounded to a whole number.
func FlowchartScore(fc model.Flowchart, answers map[int64]string) (correct, total int, pct float64) {
	total = len(fc.Sections)
	if total == 0 {
		return 0, 0, 0
	}
	for _, s := range fc.Sections {
		if FlowchartAnswerCorrect(s, fc.Options, answers[s.ID]) {
			correct++
		}
	}
	return correct, total, math.Round(100 * float64(correct) / float64(total))
}

// Aggregate combines the parts of a section into one holistic score. The
// flowchart percentage is rescaled to 0-5 before weighting so the blend stays on
// the holistic scale.
func Aggregate(section model.SectionID, questionScore, flowchartScore *float64) model.SectionScore {
	out := model.SectionScore{
		Section:        section,
		QuestionScore:  questionScore,
		FlowchartScore: flowchartScore,
	}

	switch {
	case questionScore != nil && flowchartScore != nil:
		out.Score = questionWeight*Clamp(*questionScore) + flowchartWeight*RescaleFlowchart(*flowchartScore)
	case questionScore != nil:
		out.Score = Clamp(*questionScore)
	case flowchartScore != nil:
		out.Score = RescaleFlowchart(*flowchartScore)
	}
	out.Score = Clamp(out.Score)
	return out
}

// RescaleFlowchart maps a 0-100 flowchart percentage onto the 0-5 scale.
func RescaleFlowchart(pct float64) float64 {
	return Clamp(pct / flowchartScale)
}

func trimmed(s string) string {
	return strings.TrimSpace(s)
}
