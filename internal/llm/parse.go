package llm

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/textchamp/textchamp/internal/model"
	"github.com/textchamp/textchamp/internal/scoring"
)

// FallbackFeedback replaces feedback the grader failed to supply.
const FallbackFeedback = "Sorry, we could not evaluate your answers right now. Please review the suggested answers and try again later."

// fallbackResult is returned when the grader cannot be reached at all.
func fallbackResult() model.EvaluationResult {
	return model.EvaluationResult{Feedback: FallbackFeedback, Score: 0, Degraded: true}
}

// parseEvaluation repairs a grader payload field by field: a usable feedback is
// kept even when the score is unusable, and vice versa.
func parseEvaluation(raw string) model.EvaluationResult {
	var payload map[string]any
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &payload); err != nil {
		return fallbackResult()
	}

	res := model.EvaluationResult{}

	fb, ok := payload["feedback"].(string)
	if ok && strings.TrimSpace(fb) != "" {
		res.Feedback = fb
	} else {
		res.Feedback = FallbackFeedback
		res.Degraded = true
	}

	score, ok := coerceScore(payload["score"])
	if !ok {
		res.Degraded = true
	}
	res.Score = scoring.Clamp(score)
	return res
}

// coerceScore converts a JSON value to a number the way a lenient client would:
// numbers pass through, numeric strings are parsed and booleans become 1 or 0.
// Anything else, including NaN and infinities, is rejected.
func coerceScore(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case bool:
		if x {
			f = 1
		}
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// stripCodeFence removes a surrounding ```json fence some models add despite the
// JSON response format.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
