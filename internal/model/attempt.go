package model

import "time"

// AnswerSet holds a student's free-text responses keyed by question ID and by
// flowchart section ID.
type AnswerSet struct {
	Questions map[int64]string `json:"questions"`
	Flowchart map[int64]string `json:"flowchart,omitempty"`
}

// Clone returns a deep copy of the answer set.
func (a AnswerSet) Clone() AnswerSet {
	out := AnswerSet{Questions: make(map[int64]string, len(a.Questions))}
	for k, v := range a.Questions {
		out.Questions[k] = v
	}
	if a.Flowchart != nil {
		out.Flowchart = make(map[int64]string, len(a.Flowchart))
		for k, v := range a.Flowchart {
			out.Flowchart[k] = v
		}
	}
	return out
}

// AnswerTriple pairs a question with its ideal and submitted answers.
type AnswerTriple struct {
	Question    string `json:"question"`
	IdealAnswer string `json:"idealAnswer"`
	UserAnswer  string `json:"userAnswer"`
}

// EvaluationResult is the grader's verdict on one submitted section attempt.
// Score is always within [0, 5].
type EvaluationResult struct {
	Feedback string  `json:"feedback"`
	Score    float64 `json:"score"`
	Degraded bool    `json:"-"`
}

// QuestionMark is the mark awarded to a single question.
type QuestionMark struct {
	QuestionID int64 `json:"question_id"`
	OrderIndex int   `json:"order_index"`
	Correct    bool  `json:"correct"`
	Awarded    int   `json:"awarded"`
	MarkWeight int   `json:"mark_weight"`
}

// MarkSummary is derived from an answer set and a holistic score; it is never stored.
type MarkSummary struct {
	TotalQuestions int            `json:"total_questions"`
	Answered       int            `json:"answered"`
	CorrectCount   int            `json:"correct_count"`
	PossibleMarks  int            `json:"possible_marks"`
	EarnedMarks    int            `json:"earned_marks"`
	Marks          []QuestionMark `json:"marks,omitempty"`
}

// SectionScore is the combined score for one section on the 0-5 scale.
// FlowchartScore, when set, is the raw flowchart percentage (0-100).
type SectionScore struct {
	Section        SectionID `json:"section"`
	Score          float64   `json:"score"`
	QuestionScore  *float64  `json:"question_score,omitempty"`
	FlowchartScore *float64  `json:"flowchart_score,omitempty"`
}

// Composite is the full-practice total over sections A, B and C.
type Composite struct {
	Total      float64               `json:"total"`
	PerSection map[SectionID]float64 `json:"per_section"`
}

// AttemptStatus is the lifecycle state of a practice attempt.
type AttemptStatus string

const (
	AttemptNotStarted AttemptStatus = "not_started"
	AttemptInProgress AttemptStatus = "in_progress"
	AttemptCompleted  AttemptStatus = "completed"
)

// AttemptKey identifies the slot an attempt occupies. Several attempts may share a
// key; later attempts shadow earlier ones.
type AttemptKey struct {
	StudentID  int64     `json:"student_id"`
	Section    SectionID `json:"section"`
	ExerciseID int64     `json:"exercise_id"`
}

// PracticeAttempt is one student's run through one section. Questions,
// Flowchart and GradingSource are copied from the exercise at start so later
// edits to the exercise do not change how the attempt is graded.
type PracticeAttempt struct {
	ID             string        `json:"id"`
	StudentID      int64         `json:"student_id"`
	Section        SectionID     `json:"section"`
	ExerciseID     int64         `json:"exercise_id"`
	PracticeID     string        `json:"practice_id,omitempty"`
	Status         AttemptStatus `json:"status"`
	Answers        AnswerSet     `json:"answers"`
	Questions      []Question    `json:"questions"`
	Flowchart      *Flowchart    `json:"flowchart,omitempty"`
	GradingSource  string        `json:"grading_source,omitempty"`
	TimeRemaining  int           `json:"time_remaining"`
	Feedback       string        `json:"feedback,omitempty"`
	Score          *float64      `json:"score,omitempty"`
	FlowchartScore *float64      `json:"flowchart_score,omitempty"`
	StartedAt      time.Time     `json:"started_at"`
	LastSaved      time.Time     `json:"last_saved"`
	CompletedAt    *time.Time    `json:"completed_at,omitempty"`
}

// Key returns the slot this attempt belongs to.
func (a PracticeAttempt) Key() AttemptKey {
	return AttemptKey{StudentID: a.StudentID, Section: a.Section, ExerciseID: a.ExerciseID}
}

// Completed reports whether the attempt has been graded.
func (a PracticeAttempt) Completed() bool {
	return a.Status == AttemptCompleted
}

// PracticeResult is one entry of the append-only completed results log.
type PracticeResult struct {
	ID            int64                 `json:"id"`
	StudentID     int64                 `json:"student_id"`
	PracticeID    string                `json:"practice_id"`
	SectionScores map[SectionID]float64 `json:"section_scores"`
	Total         float64               `json:"total"`
	CompletedAt   time.Time             `json:"completed_at"`
}
