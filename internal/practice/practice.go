// Package practice runs the attempt lifecycle: starting a section, saving
// answers, submitting for grading and resolving which attempt a student sees.
package practice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/textchamp/textchamp/internal/llm"
	"github.com/textchamp/textchamp/internal/model"
	"github.com/textchamp/textchamp/internal/scoring"
)

var (
	// ErrSubmitInProgress is returned when an attempt already has a grading call in flight.
	ErrSubmitInProgress = errors.New("submission already in progress")
	// ErrAttemptBusy is returned when another save of the same attempt is still running.
	ErrAttemptBusy = errors.New("attempt is being saved")
	// ErrAttemptCompleted is returned when a completed attempt is edited or resubmitted.
	ErrAttemptCompleted = model.ErrAttemptCompleted
	// ErrSectionMismatch is returned when an exercise does not belong to the requested section.
	ErrSectionMismatch = errors.New("exercise does not belong to section")
)

// Repository persists attempts and the results log. SaveAttempt must refuse to
// overwrite a completed attempt with model.ErrAttemptCompleted. Listings skip
// records they cannot decode.
type Repository interface {
	SaveAttempt(ctx context.Context, a model.PracticeAttempt) error
	GetAttempt(ctx context.Context, id string) (model.PracticeAttempt, error)
	LoadAttempts(ctx context.Context, key model.AttemptKey) ([]model.PracticeAttempt, error)
	ListRecentAttempts(ctx context.Context, studentID int64, limit int) ([]model.PracticeAttempt, error)
	ListPracticeAttempts(ctx context.Context, studentID int64, practiceID string) ([]model.PracticeAttempt, error)
	AppendResult(ctx context.Context, r model.PracticeResult) error
	ListResults(ctx context.Context, studentID int64) ([]model.PracticeResult, error)
}

// ExerciseSource looks up exercises by ID.
type ExerciseSource interface {
	GetExercise(ctx context.Context, id int64) (model.Exercise, error)
}

// Evaluator grades one section attempt. It never fails: transport and parse
// problems come back as a degraded result.
type Evaluator interface {
	Evaluate(ctx context.Context, req llm.EvaluationRequest) model.EvaluationResult
}

// Option configures a Service.
type Option func(*Service)

// WithTickInterval sets the countdown tick. Each tick removes one second of
// remaining time.
func WithTickInterval(d time.Duration) Option {
	return func(s *Service) { s.tick = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service coordinates attempts, grading and countdowns.
type Service struct {
	repo      Repository
	exercises ExerciseSource
	eval      Evaluator
	now       func() time.Time
	tick      time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	busy   map[string]busyKind
	timers map[string]*countdown
}

// busyKind records which operation holds an attempt.
type busyKind int

const (
	busySaving busyKind = iota + 1
	busySubmitting
)

// New returns a Service. Call Close to stop running countdowns.
func New(repo Repository, exercises ExerciseSource, eval Evaluator, opts ...Option) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		repo:      repo,
		exercises: exercises,
		eval:      eval,
		now:       time.Now,
		tick:      time.Second,
		ctx:       ctx,
		cancel:    cancel,
		busy:      make(map[string]busyKind),
		timers:    make(map[string]*countdown),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SubmitResult is everything a student sees after grading.
type SubmitResult struct {
	Attempt  model.PracticeAttempt `json:"attempt"`
	Section  model.SectionScore    `json:"section_score"`
	Summary  model.MarkSummary     `json:"summary"`
	Degraded bool                  `json:"degraded"`
}

// PracticeSummary is the state of a full-practice run.
type PracticeSummary struct {
	PracticeID string                                    `json:"practice_id"`
	Attempts   map[model.SectionID]model.PracticeAttempt `json:"attempts"`
	Composite  model.Composite                           `json:"composite"`
	Complete   bool                                      `json:"complete"`
}

// NewPracticeID returns an identifier for a new full-practice run.
func NewPracticeID() string {
	return uuid.NewString()
}

// Start opens a new in-progress attempt. Earlier attempts for the same slot are
// kept and shadowed.
func (s *Service) Start(ctx context.Context, studentID int64, section model.SectionID, exerciseID int64, practiceID string) (model.PracticeAttempt, error) {
	if !section.Valid() {
		return model.PracticeAttempt{}, fmt.Errorf("%w: unknown section %q", ErrSectionMismatch, section)
	}
	ex, err := s.exercises.GetExercise(ctx, exerciseID)
	if err != nil {
		return model.PracticeAttempt{}, fmt.Errorf("get exercise %d: %w", exerciseID, err)
	}
	if model.SectionForKind(ex.Kind) != section {
		return model.PracticeAttempt{}, fmt.Errorf("%w: exercise %d is %s", ErrSectionMismatch, exerciseID, ex.Kind)
	}

	now := s.now().UTC()
	a := model.PracticeAttempt{
		ID:            uuid.NewString(),
		StudentID:     studentID,
		Section:       section,
		ExerciseID:    exerciseID,
		PracticeID:    practiceID,
		Status:        model.AttemptInProgress,
		Answers:       model.AnswerSet{Questions: make(map[int64]string)},
		Questions:     ex.Questions,
		Flowchart:     ex.Flowchart,
		GradingSource: ex.GradingSource(),
		TimeRemaining: ex.TimeLimitSeconds,
		StartedAt:     now,
		LastSaved:     now,
	}
	if ex.Flowchart != nil {
		a.Answers.Flowchart = make(map[int64]string)
	}
	if err := s.repo.SaveAttempt(ctx, a); err != nil {
		return model.PracticeAttempt{}, fmt.Errorf("save attempt: %w", err)
	}
	slog.Info("attempt started", "attempt", a.ID, "student", studentID, "section", section, "exercise", exerciseID)
	return a, nil
}

// Get returns an attempt by ID.
func (s *Service) Get(ctx context.Context, id string) (model.PracticeAttempt, error) {
	return s.repo.GetAttempt(ctx, id)
}

// Save stores the student's answers and timer snapshot. While a countdown runs
// for the attempt its remaining time replaces timeRemaining. On a persistence
// failure the updated attempt is still returned alongside the error.
func (s *Service) Save(ctx context.Context, id string, answers model.AnswerSet, timeRemaining int) (model.PracticeAttempt, error) {
	if err := s.acquire(id, busySaving); err != nil {
		return model.PracticeAttempt{}, err
	}
	defer s.release(id)

	a, err := s.repo.GetAttempt(ctx, id)
	if err != nil {
		return model.PracticeAttempt{}, err
	}
	if a.Completed() {
		return a, ErrAttemptCompleted
	}

	if remaining, ok := s.Remaining(id); ok {
		timeRemaining = remaining
	}
	if timeRemaining < 0 {
		timeRemaining = 0
	}
	a.Answers = answers.Clone()
	a.TimeRemaining = timeRemaining
	a.LastSaved = s.now().UTC()
	if err := s.repo.SaveAttempt(ctx, a); err != nil {
		return a, fmt.Errorf("save attempt: %w", err)
	}
	return a, nil
}

// Submit grades an attempt and marks it completed. Only one submission per
// attempt may be in flight; a concurrent call returns ErrSubmitInProgress and
// does not reach the grader. If ctx ends while grading, the result is dropped
// and the attempt stays in progress. Failing to append the practice result is
// logged and does not fail the submission.
func (s *Service) Submit(ctx context.Context, id string) (SubmitResult, error) {
	if err := s.acquire(id, busySubmitting); err != nil {
		return SubmitResult{}, err
	}
	defer s.release(id)

	a, err := s.repo.GetAttempt(ctx, id)
	if err != nil {
		return SubmitResult{}, err
	}
	if a.Completed() {
		return SubmitResult{}, ErrAttemptCompleted
	}
	source, flowchart, err := s.gradingInputs(ctx, a)
	if err != nil {
		return SubmitResult{}, err
	}
	req, err := llm.BuildRequest(source, llm.TriplesFor(a.Questions, a.Answers))
	if err != nil {
		return SubmitResult{}, err
	}

	result := s.eval.Evaluate(ctx, req)
	if err := ctx.Err(); err != nil {
		slog.Info("grading result discarded", "attempt", id, "error", err)
		return SubmitResult{}, err
	}

	questionScore := scoring.Clamp(result.Score)
	var flowchartPct *float64
	if flowchart != nil && len(flowchart.Sections) > 0 {
		_, _, pct := scoring.FlowchartScore(*flowchart, a.Answers.Flowchart)
		flowchartPct = &pct
	}
	section := scoring.Aggregate(a.Section, &questionScore, flowchartPct)

	if remaining, ok := s.Remaining(id); ok {
		a.TimeRemaining = remaining
	}
	s.stopTimer(id)

	now := s.now().UTC()
	a.Status = model.AttemptCompleted
	a.Feedback = result.Feedback
	a.Score = &questionScore
	a.FlowchartScore = flowchartPct
	a.LastSaved = now
	a.CompletedAt = &now
	if err := s.repo.SaveAttempt(ctx, a); err != nil {
		return SubmitResult{}, fmt.Errorf("save attempt: %w", err)
	}
	slog.Info("attempt graded", "attempt", id, "section", a.Section, "score", section.Score, "degraded", result.Degraded)

	if a.Section == model.SectionC && a.PracticeID != "" {
		if err := s.recordResult(ctx, a); err != nil {
			slog.Error("failed to record practice result", "attempt", id, "practice", a.PracticeID, "error", err)
		}
	}

	return SubmitResult{
		Attempt:  a,
		Section:  section,
		Summary:  scoring.Normalize(a.Questions, a.Answers, questionScore),
		Degraded: result.Degraded,
	}, nil
}

// gradingInputs returns the passage and flowchart an attempt is graded against.
// Attempts started before snapshots were kept fall back to the live exercise.
func (s *Service) gradingInputs(ctx context.Context, a model.PracticeAttempt) (string, *model.Flowchart, error) {
	if a.GradingSource != "" {
		return a.GradingSource, a.Flowchart, nil
	}
	ex, err := s.exercises.GetExercise(ctx, a.ExerciseID)
	if err != nil {
		return "", nil, fmt.Errorf("get exercise %d: %w", a.ExerciseID, err)
	}
	return ex.GradingSource(), ex.Flowchart, nil
}

// Current returns the attempt shown for a slot: completed beats in progress,
// then the most recently saved. Returns model.ErrNotFound if the slot was never
// started.
func (s *Service) Current(ctx context.Context, key model.AttemptKey) (model.PracticeAttempt, error) {
	attempts, err := s.repo.LoadAttempts(ctx, key)
	if err != nil {
		return model.PracticeAttempt{}, err
	}
	best := scoring.SelectForDisplay(attempts)
	if best == nil {
		return model.PracticeAttempt{}, model.ErrNotFound
	}
	return *best, nil
}

// Recent returns the student's most recently saved attempts.
func (s *Service) Recent(ctx context.Context, studentID int64) ([]model.PracticeAttempt, error) {
	return s.repo.ListRecentAttempts(ctx, studentID, model.MaxRecentAttempts)
}

// Results returns the student's completed full practices in completion order.
func (s *Service) Results(ctx context.Context, studentID int64) ([]model.PracticeResult, error) {
	return s.repo.ListResults(ctx, studentID)
}

// Practice summarizes a full-practice run. Sections without a completed attempt
// contribute 0 to the composite.
func (s *Service) Practice(ctx context.Context, studentID int64, practiceID string) (PracticeSummary, error) {
	attempts, err := s.repo.ListPracticeAttempts(ctx, studentID, practiceID)
	if err != nil {
		return PracticeSummary{}, err
	}
	if len(attempts) == 0 {
		return PracticeSummary{}, model.ErrNotFound
	}

	bySection := make(map[model.SectionID][]model.PracticeAttempt)
	for _, a := range attempts {
		bySection[a.Section] = append(bySection[a.Section], a)
	}

	summary := PracticeSummary{
		PracticeID: practiceID,
		Attempts:   make(map[model.SectionID]model.PracticeAttempt),
		Complete:   true,
	}
	scores := make(map[model.SectionID]float64)
	for _, sec := range model.Sections {
		best := scoring.SelectForDisplay(bySection[sec])
		if best == nil {
			summary.Complete = false
			continue
		}
		summary.Attempts[sec] = *best
		if !best.Completed() {
			summary.Complete = false
			continue
		}
		scores[sec] = SectionScore(*best).Score
	}
	summary.Composite = scoring.Composite(scores)
	return summary, nil
}

// SectionScore recomputes the combined section score of a completed attempt.
func SectionScore(a model.PracticeAttempt) model.SectionScore {
	return scoring.Aggregate(a.Section, a.Score, a.FlowchartScore)
}

func (s *Service) recordResult(ctx context.Context, a model.PracticeAttempt) error {
	summary, err := s.Practice(ctx, a.StudentID, a.PracticeID)
	if err != nil {
		return fmt.Errorf("summarize practice %s: %w", a.PracticeID, err)
	}
	r := model.PracticeResult{
		StudentID:     a.StudentID,
		PracticeID:    a.PracticeID,
		SectionScores: summary.Composite.PerSection,
		Total:         summary.Composite.Total,
		CompletedAt:   *a.CompletedAt,
	}
	if err := s.repo.AppendResult(ctx, r); err != nil {
		return fmt.Errorf("append result: %w", err)
	}
	slog.Info("practice completed", "practice", a.PracticeID, "student", a.StudentID, "total", r.Total)
	return nil
}

// acquire claims an attempt for one read-modify-write. Every write to an
// attempt happens under its claim, so a save cannot overwrite a submission
// that completed after the save read the record.
func (s *Service) acquire(id string, kind busyKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.busy[id] {
	case busySubmitting:
		return ErrSubmitInProgress
	case busySaving:
		return ErrAttemptBusy
	}
	s.busy[id] = kind
	return nil
}

func (s *Service) release(id string) {
	s.mu.Lock()
	delete(s.busy, id)
	s.mu.Unlock()
}
