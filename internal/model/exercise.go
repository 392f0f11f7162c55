package model

import (
	"errors"
	"fmt"
	"strings"
)

// ExerciseKind distinguishes the three exercise variants.
type ExerciseKind string

const (
	KindVisual       ExerciseKind = "visual"
	KindNarrative    ExerciseKind = "narrative"
	KindNonNarrative ExerciseKind = "non_narrative"
)

// Valid reports whether k names a known exercise kind.
func (k ExerciseKind) Valid() bool {
	switch k {
	case KindVisual, KindNarrative, KindNonNarrative:
		return true
	}
	return false
}

// SectionID identifies a paper section. Each section practises one exercise kind.
type SectionID string

const (
	SectionA SectionID = "A"
	SectionB SectionID = "B"
	SectionC SectionID = "C"
)

// Sections lists the paper sections in order.
var Sections = []SectionID{SectionA, SectionB, SectionC}

// Valid reports whether s is A, B or C.
func (s SectionID) Valid() bool {
	return s == SectionA || s == SectionB || s == SectionC
}

// SectionForKind returns the section that practises the given kind.
func SectionForKind(k ExerciseKind) SectionID {
	switch k {
	case KindVisual:
		return SectionA
	case KindNarrative:
		return SectionB
	case KindNonNarrative:
		return SectionC
	}
	return ""
}

// KindForSection returns the exercise kind practised in the given section.
func KindForSection(s SectionID) ExerciseKind {
	switch s {
	case SectionA:
		return KindVisual
	case SectionB:
		return KindNarrative
	case SectionC:
		return KindNonNarrative
	}
	return ""
}

// NarrativeFormat says whether a narrative exercise carries a flowchart.
type NarrativeFormat string

const (
	FormatQuestions NarrativeFormat = "questions"
	FormatCombined  NarrativeFormat = "combined"
)

// Exercise is a comprehension exercise of one of three kinds. Fields that do not
// apply to Kind are left zero.
type Exercise struct {
	ID               int64           `json:"id"`
	Kind             ExerciseKind    `json:"kind"`
	Title            string          `json:"title"`
	Description      string          `json:"description,omitempty"`
	ImageRef         string          `json:"image_ref,omitempty"`
	SourceText       string          `json:"source_text,omitempty"`
	TimeLimitSeconds int             `json:"time_limit_seconds,omitempty"`
	Format           NarrativeFormat `json:"format,omitempty"`
	Questions        []Question      `json:"questions"`
	Flowchart        *Flowchart      `json:"flowchart,omitempty"`
}

// Question is owned by exactly one exercise.
type Question struct {
	ID          int64  `json:"id"`
	ExerciseID  int64  `json:"exercise_id"`
	OrderIndex  int    `json:"order_index"`
	Prompt      string `json:"prompt"`
	IdealAnswer string `json:"ideal_answer,omitempty"`
	MarkWeight  int    `json:"mark_weight"`
}

// Flowchart is the rule-graded fill-in-the-blank part of a combined narrative exercise.
type Flowchart struct {
	Options  []string           `json:"options"`
	Sections []FlowchartSection `json:"sections"`
}

// FlowchartSection is one blank in a flowchart. An empty CorrectAnswer means any
// of the flowchart options is accepted.
type FlowchartSection struct {
	ID             int64  `json:"id"`
	Label          string `json:"label"`
	ParagraphRange string `json:"paragraph_range"`
	CorrectAnswer  string `json:"correct_answer,omitempty"`
}

// ErrInvalidExercise is wrapped by every Validate failure.
var ErrInvalidExercise = errors.New("invalid exercise")

// Validate checks the structural invariants of an exercise.
func (e Exercise) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidExercise, fmt.Sprintf(format, args...))
	}

	if !e.Kind.Valid() {
		return invalid("unknown kind %q", e.Kind)
	}
	if strings.TrimSpace(e.Title) == "" {
		return invalid("title is required")
	}
	switch e.Kind {
	case KindVisual:
		if strings.TrimSpace(e.ImageRef) == "" {
			return invalid("visual exercise needs an image")
		}
	case KindNarrative, KindNonNarrative:
		if strings.TrimSpace(e.SourceText) == "" {
			return invalid("source text is required")
		}
		if e.TimeLimitSeconds <= 0 {
			return invalid("time limit must be positive")
		}
	}
	if e.TimeLimitSeconds < 0 {
		return invalid("time limit must be positive")
	}
	if len(e.Questions) == 0 {
		return invalid("at least one question is required")
	}

	seen := make(map[int]bool, len(e.Questions))
	for _, q := range e.Questions {
		if q.OrderIndex < 1 {
			return invalid("question order must start at 1")
		}
		if seen[q.OrderIndex] {
			return invalid("duplicate question order %d", q.OrderIndex)
		}
		seen[q.OrderIndex] = true
		if strings.TrimSpace(q.Prompt) == "" {
			return invalid("question %d has no prompt", q.OrderIndex)
		}
		if q.MarkWeight < 1 {
			return invalid("question %d mark weight must be positive", q.OrderIndex)
		}
	}

	if e.Flowchart != nil {
		if e.Kind != KindNarrative || e.Format != FormatCombined {
			return invalid("flowchart is only allowed on combined narrative exercises")
		}
		if len(e.Flowchart.Options) == 0 {
			return invalid("flowchart needs at least one option")
		}
	}
	return nil
}

// GradingSource returns the text the grader reads the answers against.
func (e Exercise) GradingSource() string {
	if e.Kind != KindVisual {
		return e.SourceText
	}
	var sb strings.Builder
	sb.WriteString("Visual text: " + e.Title + "\n")
	sb.WriteString("Image: " + e.ImageRef + "\n")
	if e.Description != "" {
		sb.WriteString("\n" + e.Description + "\n")
	}
	return sb.String()
}

// ForStudent returns a copy with ideal answers and flowchart keys removed.
func (e Exercise) ForStudent() Exercise {
	out := e
	out.Questions = make([]Question, len(e.Questions))
	for i, q := range e.Questions {
		q.IdealAnswer = ""
		out.Questions[i] = q
	}
	if e.Flowchart != nil {
		fc := Flowchart{Options: append([]string(nil), e.Flowchart.Options...)}
		for _, s := range e.Flowchart.Sections {
			s.CorrectAnswer = ""
			fc.Sections = append(fc.Sections, s)
		}
		out.Flowchart = &fc
	}
	return out
}
