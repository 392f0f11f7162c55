package model

import "strings"

// ExerciseImport is an exercise as it appears in content files. The three exercise
// kinds were authored with different field names, so several aliases are accepted
// and folded together by Normalize.
type ExerciseImport struct {
	Kind             ExerciseKind     `json:"kind" yaml:"kind"`
	Title            string           `json:"title" yaml:"title"`
	Description      string           `json:"description" yaml:"description"`
	ImageRef         string           `json:"image_ref" yaml:"image_ref"`
	ImageURL         string           `json:"image_url" yaml:"image_url"`
	SourceText       string           `json:"source_text" yaml:"source_text"`
	Story            string           `json:"story" yaml:"story"`
	Passage          string           `json:"passage" yaml:"passage"`
	TimeLimitSeconds int              `json:"time_limit_seconds" yaml:"time_limit_seconds"`
	TimeLimit        int              `json:"time_limit" yaml:"time_limit"`
	Format           NarrativeFormat  `json:"format" yaml:"format"`
	Questions        []QuestionImport `json:"questions" yaml:"questions"`
	Flowchart        *FlowchartImport `json:"flowchart" yaml:"flowchart"`
}

// QuestionImport accepts both naming schemes used for questions.
type QuestionImport struct {
	OrderIndex   int    `json:"order_index" yaml:"order_index"`
	Text         string `json:"text" yaml:"text"`
	QuestionText string `json:"question_text" yaml:"question_text"`
	Answer       string `json:"answer" yaml:"answer"`
	IdealAnswer  string `json:"ideal_answer" yaml:"ideal_answer"`
	Marks        int    `json:"marks" yaml:"marks"`
	MarkWeight   int    `json:"mark_weight" yaml:"mark_weight"`
}

// FlowchartImport is the file form of a flowchart.
type FlowchartImport struct {
	Options  []string                 `json:"options" yaml:"options"`
	Sections []FlowchartSectionImport `json:"sections" yaml:"sections"`
}

// FlowchartSectionImport is the file form of a flowchart blank.
type FlowchartSectionImport struct {
	Label          string `json:"label" yaml:"label"`
	ParagraphRange string `json:"paragraph_range" yaml:"paragraph_range"`
	CorrectAnswer  string `json:"correct_answer" yaml:"correct_answer"`
}

// Normalize folds field aliases into a canonical Exercise. Questions without an
// explicit order are numbered by position, and a missing weight defaults to 1.
func (ei ExerciseImport) Normalize() Exercise {
	e := Exercise{
		Kind:             ExerciseKind(strings.ToLower(strings.TrimSpace(string(ei.Kind)))),
		Title:            strings.TrimSpace(ei.Title),
		Description:      strings.TrimSpace(ei.Description),
		ImageRef:         firstNonEmpty(ei.ImageRef, ei.ImageURL),
		SourceText:       firstNonEmpty(ei.SourceText, ei.Story, ei.Passage),
		TimeLimitSeconds: ei.TimeLimitSeconds,
		Format:           ei.Format,
	}
	if e.TimeLimitSeconds == 0 {
		e.TimeLimitSeconds = ei.TimeLimit
	}
	if e.Kind == KindNarrative && e.Format == "" {
		e.Format = FormatQuestions
		if ei.Flowchart != nil {
			e.Format = FormatCombined
		}
	}

	for i, qi := range ei.Questions {
		q := Question{
			OrderIndex:  qi.OrderIndex,
			Prompt:      firstNonEmpty(qi.Text, qi.QuestionText),
			IdealAnswer: firstNonEmpty(qi.IdealAnswer, qi.Answer),
			MarkWeight:  qi.MarkWeight,
		}
		if q.OrderIndex == 0 {
			q.OrderIndex = i + 1
		}
		if q.MarkWeight == 0 {
			q.MarkWeight = qi.Marks
		}
		if q.MarkWeight == 0 {
			q.MarkWeight = 1
		}
		e.Questions = append(e.Questions, q)
	}

	if ei.Flowchart != nil {
		fc := &Flowchart{Options: ei.Flowchart.Options}
		for _, s := range ei.Flowchart.Sections {
			fc.Sections = append(fc.Sections, FlowchartSection{
				Label:          s.Label,
				ParagraphRange: s.ParagraphRange,
				CorrectAnswer:  strings.TrimSpace(s.CorrectAnswer),
			})
		}
		e.Flowchart = fc
	}
	return e
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
