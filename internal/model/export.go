package model

import "time"

// ResultsExport is the top-level JSON structure for practice result export.
type ResultsExport struct {
	ExportedAt time.Time       `json:"exported_at"`
	Results    []StudentResult `json:"results"`
}

// StudentResult holds one student's completed practice runs.
type StudentResult struct {
	Username    string           `json:"username"`
	DisplayName string           `json:"display_name"`
	Practices   []PracticeResult `json:"practices"`
	BestTotal   float64          `json:"best_total"`
}
