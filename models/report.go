package models

import "time"

// Belief is one inferred limiting belief.
type Belief struct {
	Statement  string  `json:"statement"`
	Category   string  `json:"category"`
	Evidence   string  `json:"evidence"`
	Confidence float64 `json:"confidence"`
	Reframe    string  `json:"reframe"`
}

type Question struct {
	ID     string `json:"id"`
	Prompt string `json:"prompt"`
	Hint   string `json:"hint,omitempty"`
}

type Answer struct {
	QuestionID string `json:"questionId" validate:"required"`
	Text       string `json:"text" validate:"required,max=4000"`
}

// Analysis is the output of belief inference over a set of answers.
type Analysis struct {
	Topic    string   `json:"topic"`
	Beliefs  []Belief `json:"beliefs"`
	Themes   []string `json:"themes"`
	Summary  string   `json:"summary"`
	Analyzed int      `json:"analyzed"`
}

// Report is a persisted rendering of an Analysis for one owner.
type Report struct {
	ID        string    `json:"id"`
	Owner     string    `json:"owner"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	Analysis  Analysis  `json:"analysis"`
}

// ReportArtifact describes one stored rendering of a report.
type ReportArtifact struct {
	ReportID  string    `json:"reportId"`
	Format    string    `json:"format"`
	URL       string    `json:"url"`
	Size      int64     `json:"size"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}
