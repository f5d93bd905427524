package domain

// Submission is one uploaded answer image. ExtractedText and OCRConfidence
// stay nil until the extraction stage has run; after that the submission is
// not mutated again.
type Submission struct {
	ID            string   `json:"id"`
	ImageRef      string   `json:"imageRef"`
	ExtractedText *string  `json:"extractedText,omitempty"`
	OCRConfidence *float64 `json:"ocrConfidence,omitempty"`
	CreatedAt     int64    `json:"createdAt"`
	UpdatedAt     int64    `json:"updatedAt"`
}

type RubricCriterion struct {
	ID               string   `json:"id"`
	Description      string   `json:"description"`
	MaxPoints        float64  `json:"max_points"`
	Keywords         []string `json:"keywords"`
	RequiredConcepts []string `json:"required_concepts"`
}

type CriterionScore struct {
	CriterionID     string   `json:"criterion_id"`
	PointsAwarded   float64  `json:"points_awarded"`
	MaxPoints       float64  `json:"max_points"`
	Confidence      float64  `json:"confidence"`
	Reasoning       string   `json:"reasoning"`
	MatchedConcepts []string `json:"matched_concepts"`
}

type GradingResult struct {
	TotalScore        float64          `json:"total_score"`
	MaxScore          float64          `json:"max_score"`
	Percentage        float64          `json:"percentage"`
	CriterionScores   []CriterionScore `json:"criterion_scores"`
	OverallConfidence float64          `json:"overall_confidence"`
}

type FeedbackResult struct {
	Narrative           string   `json:"feedback"`
	Suggestions         []string `json:"suggestions"`
	Strengths           []string `json:"strengths"`
	AreasForImprovement []string `json:"areas_for_improvement"`
	Tone                string   `json:"tone"`
}

const (
	ToneConstructive = "constructive"
	ToneEncouraging  = "encouraging"
	ToneDirect       = "direct"
)

// Job states. Completed and Failed are terminal; no transition leaves them.
const (
	JobStatePending      = "PENDING"
	JobStateExtracting   = "EXTRACTING"
	JobStateGrading      = "GRADING"
	JobStateSynthesizing = "SYNTHESIZING_FEEDBACK"
	JobStateCompleted    = "COMPLETED"
	JobStateFailed       = "FAILED"
)

type GradingJob struct {
	ID           string            `json:"id"`
	SubmissionID string            `json:"submissionId"`
	State        string            `json:"state"`
	Rubric       []RubricCriterion `json:"rubric"`
	Tone         string            `json:"tone"`
	Result       *GradingResult    `json:"result,omitempty"`
	Feedback     *FeedbackResult   `json:"feedback,omitempty"`
	Error        string            `json:"error,omitempty"`
	Cancelled    bool              `json:"cancelled,omitempty"`
	ReportPath   string            `json:"reportPath,omitempty"`
	CreatedAt    int64             `json:"createdAt"`
	UpdatedAt    int64             `json:"updatedAt"`
}

func (j GradingJob) Terminal() bool {
	return j.State == JobStateCompleted || j.State == JobStateFailed
}

func ValidTone(tone string) bool {
	switch tone {
	case ToneConstructive, ToneEncouraging, ToneDirect:
		return true
	}
	return false
}
