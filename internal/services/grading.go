package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Lokesh-T-2506/AutoGrader/internal/domain"
)

// Confidence assigned to every heuristic score: the fallback is honest
// about being a low-trust lexical match.
const fallbackConfidence = 0.5

const noJudgmentReasoning = "no judgment returned"

const gradingSchemaJSON = `{
  "type": "object",
  "required": ["criterion_scores"],
  "properties": {
    "criterion_scores": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["criterion_id", "points_awarded"],
        "properties": {
          "criterion_id": {"type": "string"},
          "points_awarded": {"type": "number"},
          "confidence": {"type": "number"},
          "reasoning": {"type": "string"},
          "matched_concepts": {"type": "array", "items": {"type": "string"}}
        }
      }
    },
    "overall_confidence": {"type": "number"}
  }
}`

var gradingSchema = jsonschema.MustCompileString("grading.schema.json", gradingSchemaJSON)

type gradingJudgment struct {
	CriterionScores []judgedScore `json:"criterion_scores"`
	// The model also reports an overall confidence; the engine recomputes
	// it from the per-criterion figures instead of trusting this value.
	OverallConfidence *float64 `json:"overall_confidence"`
}

type judgedScore struct {
	CriterionID     string   `json:"criterion_id"`
	PointsAwarded   float64  `json:"points_awarded"`
	Confidence      float64  `json:"confidence"`
	Reasoning       string   `json:"reasoning"`
	MatchedConcepts []string `json:"matched_concepts"`
}

// GradingEngine scores a submission against a rubric. It is stateless:
// every call is a pure function of its inputs plus one reasoning call,
// and degrades to a deterministic keyword heuristic when the reasoning
// backend is absent or unusable.
type GradingEngine struct {
	reasoner Reasoner
	log      zerolog.Logger
}

func NewGradingEngine(reasoner Reasoner, log zerolog.Logger) *GradingEngine {
	return &GradingEngine{reasoner: reasoner, log: log}
}

func (e *GradingEngine) Grade(ctx context.Context, submissionText string, rubric []domain.RubricCriterion, ocrConfidence *float64) (domain.GradingResult, error) {
	if err := checkDuplicateIDs(rubric); err != nil {
		return domain.GradingResult{}, err
	}

	if len(rubric) == 0 {
		return domain.GradingResult{
			CriterionScores:   []domain.CriterionScore{},
			OverallConfidence: AggregateConfidence(ocrConfidence, nil),
		}, nil
	}

	scores := e.judgedScores(ctx, submissionText, rubric)

	var total, maxScore float64
	confidences := make([]float64, 0, len(scores))
	for _, s := range scores {
		total += s.PointsAwarded
		confidences = append(confidences, s.Confidence)
	}
	for _, c := range rubric {
		if c.MaxPoints > 0 {
			maxScore += c.MaxPoints
		}
	}

	percentage := 0.0
	if maxScore > 0 {
		percentage = total / maxScore * 100
	}

	return domain.GradingResult{
		TotalScore:        total,
		MaxScore:          maxScore,
		Percentage:        percentage,
		CriterionScores:   scores,
		OverallConfidence: AggregateConfidence(ocrConfidence, confidences),
	}, nil
}

// judgedScores asks the reasoning backend for a judgment and falls back to
// the lexical heuristic when none is available or the response is unusable.
func (e *GradingEngine) judgedScores(ctx context.Context, submissionText string, rubric []domain.RubricCriterion) []domain.CriterionScore {
	raw, err := e.reasoner.Infer(ctx, PromptSpec{
		Prompt: buildGradingPrompt(submissionText, rubric),
		Schema: gradingSchema,
	})
	if err != nil {
		e.log.Warn().Err(err).Msg("reasoning failed, using heuristic grading")
		return e.heuristicScores(submissionText, rubric)
	}
	if raw == nil {
		return e.heuristicScores(submissionText, rubric)
	}

	var judgment gradingJudgment
	if err := json.Unmarshal(raw, &judgment); err != nil {
		e.log.Warn().Err(err).Msg("unusable judgment, using heuristic grading")
		return e.heuristicScores(submissionText, rubric)
	}

	byID := make(map[string]judgedScore, len(judgment.CriterionScores))
	known := make(map[string]struct{}, len(rubric))
	for _, c := range rubric {
		known[c.ID] = struct{}{}
	}
	for _, js := range judgment.CriterionScores {
		if _, ok := known[js.CriterionID]; !ok {
			e.log.Warn().Str("criterion_id", js.CriterionID).Msg("judgment references unknown criterion, dropping")
			continue
		}
		byID[js.CriterionID] = js
	}

	scores := make([]domain.CriterionScore, 0, len(rubric))
	for _, c := range rubric {
		js, ok := byID[c.ID]
		if !ok {
			scores = append(scores, domain.CriterionScore{
				CriterionID:     c.ID,
				MaxPoints:       c.MaxPoints,
				Reasoning:       noJudgmentReasoning,
				MatchedConcepts: []string{},
			})
			continue
		}

		points := clamp(js.PointsAwarded, 0, c.MaxPoints)
		if c.MaxPoints <= 0 {
			points = 0
		}
		matched := js.MatchedConcepts
		if matched == nil {
			matched = []string{}
		}
		scores = append(scores, domain.CriterionScore{
			CriterionID:     c.ID,
			PointsAwarded:   points,
			MaxPoints:       c.MaxPoints,
			Confidence:      clamp01(js.Confidence),
			Reasoning:       js.Reasoning,
			MatchedConcepts: matched,
		})
	}
	return scores
}

// heuristicScores awards partial credit from lexical overlap between the
// submission and each criterion's concept set. Deterministic: identical
// inputs always yield identical scores.
func (e *GradingEngine) heuristicScores(submissionText string, rubric []domain.RubricCriterion) []domain.CriterionScore {
	scores := make([]domain.CriterionScore, 0, len(rubric))
	for _, c := range rubric {
		fraction, matched := conceptOverlap(submissionText, c)

		points := 0.0
		if c.MaxPoints > 0 {
			points = c.MaxPoints * fraction
		}

		scores = append(scores, domain.CriterionScore{
			CriterionID:     c.ID,
			PointsAwarded:   points,
			MaxPoints:       c.MaxPoints,
			Confidence:      fallbackConfidence,
			Reasoning:       fmt.Sprintf("keyword match: %d of %d concepts found", len(matched), len(c.ConceptSet())),
			MatchedConcepts: matched,
		})
	}
	return scores
}

// PartialCredit holds the single-criterion scoring used by the
// partial-credit endpoint.
type PartialCredit struct {
	PointsAwarded   float64  `json:"points_awarded"`
	Percentage      float64  `json:"percentage"`
	SimilarityScore float64  `json:"similarity_score"`
	MatchedConcepts []string `json:"matched_concepts"`
}

func (e *GradingEngine) PartialCredit(submissionText string, criterion domain.RubricCriterion) PartialCredit {
	fraction, matched := conceptOverlap(submissionText, criterion)

	points := 0.0
	if criterion.MaxPoints > 0 {
		points = criterion.MaxPoints * fraction
	}

	return PartialCredit{
		PointsAwarded:   points,
		Percentage:      fraction * 100,
		SimilarityScore: fraction,
		MatchedConcepts: matched,
	}
}

// AllOrNothing collapses partial credit: a criterion keeps its points only
// when fully earned. Used when a grade request disables partial credit.
func AllOrNothing(result domain.GradingResult) domain.GradingResult {
	total := 0.0
	scores := make([]domain.CriterionScore, 0, len(result.CriterionScores))
	for _, s := range result.CriterionScores {
		if s.PointsAwarded < s.MaxPoints {
			s.PointsAwarded = 0
		}
		total += s.PointsAwarded
		scores = append(scores, s)
	}

	result.CriterionScores = scores
	result.TotalScore = total
	result.Percentage = 0
	if result.MaxScore > 0 {
		result.Percentage = total / result.MaxScore * 100
	}
	return result
}

// conceptOverlap returns the fraction of a criterion's concepts present in
// the submission (case-insensitive substring match) and the concepts found.
func conceptOverlap(submissionText string, criterion domain.RubricCriterion) (float64, []string) {
	concepts := criterion.ConceptSet()
	matched := make([]string, 0, len(concepts))
	if len(concepts) == 0 {
		return 0, matched
	}

	haystack := strings.ToLower(submissionText)
	for _, concept := range concepts {
		if strings.Contains(haystack, strings.ToLower(concept)) {
			matched = append(matched, concept)
		}
	}
	return float64(len(matched)) / float64(len(concepts)), matched
}

func buildGradingPrompt(submissionText string, rubric []domain.RubricCriterion) string {
	rubricJSON, _ := json.MarshalIndent(rubric, "", "  ")

	var b strings.Builder
	b.WriteString("You are an expert academic grader. Evaluate the student answer against each rubric criterion and award partial credit.\n\n")
	b.WriteString("### RUBRIC (JSON):\n")
	b.Write(rubricJSON)
	b.WriteString("\n\n### STUDENT ANSWER:\n")
	b.WriteString(submissionText)
	b.WriteString("\n\n### TASK:\n")
	b.WriteString("1. Score every criterion by its id; never award more than max_points.\n")
	b.WriteString("2. Provide reasoning and the matched concepts per criterion.\n")
	b.WriteString("3. Report a confidence between 0 and 1 for each score.\n\n")
	b.WriteString("### OUTPUT (strict JSON, no prose):\n")
	b.WriteString(`{"criterion_scores": [{"criterion_id": "string", "points_awarded": 0.0, "confidence": 0.0, "reasoning": "string", "matched_concepts": ["string"]}], "overall_confidence": 0.0}`)
	return b.String()
}

func checkDuplicateIDs(rubric []domain.RubricCriterion) error {
	seen := make(map[string]struct{}, len(rubric))
	for _, c := range rubric {
		if _, ok := seen[c.ID]; ok {
			return &domain.ValidationError{Reason: fmt.Sprintf("duplicate criterion id %q", c.ID)}
		}
		seen[c.ID] = struct{}{}
	}
	return nil
}
