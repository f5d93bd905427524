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

const feedbackSchemaJSON = `{
  "type": "object",
  "required": ["feedback"],
  "properties": {
    "feedback": {"type": "string"},
    "suggestions": {"type": "array", "items": {"type": "string"}},
    "strengths": {"type": "array", "items": {"type": "string"}},
    "areas_for_improvement": {"type": "array", "items": {"type": "string"}},
    "tone": {"type": "string"}
  }
}`

var feedbackSchema = jsonschema.MustCompileString("feedback.schema.json", feedbackSchemaJSON)

// FeedbackSynthesizer turns a grading result into a feedback narrative.
// Like the grading engine it never fails: when the reasoning backend is
// absent or unusable it renders a deterministic template.
type FeedbackSynthesizer struct {
	reasoner Reasoner
	log      zerolog.Logger
}

func NewFeedbackSynthesizer(reasoner Reasoner, log zerolog.Logger) *FeedbackSynthesizer {
	return &FeedbackSynthesizer{reasoner: reasoner, log: log}
}

func (f *FeedbackSynthesizer) Synthesize(ctx context.Context, result domain.GradingResult, submissionText, tone string) domain.FeedbackResult {
	if !domain.ValidTone(tone) {
		tone = domain.ToneConstructive
	}

	raw, err := f.reasoner.Infer(ctx, PromptSpec{
		Prompt: buildFeedbackPrompt(result, submissionText, tone),
		Schema: feedbackSchema,
	})
	if err != nil {
		f.log.Warn().Err(err).Msg("reasoning failed, using template feedback")
		return f.templateFeedback(result, tone)
	}
	if raw == nil {
		return f.templateFeedback(result, tone)
	}

	var fb domain.FeedbackResult
	if err := json.Unmarshal(raw, &fb); err != nil {
		f.log.Warn().Err(err).Msg("unusable feedback response, using template")
		return f.templateFeedback(result, tone)
	}

	// The caller's tone preference wins over whatever the model reports.
	fb.Tone = tone
	if fb.Suggestions == nil {
		fb.Suggestions = []string{}
	}
	if fb.Strengths == nil {
		fb.Strengths = []string{}
	}
	if fb.AreasForImprovement == nil {
		fb.AreasForImprovement = []string{}
	}
	return fb
}

// Improve rewrites existing feedback under a tone preference and focus
// areas, with a deterministic restatement when no backend is available.
func (f *FeedbackSynthesizer) Improve(ctx context.Context, original, tone string, focusAreas []string) domain.FeedbackResult {
	if !domain.ValidTone(tone) {
		tone = domain.ToneConstructive
	}

	raw, err := f.reasoner.Infer(ctx, PromptSpec{
		Prompt: buildImprovePrompt(original, tone, focusAreas),
		Schema: feedbackSchema,
	})
	if err == nil && raw != nil {
		var fb domain.FeedbackResult
		if uerr := json.Unmarshal(raw, &fb); uerr == nil {
			fb.Tone = tone
			if fb.Suggestions == nil {
				fb.Suggestions = []string{}
			}
			if fb.Strengths == nil {
				fb.Strengths = []string{}
			}
			if fb.AreasForImprovement == nil {
				fb.AreasForImprovement = []string{}
			}
			return fb
		}
	}
	if err != nil {
		f.log.Warn().Err(err).Msg("reasoning failed, returning original feedback")
	}

	suggestions := make([]string, 0, len(focusAreas))
	for _, area := range focusAreas {
		suggestions = append(suggestions, fmt.Sprintf("Focus on %s", area))
	}
	return domain.FeedbackResult{
		Narrative:           original,
		Suggestions:         suggestions,
		Strengths:           []string{},
		AreasForImprovement: append([]string{}, focusAreas...),
		Tone:                tone,
	}
}

// templateFeedback reports the score and derives one strength from the
// highest-confidence criterion and one improvement area from the
// lowest-scoring criterion, ties broken by rubric order.
func (f *FeedbackSynthesizer) templateFeedback(result domain.GradingResult, tone string) domain.FeedbackResult {
	narrative := fmt.Sprintf("You earned %.1f/%.1f points (%.1f%%).", result.TotalScore, result.MaxScore, result.Percentage)

	strengths := []string{}
	areas := []string{}
	suggestions := []string{}

	if len(result.CriterionScores) > 0 {
		best := result.CriterionScores[0]
		worst := result.CriterionScores[0]
		for _, s := range result.CriterionScores[1:] {
			if s.Confidence > best.Confidence {
				best = s
			}
			if s.PointsAwarded < worst.PointsAwarded {
				worst = s
			}
		}

		strengths = append(strengths, fmt.Sprintf("Solid work on %s (%.1f/%.1f points)", best.CriterionID, best.PointsAwarded, best.MaxPoints))
		areas = append(areas, fmt.Sprintf("Review %s (%.1f/%.1f points)", worst.CriterionID, worst.PointsAwarded, worst.MaxPoints))
		suggestions = append(suggestions, fmt.Sprintf("Revisit the material behind %s and show your steps", worst.CriterionID))
	}

	return domain.FeedbackResult{
		Narrative:           narrative,
		Suggestions:         suggestions,
		Strengths:           strengths,
		AreasForImprovement: areas,
		Tone:                tone,
	}
}

func buildFeedbackPrompt(result domain.GradingResult, submissionText, tone string) string {
	var b strings.Builder
	b.WriteString("You are a teaching assistant writing feedback for a graded submission.\n\n")
	fmt.Fprintf(&b, "Score: %.1f/%.1f (%.1f%%). Requested tone: %s.\n\n", result.TotalScore, result.MaxScore, result.Percentage, tone)
	b.WriteString("### SCORE BREAKDOWN:\n")
	for _, s := range result.CriterionScores {
		fmt.Fprintf(&b, "- %s: %.1f/%.1f (confidence %.2f): %s\n", s.CriterionID, s.PointsAwarded, s.MaxPoints, s.Confidence, s.Reasoning)
	}
	b.WriteString("\n### STUDENT ANSWER:\n")
	b.WriteString(submissionText)
	b.WriteString("\n\n### OUTPUT (strict JSON, no prose):\n")
	b.WriteString(`{"feedback": "string", "suggestions": ["string"], "strengths": ["string"], "areas_for_improvement": ["string"], "tone": "string"}`)
	return b.String()
}

func buildImprovePrompt(original, tone string, focusAreas []string) string {
	var b strings.Builder
	b.WriteString("Rewrite the following feedback for a student.\n\n")
	fmt.Fprintf(&b, "Requested tone: %s.\n", tone)
	if len(focusAreas) > 0 {
		fmt.Fprintf(&b, "Emphasize these focus areas: %s.\n", strings.Join(focusAreas, ", "))
	}
	b.WriteString("\n### ORIGINAL FEEDBACK:\n")
	b.WriteString(original)
	b.WriteString("\n\n### OUTPUT (strict JSON, no prose):\n")
	b.WriteString(`{"feedback": "string", "suggestions": ["string"], "strengths": ["string"], "areas_for_improvement": ["string"], "tone": "string"}`)
	return b.String()
}
