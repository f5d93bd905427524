package domain

import (
	"fmt"
	"strings"
)

// ValidateRubric rejects rubrics the pipeline cannot score sensibly:
// criteria without ids, duplicate ids and non-positive point values.
// An empty rubric is valid and grades to a zero max score.
func ValidateRubric(rubric []RubricCriterion) error {
	seen := make(map[string]struct{}, len(rubric))
	for i, criterion := range rubric {
		id := strings.TrimSpace(criterion.ID)
		if id == "" {
			return &ValidationError{Reason: fmt.Sprintf("criterion %d has an empty id", i)}
		}
		if _, ok := seen[id]; ok {
			return &ValidationError{Reason: fmt.Sprintf("duplicate criterion id %q", id)}
		}
		seen[id] = struct{}{}

		if criterion.MaxPoints <= 0 {
			return &ValidationError{Reason: fmt.Sprintf("criterion %q has non-positive max_points", id)}
		}
	}
	return nil
}

// ConceptSet merges keywords and required concepts, preserving order and
// dropping duplicates and blanks. This is the matching signal for the
// heuristic grading path.
func (c RubricCriterion) ConceptSet() []string {
	seen := make(map[string]struct{}, len(c.Keywords)+len(c.RequiredConcepts))
	merged := make([]string, 0, len(c.Keywords)+len(c.RequiredConcepts))
	for _, concept := range append(append([]string{}, c.Keywords...), c.RequiredConcepts...) {
		concept = strings.TrimSpace(concept)
		if concept == "" {
			continue
		}
		key := strings.ToLower(concept)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		merged = append(merged, concept)
	}
	return merged
}
