package domain

import "fmt"

// ExtractionError means the image could not be decoded or the recognition
// engine failed. It is fatal to a grading job. Transient marks engine or
// transport failures the orchestrator may retry once; an undecodable image
// never is.
type ExtractionError struct {
	Reason    string
	Transient bool
	Err       error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extraction: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("extraction: %s", e.Reason)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// ReasoningError means the generative backend failed or returned output
// that does not satisfy the expected schema. Transient marks transport
// failures that may be retried once; a malformed response never is.
type ReasoningError struct {
	Reason    string
	Transient bool
	Err       error
}

func (e *ReasoningError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("reasoning: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("reasoning: %s", e.Reason)
}

func (e *ReasoningError) Unwrap() error { return e.Err }

// ValidationError means a malformed rubric or payload; the job never starts.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s", e.Reason)
}
