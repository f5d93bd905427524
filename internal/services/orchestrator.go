package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Lokesh-T-2506/AutoGrader/internal/domain"
	"github.com/Lokesh-T-2506/AutoGrader/internal/storage"
)

const extractionRetryBackoff = 500 * time.Millisecond

// ImageSource resolves a submission's image reference to bytes.
type ImageSource interface {
	ReadImage(ref string) ([]byte, error)
}

// Orchestrator drives one grading job through
// PENDING → EXTRACTING → GRADING → SYNTHESIZING_FEEDBACK → COMPLETED,
// owning the retry and fallback policy between stages. It is the sole
// writer of job state; the engine and synthesizer stay pure.
type Orchestrator struct {
	store     *storage.Store
	images    ImageSource
	extractor TextExtractor
	engine    *GradingEngine
	feedback  *FeedbackSynthesizer
	timeout   time.Duration
	log       zerolog.Logger

	mu       sync.Mutex
	jobLocks map[string]*sync.Mutex
}

func NewOrchestrator(store *storage.Store, images ImageSource, extractor TextExtractor, engine *GradingEngine, feedback *FeedbackSynthesizer, timeout time.Duration, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		store:     store,
		images:    images,
		extractor: extractor,
		engine:    engine,
		feedback:  feedback,
		timeout:   timeout,
		log:       log,
		jobLocks:  map[string]*sync.Mutex{},
	}
}

// StartJob validates the rubric and creates a pending job for the
// submission. A malformed rubric means the job never starts.
func (o *Orchestrator) StartJob(submissionID string, rubric []domain.RubricCriterion, tone string) (domain.GradingJob, error) {
	if err := domain.ValidateRubric(rubric); err != nil {
		return domain.GradingJob{}, err
	}
	if _, err := o.store.GetSubmission(submissionID); err != nil {
		return domain.GradingJob{}, err
	}
	if !domain.ValidTone(tone) {
		tone = domain.ToneConstructive
	}

	return o.store.CreateJob(domain.GradingJob{
		SubmissionID: submissionID,
		State:        domain.JobStatePending,
		Rubric:       rubric,
		Tone:         tone,
	})
}

// Cancel marks a job cancelled. The current stage is allowed to finish but
// its output is discarded and the job will not advance further.
func (o *Orchestrator) Cancel(jobID string) (domain.GradingJob, error) {
	lock := o.lockFor(jobID)
	lock.Lock()
	defer lock.Unlock()

	job, err := o.store.GetJob(jobID)
	if err != nil {
		return domain.GradingJob{}, err
	}
	if job.Terminal() {
		o.forgetLock(jobID)
		return job, nil
	}
	job.Cancelled = true
	return o.store.UpdateJob(job)
}

// Process advances a job until it reaches a terminal state. Re-invoking it
// on a terminal job is a no-op returning the stored result, so a retried
// orchestration call never re-bills an external backend.
func (o *Orchestrator) Process(ctx context.Context, jobID string) (domain.GradingJob, error) {
	lock := o.lockFor(jobID)
	lock.Lock()
	defer lock.Unlock()

	for {
		job, err := o.store.GetJob(jobID)
		if err != nil {
			return domain.GradingJob{}, err
		}
		if job.Terminal() {
			o.forgetLock(jobID)
			return job, nil
		}
		if job.Cancelled {
			job, err = o.failJob(job, "job cancelled")
			if err == nil {
				o.forgetLock(jobID)
			}
			return job, err
		}

		switch job.State {
		case domain.JobStatePending:
			job, err = o.runExtraction(ctx, job)
		case domain.JobStateExtracting:
			// Interrupted mid-extraction on a previous run; redo the stage.
			job, err = o.runExtraction(ctx, job)
		case domain.JobStateGrading:
			job, err = o.runGrading(ctx, job)
		case domain.JobStateSynthesizing:
			job, err = o.runFeedback(ctx, job)
		default:
			return domain.GradingJob{}, fmt.Errorf("job %s in unknown state %s", job.ID, job.State)
		}
		if err != nil {
			return domain.GradingJob{}, err
		}
	}
}

func (o *Orchestrator) runExtraction(ctx context.Context, job domain.GradingJob) (domain.GradingJob, error) {
	job.State = domain.JobStateExtracting
	job, err := o.store.UpdateJob(job)
	if err != nil {
		return domain.GradingJob{}, err
	}

	sub, err := o.store.GetSubmission(job.SubmissionID)
	if err != nil {
		return o.failJob(job, err.Error())
	}

	imageBytes, err := o.images.ReadImage(sub.ImageRef)
	if err != nil {
		return o.failJob(job, fmt.Sprintf("read submission image: %v", err))
	}

	extraction, err := o.extractWithRetry(ctx, imageBytes)
	if err != nil {
		// OCR failure is fatal: there is no fallback text to grade.
		return o.failJob(job, err.Error())
	}

	// A cancellation that landed while OCR was running discards its output.
	job, err = o.store.GetJob(job.ID)
	if err != nil {
		return domain.GradingJob{}, err
	}
	if job.Cancelled {
		return o.failJob(job, "job cancelled")
	}

	if _, err := o.store.SetExtraction(sub.ID, extraction.Text, extraction.Confidence); err != nil {
		return o.failJob(job, err.Error())
	}

	job.State = domain.JobStateGrading
	return o.store.UpdateJob(job)
}

// extractWithRetry calls the extractor under the stage timeout, retrying
// once with backoff for transient failures only.
func (o *Orchestrator) extractWithRetry(ctx context.Context, imageBytes []byte) (Extraction, error) {
	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		stageCtx := ctx
		if o.timeout > 0 {
			var cancel context.CancelFunc
			stageCtx, cancel = context.WithTimeout(ctx, o.timeout)
			defer cancel()
		}

		extraction, err := o.extractor.Extract(stageCtx, imageBytes)
		if err == nil {
			return extraction, nil
		}
		lastErr = err

		var extErr *domain.ExtractionError
		if !errors.As(err, &extErr) || !extErr.Transient || attempt == 2 {
			return Extraction{}, err
		}
		o.log.Warn().Err(err).Int("attempt", attempt).Msg("extraction failed, retrying")
		time.Sleep(time.Duration(attempt) * extractionRetryBackoff)
	}
	return Extraction{}, lastErr
}

func (o *Orchestrator) runGrading(ctx context.Context, job domain.GradingJob) (domain.GradingJob, error) {
	sub, err := o.store.GetSubmission(job.SubmissionID)
	if err != nil {
		return o.failJob(job, err.Error())
	}
	if sub.ExtractedText == nil {
		return o.failJob(job, "submission has no extracted text")
	}

	result, err := o.engine.Grade(ctx, *sub.ExtractedText, job.Rubric, sub.OCRConfidence)
	if err != nil {
		// Only validation failures surface here; reasoning failures have
		// already degraded to the heuristic inside the engine.
		return o.failJob(job, err.Error())
	}

	job, err = o.store.GetJob(job.ID)
	if err != nil {
		return domain.GradingJob{}, err
	}
	if job.Cancelled {
		return o.failJob(job, "job cancelled")
	}

	job.Result = &result
	job.State = domain.JobStateSynthesizing
	return o.store.UpdateJob(job)
}

func (o *Orchestrator) runFeedback(ctx context.Context, job domain.GradingJob) (domain.GradingJob, error) {
	if job.Result == nil {
		return o.failJob(job, "job has no grading result")
	}

	sub, err := o.store.GetSubmission(job.SubmissionID)
	if err != nil {
		return o.failJob(job, err.Error())
	}

	text := ""
	if sub.ExtractedText != nil {
		text = *sub.ExtractedText
	}

	feedback := o.feedback.Synthesize(ctx, *job.Result, text, job.Tone)

	job, err = o.store.GetJob(job.ID)
	if err != nil {
		return domain.GradingJob{}, err
	}
	if job.Cancelled {
		return o.failJob(job, "job cancelled")
	}

	job.Feedback = &feedback
	job.State = domain.JobStateCompleted
	return o.store.UpdateJob(job)
}

// failJob moves a job to its terminal FAILED state with a human-readable
// reason and no partial results.
func (o *Orchestrator) failJob(job domain.GradingJob, reason string) (domain.GradingJob, error) {
	o.log.Error().Str("job", job.ID).Str("reason", reason).Msg("grading job failed")

	job.State = domain.JobStateFailed
	job.Error = strings.TrimSpace(reason)
	job.Result = nil
	job.Feedback = nil
	return o.store.UpdateJob(job)
}

func (o *Orchestrator) lockFor(jobID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()

	lock, ok := o.jobLocks[jobID]
	if !ok {
		lock = &sync.Mutex{}
		o.jobLocks[jobID] = lock
	}
	return lock
}

// forgetLock drops a job's lock entry. Terminal jobs never transition
// again, so the map does not grow with the job history.
func (o *Orchestrator) forgetLock(jobID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.jobLocks, jobID)
}
