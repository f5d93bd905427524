package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Lokesh-T-2506/AutoGrader/internal/domain"
)

type metaData struct {
	Submissions map[string]domain.Submission `json:"submissions"`
	Jobs        map[string]domain.GradingJob `json:"jobs"`
}

// Store is the repository behind the grading pipeline: submissions and
// jobs in a single JSON file, rewritten atomically on every mutation.
type Store struct {
	mu   sync.RWMutex
	path string
	data metaData
}

func NewStore(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	store := &Store{path: filepath.Join(baseDir, "meta.json")}
	if err := store.Load(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = metaData{
		Submissions: map[string]domain.Submission{},
		Jobs:        map[string]domain.GradingJob{},
	}

	file, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return s.saveLocked()
	}
	if err != nil {
		return fmt.Errorf("open meta file: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(&s.data); err != nil {
		if errors.Is(err, io.EOF) {
			return s.saveLocked()
		}
		return fmt.Errorf("decode meta file: %w", err)
	}

	s.ensureMaps()
	return nil
}

func (s *Store) CreateSubmission(sub domain.Submission) (domain.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureMaps()

	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	now := time.Now().Unix()
	if sub.CreatedAt == 0 {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now

	s.data.Submissions[sub.ID] = sub

	if err := s.saveLocked(); err != nil {
		return domain.Submission{}, err
	}
	return sub, nil
}

func (s *Store) GetSubmission(id string) (domain.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.data.Submissions[id]
	if !ok {
		return domain.Submission{}, fmt.Errorf("submission %s not found", id)
	}
	return sub, nil
}

// SetExtraction records the OCR output on a submission. This is the only
// mutation a submission sees after creation.
func (s *Store) SetExtraction(id, text string, confidence float64) (domain.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.data.Submissions[id]
	if !ok {
		return domain.Submission{}, fmt.Errorf("submission %s not found", id)
	}

	sub.ExtractedText = &text
	sub.OCRConfidence = &confidence
	sub.UpdatedAt = time.Now().Unix()
	s.data.Submissions[id] = sub

	if err := s.saveLocked(); err != nil {
		return domain.Submission{}, err
	}
	return sub, nil
}

func (s *Store) CreateJob(job domain.GradingJob) (domain.GradingJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureMaps()

	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.State == "" {
		job.State = domain.JobStatePending
	}
	now := time.Now().Unix()
	if job.CreatedAt == 0 {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	s.data.Jobs[job.ID] = job

	if err := s.saveLocked(); err != nil {
		return domain.GradingJob{}, err
	}
	return job, nil
}

func (s *Store) GetJob(id string) (domain.GradingJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.data.Jobs[id]
	if !ok {
		return domain.GradingJob{}, fmt.Errorf("job %s not found", id)
	}
	return job, nil
}

// UpdateJob persists a job mutation. Terminal jobs are frozen: an update
// against a COMPLETED or FAILED job is rejected here so no code path can
// leave a terminal state.
func (s *Store) UpdateJob(job domain.GradingJob) (domain.GradingJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.data.Jobs[job.ID]
	if !ok {
		return domain.GradingJob{}, fmt.Errorf("job %s not found", job.ID)
	}
	if existing.Terminal() && existing.State != job.State {
		return domain.GradingJob{}, fmt.Errorf("job %s is %s and cannot transition", job.ID, existing.State)
	}

	if job.CreatedAt == 0 {
		job.CreatedAt = existing.CreatedAt
	}
	job.UpdatedAt = time.Now().Unix()
	s.data.Jobs[job.ID] = job

	if err := s.saveLocked(); err != nil {
		return domain.GradingJob{}, err
	}
	return job, nil
}

func (s *Store) ListJobs() []domain.GradingJob {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]domain.GradingJob, 0, len(s.data.Jobs))
	for _, job := range s.data.Jobs {
		jobs = append(jobs, job)
	}
	return jobs
}

func (s *Store) saveLocked() error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), "meta-*.json")
	if err != nil {
		return fmt.Errorf("create temp meta: %w", err)
	}

	encoder := json.NewEncoder(tmp)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(s.data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("encode meta: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp meta: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace meta file: %w", err)
	}

	return nil
}

func (s *Store) ensureMaps() {
	if s.data.Submissions == nil {
		s.data.Submissions = map[string]domain.Submission{}
	}
	if s.data.Jobs == nil {
		s.data.Jobs = map[string]domain.GradingJob{}
	}
}
