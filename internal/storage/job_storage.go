package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/veranemoloko/media-pipeline/internal/domain"
	errpkg "github.com/veranemoloko/media-pipeline/internal/errors"
)

// JobStorage keeps update jobs in memory and persists one JSON file per job.
type JobStorage struct {
	mu   sync.RWMutex
	dir  string
	jobs map[uuid.UUID]*domain.UpdateJob
}

func NewJobStorage(dir string) (*JobStorage, error) {
	storage := &JobStorage{
		dir:  dir,
		jobs: make(map[uuid.UUID]*domain.UpdateJob),
	}

	if err := storage.loadJobs(); err != nil {
		return nil, fmt.Errorf("load jobs: %w", err)
	}

	return storage, nil
}

func (s *JobStorage) loadJobs() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read dir: %w", err)
	}

	for _, entry := range entries {
		if filepath.Ext(entry.Name()) == ".json" {
			data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
			if err != nil {
				return fmt.Errorf("read job file: %w", err)
			}

			var job domain.UpdateJob
			if err := json.Unmarshal(data, &job); err != nil {
				return fmt.Errorf("unmarshal job: %w", err)
			}

			s.jobs[job.ID] = &job
		}
	}

	return nil
}

// Save stores a copy of job and writes it to disk.
func (s *JobStorage) Save(job *domain.UpdateJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *job
	s.jobs[job.ID] = &stored
	return s.persist(&stored)
}

// Get returns a copy of the job with the given id.
func (s *JobStorage) Get(id uuid.UUID) (*domain.UpdateJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[id]
	if !exists {
		return nil, errpkg.E(errpkg.KindJobNotFound, "get job", nil)
	}
	out := *job
	return &out, nil
}

// GetAll returns copies of all stored jobs.
func (s *JobStorage) GetAll() []*domain.UpdateJob {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]*domain.UpdateJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		out := *job
		jobs = append(jobs, &out)
	}
	return jobs
}

func (s *JobStorage) persist(job *domain.UpdateJob) error {
	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}

	filename := filepath.Join(s.dir, job.ID.String()+".json")
	tmp := filename + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write job file: %w", err)
	}
	if err := os.Rename(tmp, filename); err != nil {
		return fmt.Errorf("rename job file: %w", err)
	}

	return nil
}
