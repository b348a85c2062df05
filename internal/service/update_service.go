package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/veranemoloko/media-pipeline/internal/domain"
	errpkg "github.com/veranemoloko/media-pipeline/internal/errors"
	"github.com/veranemoloko/media-pipeline/internal/metrics"
	"github.com/veranemoloko/media-pipeline/internal/storage"
)

const (
	maxManifestSize  = 1 << 20
	progressInterval = 250 * time.Millisecond
)

var errShuttingDown = errors.New("service is shutting down")

// Downloader is the chunked download contract shared with the media
// pipeline.
type Downloader interface {
	Download(ctx context.Context, src domain.ResolvedSource, dest string, onProgress domain.ProgressFunc) (string, error)
}

// URLValidator checks URLs before they are fetched.
type URLValidator interface {
	ValidateURL(raw string) error
	Struct(s any) error
}

// UpdateService downloads, verifies and installs application updates. Job
// state is written only by the event processor goroutine.
type UpdateService struct {
	jobs       *storage.JobStorage
	downloader Downloader
	installer  Installer
	validator  URLValidator
	httpClient *http.Client
	updateDir  string

	eventChan    chan domain.UpdateEvent
	logger       *slog.Logger
	wg           sync.WaitGroup
	shutdownChan chan struct{}
	shutdownOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc
}

func NewUpdateService(
	jobs *storage.JobStorage,
	downloader Downloader,
	installer Installer,
	validator URLValidator,
	httpClient *http.Client,
	updateDir string,
	logger *slog.Logger,
) *UpdateService {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	ctx, cancel := context.WithCancel(context.Background())

	service := &UpdateService{
		jobs:         jobs,
		downloader:   downloader,
		installer:    installer,
		validator:    validator,
		httpClient:   httpClient,
		updateDir:    updateDir,
		eventChan:    make(chan domain.UpdateEvent, 100),
		logger:       logger,
		shutdownChan: make(chan struct{}),
		ctx:          ctx,
		cancel:       cancel,
	}

	service.wg.Add(1)
	go service.eventProcessor()

	return service
}

// CreateJob registers a job for manifestURL and starts it asynchronously.
func (s *UpdateService) CreateJob(ctx context.Context, manifestURL string) (*domain.UpdateJob, error) {
	const op = "update.CreateJob"

	if err := s.validator.ValidateURL(manifestURL); err != nil {
		return nil, errpkg.E(errpkg.KindInvalidInput, op, err)
	}

	select {
	case <-s.shutdownChan:
		return nil, errpkg.E(errpkg.KindInternal, op, errShuttingDown)
	default:
	}

	now := time.Now()
	job := &domain.UpdateJob{
		ID:          uuid.New(),
		ManifestURL: manifestURL,
		Status:      domain.UpdateStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	select {
	case s.eventChan <- domain.UpdateEvent{
		Type:  domain.EventCreateJob,
		JobID: job.ID,
		Job:   job,
	}:
		s.logger.Info("update job created",
			"job_id", job.ID,
			"manifest_url", manifestURL,
		)
		metrics.UpdateJobs.WithLabelValues(string(domain.UpdateStatusPending)).Inc()
		out := *job
		return &out, nil
	case <-s.shutdownChan:
		return nil, errpkg.E(errpkg.KindInternal, op, errShuttingDown)
	case <-ctx.Done():
		return nil, errpkg.E(errpkg.KindCancelled, op, ctx.Err())
	}
}

func (s *UpdateService) GetJob(id uuid.UUID) (*domain.UpdateJob, error) {
	return s.jobs.Get(id)
}

func (s *UpdateService) ListJobs() []*domain.UpdateJob {
	return s.jobs.GetAll()
}

// ProcessJob runs one job to completion or failure.
func (s *UpdateService) ProcessJob(ctx context.Context, job *domain.UpdateJob) error {
	s.logger.Info("start processing update job",
		"job_id", job.ID,
		"manifest_url", job.ManifestURL,
	)

	if err := s.setStatus(ctx, job.ID, domain.UpdateStatusDownloading); err != nil {
		return err
	}

	manifest, err := s.fetchManifest(ctx, job.ManifestURL)
	if err != nil {
		return s.failJob(job.ID, err)
	}
	if err := s.emit(ctx, job.ID, &domain.UpdateJobUpdate{Manifest: manifest}); err != nil {
		return err
	}

	artifact := filepath.Join(s.updateDir, job.ID.String()+".download")
	var lastEmit time.Time
	onProgress := func(p domain.Progress) {
		done := p.TotalBytes != nil && p.BytesReceived == *p.TotalBytes
		if !done && time.Since(lastEmit) < progressInterval {
			return
		}
		lastEmit = time.Now()
		_ = s.emit(ctx, job.ID, &domain.UpdateJobUpdate{Progress: &p})
	}

	path, err := s.downloader.Download(ctx, domain.RemoteDirect(manifest.URL), artifact, onProgress)
	if err != nil {
		return s.failJob(job.ID, err)
	}
	if err := s.emit(ctx, job.ID, &domain.UpdateJobUpdate{FilePath: path}); err != nil {
		return err
	}

	if err := s.setStatus(ctx, job.ID, domain.UpdateStatusVerifying); err != nil {
		return err
	}
	if err := verifyArtifact(path, manifest); err != nil {
		s.removeArtifact(path)
		return s.failJob(job.ID, err)
	}

	if err := s.setStatus(ctx, job.ID, domain.UpdateStatusInstalling); err != nil {
		return err
	}
	installed, err := s.installer.Install(ctx, manifest, path)
	// The artifact is gone before the job reports a terminal status.
	s.removeArtifact(path)
	if err != nil {
		return s.failJob(job.ID, err)
	}

	status := domain.UpdateStatusCompleted
	if err := s.emit(ctx, job.ID, &domain.UpdateJobUpdate{Status: &status, InstalledPath: installed}); err != nil {
		return err
	}

	s.logger.Info("update installed",
		"job_id", job.ID,
		"name", manifest.Name,
		"version", manifest.Version,
		"path", installed,
	)
	return nil
}

func (s *UpdateService) removeArtifact(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn("failed to remove update artifact", "path", path, "error", err)
	}
}

func (s *UpdateService) fetchManifest(ctx context.Context, manifestURL string) (*domain.ReleaseManifest, error) {
	const op = "update.fetchManifest"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, manifestURL, nil)
	if err != nil {
		return nil, errpkg.E(errpkg.KindInvalidInput, op, err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errpkg.E(errpkg.KindCancelled, op, ctx.Err())
		}
		return nil, errpkg.E(errpkg.KindNetworkUnavailable, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errpkg.Ef(errpkg.KindDownloadFailed, op, "unexpected status code: %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestSize))
	if err != nil {
		return nil, errpkg.E(errpkg.KindNetworkUnavailable, op, err)
	}

	var manifest domain.ReleaseManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, errpkg.E(errpkg.KindInvalidInput, op, fmt.Errorf("parse manifest: %w", err))
	}
	manifest.SHA256 = strings.ToLower(strings.TrimSpace(manifest.SHA256))

	if err := s.validator.Struct(manifest); err != nil {
		return nil, errpkg.E(errpkg.KindInvalidInput, op, fmt.Errorf("invalid manifest: %w", err))
	}
	if err := s.validator.ValidateURL(manifest.URL); err != nil {
		return nil, errpkg.E(errpkg.KindInvalidInput, op, err)
	}

	return &manifest, nil
}

func verifyArtifact(path string, manifest *domain.ReleaseManifest) error {
	const op = "update.verify"

	f, err := os.Open(path)
	if err != nil {
		return errpkg.E(errpkg.KindStorageUnavailable, op, err)
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return errpkg.E(errpkg.KindStorageUnavailable, op, err)
	}

	if manifest.Size > 0 && n != manifest.Size {
		return errpkg.Ef(errpkg.KindDownloadFailed, op, "size mismatch: got %d, want %d", n, manifest.Size)
	}
	if sum := hex.EncodeToString(h.Sum(nil)); sum != manifest.SHA256 {
		return errpkg.Ef(errpkg.KindDownloadFailed, op, "checksum mismatch: got %s, want %s", sum, manifest.SHA256)
	}
	return nil
}

func (s *UpdateService) setStatus(ctx context.Context, id uuid.UUID, status domain.UpdateStatus) error {
	return s.emit(ctx, id, &domain.UpdateJobUpdate{Status: &status})
}

// failJob records err on the job. Cancellation during shutdown leaves the
// job as is so that it is picked up again on the next start.
func (s *UpdateService) failJob(id uuid.UUID, err error) error {
	if errpkg.KindOf(err) == errpkg.KindCancelled {
		return err
	}

	s.logger.Error("update job failed",
		"job_id", id,
		"error", err,
	)

	status := domain.UpdateStatusFailed
	update := &domain.UpdateJobUpdate{Status: &status, Error: err.Error()}
	if emitErr := s.emit(context.Background(), id, update); emitErr != nil {
		return fmt.Errorf("%w (state not recorded: %v)", err, emitErr)
	}
	return err
}

func (s *UpdateService) emit(ctx context.Context, id uuid.UUID, update *domain.UpdateJobUpdate) error {
	select {
	case s.eventChan <- domain.UpdateEvent{
		Type:    domain.EventUpdateJob,
		JobID:   id,
		Updates: update,
	}:
		return nil
	case <-s.shutdownChan:
		return errShuttingDown
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *UpdateService) eventProcessor() {
	defer s.wg.Done()

	for {
		select {
		case event := <-s.eventChan:
			s.handleEvent(event)
		case <-s.shutdownChan:
			for {
				select {
				case event := <-s.eventChan:
					if event.Type == domain.EventUpdateJob {
						s.applyUpdate(event)
					}
				default:
					return
				}
			}
		}
	}
}

func (s *UpdateService) handleEvent(event domain.UpdateEvent) {
	switch event.Type {
	case domain.EventCreateJob:
		if err := s.jobs.Save(event.Job); err != nil {
			s.logger.Error("failed to save update job",
				"error", err,
				"job_id", event.JobID,
			)
			return
		}
		s.logger.Debug("update job saved to storage",
			"job_id", event.JobID,
		)
		s.start(event.Job)

	case domain.EventUpdateJob:
		s.applyUpdate(event)
	}
}

func (s *UpdateService) start(job *domain.UpdateJob) {
	s.wg.Add(1)
	go func(job *domain.UpdateJob) {
		defer s.wg.Done()
		if err := s.ProcessJob(s.ctx, job); err != nil {
			s.logger.Error("failed to process update job",
				"error", err,
				"job_id", job.ID,
			)
		}
	}(job)
}

func (s *UpdateService) applyUpdate(event domain.UpdateEvent) {
	job, err := s.jobs.Get(event.JobID)
	if err != nil {
		s.logger.Error("failed to get update job for update",
			"error", err,
			"job_id", event.JobID,
		)
		return
	}

	u := event.Updates
	if u.Status != nil {
		if !job.Status.CanTransition(*u.Status) {
			s.logger.Warn("ignoring update job status regression",
				"job_id", event.JobID,
				"from", job.Status,
				"to", *u.Status,
			)
			return
		}
		job.Status = *u.Status
		metrics.UpdateJobs.WithLabelValues(string(job.Status)).Inc()
	}
	if u.Manifest != nil {
		job.Manifest = u.Manifest
	}
	if u.Progress != nil {
		job.BytesReceived = u.Progress.BytesReceived
		job.TotalBytes = u.Progress.TotalBytes
	}
	if u.FilePath != "" {
		job.FilePath = u.FilePath
	}
	if u.InstalledPath != "" {
		job.InstalledPath = u.InstalledPath
	}
	if u.Error != "" {
		job.Error = u.Error
	}
	job.UpdatedAt = time.Now()

	if err := s.jobs.Save(job); err != nil {
		s.logger.Error("failed to save update job",
			"error", err,
			"job_id", event.JobID,
			"status", job.Status,
		)
		return
	}
	s.logger.Debug("update job state updated",
		"job_id", event.JobID,
		"status", job.Status,
	)
}

// RecoverPendingJobs restarts jobs left unfinished by a previous run.
// Pending jobs are started as they are; jobs interrupted mid-way are marked
// failed and replaced by a fresh job for the same manifest.
func (s *UpdateService) RecoverPendingJobs(ctx context.Context) (int, error) {
	recovered := 0
	for _, job := range s.jobs.GetAll() {
		if err := ctx.Err(); err != nil {
			return recovered, err
		}

		switch {
		case job.Status == domain.UpdateStatusPending:
			s.start(job)
		case !job.Status.Terminal():
			status := domain.UpdateStatusFailed
			if err := s.emit(ctx, job.ID, &domain.UpdateJobUpdate{Status: &status, Error: "interrupted by restart"}); err != nil {
				return recovered, err
			}
			if _, err := s.CreateJob(ctx, job.ManifestURL); err != nil {
				s.logger.Error("failed to recreate interrupted update job",
					"job_id", job.ID,
					"error", err,
				)
				continue
			}
		default:
			continue
		}
		recovered++
	}

	if recovered > 0 {
		s.logger.Info("recovered update jobs", "count", recovered)
	}
	return recovered, nil
}

// Shutdown cancels in-flight jobs and waits for the event processor.
func (s *UpdateService) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down update service")

	s.shutdownOnce.Do(func() {
		s.cancel()
		close(s.shutdownChan)
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("update service shutdown completed")
		return nil
	case <-ctx.Done():
		s.logger.Warn("update service shutdown timed out")
		return ctx.Err()
	}
}
