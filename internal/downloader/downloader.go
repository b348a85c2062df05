package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/veranemoloko/media-pipeline/internal/domain"
	errpkg "github.com/veranemoloko/media-pipeline/internal/errors"
	"github.com/veranemoloko/media-pipeline/internal/metrics"
)

const chunkSize = 32 * 1024

var errTooLarge = errors.New("response exceeds maximum file size")

// Downloader streams a network source into a local file. It never resumes
// and never retries: every call starts from byte zero, and the caller
// decides whether a failure is worth another attempt.
type Downloader struct {
	httpClient  *http.Client
	maxFileSize int64
	logger      *slog.Logger
}

// New returns a Downloader. A nil client gets a client bounded by timeout;
// maxFileSize <= 0 disables the size limit.
func New(client *http.Client, timeout time.Duration, maxFileSize int64, logger *slog.Logger) *Downloader {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Downloader{
		httpClient:  client,
		maxFileSize: maxFileSize,
		logger:      logger,
	}
}

// Download fetches src into dest and returns dest once the file is synced
// and closed. onProgress, if set, is called after every written chunk with
// cumulative byte counts. On cancellation or failure the partial file is
// removed.
func (d *Downloader) Download(ctx context.Context, src domain.ResolvedSource, dest string, onProgress domain.ProgressFunc) (string, error) {
	const op = "downloader.Download"

	url := src.NetworkURL()
	if url == "" {
		return "", errpkg.Ef(errpkg.KindInvalidInput, op, "source %q has no network URL", src.Kind)
	}
	if dest == "" {
		return "", errpkg.Ef(errpkg.KindInvalidInput, op, "empty destination path")
	}

	task := domain.NewDownloadTask(src, dest)
	start := time.Now()
	metrics.DownloadsTotal.Inc()

	err := d.run(ctx, task, url, onProgress)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			err = errpkg.E(errpkg.KindCancelled, op, err)
		} else if errpkg.KindOf(err) == errpkg.KindInternal {
			err = errpkg.E(errpkg.KindDownloadFailed, op, err)
		}
		d.finishFailed(task, err)
		return "", err
	}

	task.Transition(domain.DownloadStatusCompleted)
	metrics.DownloadsSuccess.Inc()
	metrics.DownloadDuration.Observe(time.Since(start).Seconds())
	d.logger.Info("download completed",
		"url", url,
		"path", dest,
		"bytes", task.BytesReceived,
		"duration", time.Since(start))

	return dest, nil
}

func (d *Downloader) run(ctx context.Context, task *domain.DownloadTask, url string, onProgress domain.ProgressFunc) error {
	const op = "downloader.Download"

	if err := ctx.Err(); err != nil {
		return err
	}

	// A stale file at dest is never resumed.
	if err := os.Remove(task.DestinationPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errpkg.E(errpkg.KindStorageUnavailable, op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errpkg.E(errpkg.KindInvalidInput, op, err)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	if resp.ContentLength > 0 {
		total := resp.ContentLength
		task.TotalBytes = &total
		if d.maxFileSize > 0 && total > d.maxFileSize {
			return fmt.Errorf("%w: %d > %d", errTooLarge, total, d.maxFileSize)
		}
	}

	file, err := os.OpenFile(task.DestinationPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return errpkg.E(errpkg.KindStorageUnavailable, op, err)
	}
	task.Transition(domain.DownloadStatusInProgress)

	if err := d.copyWithContext(ctx, task, file, resp.Body, onProgress); err != nil {
		file.Close()
		return err
	}

	if err := file.Sync(); err != nil {
		file.Close()
		return errpkg.E(errpkg.KindStorageUnavailable, op, err)
	}
	if err := file.Close(); err != nil {
		return errpkg.E(errpkg.KindStorageUnavailable, op, err)
	}
	return nil
}

// copyWithContext copies src into dst one chunk at a time, checking ctx
// before every read.
func (d *Downloader) copyWithContext(ctx context.Context, task *domain.DownloadTask, dst *os.File, src io.Reader, onProgress domain.ProgressFunc) error {
	buf := make([]byte, chunkSize)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		nr, rerr := src.Read(buf)
		if nr > 0 {
			if d.maxFileSize > 0 && task.BytesReceived+int64(nr) > d.maxFileSize {
				return errTooLarge
			}
			nw, werr := dst.Write(buf[:nr])
			if nw > 0 {
				task.BytesReceived += int64(nw)
				metrics.DownloadBytes.Add(float64(nw))
				if onProgress != nil {
					onProgress(task.Progress())
				}
			}
			if werr != nil {
				return errpkg.E(errpkg.KindStorageUnavailable, "downloader.Download", werr)
			}
			if nr != nw {
				return io.ErrShortWrite
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				if task.TotalBytes != nil && task.BytesReceived != *task.TotalBytes {
					return io.ErrUnexpectedEOF
				}
				return nil
			}
			return rerr
		}
	}
}

func (d *Downloader) finishFailed(task *domain.DownloadTask, err error) {
	if rmErr := os.Remove(task.DestinationPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
		d.logger.Error("failed to remove partial file",
			"path", task.DestinationPath,
			"error", rmErr)
	}

	if errors.Is(err, errpkg.ErrCancelled) {
		task.Transition(domain.DownloadStatusCancelled)
		metrics.DownloadsCancelled.Inc()
		d.logger.Info("download cancelled",
			"url", task.Source.NetworkURL(),
			"bytes", task.BytesReceived)
		return
	}

	task.Transition(domain.DownloadStatusFailed)
	metrics.DownloadsFailed.Inc()
	d.logger.Error("download failed",
		"url", task.Source.NetworkURL(),
		"bytes", task.BytesReceived,
		"error", err)
}
