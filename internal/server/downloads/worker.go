package downloads

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/fileflow/internal/common"
	"github.com/dmitrijs2005/fileflow/internal/filex"
	"github.com/dmitrijs2005/fileflow/internal/logging"
	"github.com/dmitrijs2005/fileflow/internal/server/fetch"
	"github.com/dmitrijs2005/fileflow/internal/server/models"
)

// Queue yields execution requests. Consume blocks for a while and returns
// nil, nil when nothing arrived.
type Queue interface {
	Consume(ctx context.Context) (*models.DownloadRequested, error)
}

type Fetcher interface {
	Open(ctx context.Context, url string) (*fetch.Response, error)
}

type ObjectStore interface {
	PutObject(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) error
}

type WorkerConfig struct {
	// Bucket receives downloaded objects.
	Bucket       string
	FetchTimeout time.Duration
	// ProgressStep is how many bytes pass between progress updates.
	ProgressStep int64
	// SpoolDir holds bodies of unknown length while they are stored.
	SpoolDir string
}

// Worker executes download attempts requested through the queue.
type Worker struct {
	service    *Service
	queue      Queue
	fetcher    Fetcher
	store      ObjectStore
	config     WorkerConfig
	log        logging.Logger
	newAssetID func() string
	idleDelay  time.Duration
}

func NewWorker(service *Service, queue Queue, fetcher Fetcher, store ObjectStore, config WorkerConfig, log logging.Logger) *Worker {
	if config.FetchTimeout <= 0 {
		config.FetchTimeout = 10 * time.Minute
	}
	return &Worker{
		service:    service,
		queue:      queue,
		fetcher:    fetcher,
		store:      store,
		config:     config,
		log:        log.With("component", "download-worker"),
		newAssetID: uuid.NewString,
		idleDelay:  time.Second,
	}
}

// ObjectKey is where the result of a download is stored.
func ObjectKey(d *models.ExternalDownload) string {
	return fmt.Sprintf("downloads/%s/%s", d.TenantID, d.ID)
}

// Run consumes requests until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		req, err := w.queue.Consume(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			w.log.Error(ctx, "consume failed", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(w.idleDelay):
			}
			continue
		}
		if req == nil {
			continue
		}
		if err := w.Handle(ctx, req); err != nil {
			w.log.Error(ctx, "download attempt not recorded", "download", req.DownloadID, "error", err)
		}
	}
	return nil
}

// Handle runs one attempt. Requests for tasks that are gone or no longer
// PENDING are duplicates and are dropped.
func (w *Worker) Handle(ctx context.Context, req *models.DownloadRequested) error {
	d, err := w.service.Start(ctx, req.DownloadID)
	if errors.Is(err, common.ErrInvalidSessionState) || errors.Is(err, common.ErrDownloadNotFound) {
		w.log.Debug(ctx, "dropping stale request", "download", req.DownloadID, "attempt", req.Attempt, "reason", err)
		return nil
	}
	if err != nil {
		return err
	}

	assetID, err := w.execute(ctx, d)
	if err == nil {
		_, err = w.service.Complete(ctx, d.ID, assetID)
		return err
	}

	code := fetch.Code(err)
	w.log.Warn(ctx, "download attempt failed", "download", d.ID, "attempt", d.RetryCount, "code", code, "error", err)

	if _, err := w.service.Fail(ctx, d.ID, code, err.Error()); err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	return nil
}

func (w *Worker) execute(ctx context.Context, d *models.ExternalDownload) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, w.config.FetchTimeout)
	defer cancel()

	resp, err := w.fetcher.Open(ctx, d.SourceURL)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var total *int64
	if resp.ContentLength >= 0 {
		n := resp.ContentLength
		total = &n
	}

	progress := fetch.NewProgressReader(resp.Body, w.config.ProgressStep, func(n int64) {
		if err := w.service.Progress(ctx, d.ID, n, total); err != nil {
			w.log.Debug(ctx, "progress not recorded", "download", d.ID, "error", err)
		}
	})

	body, contentType, err := fetch.Sniff(progress, resp.ContentType)
	if err != nil {
		return "", err
	}

	size := resp.ContentLength
	if size < 0 {
		spooled, err := filex.Spool(w.config.SpoolDir, "fileflow-download-*", body)
		if err != nil {
			if rerr := progress.Err(); rerr != nil {
				return "", rerr
			}
			return "", &fetch.Error{Code: models.CodeStorageError, Err: err}
		}
		defer spooled.Remove()
		body, size = spooled, spooled.Size
	}

	if err := w.store.PutObject(ctx, w.config.Bucket, ObjectKey(d), body, size, contentType); err != nil {
		if rerr := progress.Err(); rerr != nil {
			return "", rerr
		}
		return "", &fetch.Error{Code: models.CodeStorageError, Err: err}
	}

	if err := w.service.Progress(ctx, d.ID, progress.N(), &size); err != nil {
		w.log.Debug(ctx, "final progress not recorded", "download", d.ID, "error", err)
	}
	return w.newAssetID(), nil
}
