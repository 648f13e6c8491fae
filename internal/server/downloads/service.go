// Package downloads manages external download tasks: the server fetches a
// remote URL into object storage on a tenant's behalf and reports the
// outcome through the outbox.
package downloads

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/fileflow/internal/common"
	"github.com/dmitrijs2005/fileflow/internal/dbx"
	"github.com/dmitrijs2005/fileflow/internal/logging"
	"github.com/dmitrijs2005/fileflow/internal/server/models"
	"github.com/dmitrijs2005/fileflow/internal/server/outbox"
	"github.com/dmitrijs2005/fileflow/internal/server/repositories/repomanager"
)

type Config struct {
	// MaxRetry is how many retryable failures a task may absorb before the
	// next one is permanent.
	MaxRetry int
	// TTL is how long a task may stay unfinished before it is expired.
	TTL time.Duration
}

type Service struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	config      Config
	log         logging.Logger
	now         func() time.Time
	newID       func() string
}

func NewService(db *sql.DB, rm repomanager.RepositoryManager, config Config, log logging.Logger) *Service {
	if config.TTL <= 0 {
		config.TTL = time.Hour
	}
	return &Service{
		db:          db,
		repomanager: rm,
		config:      config,
		log:         log.With("component", "downloads"),
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

func (s *Service) Get(ctx context.Context, id string) (*models.ExternalDownload, error) {
	return s.repomanager.Downloads(s.db).Get(ctx, id)
}

func (s *Service) FindExpired(ctx context.Context, now time.Time, limit int) ([]*models.ExternalDownload, error) {
	return s.repomanager.Downloads(s.db).FindExpired(ctx, now, limit)
}

// Create registers a PENDING task and enqueues its first execution request.
func (s *Service) Create(ctx context.Context, tenantID, organizationID, sourceURL, webhookURL string) (*models.ExternalDownload, error) {
	if err := validateURL(sourceURL); err != nil {
		return nil, fmt.Errorf("source url: %w", err)
	}
	if webhookURL != "" {
		if err := validateURL(webhookURL); err != nil {
			return nil, fmt.Errorf("webhook url: %w", err)
		}
	}

	now := s.now()
	d := &models.ExternalDownload{
		ID:             s.newID(),
		TenantID:       tenantID,
		OrganizationID: organizationID,
		SourceURL:      sourceURL,
		Status:         models.DownloadPending,
		WebhookURL:     webhookURL,
		ExpiresAt:      now.Add(s.config.TTL),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Downloads(tx).Insert(ctx, d); err != nil {
			return err
		}
		return outbox.Enqueue(ctx, s.repomanager.Outbox(tx), now, d.ExecutionRequest())
	})
	if err != nil {
		return nil, err
	}
	s.log.Info(ctx, "download created", "download", d.ID, "tenant", tenantID)
	return d, nil
}

// Start moves a PENDING task to DOWNLOADING.
func (s *Service) Start(ctx context.Context, id string) (*models.ExternalDownload, error) {
	d, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	from, err := d.Start(s.now())
	if err != nil {
		return nil, err
	}
	if err := s.repomanager.Downloads(s.db).Update(ctx, d, from); err != nil {
		return nil, err
	}
	s.log.Debug(ctx, "download started", "download", id, "attempt", d.RetryCount)
	return d, nil
}

// Progress records the running byte count of a DOWNLOADING task.
func (s *Service) Progress(ctx context.Context, id string, transferred int64, total *int64) error {
	return s.repomanager.Downloads(s.db).UpdateProgress(ctx, id, transferred, total, s.now())
}

// Complete records the resulting asset. The downloaded-asset announcement and
// the completion webhook are enqueued with the state change.
func (s *Service) Complete(ctx context.Context, id, resultAssetID string) (*models.ExternalDownload, error) {
	if resultAssetID == "" {
		return nil, errors.New("result asset id is empty")
	}
	return s.apply(ctx, id, "download completed", func(d *models.ExternalDownload, now time.Time) (models.DownloadStatus, []models.Notification, error) {
		return d.Complete(resultAssetID, now)
	})
}

// Fail records a failed attempt. A retryable failure within the retry budget
// leaves the task FAILED but retryable until its backoff elapses and
// RetryDue requeues it; anything else is permanent and announced through the
// webhook.
func (s *Service) Fail(ctx context.Context, id, errorCode, errorMessage string) (*models.ExternalDownload, error) {
	return s.apply(ctx, id, "download failed", func(d *models.ExternalDownload, now time.Time) (models.DownloadStatus, []models.Notification, error) {
		return d.Fail(errorCode, errorMessage, s.config.MaxRetry, now)
	})
}

// Retry moves a retryable FAILED task back to PENDING and enqueues the next
// execution request.
func (s *Service) Retry(ctx context.Context, id string) (*models.ExternalDownload, error) {
	return s.apply(ctx, id, "download retry scheduled", func(d *models.ExternalDownload, now time.Time) (models.DownloadStatus, []models.Notification, error) {
		from, n, err := d.Retry(now)
		if err != nil {
			return from, nil, err
		}
		return from, []models.Notification{n}, nil
	})
}

// RetryDue requeues up to limit retryable FAILED tasks whose backoff has
// elapsed and returns how many were requeued. A task requeued or expired
// concurrently is skipped.
func (s *Service) RetryDue(ctx context.Context, now time.Time, limit int) (int, error) {
	due, err := s.repomanager.Downloads(s.db).FindRetryDue(ctx, now, limit)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, d := range due {
		if _, err := s.Retry(ctx, d.ID); err != nil {
			if errors.Is(err, common.ErrInvalidSessionState) {
				continue
			}
			return n, fmt.Errorf("retry %s: %w", d.ID, err)
		}
		n++
	}
	return n, nil
}

// Expire fails an unfinished task whose deadline passed, including one still
// waiting for a retry. Tasks that are finished, not due, or concurrently
// moved are left alone and reported as not expired.
func (s *Service) Expire(ctx context.Context, id string, now time.Time) (bool, error) {
	d, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if !d.Unfinished() || !now.After(d.ExpiresAt) {
		return false, nil
	}

	from, notes, err := d.Expire(now)
	if err != nil {
		return false, err
	}
	if err := s.commit(ctx, d, from, now, notes); err != nil {
		if errors.Is(err, common.ErrInvalidSessionState) {
			return false, nil
		}
		return false, err
	}
	s.log.Info(ctx, "download expired", "download", id, "from", from)
	return true, nil
}

type transition func(d *models.ExternalDownload, now time.Time) (models.DownloadStatus, []models.Notification, error)

func (s *Service) apply(ctx context.Context, id, msg string, fn transition) (*models.ExternalDownload, error) {
	d, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	from, notes, err := fn(d, now)
	if err != nil {
		return nil, err
	}
	if err := s.commit(ctx, d, from, now, notes); err != nil {
		return nil, err
	}
	s.log.Info(ctx, msg,
		"download", id, "status", d.Status, "retries", d.RetryCount, "retryable", d.Retryable, "code", d.ErrorCode)
	return d, nil
}

func (s *Service) commit(ctx context.Context, d *models.ExternalDownload, from models.DownloadStatus, now time.Time, notes []models.Notification) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Downloads(tx).Update(ctx, d, from); err != nil {
			return err
		}
		return outbox.Enqueue(ctx, s.repomanager.Outbox(tx), now, notes...)
	})
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}
