// Package expiration expires overdue upload sessions and download tasks.
// Runs on several nodes are serialised by a distributed lock; a node that
// cannot get the lock skips the round.
package expiration

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/fileflow/internal/logging"
	"github.com/dmitrijs2005/fileflow/internal/server/lock"
	"github.com/dmitrijs2005/fileflow/internal/server/models"
)

// LockName is the lease guarding a reconciliation round.
const LockName = "fileflow:expiration"

type Sessions interface {
	FindExpired(ctx context.Context, now time.Time, limit int) ([]*models.UploadSession, error)
	Expire(ctx context.Context, id string, now time.Time) (bool, error)
}

type Downloads interface {
	FindExpired(ctx context.Context, now time.Time, limit int) ([]*models.ExternalDownload, error)
	Expire(ctx context.Context, id string, now time.Time) (bool, error)
}

type Config struct {
	BatchSize  int
	MaxBatches int
	LockWait   time.Duration
	LockLease  time.Duration
}

// Report summarises one Reconcile call.
type Report struct {
	Skipped          bool `json:"skipped"`
	SessionsExpired  int  `json:"sessionsExpired"`
	DownloadsExpired int  `json:"downloadsExpired"`
	Errors           int  `json:"errors"`
}

type Coordinator struct {
	locker    lock.Locker
	sessions  Sessions
	downloads Downloads
	config    Config
	log       logging.Logger
}

func NewCoordinator(locker lock.Locker, sessions Sessions, downloads Downloads, config Config, log logging.Logger) *Coordinator {
	if config.BatchSize <= 0 {
		config.BatchSize = 200
	}
	if config.MaxBatches <= 0 {
		config.MaxBatches = 10
	}
	return &Coordinator{
		locker:    locker,
		sessions:  sessions,
		downloads: downloads,
		config:    config,
		log:       log.With("component", "expiration"),
	}
}

// Reconcile expires everything overdue at now, sessions first. Failing to
// expire a single item is counted and logged; only failures to list
// candidates abort the round.
func (c *Coordinator) Reconcile(ctx context.Context, now time.Time) (Report, error) {
	var report Report

	lease, ok, err := c.locker.TryAcquire(ctx, LockName, c.config.LockWait, c.config.LockLease)
	if err != nil {
		return report, fmt.Errorf("acquire expiration lock: %w", err)
	}
	if !ok {
		c.log.Info(ctx, "expiration lock held elsewhere, skipping")
		report.Skipped = true
		return report, nil
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			c.log.Warn(ctx, "expiration lock release failed", "error", err)
		}
	}()

	n, errs, err := run(ctx, c.config, c.log.With("kind", "session"), now, c.sessions.FindExpired, c.sessions.Expire, func(s *models.UploadSession) string { return s.ID })
	report.SessionsExpired, report.Errors = n, errs
	if err != nil {
		return report, fmt.Errorf("expire sessions: %w", err)
	}

	n, errs, err = run(ctx, c.config, c.log.With("kind", "download"), now, c.downloads.FindExpired, c.downloads.Expire, func(d *models.ExternalDownload) string { return d.ID })
	report.DownloadsExpired, report.Errors = n, report.Errors+errs
	if err != nil {
		return report, fmt.Errorf("expire downloads: %w", err)
	}

	if report.SessionsExpired+report.DownloadsExpired+report.Errors > 0 {
		c.log.Info(ctx, "expiration round finished",
			"sessions", report.SessionsExpired, "downloads", report.DownloadsExpired, "errors", report.Errors)
	}
	return report, nil
}

func run[T any](
	ctx context.Context,
	config Config,
	log logging.Logger,
	now time.Time,
	find func(context.Context, time.Time, int) ([]T, error),
	expire func(context.Context, string, time.Time) (bool, error),
	id func(T) string,
) (expired, failed int, err error) {
	tried := make(map[string]bool)
	for batch := 0; batch < config.MaxBatches; batch++ {
		if err := ctx.Err(); err != nil {
			return expired, failed, err
		}
		items, err := find(ctx, now, config.BatchSize)
		if err != nil {
			return expired, failed, err
		}
		fresh := 0
		for _, item := range items {
			key := id(item)
			if tried[key] {
				continue
			}
			tried[key] = true
			fresh++

			ok, err := expire(ctx, key, now)
			switch {
			case err != nil:
				failed++
				log.Warn(ctx, "expire failed", "id", key, "error", err)
			case ok:
				expired++
			}
		}
		// A batch holding only items already tried this round makes no progress.
		if fresh == 0 || len(items) < config.BatchSize {
			break
		}
	}
	return expired, failed, nil
}
