package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/fileflow/internal/common"
	"github.com/dmitrijs2005/fileflow/internal/logging"
	"github.com/dmitrijs2005/fileflow/internal/server/models"
	"github.com/dmitrijs2005/fileflow/internal/server/repositories/repomanager"
)

// Publisher delivers one entry downstream. The entry's idempotency key must
// be passed on so a repeated delivery has no second effect.
type Publisher interface {
	Publish(ctx context.Context, e *models.OutboxEntry) error
}

type Config struct {
	BatchSize      int
	PublishTimeout time.Duration
	BatchTimeout   time.Duration
}

// Result counts the outcomes of a dispatch run.
type Result struct {
	Sent       int
	Retried    int
	DeadLetter int
	Errors     int
}

func (r *Result) add(o Result) {
	r.Sent += o.Sent
	r.Retried += o.Retried
	r.DeadLetter += o.DeadLetter
	r.Errors += o.Errors
}

type Dispatcher struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	publisher   Publisher
	config      Config
	log         logging.Logger
	now         func() time.Time
}

func NewDispatcher(db *sql.DB, rm repomanager.RepositoryManager, publisher Publisher, config Config, log logging.Logger) *Dispatcher {
	return &Dispatcher{
		db:          db,
		repomanager: rm,
		publisher:   publisher,
		config:      config,
		log:         log.With("component", "outbox"),
		now:         time.Now,
	}
}

// DispatchBatch publishes up to limit PENDING entries of kind, oldest first.
// Each entry is settled on its own: SENT on success, otherwise its retry
// count grows and it is dead-lettered as FAILED once the cap is reached.
// Only a failure to load the batch is returned as an error.
func (d *Dispatcher) DispatchBatch(ctx context.Context, kind models.OutboxKind, limit int) (Result, error) {
	var res Result
	if d.config.BatchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.config.BatchTimeout)
		defer cancel()
	}

	repo := d.repomanager.Outbox(d.db)
	entries, err := repo.FindPending(ctx, kind, limit)
	if err != nil {
		return res, fmt.Errorf("load %s batch: %w", kind, err)
	}

	for _, e := range entries {
		if ctx.Err() != nil {
			d.log.Warn(ctx, "batch timeout reached", "kind", kind, "left", len(entries)-res.Sent-res.Retried-res.DeadLetter-res.Errors)
			break
		}

		pubErr := d.publish(ctx, e)
		now := d.now()
		if pubErr == nil {
			if err := repo.MarkSent(ctx, e.ID, now); err != nil {
				if errors.Is(err, common.ErrOutboxEntryTerminal) {
					d.log.Debug(ctx, "entry settled elsewhere", "id", e.ID)
					continue
				}
				res.Errors++
				d.log.Error(ctx, "mark sent failed", "id", e.ID, "error", err)
				continue
			}
			res.Sent++
			continue
		}

		e.RecordFailure(pubErr, now)
		if err := repo.SaveAttempt(ctx, e); err != nil {
			res.Errors++
			d.log.Error(ctx, "save failed attempt", "id", e.ID, "error", err)
			continue
		}
		if e.Status == models.OutboxFailed {
			res.DeadLetter++
			d.log.Error(ctx, "outbox entry dead-lettered",
				"id", e.ID, "kind", e.Kind, "subject", e.SubjectID, "retries", e.RetryCount, "error", pubErr)
		} else {
			res.Retried++
			d.log.Warn(ctx, "publish failed",
				"id", e.ID, "kind", e.Kind, "retry", e.RetryCount, "max", e.MaxRetryCount, "error", pubErr)
		}
	}

	if len(entries) > 0 {
		d.log.Info(ctx, "outbox batch dispatched",
			"kind", kind, "sent", res.Sent, "retried", res.Retried, "failed", res.DeadLetter, "errors", res.Errors)
	}
	return res, nil
}

func (d *Dispatcher) publish(ctx context.Context, e *models.OutboxEntry) error {
	if d.config.PublishTimeout <= 0 {
		return d.publisher.Publish(ctx, e)
	}
	pctx, cancel := context.WithTimeout(ctx, d.config.PublishTimeout)
	defer cancel()
	return d.publisher.Publish(pctx, e)
}

// DispatchAll runs one batch of every kind. Errors loading a batch are
// joined; the remaining kinds still run.
func (d *Dispatcher) DispatchAll(ctx context.Context, limit int) (Result, error) {
	var (
		total Result
		errs  []error
	)
	for _, kind := range models.OutboxKinds {
		res, err := d.DispatchBatch(ctx, kind, limit)
		total.add(res)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return total, errors.Join(errs...)
}

// Run dispatches every kind using the configured batch size. It suits a
// scheduler callback.
func (d *Dispatcher) Run(ctx context.Context) {
	if _, err := d.DispatchAll(ctx, d.config.BatchSize); err != nil {
		d.log.Error(ctx, "outbox dispatch failed", "error", err)
	}
}

// Requeue gives a dead-lettered entry a fresh retry budget. Entries that are
// not FAILED are rejected with ErrOutboxEntryTerminal.
func (d *Dispatcher) Requeue(ctx context.Context, id string) error {
	repo := d.repomanager.Outbox(d.db)
	e, err := repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if e.Status != models.OutboxFailed {
		return fmt.Errorf("%w: entry %s is %s", common.ErrOutboxEntryTerminal, id, e.Status)
	}
	if err := repo.Requeue(ctx, id); err != nil {
		return err
	}
	d.log.Info(ctx, "outbox entry requeued", "id", id, "kind", e.Kind)
	return nil
}

func (d *Dispatcher) Stats(ctx context.Context) (*models.OutboxStats, error) {
	return d.repomanager.Outbox(d.db).Stats(ctx)
}
