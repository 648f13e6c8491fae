// Package server wires the fileflow components together and runs the
// background side of the service: the outbox dispatcher and expiration
// reconciler on cron schedules, the download workers and the ops endpoint.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/fileflow/internal/logging"
	"github.com/dmitrijs2005/fileflow/internal/server/config"
	"github.com/dmitrijs2005/fileflow/internal/server/downloads"
	"github.com/dmitrijs2005/fileflow/internal/server/expiration"
	"github.com/dmitrijs2005/fileflow/internal/server/fetch"
	"github.com/dmitrijs2005/fileflow/internal/server/lock"
	"github.com/dmitrijs2005/fileflow/internal/server/models"
	"github.com/dmitrijs2005/fileflow/internal/server/ops"
	"github.com/dmitrijs2005/fileflow/internal/server/outbox"
	"github.com/dmitrijs2005/fileflow/internal/server/parts"
	"github.com/dmitrijs2005/fileflow/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/fileflow/internal/server/sessions"
	"github.com/dmitrijs2005/fileflow/internal/server/storage"
	"github.com/dmitrijs2005/fileflow/internal/server/transport"
)

type App struct {
	config *config.Config
	logger logging.Logger

	db          *sql.DB
	redis       *redis.Client
	repomanager repomanager.RepositoryManager
	router      *transport.Router
	queue       *transport.RedisQueue
	storage     *storage.S3

	Sessions    *sessions.Service
	Parts       *parts.Tracker
	Downloads   *downloads.Service
	Dispatcher  *outbox.Dispatcher
	Coordinator *expiration.Coordinator
}

func NewApp(ctx context.Context, c *config.Config, logger logging.Logger) (*App, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	db, err := repomanager.OpenPostgres(c.DatabaseDSN)
	if err != nil {
		return nil, err
	}

	st, err := storage.NewS3(ctx, c)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage init error: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: c.RedisAddr, Password: c.RedisPassword, DB: c.RedisDB})
	queue := transport.NewRedisQueue(rdb, c.DownloadQueueKey, c.IdempotencyTTL)
	kafka := transport.NewKafka(c.KafkaBrokers, map[models.OutboxKind]string{
		models.OutboxTransformQueue: c.TransformTopic,
		models.OutboxDownloadQueue:  c.DownloadedAssetTopic,
	})
	router := transport.NewRouter().
		Route(models.OutboxTransformQueue, kafka).
		Route(models.OutboxDownloadQueue, kafka).
		Route(models.OutboxExternalDownload, queue).
		Route(models.OutboxWebhook, transport.NewWebhook(&http.Client{Timeout: c.WebhookTimeout}))

	rm := repomanager.NewPostgresRepositoryManager()

	ss := sessions.NewService(db, rm, st, sessions.Config{
		PublicBucket:   c.S3PublicBucket,
		PrivateBucket:  c.S3PrivateBucket,
		StorageTimeout: c.StorageTimeout,
	}, logger)
	ds := downloads.NewService(db, rm, downloads.Config{MaxRetry: c.DownloadMaxRetry, TTL: c.DownloadTTL}, logger)

	dispatcher := outbox.NewDispatcher(db, rm, router, outbox.Config{
		BatchSize:      c.OutboxBatchSize,
		PublishTimeout: c.PublishTimeout,
		BatchTimeout:   c.BatchTimeout,
	}, logger)

	coordinator := expiration.NewCoordinator(lock.NewRedis(rdb), ss, ds, expiration.Config{
		BatchSize:  c.ExpirationBatchSize,
		MaxBatches: c.ExpirationMaxBatches,
		LockWait:   c.LockWait,
		LockLease:  c.LockLease,
	}, logger)

	return &App{
		config:      c,
		logger:      logger,
		db:          db,
		redis:       rdb,
		repomanager: rm,
		router:      router,
		queue:       queue,
		storage:     st,
		Sessions:    ss,
		Parts:       parts.NewTracker(db, rm, logger),
		Downloads:   ds,
		Dispatcher:  dispatcher,
		Coordinator: coordinator,
	}, nil
}

// Migrate brings the database schema up to date.
func (app *App) Migrate(ctx context.Context) error {
	if err := app.repomanager.RunMigrations(ctx, app.db); err != nil {
		return fmt.Errorf("migration error: %w", err)
	}
	return nil
}

// Reconcile runs one expiration round at the current time.
func (app *App) Reconcile(ctx context.Context) (expiration.Report, error) {
	return app.Coordinator.Reconcile(ctx, time.Now())
}

// Dispatch runs one outbox batch per kind.
func (app *App) Dispatch(ctx context.Context, limit int) (outbox.Result, error) {
	if limit <= 0 {
		limit = app.config.OutboxBatchSize
	}
	return app.Dispatcher.DispatchAll(ctx, limit)
}

// RetryDownloads requeues failed downloads whose retry backoff has elapsed.
func (app *App) RetryDownloads(ctx context.Context) (int, error) {
	return app.Downloads.RetryDue(ctx, time.Now(), app.config.OutboxBatchSize)
}

func (app *App) Requeue(ctx context.Context, id string) error {
	return app.Dispatcher.Requeue(ctx, id)
}

func (app *App) OutboxStats(ctx context.Context) (*models.OutboxStats, error) {
	return app.Dispatcher.Stats(ctx)
}

func (app *App) Close() error {
	return errors.Join(app.router.Close(), app.redis.Close(), app.db.Close())
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) newScheduler(ctx context.Context) (*cron.Cron, error) {
	l := logging.Cron(app.logger)
	scheduler := cron.New(
		cron.WithLogger(l),
		cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
	)

	if _, err := scheduler.AddFunc(every(app.config.OutboxPollInterval), func() {
		app.Dispatcher.Run(ctx)
	}); err != nil {
		return nil, fmt.Errorf("schedule outbox: %w", err)
	}

	if _, err := scheduler.AddFunc(every(app.config.OutboxPollInterval), func() {
		if _, err := app.RetryDownloads(ctx); err != nil {
			app.logger.Error(ctx, "download retry round failed", "error", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("schedule download retries: %w", err)
	}

	if _, err := scheduler.AddFunc(every(app.config.ExpirationInterval), func() {
		if _, err := app.Reconcile(ctx); err != nil {
			app.logger.Error(ctx, "expiration round failed", "error", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("schedule expiration: %w", err)
	}

	return scheduler, nil
}

func every(d time.Duration) string {
	return fmt.Sprintf("@every %s", d)
}

// Run blocks until a signal arrives or a component fails.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	g, ctx := errgroup.WithContext(ctx)

	scheduler, err := app.newScheduler(ctx)
	if err != nil {
		return err
	}
	g.Go(func() error {
		scheduler.Start()
		<-ctx.Done()
		<-scheduler.Stop().Done()
		return nil
	})

	fetcher := fetch.New(nil)
	for i := 0; i < app.config.DownloadWorkers; i++ {
		w := downloads.NewWorker(app.Downloads, app.queue, fetcher, app.storage, downloads.WorkerConfig{
			Bucket:       app.config.S3PrivateBucket,
			FetchTimeout: app.config.FetchTimeout,
		}, app.logger.With("worker", i))
		g.Go(func() error {
			return w.Run(ctx)
		})
	}

	srv := ops.NewServer(app.config.EndpointAddrOps, app.logger, app.db, app.Dispatcher)
	g.Go(func() error {
		return srv.Run(ctx)
	})

	err = g.Wait()
	app.logger.Info(context.Background(), "App stopped")
	return err
}
