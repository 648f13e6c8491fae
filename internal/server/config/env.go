package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/dmitrijs2005/fileflow/internal/flagx"
	"github.com/joho/godotenv"
)

// DotEnvFile is loaded into the process environment, when present, before
// FILEFLOW_* variables are read. Variables already set are not overridden.
var DotEnvFile = ".env"

func parseEnv(c *Config) error {
	if err := godotenv.Load(DotEnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", DotEnvFile, err)
	}

	var errs []error
	str := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(dst *int, key string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(dst *time.Duration, key string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str(&c.EndpointAddrOps, "FILEFLOW_OPS_ADDR")
	str(&c.DatabaseDSN, "FILEFLOW_DATABASE_DSN")
	str(&c.LogLevel, "FILEFLOW_LOG_LEVEL")

	str(&c.S3RootUser, "FILEFLOW_S3_ROOT_USER")
	str(&c.S3RootPassword, "FILEFLOW_S3_ROOT_PASSWORD")
	str(&c.S3PublicBucket, "FILEFLOW_S3_PUBLIC_BUCKET")
	str(&c.S3PrivateBucket, "FILEFLOW_S3_PRIVATE_BUCKET")
	str(&c.S3Region, "FILEFLOW_S3_REGION")
	str(&c.S3BaseEndpoint, "FILEFLOW_S3_BASE_ENDPOINT")
	dur(&c.StorageTimeout, "FILEFLOW_STORAGE_TIMEOUT")

	str(&c.RedisAddr, "FILEFLOW_REDIS_ADDR")
	str(&c.RedisPassword, "FILEFLOW_REDIS_PASSWORD")
	num(&c.RedisDB, "FILEFLOW_REDIS_DB")
	str(&c.DownloadQueueKey, "FILEFLOW_DOWNLOAD_QUEUE_KEY")
	dur(&c.IdempotencyTTL, "FILEFLOW_IDEMPOTENCY_TTL")

	if v := os.Getenv("FILEFLOW_KAFKA_BROKERS"); v != "" {
		c.KafkaBrokers = flagx.SplitList(v)
	}
	str(&c.TransformTopic, "FILEFLOW_TRANSFORM_TOPIC")
	str(&c.DownloadedAssetTopic, "FILEFLOW_DOWNLOADED_ASSET_TOPIC")
	dur(&c.WebhookTimeout, "FILEFLOW_WEBHOOK_TIMEOUT")

	dur(&c.OutboxPollInterval, "FILEFLOW_OUTBOX_POLL_INTERVAL")
	num(&c.OutboxBatchSize, "FILEFLOW_OUTBOX_BATCH_SIZE")
	dur(&c.PublishTimeout, "FILEFLOW_PUBLISH_TIMEOUT")
	dur(&c.BatchTimeout, "FILEFLOW_BATCH_TIMEOUT")

	dur(&c.ExpirationInterval, "FILEFLOW_EXPIRATION_INTERVAL")
	num(&c.ExpirationBatchSize, "FILEFLOW_EXPIRATION_BATCH_SIZE")
	num(&c.ExpirationMaxBatches, "FILEFLOW_EXPIRATION_MAX_BATCHES")
	dur(&c.LockWait, "FILEFLOW_LOCK_WAIT")
	dur(&c.LockLease, "FILEFLOW_LOCK_LEASE")

	num(&c.DownloadMaxRetry, "FILEFLOW_DOWNLOAD_MAX_RETRY")
	dur(&c.DownloadTTL, "FILEFLOW_DOWNLOAD_TTL")
	dur(&c.FetchTimeout, "FILEFLOW_FETCH_TIMEOUT")
	num(&c.DownloadWorkers, "FILEFLOW_DOWNLOAD_WORKERS")

	return errors.Join(errs...)
}
