package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dmitrijs2005/fileflow/internal/flagx"
	"github.com/dmitrijs2005/fileflow/internal/timex"
	"gopkg.in/yaml.v3"
)

// FileConfig is the on-disk shape of the configuration. Durations use
// timex.Duration so files may say "30s" or give integer nanoseconds.
// Zero values leave the current setting untouched.
type FileConfig struct {
	EndpointAddrOps string `json:"endpoint_addr_ops" yaml:"endpoint_addr_ops"`
	DatabaseDSN     string `json:"database_dsn" yaml:"database_dsn"`
	LogLevel        string `json:"log_level" yaml:"log_level"`

	S3RootUser      string         `json:"s3_root_user" yaml:"s3_root_user"`
	S3RootPassword  string         `json:"s3_root_password" yaml:"s3_root_password"`
	S3PublicBucket  string         `json:"s3_public_bucket" yaml:"s3_public_bucket"`
	S3PrivateBucket string         `json:"s3_private_bucket" yaml:"s3_private_bucket"`
	S3Region        string         `json:"s3_region" yaml:"s3_region"`
	S3BaseEndpoint  string         `json:"s3_base_endpoint" yaml:"s3_base_endpoint"`
	StorageTimeout  timex.Duration `json:"storage_timeout" yaml:"storage_timeout"`

	RedisAddr        string         `json:"redis_addr" yaml:"redis_addr"`
	RedisPassword    string         `json:"redis_password" yaml:"redis_password"`
	RedisDB          int            `json:"redis_db" yaml:"redis_db"`
	DownloadQueueKey string         `json:"download_queue_key" yaml:"download_queue_key"`
	IdempotencyTTL   timex.Duration `json:"idempotency_ttl" yaml:"idempotency_ttl"`

	KafkaBrokers         []string       `json:"kafka_brokers" yaml:"kafka_brokers"`
	TransformTopic       string         `json:"transform_topic" yaml:"transform_topic"`
	DownloadedAssetTopic string         `json:"downloaded_asset_topic" yaml:"downloaded_asset_topic"`
	WebhookTimeout       timex.Duration `json:"webhook_timeout" yaml:"webhook_timeout"`

	OutboxPollInterval timex.Duration `json:"outbox_poll_interval" yaml:"outbox_poll_interval"`
	OutboxBatchSize    int            `json:"outbox_batch_size" yaml:"outbox_batch_size"`
	PublishTimeout     timex.Duration `json:"publish_timeout" yaml:"publish_timeout"`
	BatchTimeout       timex.Duration `json:"batch_timeout" yaml:"batch_timeout"`

	ExpirationInterval   timex.Duration `json:"expiration_interval" yaml:"expiration_interval"`
	ExpirationBatchSize  int            `json:"expiration_batch_size" yaml:"expiration_batch_size"`
	ExpirationMaxBatches int            `json:"expiration_max_batches" yaml:"expiration_max_batches"`
	LockWait             timex.Duration `json:"lock_wait" yaml:"lock_wait"`
	LockLease            timex.Duration `json:"lock_lease" yaml:"lock_lease"`

	DownloadMaxRetry *int           `json:"download_max_retry" yaml:"download_max_retry"`
	DownloadTTL      timex.Duration `json:"download_ttl" yaml:"download_ttl"`
	DownloadWorkers  int            `json:"download_workers" yaml:"download_workers"`
	FetchTimeout     timex.Duration `json:"fetch_timeout" yaml:"fetch_timeout"`
}

// parseFile overlays the file named by -c/-config (or $FILEFLOW_CONFIG).
// Files ending in .yaml or .yml are decoded as YAML, anything else as JSON.
func parseFile(config *Config, args []string) error {
	path := flagx.ConfigFile(args)
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	fc := &FileConfig{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, fc)
	default:
		err = json.Unmarshal(data, fc)
	}
	if err != nil {
		return fmt.Errorf("decode config file %s: %w", path, err)
	}

	fc.apply(config)
	return nil
}

func (fc *FileConfig) apply(c *Config) {
	setString(&c.EndpointAddrOps, fc.EndpointAddrOps)
	setString(&c.DatabaseDSN, fc.DatabaseDSN)
	setString(&c.LogLevel, fc.LogLevel)

	setString(&c.S3RootUser, fc.S3RootUser)
	setString(&c.S3RootPassword, fc.S3RootPassword)
	setString(&c.S3PublicBucket, fc.S3PublicBucket)
	setString(&c.S3PrivateBucket, fc.S3PrivateBucket)
	setString(&c.S3Region, fc.S3Region)
	setString(&c.S3BaseEndpoint, fc.S3BaseEndpoint)
	setDuration(&c.StorageTimeout, fc.StorageTimeout)

	setString(&c.RedisAddr, fc.RedisAddr)
	setString(&c.RedisPassword, fc.RedisPassword)
	setInt(&c.RedisDB, fc.RedisDB)
	setString(&c.DownloadQueueKey, fc.DownloadQueueKey)
	setDuration(&c.IdempotencyTTL, fc.IdempotencyTTL)

	if len(fc.KafkaBrokers) > 0 {
		c.KafkaBrokers = fc.KafkaBrokers
	}
	setString(&c.TransformTopic, fc.TransformTopic)
	setString(&c.DownloadedAssetTopic, fc.DownloadedAssetTopic)
	setDuration(&c.WebhookTimeout, fc.WebhookTimeout)

	setDuration(&c.OutboxPollInterval, fc.OutboxPollInterval)
	setInt(&c.OutboxBatchSize, fc.OutboxBatchSize)
	setDuration(&c.PublishTimeout, fc.PublishTimeout)
	setDuration(&c.BatchTimeout, fc.BatchTimeout)

	setDuration(&c.ExpirationInterval, fc.ExpirationInterval)
	setInt(&c.ExpirationBatchSize, fc.ExpirationBatchSize)
	setInt(&c.ExpirationMaxBatches, fc.ExpirationMaxBatches)
	setDuration(&c.LockWait, fc.LockWait)
	setDuration(&c.LockLease, fc.LockLease)

	if fc.DownloadMaxRetry != nil {
		c.DownloadMaxRetry = *fc.DownloadMaxRetry
	}
	setDuration(&c.DownloadTTL, fc.DownloadTTL)
	setInt(&c.DownloadWorkers, fc.DownloadWorkers)
	setDuration(&c.FetchTimeout, fc.FetchTimeout)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration != 0 {
		*dst = v.Duration
	}
}
