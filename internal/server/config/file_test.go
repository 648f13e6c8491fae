package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func Test_parseFile_JSON(t *testing.T) {
	t.Setenv("FILEFLOW_CONFIG", "")
	path := writeTempFile(t, "cfg.json", `{
		"endpoint_addr_ops": ":9000",
		"database_dsn": "postgres://x",
		"s3_public_bucket": "pub",
		"s3_private_bucket": "priv",
		"kafka_brokers": ["k1:9092","k2:9092"],
		"publish_timeout": "3s",
		"lock_lease": 120000000000,
		"download_max_retry": 0
	}`)

	cfg := &Config{}
	cfg.LoadDefaults()
	require.NoError(t, parseFile(cfg, []string{"-config", path}))

	assert.Equal(t, ":9000", cfg.EndpointAddrOps)
	assert.Equal(t, "postgres://x", cfg.DatabaseDSN)
	assert.Equal(t, "pub", cfg.S3PublicBucket)
	assert.Equal(t, "priv", cfg.S3PrivateBucket)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 3*time.Second, cfg.PublishTimeout)
	assert.Equal(t, 2*time.Minute, cfg.LockLease)
	assert.Equal(t, 0, cfg.DownloadMaxRetry)
	// untouched
	assert.Equal(t, "us-east-1", cfg.S3Region)
}

func Test_parseFile_YAML(t *testing.T) {
	t.Setenv("FILEFLOW_CONFIG", "")
	path := writeTempFile(t, "cfg.yaml", "redis_addr: redis:6379\nexpiration_interval: 30s\nexpiration_batch_size: 50\n")

	cfg := &Config{}
	cfg.LoadDefaults()
	require.NoError(t, parseFile(cfg, []string{"-c", path}))

	assert.Equal(t, "redis:6379", cfg.RedisAddr)
	assert.Equal(t, 30*time.Second, cfg.ExpirationInterval)
	assert.Equal(t, 50, cfg.ExpirationBatchSize)
}

func Test_parseFile_NoFile(t *testing.T) {
	t.Setenv("FILEFLOW_CONFIG", "")
	cfg := &Config{DatabaseDSN: "keep"}
	require.NoError(t, parseFile(cfg, []string{"-d", "x"}))
	assert.Equal(t, "keep", cfg.DatabaseDSN)
}

func Test_parseFile_Errors(t *testing.T) {
	t.Setenv("FILEFLOW_CONFIG", "")

	bad := writeTempFile(t, "bad.json", `{ this is not valid json`)
	err := parseFile(&Config{}, []string{"-c", bad})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode config file")

	err = parseFile(&Config{}, []string{"-c", filepath.Join(t.TempDir(), "absent.json")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config file")
}
