package config

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	tests := []struct {
		expected  *Config
		name      string
		args      []string
		expectErr bool
	}{
		{
			name: "all flags",
			args: []string{
				"-a", "127.0.0.1:9090", "-d", "db", "-l", "debug",
				"-u", "user", "-p", "password", "-b", "pub", "-v", "priv",
				"-g", "us-west-1", "-e", "http://endpoint", "-r", "redis:6379", "-k", "k1:9092,k2:9092",
			},
			expected: &Config{
				EndpointAddrOps: "127.0.0.1:9090",
				DatabaseDSN:     "db",
				LogLevel:        "debug",
				S3RootUser:      "user",
				S3RootPassword:  "password",
				S3PublicBucket:  "pub",
				S3PrivateBucket: "priv",
				S3Region:        "us-west-1",
				S3BaseEndpoint:  "http://endpoint",
				RedisAddr:       "redis:6379",
				KafkaBrokers:    []string{"k1:9092", "k2:9092"},
			},
		},
		{
			name:     "foreign flags ignored",
			args:     []string{"-c", "cfg.json", "-x", "1", "-d", "only-dsn"},
			expected: &Config{DatabaseDSN: "only-dsn"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := &Config{}
			err := parseFlags(config, tt.args)
			if tt.expectErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Empty(t, cmp.Diff(tt.expected, config))
		})
	}
}
