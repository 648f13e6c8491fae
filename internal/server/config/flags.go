package config

import (
	"flag"
	"fmt"

	"github.com/dmitrijs2005/fileflow/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   ops HTTP bind address (e.g., ":8081")
//	-d string   PostgreSQL DSN
//	-l string   log level
//	-u string   S3 root user
//	-p string   S3 root password
//	-b string   S3 public bucket
//	-v string   S3 private bucket
//	-g string   S3 region
//	-e string   S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//	-r string   Redis address
//	-k string   Kafka brokers, comma separated
//
// Only these flags are taken from args (see flagx.FilterArgs), so other
// components may define their own.
func parseFlags(config *Config, args []string) error {
	args = flagx.FilterArgs(args, []string{"-a", "-d", "-l", "-u", "-p", "-b", "-v", "-g", "-e", "-r", "-k"})

	fs := flag.NewFlagSet("fileflow", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrOps, "a", config.EndpointAddrOps, "ops endpoint address")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3PublicBucket, "b", config.S3PublicBucket, "S3 public bucket")
	fs.StringVar(&config.S3PrivateBucket, "v", config.S3PrivateBucket, "S3 private bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	fs.StringVar(&config.RedisAddr, "r", config.RedisAddr, "Redis address")
	brokers := fs.String("k", "", "Kafka brokers, comma separated")

	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}

	if *brokers != "" {
		config.KafkaBrokers = flagx.SplitList(*brokers)
	}
	return nil
}
