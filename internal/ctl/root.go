// Package ctl implements fileflowctl, the operator command line for a
// fileflow deployment: schema migration, one-off background rounds and
// outbox remediation.
package ctl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/fileflow/internal/logging"
	"github.com/dmitrijs2005/fileflow/internal/server"
	"github.com/dmitrijs2005/fileflow/internal/server/config"
	"github.com/dmitrijs2005/fileflow/internal/server/expiration"
	"github.com/dmitrijs2005/fileflow/internal/server/models"
	"github.com/dmitrijs2005/fileflow/internal/server/outbox"
)

// Backend is the part of the server the commands drive.
type Backend interface {
	Migrate(ctx context.Context) error
	Reconcile(ctx context.Context) (expiration.Report, error)
	Dispatch(ctx context.Context, limit int) (outbox.Result, error)
	Requeue(ctx context.Context, id string) error
	OutboxStats(ctx context.Context) (*models.OutboxStats, error)
	Close() error
}

type options struct {
	configPath string
	timeout    time.Duration
}

// openBackend is a seam for tests.
var openBackend = func(ctx context.Context, configPath string) (Backend, error) {
	var args []string
	if configPath != "" {
		args = []string{"-c", configPath}
	}
	cfg, err := config.Load(args)
	if err != nil {
		return nil, err
	}
	return server.NewApp(ctx, cfg, logging.NewJSON(os.Stderr, cfg.LogLevel))
}

func NewRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           "fileflowctl",
		Short:         "Operate a fileflow deployment",
		Long:          "Command line for fileflow operators: migrate the schema, run background rounds by hand and remediate the outbox",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"Path to a JSON or YAML config file (FILEFLOW_* environment variables still apply)")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", time.Minute,
		"Deadline for the whole command")

	cmd.AddCommand(newMigrateCmd(opts))
	cmd.AddCommand(newReconcileCmd(opts))
	cmd.AddCommand(newDispatchCmd(opts))
	cmd.AddCommand(newOutboxCmd(opts))

	return cmd
}

func Execute() error {
	return NewRootCmd().Execute()
}

// withBackend runs fn against an opened backend under the command deadline.
func withBackend(cmd *cobra.Command, opts *options, fn func(ctx context.Context, b Backend) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()

	b, err := openBackend(ctx, opts.configPath)
	if err != nil {
		return err
	}
	defer b.Close()

	return fn(ctx, b)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
