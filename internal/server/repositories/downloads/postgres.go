package downloads

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/fileflow/internal/common"
	"github.com/dmitrijs2005/fileflow/internal/dbx"
	"github.com/dmitrijs2005/fileflow/internal/server/models"
)

const columns = `id, tenant_id, organization_id, source_url, bytes_transferred, total_bytes, status,
	retry_count, retryable, last_retry_at, next_retry_at, error_code, error_message, webhook_url, result_asset_id,
	expires_at, created_at, updated_at`

// PostgresRepository stores external downloads over a dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Insert(ctx context.Context, d *models.ExternalDownload) error {
	query := `INSERT INTO external_downloads (` + columns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

	_, err := r.db.ExecContext(ctx, query,
		d.ID, d.TenantID, d.OrganizationID, d.SourceURL, d.BytesTransferred, nullInt64(d.TotalBytes), d.Status,
		d.RetryCount, d.Retryable, nullTime(d.LastRetryAt), nullTime(d.NextRetryAt), d.ErrorCode, d.ErrorMessage,
		d.WebhookURL, d.ResultAssetID, d.ExpiresAt, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.ExternalDownload, error) {
	query := `SELECT ` + columns + ` FROM external_downloads WHERE id = $1`
	d, err := scan(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrDownloadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select download: %w", err)
	}
	return d, nil
}

func (r *PostgresRepository) Update(ctx context.Context, d *models.ExternalDownload, expected models.DownloadStatus) error {
	query := `UPDATE external_downloads SET
			status = $3, bytes_transferred = $4, total_bytes = $5, retry_count = $6, retryable = $7,
			last_retry_at = $8, next_retry_at = $9, error_code = $10, error_message = $11, result_asset_id = $12,
			updated_at = $13
		WHERE id = $1 AND status = $2`

	res, err := r.db.ExecContext(ctx, query,
		d.ID, expected, d.Status, d.BytesTransferred, nullInt64(d.TotalBytes), d.RetryCount, d.Retryable,
		nullTime(d.LastRetryAt), nullTime(d.NextRetryAt), d.ErrorCode, d.ErrorMessage, d.ResultAssetID, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if err := dbx.AffectedOne(res, common.ErrInvalidDownloadState); err != nil {
		if errors.Is(err, common.ErrInvalidDownloadState) {
			return fmt.Errorf("%w: download %s is no longer %s", err, d.ID, expected)
		}
		return err
	}
	return nil
}

func (r *PostgresRepository) UpdateProgress(ctx context.Context, id string, transferred int64, total *int64, now time.Time) error {
	query := `UPDATE external_downloads SET bytes_transferred = $2, total_bytes = COALESCE($3, total_bytes), updated_at = $4
		WHERE id = $1 AND status = 'DOWNLOADING'`

	res, err := r.db.ExecContext(ctx, query, id, transferred, nullInt64(total), now)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return dbx.AffectedOne(res, fmt.Errorf("%w: download %s is not downloading", common.ErrInvalidDownloadState, id))
}

// FindExpired returns up to limit unfinished downloads whose deadline passed,
// including FAILED tasks still waiting for a retry.
func (r *PostgresRepository) FindExpired(ctx context.Context, now time.Time, limit int) ([]*models.ExternalDownload, error) {
	query := `SELECT ` + columns + ` FROM external_downloads
		WHERE (status IN ('PENDING', 'DOWNLOADING') OR (status = 'FAILED' AND retryable)) AND expires_at < $1
		ORDER BY expires_at
		LIMIT $2`
	return r.list(ctx, query, now, limit)
}

// FindRetryDue returns up to limit retryable FAILED downloads whose retry
// time has come, oldest schedule first.
func (r *PostgresRepository) FindRetryDue(ctx context.Context, now time.Time, limit int) ([]*models.ExternalDownload, error) {
	query := `SELECT ` + columns + ` FROM external_downloads
		WHERE status = 'FAILED' AND retryable AND (next_retry_at IS NULL OR next_retry_at <= $1)
		ORDER BY next_retry_at NULLS FIRST
		LIMIT $2`
	return r.list(ctx, query, now, limit)
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]*models.ExternalDownload, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select downloads: %w", err)
	}
	defer rows.Close()

	var result []*models.ExternalDownload
	for rows.Next() {
		d, err := scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(row scanner) (*models.ExternalDownload, error) {
	var (
		d         models.ExternalDownload
		total     sql.NullInt64
		lastRetry sql.NullTime
		nextRetry sql.NullTime
	)
	err := row.Scan(&d.ID, &d.TenantID, &d.OrganizationID, &d.SourceURL, &d.BytesTransferred, &total, &d.Status,
		&d.RetryCount, &d.Retryable, &lastRetry, &nextRetry, &d.ErrorCode, &d.ErrorMessage, &d.WebhookURL, &d.ResultAssetID,
		&d.ExpiresAt, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if total.Valid {
		d.TotalBytes = &total.Int64
	}
	if lastRetry.Valid {
		d.LastRetryAt = &lastRetry.Time
	}
	if nextRetry.Valid {
		d.NextRetryAt = &nextRetry.Time
	}
	return &d, nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *v, Valid: true}
}
