package sessions

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

const columns = `id, kind, access_type, file_name, content_type, storage_bucket, storage_key, status,
	presigned_url, provider_upload_id, part_size, total_parts, etag, size_bytes, failure_reason,
	expires_at, created_at, updated_at`

// PostgresRepository stores upload sessions over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Insert(ctx context.Context, s *models.UploadSession) error {
	query := `INSERT INTO upload_sessions (` + columns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

	_, err := r.db.ExecContext(ctx, query,
		s.ID, s.Kind, s.AccessType, s.FileName, s.ContentType, s.StorageBucket, s.StorageKey, s.Status,
		s.PresignedURL, s.ProviderUploadID, s.PartSize, totalParts(s.TotalParts), s.ETag, s.SizeBytes, s.FailureReason,
		s.ExpiresAt, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.UploadSession, error) {
	query := `SELECT ` + columns + ` FROM upload_sessions WHERE id = $1`
	return scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) GetForUpdate(ctx context.Context, id string) (*models.UploadSession, error) {
	query := `SELECT ` + columns + ` FROM upload_sessions WHERE id = $1 FOR UPDATE`
	return scanOne(r.db.QueryRowContext(ctx, query, id))
}

// Update writes every mutable column guarded by the expected status. When the
// row is missing or another writer moved it first, ErrInvalidSessionState is
// returned.
func (r *PostgresRepository) Update(ctx context.Context, s *models.UploadSession, expected models.SessionStatus) error {
	query := `UPDATE upload_sessions SET
			status = $3, storage_bucket = $4, presigned_url = $5, provider_upload_id = $6,
			total_parts = $7, etag = $8, size_bytes = $9, failure_reason = $10, updated_at = $11
		WHERE id = $1 AND status = $2`

	res, err := r.db.ExecContext(ctx, query,
		s.ID, expected, s.Status, s.StorageBucket, s.PresignedURL, s.ProviderUploadID,
		totalParts(s.TotalParts), s.ETag, s.SizeBytes, s.FailureReason, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if err := dbx.AffectedOne(res, common.ErrInvalidSessionState); err != nil {
		if errors.Is(err, common.ErrInvalidSessionState) {
			return fmt.Errorf("%w: session %s is no longer %s", err, s.ID, expected)
		}
		return err
	}
	return nil
}

// FindExpired returns up to limit non-terminal sessions whose deadline passed,
// oldest deadline first.
func (r *PostgresRepository) FindExpired(ctx context.Context, now time.Time, limit int) ([]*models.UploadSession, error) {
	query := `SELECT ` + columns + ` FROM upload_sessions
		WHERE status IN ('PREPARING', 'ACTIVE') AND expires_at < $1
		ORDER BY expires_at
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select sessions: %w", err)
	}
	defer rows.Close()

	var result []*models.UploadSession
	for rows.Next() {
		s, err := scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(row scanner) (*models.UploadSession, error) {
	var (
		s     models.UploadSession
		total sql.NullInt64
	)
	err := row.Scan(&s.ID, &s.Kind, &s.AccessType, &s.FileName, &s.ContentType, &s.StorageBucket, &s.StorageKey, &s.Status,
		&s.PresignedURL, &s.ProviderUploadID, &s.PartSize, &total, &s.ETag, &s.SizeBytes, &s.FailureReason,
		&s.ExpiresAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if total.Valid {
		n := int(total.Int64)
		s.TotalParts = &n
	}
	return &s, nil
}

func scanOne(row *sql.Row) (*models.UploadSession, error) {
	s, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select session: %w", err)
	}
	return s, nil
}

func totalParts(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}
