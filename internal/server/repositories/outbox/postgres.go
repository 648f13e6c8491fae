package outbox

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

const columns = `id, kind, subject_id, idempotency_key, destination, payload, status,
	retry_count, max_retry_count, last_error, created_at, processed_at`

// PostgresRepository stores outbox entries over a dbx.DBTX. Rows are never
// deleted.
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Enqueue(ctx context.Context, e *models.OutboxEntry) (bool, error) {
	query := `INSERT INTO outbox_entries (` + columns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (idempotency_key) DO NOTHING`

	res, err := r.db.ExecContext(ctx, query,
		e.ID, e.Kind, e.SubjectID, e.IdempotencyKey, e.Destination, e.Payload, e.Status,
		e.RetryCount, e.MaxRetryCount, e.LastError, e.CreatedAt, nullTime(e.ProcessedAt))
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	return n == 1, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.OutboxEntry, error) {
	query := `SELECT ` + columns + ` FROM outbox_entries WHERE id = $1`
	e, err := scan(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrOutboxEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select outbox entry: %w", err)
	}
	return e, nil
}

func (r *PostgresRepository) FindPending(ctx context.Context, kind models.OutboxKind, limit int) ([]*models.OutboxEntry, error) {
	query := `SELECT ` + columns + ` FROM outbox_entries
		WHERE kind = $1 AND status = 'PENDING'
		ORDER BY created_at, id
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, kind, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select outbox entries: %w", err)
	}
	defer rows.Close()

	var result []*models.OutboxEntry
	for rows.Next() {
		e, err := scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// MarkSent finalises a PENDING entry. ErrOutboxEntryTerminal means another
// dispatcher already finalised it.
func (r *PostgresRepository) MarkSent(ctx context.Context, id string, processedAt time.Time) error {
	query := `UPDATE outbox_entries SET status = 'SENT', processed_at = $2, last_error = ''
		WHERE id = $1 AND status = 'PENDING'`

	res, err := r.db.ExecContext(ctx, query, id, processedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return dbx.AffectedOne(res, common.ErrOutboxEntryTerminal)
}

func (r *PostgresRepository) SaveAttempt(ctx context.Context, e *models.OutboxEntry) error {
	query := `UPDATE outbox_entries SET status = $2, retry_count = $3, last_error = $4, processed_at = $5
		WHERE id = $1 AND status = 'PENDING'`

	res, err := r.db.ExecContext(ctx, query, e.ID, e.Status, e.RetryCount, e.LastError, nullTime(e.ProcessedAt))
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return dbx.AffectedOne(res, common.ErrOutboxEntryTerminal)
}

func (r *PostgresRepository) Requeue(ctx context.Context, id string) error {
	query := `UPDATE outbox_entries SET status = 'PENDING', retry_count = 0, last_error = '', processed_at = NULL
		WHERE id = $1 AND status = 'FAILED'`

	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return dbx.AffectedOne(res, common.ErrOutboxEntryTerminal)
}

func (r *PostgresRepository) Stats(ctx context.Context) (*models.OutboxStats, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT kind, status, COUNT(*) FROM outbox_entries
		GROUP BY kind, status
		ORDER BY kind, status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count outbox entries: %w", err)
	}
	defer rows.Close()

	stats := &models.OutboxStats{}
	for rows.Next() {
		var c models.OutboxCount
		if err := rows.Scan(&c.Kind, &c.Status, &c.Count); err != nil {
			return nil, err
		}
		stats.Counts = append(stats.Counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var oldest sql.NullTime
	err = r.db.QueryRowContext(ctx, `SELECT MIN(created_at) FROM outbox_entries WHERE status = 'PENDING'`).Scan(&oldest)
	if err != nil {
		return nil, fmt.Errorf("failed to select oldest pending entry: %w", err)
	}
	if oldest.Valid {
		stats.OldestPending = &oldest.Time
	}
	return stats, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(row scanner) (*models.OutboxEntry, error) {
	var (
		e         models.OutboxEntry
		processed sql.NullTime
	)
	err := row.Scan(&e.ID, &e.Kind, &e.SubjectID, &e.IdempotencyKey, &e.Destination, &e.Payload, &e.Status,
		&e.RetryCount, &e.MaxRetryCount, &e.LastError, &e.CreatedAt, &processed)
	if err != nil {
		return nil, err
	}
	if processed.Valid {
		e.ProcessedAt = &processed.Time
	}
	return &e, nil
}

func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *v, Valid: true}
}
