package parts

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/fileflow/internal/common"
	"github.com/dmitrijs2005/fileflow/internal/dbx"
	"github.com/dmitrijs2005/fileflow/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Upsert(ctx context.Context, p *models.CompletedPart) error {
	query := `INSERT INTO completed_parts (session_id, part_number, etag, size_bytes, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id, part_number)
		DO UPDATE SET etag = EXCLUDED.etag, size_bytes = EXCLUDED.size_bytes, created_at = EXCLUDED.created_at`

	res, err := r.db.ExecContext(ctx, query, p.SessionID, p.PartNumber, p.ETag, p.SizeBytes, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return dbx.AffectedOne(res, fmt.Errorf("part %d of %s was not recorded", p.PartNumber, p.SessionID))
}

func (r *PostgresRepository) Insert(ctx context.Context, p *models.CompletedPart) error {
	query := `INSERT INTO completed_parts (session_id, part_number, etag, size_bytes, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := r.db.ExecContext(ctx, query, p.SessionID, p.PartNumber, p.ETag, p.SizeBytes, p.CreatedAt)
	if dbx.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %d", common.ErrDuplicatePartNumber, p.PartNumber)
	}
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// ListOrdered returns the recorded parts of a session by ascending part number.
func (r *PostgresRepository) ListOrdered(ctx context.Context, sessionID string) ([]*models.CompletedPart, error) {
	query := `SELECT session_id, part_number, etag, size_bytes, created_at FROM completed_parts
		WHERE session_id = $1
		ORDER BY part_number`

	rows, err := r.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to select parts: %w", err)
	}
	defer rows.Close()

	var result []*models.CompletedPart
	for rows.Next() {
		var p models.CompletedPart
		if err := rows.Scan(&p.SessionID, &p.PartNumber, &p.ETag, &p.SizeBytes, &p.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) DeleteBySession(ctx context.Context, sessionID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM completed_parts WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
