package parts

import (
	"context"

	"github.com/dmitrijs2005/fileflow/internal/server/models"
)

type Repository interface {
	// Upsert records a part, replacing the row for the same part number.
	Upsert(ctx context.Context, p *models.CompletedPart) error
	// Insert records a part and fails with ErrDuplicatePartNumber when the
	// number is already recorded.
	Insert(ctx context.Context, p *models.CompletedPart) error
	ListOrdered(ctx context.Context, sessionID string) ([]*models.CompletedPart, error)
	DeleteBySession(ctx context.Context, sessionID string) error
}
