package outbox

import (
	"context"
	"time"

	"github.com/dmitrijs2005/fileflow/internal/server/models"
)

type Repository interface {
	// Enqueue inserts e unless an entry with the same idempotency key exists.
	// It reports whether a row was written.
	Enqueue(ctx context.Context, e *models.OutboxEntry) (bool, error)
	Get(ctx context.Context, id string) (*models.OutboxEntry, error)
	// FindPending returns up to limit PENDING entries of kind, oldest first.
	FindPending(ctx context.Context, kind models.OutboxKind, limit int) ([]*models.OutboxEntry, error)
	MarkSent(ctx context.Context, id string, processedAt time.Time) error
	// SaveAttempt persists the outcome of a failed attempt on a PENDING entry.
	SaveAttempt(ctx context.Context, e *models.OutboxEntry) error
	// Requeue moves a FAILED entry back to PENDING with a fresh retry budget.
	Requeue(ctx context.Context, id string) error
	Stats(ctx context.Context) (*models.OutboxStats, error)
}
