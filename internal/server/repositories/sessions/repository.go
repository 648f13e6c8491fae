package sessions

import (
	"context"
	"time"

	"github.com/dmitrijs2005/fileflow/internal/server/models"
)

type Repository interface {
	Insert(ctx context.Context, s *models.UploadSession) error
	Get(ctx context.Context, id string) (*models.UploadSession, error)
	// GetForUpdate reads the session and locks its row until the surrounding
	// transaction ends.
	GetForUpdate(ctx context.Context, id string) (*models.UploadSession, error)
	// Update persists s only if the stored status still equals expected.
	Update(ctx context.Context, s *models.UploadSession, expected models.SessionStatus) error
	FindExpired(ctx context.Context, now time.Time, limit int) ([]*models.UploadSession, error)
}
