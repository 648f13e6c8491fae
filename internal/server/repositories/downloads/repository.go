package downloads

import (
	"context"
	"time"

	"github.com/dmitrijs2005/fileflow/internal/server/models"
)

type Repository interface {
	Insert(ctx context.Context, d *models.ExternalDownload) error
	Get(ctx context.Context, id string) (*models.ExternalDownload, error)
	// Update persists d only if the stored status still equals expected.
	Update(ctx context.Context, d *models.ExternalDownload, expected models.DownloadStatus) error
	// UpdateProgress records transfer progress of a DOWNLOADING task.
	UpdateProgress(ctx context.Context, id string, transferred int64, total *int64, now time.Time) error
	FindExpired(ctx context.Context, now time.Time, limit int) ([]*models.ExternalDownload, error)
	FindRetryDue(ctx context.Context, now time.Time, limit int) ([]*models.ExternalDownload, error)
}
