package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dmitrijs2005/fileflow/internal/common"
	"github.com/dmitrijs2005/fileflow/internal/server/models"
)

type DownloadRepository struct {
	s *store
}

func (r *DownloadRepository) Insert(_ context.Context, d *models.ExternalDownload) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.downloads[d.ID]; ok {
		return fmt.Errorf("db error: download %s already exists", d.ID)
	}
	r.s.downloads[d.ID] = copyDownload(d)
	return nil
}

func (r *DownloadRepository) Get(_ context.Context, id string) (*models.ExternalDownload, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.downloads[id]
	if !ok {
		return nil, common.ErrDownloadNotFound
	}
	c := copyDownload(&d)
	return &c, nil
}

func (r *DownloadRepository) Update(_ context.Context, d *models.ExternalDownload, expected models.DownloadStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.downloads[d.ID]
	if !ok || cur.Status != expected {
		return fmt.Errorf("%w: download %s is no longer %s", common.ErrInvalidDownloadState, d.ID, expected)
	}
	r.s.downloads[d.ID] = copyDownload(d)
	return nil
}

func (r *DownloadRepository) UpdateProgress(_ context.Context, id string, transferred int64, total *int64, now time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.downloads[id]
	if !ok || cur.Status != models.DownloadDownloading {
		return fmt.Errorf("%w: download %s is not downloading", common.ErrInvalidDownloadState, id)
	}
	cur.BytesTransferred = transferred
	if total != nil {
		n := *total
		cur.TotalBytes = &n
	}
	cur.UpdatedAt = now
	r.s.downloads[id] = cur
	return nil
}

func (r *DownloadRepository) FindExpired(_ context.Context, now time.Time, limit int) ([]*models.ExternalDownload, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var result []*models.ExternalDownload
	for _, d := range r.s.downloads {
		if d.Unfinished() && d.ExpiresAt.Before(now) {
			c := copyDownload(&d)
			result = append(result, &c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ExpiresAt.Before(result[j].ExpiresAt) })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *DownloadRepository) FindRetryDue(_ context.Context, now time.Time, limit int) ([]*models.ExternalDownload, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var result []*models.ExternalDownload
	for _, d := range r.s.downloads {
		if d.RetryDue(now) {
			c := copyDownload(&d)
			result = append(result, &c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return dueAt(result[i]).Before(dueAt(result[j])) })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func dueAt(d *models.ExternalDownload) time.Time {
	if d.NextRetryAt == nil {
		return time.Time{}
	}
	return *d.NextRetryAt
}

func copyDownload(d *models.ExternalDownload) models.ExternalDownload {
	c := *d
	if d.TotalBytes != nil {
		n := *d.TotalBytes
		c.TotalBytes = &n
	}
	if d.LastRetryAt != nil {
		t := *d.LastRetryAt
		c.LastRetryAt = &t
	}
	if d.NextRetryAt != nil {
		t := *d.NextRetryAt
		c.NextRetryAt = &t
	}
	return c
}
