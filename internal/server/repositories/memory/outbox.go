package memory

import (
	"context"
	"sort"
	"time"

	"github.com/dmitrijs2005/fileflow/internal/common"
	"github.com/dmitrijs2005/fileflow/internal/server/models"
)

type OutboxRepository struct {
	s *store
}

func (r *OutboxRepository) Enqueue(_ context.Context, e *models.OutboxEntry) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, cur := range r.s.outbox {
		if cur.IdempotencyKey == e.IdempotencyKey {
			return false, nil
		}
	}
	r.s.outbox = append(r.s.outbox, *e)
	return true, nil
}

func (r *OutboxRepository) Get(_ context.Context, id string) (*models.OutboxEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if i := r.index(id); i >= 0 {
		e := r.s.outbox[i]
		return &e, nil
	}
	return nil, common.ErrOutboxEntryNotFound
}

func (r *OutboxRepository) FindPending(_ context.Context, kind models.OutboxKind, limit int) ([]*models.OutboxEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var result []*models.OutboxEntry
	for _, e := range r.s.outbox {
		if e.Kind == kind && e.Status == models.OutboxPending {
			e := e
			result = append(result, &e)
		}
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *OutboxRepository) MarkSent(_ context.Context, id string, processedAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	i := r.index(id)
	if i < 0 || r.s.outbox[i].Status != models.OutboxPending {
		return common.ErrOutboxEntryTerminal
	}
	r.s.outbox[i].MarkSent(processedAt)
	return nil
}

func (r *OutboxRepository) SaveAttempt(_ context.Context, e *models.OutboxEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	i := r.index(e.ID)
	if i < 0 || r.s.outbox[i].Status != models.OutboxPending {
		return common.ErrOutboxEntryTerminal
	}
	cur := &r.s.outbox[i]
	cur.Status = e.Status
	cur.RetryCount = e.RetryCount
	cur.LastError = e.LastError
	cur.ProcessedAt = e.ProcessedAt
	return nil
}

func (r *OutboxRepository) Requeue(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	i := r.index(id)
	if i < 0 || r.s.outbox[i].Status != models.OutboxFailed {
		return common.ErrOutboxEntryTerminal
	}
	cur := &r.s.outbox[i]
	cur.Status = models.OutboxPending
	cur.RetryCount = 0
	cur.LastError = ""
	cur.ProcessedAt = nil
	return nil
}

func (r *OutboxRepository) Stats(_ context.Context) (*models.OutboxStats, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	type key struct {
		kind   models.OutboxKind
		status models.OutboxStatus
	}
	counts := map[key]int64{}
	stats := &models.OutboxStats{}
	for _, e := range r.s.outbox {
		counts[key{e.Kind, e.Status}]++
		if e.Status == models.OutboxPending && (stats.OldestPending == nil || e.CreatedAt.Before(*stats.OldestPending)) {
			t := e.CreatedAt
			stats.OldestPending = &t
		}
	}
	for k, n := range counts {
		stats.Counts = append(stats.Counts, models.OutboxCount{Kind: k.kind, Status: k.status, Count: n})
	}
	sort.Slice(stats.Counts, func(i, j int) bool {
		if stats.Counts[i].Kind != stats.Counts[j].Kind {
			return stats.Counts[i].Kind < stats.Counts[j].Kind
		}
		return stats.Counts[i].Status < stats.Counts[j].Status
	})
	return stats, nil
}

// index must be called with the store lock held.
func (r *OutboxRepository) index(id string) int {
	for i, e := range r.s.outbox {
		if e.ID == id {
			return i
		}
	}
	return -1
}
