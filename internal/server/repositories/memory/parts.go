package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/dmitrijs2005/fileflow/internal/common"
	"github.com/dmitrijs2005/fileflow/internal/server/models"
)

type PartRepository struct {
	s *store
}

func (r *PartRepository) Upsert(_ context.Context, p *models.CompletedPart) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.bucket(p.SessionID)[p.PartNumber] = *p
	return nil
}

func (r *PartRepository) Insert(_ context.Context, p *models.CompletedPart) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b := r.bucket(p.SessionID)
	if _, ok := b[p.PartNumber]; ok {
		return fmt.Errorf("%w: %d", common.ErrDuplicatePartNumber, p.PartNumber)
	}
	b[p.PartNumber] = *p
	return nil
}

func (r *PartRepository) ListOrdered(_ context.Context, sessionID string) ([]*models.CompletedPart, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var result []*models.CompletedPart
	for _, p := range r.s.parts[sessionID] {
		p := p
		result = append(result, &p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].PartNumber < result[j].PartNumber })
	return result, nil
}

func (r *PartRepository) DeleteBySession(_ context.Context, sessionID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.parts, sessionID)
	return nil
}

// bucket must be called with the store lock held.
func (r *PartRepository) bucket(sessionID string) map[int]models.CompletedPart {
	b, ok := r.s.parts[sessionID]
	if !ok {
		b = map[int]models.CompletedPart{}
		r.s.parts[sessionID] = b
	}
	return b
}
