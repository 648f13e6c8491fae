package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dmitrijs2005/fileflow/internal/common"
	"github.com/dmitrijs2005/fileflow/internal/server/models"
)

type SessionRepository struct {
	s *store
}

func (r *SessionRepository) Insert(_ context.Context, s *models.UploadSession) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.sessions[s.ID]; ok {
		return fmt.Errorf("db error: session %s already exists", s.ID)
	}
	r.s.sessions[s.ID] = copySession(s)
	return nil
}

func (r *SessionRepository) Get(_ context.Context, id string) (*models.UploadSession, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	s, ok := r.s.sessions[id]
	if !ok {
		return nil, common.ErrSessionNotFound
	}
	c := copySession(&s)
	return &c, nil
}

func (r *SessionRepository) GetForUpdate(ctx context.Context, id string) (*models.UploadSession, error) {
	return r.Get(ctx, id)
}

func (r *SessionRepository) Update(_ context.Context, s *models.UploadSession, expected models.SessionStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.sessions[s.ID]
	if !ok || cur.Status != expected {
		return fmt.Errorf("%w: session %s is no longer %s", common.ErrInvalidSessionState, s.ID, expected)
	}
	r.s.sessions[s.ID] = copySession(s)
	return nil
}

func (r *SessionRepository) FindExpired(_ context.Context, now time.Time, limit int) ([]*models.UploadSession, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var result []*models.UploadSession
	for _, s := range r.s.sessions {
		if !s.Status.IsTerminal() && s.ExpiresAt.Before(now) {
			c := copySession(&s)
			result = append(result, &c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ExpiresAt.Before(result[j].ExpiresAt) })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func copySession(s *models.UploadSession) models.UploadSession {
	c := *s
	if s.TotalParts != nil {
		n := *s.TotalParts
		c.TotalParts = &n
	}
	return c
}
