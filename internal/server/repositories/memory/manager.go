// Package memory implements the repositories in process memory. Writes are
// applied immediately and are not undone when the surrounding transaction
// rolls back, so it suits tests and single-node tooling only.
package memory

import (
	"context"
	"database/sql"
	"sync"

	"github.com/dmitrijs2005/fileflow/internal/dbx"
	"github.com/dmitrijs2005/fileflow/internal/server/models"
	"github.com/dmitrijs2005/fileflow/internal/server/repositories/downloads"
	"github.com/dmitrijs2005/fileflow/internal/server/repositories/outbox"
	"github.com/dmitrijs2005/fileflow/internal/server/repositories/parts"
	"github.com/dmitrijs2005/fileflow/internal/server/repositories/sessions"
)

type store struct {
	mu        sync.Mutex
	sessions  map[string]models.UploadSession
	parts     map[string]map[int]models.CompletedPart
	downloads map[string]models.ExternalDownload
	outbox    []models.OutboxEntry
}

// RepositoryManager hands out repositories sharing one in-memory store,
// whatever DBTX they are bound to.
type RepositoryManager struct {
	s *store
}

func NewRepositoryManager() *RepositoryManager {
	return &RepositoryManager{s: &store{
		sessions:  map[string]models.UploadSession{},
		parts:     map[string]map[int]models.CompletedPart{},
		downloads: map[string]models.ExternalDownload{},
	}}
}

func (m *RepositoryManager) RunMigrations(context.Context, *sql.DB) error {
	return nil
}

func (m *RepositoryManager) Sessions(dbx.DBTX) sessions.Repository {
	return &SessionRepository{s: m.s}
}

func (m *RepositoryManager) Parts(dbx.DBTX) parts.Repository {
	return &PartRepository{s: m.s}
}

func (m *RepositoryManager) Downloads(dbx.DBTX) downloads.Repository {
	return &DownloadRepository{s: m.s}
}

func (m *RepositoryManager) Outbox(dbx.DBTX) outbox.Repository {
	return &OutboxRepository{s: m.s}
}

// OutboxEntries returns a snapshot of every outbox entry in insertion order.
func (m *RepositoryManager) OutboxEntries() []models.OutboxEntry {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	return append([]models.OutboxEntry(nil), m.s.outbox...)
}
