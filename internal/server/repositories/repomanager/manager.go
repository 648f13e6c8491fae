package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/fileflow/internal/dbx"
	"github.com/dmitrijs2005/fileflow/internal/server/repositories/downloads"
	"github.com/dmitrijs2005/fileflow/internal/server/repositories/outbox"
	"github.com/dmitrijs2005/fileflow/internal/server/repositories/parts"
	"github.com/dmitrijs2005/fileflow/internal/server/repositories/sessions"
)

// RepositoryManager vends repositories bound to a DBTX so one unit of work
// can span several aggregates.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Sessions(db dbx.DBTX) sessions.Repository
	Parts(db dbx.DBTX) parts.Repository
	Downloads(db dbx.DBTX) downloads.Repository
	Outbox(db dbx.DBTX) outbox.Repository
}
