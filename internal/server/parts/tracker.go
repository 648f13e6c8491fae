// Package parts records the completed parts of multipart upload sessions and
// decides when a session holds every part it declared.
package parts

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmitrijs2005/fileflow/internal/common"
	"github.com/dmitrijs2005/fileflow/internal/dbx"
	"github.com/dmitrijs2005/fileflow/internal/logging"
	"github.com/dmitrijs2005/fileflow/internal/server/models"
	"github.com/dmitrijs2005/fileflow/internal/server/repositories/repomanager"
)

type Tracker struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	log         logging.Logger
	now         func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock sets the clock used to check session deadlines.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

func NewTracker(db *sql.DB, rm repomanager.RepositoryManager, log logging.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		db:          db,
		repomanager: rm,
		log:         log.With("component", "parts"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ValidatePartNumber rejects numbers outside [MinPartNumber, MaxPartNumber].
func ValidatePartNumber(n int) error {
	if n < common.MinPartNumber || n > common.MaxPartNumber {
		return fmt.Errorf("%w: %d", common.ErrPartNumberOutOfRange, n)
	}
	return nil
}

// RecordPart stores a completed part, replacing an earlier report for the
// same number.
func (t *Tracker) RecordPart(ctx context.Context, sessionID string, partNumber int, eTag string, size int64) error {
	return t.record(ctx, sessionID, partNumber, eTag, size, true)
}

// RecordPartOnce stores a completed part and fails with
// ErrDuplicatePartNumber if the number was already reported.
func (t *Tracker) RecordPartOnce(ctx context.Context, sessionID string, partNumber int, eTag string, size int64) error {
	return t.record(ctx, sessionID, partNumber, eTag, size, false)
}

func (t *Tracker) record(ctx context.Context, sessionID string, partNumber int, eTag string, size int64, upsert bool) error {
	if err := ValidatePartNumber(partNumber); err != nil {
		return err
	}
	now := t.now()

	err := dbx.WithTx(ctx, t.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		// Lock the session so a concurrent completion sees this part or rejects it.
		s, err := t.repomanager.Sessions(tx).GetForUpdate(ctx, sessionID)
		if err != nil {
			return err
		}
		if err := acceptsParts(s, now); err != nil {
			return err
		}
		if s.TotalParts != nil && partNumber > *s.TotalParts {
			return fmt.Errorf("%w: %d exceeds declared total %d", common.ErrPartNumberOutOfRange, partNumber, *s.TotalParts)
		}

		p := &models.CompletedPart{SessionID: sessionID, PartNumber: partNumber, ETag: eTag, SizeBytes: size, CreatedAt: now}
		repo := t.repomanager.Parts(tx)
		if upsert {
			return repo.Upsert(ctx, p)
		}
		return repo.Insert(ctx, p)
	})
	if err != nil {
		return err
	}

	t.log.Debug(ctx, "part recorded", "session", sessionID, "part", partNumber, "size", size)
	return nil
}

func acceptsParts(s *models.UploadSession, now time.Time) error {
	if s.Kind != models.SessionMultipart || s.ProviderUploadID == "" {
		return fmt.Errorf("%w: session %s", common.ErrMultipartNotInitialized, s.ID)
	}
	if s.Status != models.SessionActive {
		return fmt.Errorf("%w: session %s is %s", common.ErrInvalidSessionState, s.ID, s.Status)
	}
	if s.IsExpired(now) {
		return fmt.Errorf("%w: session %s", common.ErrSessionExpired, s.ID)
	}
	return nil
}

// IsComplete reports whether the recorded parts are exactly 1..totalParts.
func (t *Tracker) IsComplete(ctx context.Context, sessionID string, totalParts int) (bool, error) {
	parts, err := t.ListOrdered(ctx, sessionID)
	if err != nil {
		return false, err
	}
	return Complete(parts, totalParts), nil
}

func (t *Tracker) ListOrdered(ctx context.Context, sessionID string) ([]*models.CompletedPart, error) {
	return t.repomanager.Parts(t.db).ListOrdered(ctx, sessionID)
}

// Complete reports whether parts, ordered by part number, are exactly
// {1, ..., total}. A count match alone is not enough: {1,2,4} and {1,2,3}
// both hold three parts.
func Complete(parts []*models.CompletedPart, total int) bool {
	if total < common.MinPartNumber || len(parts) != total {
		return false
	}
	for i, p := range parts {
		if p.PartNumber != i+1 {
			return false
		}
	}
	return true
}
