// Package outbox implements the transactional outbox: notifications are
// written next to the state change that caused them and a dispatcher later
// publishes them through a Publisher, at least once.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/fileflow/internal/server/models"
	outboxrepo "github.com/dmitrijs2005/fileflow/internal/server/repositories/outbox"
)

// NewEntry builds the PENDING entry for n.
func NewEntry(n models.Notification, now time.Time) (*models.OutboxEntry, error) {
	if !n.Kind.Valid() {
		return nil, fmt.Errorf("unknown outbox kind %q", n.Kind)
	}
	if n.IdempotencyKey == "" {
		return nil, fmt.Errorf("outbox %s entry for %s has no idempotency key", n.Kind, n.SubjectID)
	}
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", n.Kind, err)
	}
	return &models.OutboxEntry{
		ID:             uuid.NewString(),
		Kind:           n.Kind,
		SubjectID:      n.SubjectID,
		IdempotencyKey: n.IdempotencyKey,
		Destination:    n.Destination,
		Payload:        payload,
		Status:         models.OutboxPending,
		MaxRetryCount:  models.MaxRetryCount(n.Kind),
		CreatedAt:      now,
	}, nil
}

// Enqueue writes one entry per notification through repo, which must be
// bound to the transaction carrying the triggering state change. Entries
// whose idempotency key is already present are skipped.
func Enqueue(ctx context.Context, repo outboxrepo.Repository, now time.Time, notes ...models.Notification) error {
	for _, n := range notes {
		e, err := NewEntry(n, now)
		if err != nil {
			return err
		}
		if _, err := repo.Enqueue(ctx, e); err != nil {
			return fmt.Errorf("enqueue %s: %w", n.Kind, err)
		}
	}
	return nil
}
