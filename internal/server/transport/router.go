// Package transport delivers outbox entries: Kafka topics for queue kinds,
// a Redis list for download execution requests and HTTP POST for webhooks.
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/fileflow/internal/server/models"
)

type Publisher interface {
	Publish(ctx context.Context, e *models.OutboxEntry) error
}

// Router dispatches an entry to the publisher registered for its kind.
type Router struct {
	routes map[models.OutboxKind]Publisher
}

func NewRouter() *Router {
	return &Router{routes: make(map[models.OutboxKind]Publisher)}
}

func (r *Router) Route(kind models.OutboxKind, p Publisher) *Router {
	r.routes[kind] = p
	return r
}

func (r *Router) Publish(ctx context.Context, e *models.OutboxEntry) error {
	p, ok := r.routes[e.Kind]
	if !ok {
		return fmt.Errorf("no transport for outbox kind %s", e.Kind)
	}
	return p.Publish(ctx, e)
}

// Close closes every distinct routed publisher that holds resources.
func (r *Router) Close() error {
	seen := make(map[Publisher]bool)
	var errs []error
	for _, p := range r.routes {
		if seen[p] {
			continue
		}
		seen[p] = true
		if c, ok := p.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
