package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/dmitrijs2005/fileflow/internal/common"
	"github.com/dmitrijs2005/fileflow/internal/server/models"
)

// Webhook POSTs the entry payload to its destination URL.
type Webhook struct {
	client *http.Client
}

func NewWebhook(client *http.Client) *Webhook {
	if client == nil {
		client = &http.Client{}
	}
	return &Webhook{client: client}
}

func (w *Webhook) Publish(ctx context.Context, e *models.OutboxEntry) error {
	if e.Destination == "" {
		return fmt.Errorf("webhook entry %s has no destination", e.ID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.Destination, bytes.NewReader(e.Payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(common.IdempotencyKeyHeader, e.IdempotencyKey)

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook failed: %s; body: %s", resp.Status, string(b))
	}
	return nil
}
