package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMaxRetryCount(t *testing.T) {
	assert.Greater(t, MaxRetryCount(OutboxWebhook), MaxRetryCount(OutboxDownloadQueue))
	for _, k := range OutboxKinds {
		assert.True(t, k.Valid())
		assert.Positive(t, MaxRetryCount(k))
	}
	assert.False(t, OutboxKind("EMAIL").Valid())
}

func TestOutboxEntry_RecordFailure(t *testing.T) {
	now := time.Now()
	e := &OutboxEntry{Status: OutboxPending, MaxRetryCount: 2}

	e.RecordFailure(errors.New("boom"), now)
	assert.Equal(t, OutboxPending, e.Status)
	assert.Equal(t, 1, e.RetryCount)
	assert.Equal(t, "boom", e.LastError)
	assert.Nil(t, e.ProcessedAt)

	e.RecordFailure(errors.New("boom again"), now)
	assert.Equal(t, OutboxFailed, e.Status)
	assert.Equal(t, 2, e.RetryCount)
	assert.Equal(t, "boom again", e.LastError)
	assert.NotNil(t, e.ProcessedAt)
}

func TestOutboxEntry_MarkSent(t *testing.T) {
	now := time.Now()
	e := &OutboxEntry{Status: OutboxPending, LastError: "old"}
	e.MarkSent(now)
	assert.Equal(t, OutboxSent, e.Status)
	assert.Equal(t, &now, e.ProcessedAt)
	assert.Empty(t, e.LastError)
}
