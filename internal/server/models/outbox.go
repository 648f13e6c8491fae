package models

import (
	"time"
)

type OutboxKind string

const (
	OutboxExternalDownload OutboxKind = "EXTERNAL_DOWNLOAD"
	OutboxWebhook          OutboxKind = "WEBHOOK"
	OutboxDownloadQueue    OutboxKind = "DOWNLOAD_QUEUE"
	OutboxTransformQueue   OutboxKind = "TRANSFORM_QUEUE"
)

// OutboxKinds lists every kind in dispatch order.
var OutboxKinds = []OutboxKind{
	OutboxExternalDownload,
	OutboxWebhook,
	OutboxDownloadQueue,
	OutboxTransformQueue,
}

var maxRetryCounts = map[OutboxKind]int{
	OutboxExternalDownload: 3,
	OutboxWebhook:          5,
	OutboxDownloadQueue:    3,
	OutboxTransformQueue:   3,
}

// MaxRetryCount is the number of failed publish attempts after which an
// entry of kind is dead-lettered.
func MaxRetryCount(kind OutboxKind) int {
	if n, ok := maxRetryCounts[kind]; ok {
		return n
	}
	return 3
}

func (k OutboxKind) Valid() bool {
	_, ok := maxRetryCounts[k]
	return ok
}

type OutboxStatus string

const (
	OutboxPending OutboxStatus = "PENDING"
	OutboxSent    OutboxStatus = "SENT"
	OutboxFailed  OutboxStatus = "FAILED"
)

// OutboxEntry is a durable record of an event to publish. Entries are never
// deleted; SENT is final and FAILED only leaves through an operator requeue.
type OutboxEntry struct {
	ID             string
	Kind           OutboxKind
	SubjectID      string
	IdempotencyKey string
	Destination    string
	Payload        []byte
	Status         OutboxStatus
	RetryCount     int
	MaxRetryCount  int
	LastError      string
	CreatedAt      time.Time
	ProcessedAt    *time.Time
}

// MarkSent records a successful publish.
func (e *OutboxEntry) MarkSent(now time.Time) {
	e.Status = OutboxSent
	e.ProcessedAt = &now
	e.LastError = ""
}

// RecordFailure counts a failed publish attempt and dead-letters the entry
// once the retry cap is reached.
func (e *OutboxEntry) RecordFailure(cause error, now time.Time) {
	e.RetryCount++
	if cause != nil {
		e.LastError = cause.Error()
	}
	if e.RetryCount >= e.MaxRetryCount {
		e.Status = OutboxFailed
		e.ProcessedAt = &now
	}
}

// OutboxCount is the number of entries of one kind in one status.
type OutboxCount struct {
	Kind   OutboxKind   `json:"kind"`
	Status OutboxStatus `json:"status"`
	Count  int64        `json:"count"`
}

// OutboxStats summarises the outbox for operators.
type OutboxStats struct {
	Counts        []OutboxCount `json:"counts"`
	OldestPending *time.Time    `json:"oldestPending,omitempty"`
}
