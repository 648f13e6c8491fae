package models

import "time"

// Notification is an event a state change wants published. The service
// turns it into an OutboxEntry inside the same transaction.
type Notification struct {
	Kind           OutboxKind
	SubjectID      string
	IdempotencyKey string
	// Destination is the webhook URL for WEBHOOK notifications.
	Destination string
	Payload     any
}

// TransformRequested is published when an upload session completes.
type TransformRequested struct {
	SessionID   string      `json:"sessionId"`
	Kind        SessionKind `json:"kind"`
	AccessType  AccessType  `json:"accessType"`
	Bucket      string      `json:"bucket"`
	Key         string      `json:"key"`
	FileName    string      `json:"fileName"`
	ContentType string      `json:"contentType,omitempty"`
	SizeBytes   int64       `json:"sizeBytes"`
	ETag        string      `json:"etag,omitempty"`
	CompletedAt time.Time   `json:"completedAt"`
}

// DownloadRequested asks the download worker to execute an attempt.
type DownloadRequested struct {
	DownloadID string `json:"downloadId"`
	SourceURL  string `json:"sourceUrl"`
	Attempt    int    `json:"attempt"`
}

// AssetDownloaded announces the asset produced by a completed download.
type AssetDownloaded struct {
	DownloadID     string    `json:"downloadId"`
	TenantID       string    `json:"tenantId"`
	OrganizationID string    `json:"organizationId"`
	AssetID        string    `json:"assetId"`
	SourceURL      string    `json:"sourceUrl"`
	SizeBytes      int64     `json:"sizeBytes"`
	CompletedAt    time.Time `json:"completedAt"`
}

// DownloadOutcome is the webhook body sent on a terminal download outcome.
type DownloadOutcome struct {
	DownloadID     string         `json:"downloadId"`
	TenantID       string         `json:"tenantId"`
	OrganizationID string         `json:"organizationId"`
	Status         DownloadStatus `json:"status"`
	ResultAssetID  string         `json:"resultAssetId,omitempty"`
	ErrorCode      string         `json:"errorCode,omitempty"`
	ErrorMessage   string         `json:"errorMessage,omitempty"`
	RetryCount     int            `json:"retryCount"`
	OccurredAt     time.Time      `json:"occurredAt"`
}
