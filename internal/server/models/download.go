package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/fileflow/internal/common"
)

type DownloadStatus string

const (
	DownloadPending     DownloadStatus = "PENDING"
	DownloadDownloading DownloadStatus = "DOWNLOADING"
	DownloadCompleted   DownloadStatus = "COMPLETED"
	DownloadFailed      DownloadStatus = "FAILED"
)

type DownloadOp string

const (
	DownloadOpStart    DownloadOp = "start"
	DownloadOpComplete DownloadOp = "complete"
	DownloadOpFail     DownloadOp = "fail"
	DownloadOpRetry    DownloadOp = "retry"
	DownloadOpExpire   DownloadOp = "expire"
)

var downloadTransitions = map[DownloadStatus]map[DownloadOp]DownloadStatus{
	DownloadPending: {
		DownloadOpStart:  DownloadDownloading,
		DownloadOpFail:   DownloadFailed,
		DownloadOpExpire: DownloadFailed,
	},
	DownloadDownloading: {
		DownloadOpComplete: DownloadCompleted,
		DownloadOpFail:     DownloadFailed,
		DownloadOpExpire:   DownloadFailed,
	},
	DownloadFailed: {
		DownloadOpRetry:  DownloadPending,
		DownloadOpExpire: DownloadFailed,
	},
}

func NextDownloadStatus(from DownloadStatus, op DownloadOp) (DownloadStatus, error) {
	if to, ok := downloadTransitions[from][op]; ok {
		return to, nil
	}
	return from, fmt.Errorf("%w: cannot %s a %s download", common.ErrInvalidDownloadState, op, from)
}

// Error codes set by the service itself.
const (
	CodeDownloadExpired = "DOWNLOAD_EXPIRED"
	CodeTimeout         = "TIMEOUT"
	CodeReadTimeout     = "READ_TIMEOUT"
	CodeNetworkError    = "NETWORK_ERROR"
	CodeStorageError    = "STORAGE_ERROR"
)

// IsRetryableCode reports whether a failure with code may be retried:
// upstream 5xx statuses and transient transport or storage errors.
func IsRetryableCode(code string) bool {
	if strings.HasPrefix(code, "5") {
		return true
	}
	switch code {
	case CodeTimeout, CodeReadTimeout, CodeNetworkError, CodeStorageError:
		return true
	}
	return false
}

// RetryDelay is the wait before retry attempt n (n >= 1): 2^n seconds.
func RetryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	return time.Second << attempt
}

// ExternalDownload is a server-side download of SourceURL into object storage.
//
// ResultAssetID is set iff Status is COMPLETED; ErrorCode and ErrorMessage
// are set iff Status is FAILED. Retryable tells a FAILED task that may still
// be retried from a permanently failed one; NextRetryAt is when it becomes due.
type ExternalDownload struct {
	ID               string
	TenantID         string
	OrganizationID   string
	SourceURL        string
	BytesTransferred int64
	TotalBytes       *int64
	Status           DownloadStatus
	RetryCount       int
	Retryable        bool
	LastRetryAt      *time.Time
	NextRetryAt      *time.Time
	ErrorCode        string
	ErrorMessage     string
	WebhookURL       string
	ResultAssetID    string

	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (d *ExternalDownload) transition(op DownloadOp, now time.Time) (DownloadStatus, error) {
	to, err := NextDownloadStatus(d.Status, op)
	if err != nil {
		return d.Status, err
	}
	from := d.Status
	d.Status = to
	d.UpdatedAt = now
	return from, nil
}

// Unfinished reports whether the task can still reach a terminal outcome on
// its own: it is queued, running, or waiting for a retry.
func (d *ExternalDownload) Unfinished() bool {
	switch d.Status {
	case DownloadPending, DownloadDownloading:
		return true
	case DownloadFailed:
		return d.Retryable
	}
	return false
}

// RetryDue reports whether a retryable FAILED task may be requeued at now.
func (d *ExternalDownload) RetryDue(now time.Time) bool {
	if d.Status != DownloadFailed || !d.Retryable {
		return false
	}
	return d.NextRetryAt == nil || !now.Before(*d.NextRetryAt)
}

// Start moves a PENDING task to DOWNLOADING.
func (d *ExternalDownload) Start(now time.Time) (DownloadStatus, error) {
	return d.transition(DownloadOpStart, now)
}

// Complete records the resulting asset and returns the notifications to enqueue.
func (d *ExternalDownload) Complete(assetID string, now time.Time) (DownloadStatus, []Notification, error) {
	from, err := d.transition(DownloadOpComplete, now)
	if err != nil {
		return from, nil, err
	}
	d.ResultAssetID = assetID
	d.ErrorCode, d.ErrorMessage = "", ""
	d.Retryable = false
	d.NextRetryAt = nil

	notes := []Notification{{
		Kind:           OutboxDownloadQueue,
		SubjectID:      d.ID,
		IdempotencyKey: fmt.Sprintf("downloaded:%s", d.ID),
		Payload: AssetDownloaded{
			DownloadID:     d.ID,
			TenantID:       d.TenantID,
			OrganizationID: d.OrganizationID,
			AssetID:        assetID,
			SourceURL:      d.SourceURL,
			SizeBytes:      d.BytesTransferred,
			CompletedAt:    now,
		},
	}}
	if n, ok := d.webhook("completed", now); ok {
		notes = append(notes, n)
	}
	return from, notes, nil
}

// Fail records a failure. While code is retryable and RetryCount < maxRetry
// the retry count is consumed and the task stays retryable with no
// notification until NextRetryAt; otherwise the failure is permanent and a webhook
// notification (when configured) reports it.
func (d *ExternalDownload) Fail(code, message string, maxRetry int, now time.Time) (DownloadStatus, []Notification, error) {
	from, err := d.transition(DownloadOpFail, now)
	if err != nil {
		return from, nil, err
	}
	d.ErrorCode = code
	d.ErrorMessage = message

	if IsRetryableCode(code) && d.RetryCount < maxRetry {
		d.RetryCount++
		d.LastRetryAt = &now
		d.Retryable = true
		next := now.Add(RetryDelay(d.RetryCount))
		d.NextRetryAt = &next
		return from, nil, nil
	}

	d.Retryable = false
	d.NextRetryAt = nil
	if n, ok := d.webhook("failed", now); ok {
		return from, []Notification{n}, nil
	}
	return from, nil, nil
}

// Retry moves a retryable FAILED task back to PENDING and returns the
// execution request to enqueue.
func (d *ExternalDownload) Retry(now time.Time) (DownloadStatus, Notification, error) {
	if d.Status == DownloadFailed && !d.Retryable {
		return d.Status, Notification{}, fmt.Errorf("%w: download %s failed permanently", common.ErrInvalidDownloadState, d.ID)
	}
	from, err := d.transition(DownloadOpRetry, now)
	if err != nil {
		return from, Notification{}, err
	}
	d.ErrorCode, d.ErrorMessage = "", ""
	d.Retryable = false
	d.BytesTransferred = 0
	d.LastRetryAt = &now
	d.NextRetryAt = nil
	return from, d.ExecutionRequest(), nil
}

// Expire fails an unfinished task permanently once its deadline passed. A
// task still waiting for a retry is expired too, so it cannot stay retryable
// forever when no retry is ever run.
func (d *ExternalDownload) Expire(now time.Time) (DownloadStatus, []Notification, error) {
	if d.Status == DownloadFailed && !d.Retryable {
		return d.Status, nil, fmt.Errorf("%w: download %s failed permanently", common.ErrInvalidDownloadState, d.ID)
	}
	from, err := d.transition(DownloadOpExpire, now)
	if err != nil {
		return from, nil, err
	}
	d.ErrorCode = CodeDownloadExpired
	d.ErrorMessage = fmt.Sprintf("download did not finish before %s", d.ExpiresAt.UTC().Format(time.RFC3339))
	d.Retryable = false
	d.NextRetryAt = nil
	if n, ok := d.webhook("failed", now); ok {
		return from, []Notification{n}, nil
	}
	return from, nil, nil
}

// ExecutionRequest asks the download worker to run the current attempt.
func (d *ExternalDownload) ExecutionRequest() Notification {
	return Notification{
		Kind:           OutboxExternalDownload,
		SubjectID:      d.ID,
		IdempotencyKey: fmt.Sprintf("download:%s:attempt:%d", d.ID, d.RetryCount),
		Payload: DownloadRequested{
			DownloadID: d.ID,
			SourceURL:  d.SourceURL,
			Attempt:    d.RetryCount,
		},
	}
}

func (d *ExternalDownload) webhook(event string, now time.Time) (Notification, bool) {
	if d.WebhookURL == "" {
		return Notification{}, false
	}
	return Notification{
		Kind:           OutboxWebhook,
		SubjectID:      d.ID,
		IdempotencyKey: fmt.Sprintf("webhook:%s:%s", d.ID, event),
		Destination:    d.WebhookURL,
		Payload: DownloadOutcome{
			DownloadID:     d.ID,
			TenantID:       d.TenantID,
			OrganizationID: d.OrganizationID,
			Status:         d.Status,
			ResultAssetID:  d.ResultAssetID,
			ErrorCode:      d.ErrorCode,
			ErrorMessage:   d.ErrorMessage,
			RetryCount:     d.RetryCount,
			OccurredAt:     now,
		},
	}, true
}
