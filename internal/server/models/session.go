// Package models defines the fileflow aggregates, their status enums and the
// transition tables that govern them.
package models

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dmitrijs2005/fileflow/internal/common"
)

type AccessType string

const (
	AccessPublic  AccessType = "PUBLIC"
	AccessPrivate AccessType = "PRIVATE"
)

func (a AccessType) Valid() bool {
	return a == AccessPublic || a == AccessPrivate
}

type SessionKind string

const (
	SessionSingle    SessionKind = "SINGLE"
	SessionMultipart SessionKind = "MULTIPART"
)

type SessionStatus string

const (
	SessionPreparing SessionStatus = "PREPARING"
	SessionActive    SessionStatus = "ACTIVE"
	SessionCompleted SessionStatus = "COMPLETED"
	SessionExpired   SessionStatus = "EXPIRED"
	SessionCancelled SessionStatus = "CANCELLED"
	SessionFailed    SessionStatus = "FAILED"
)

func (s SessionStatus) IsTerminal() bool {
	switch s {
	case SessionCompleted, SessionExpired, SessionCancelled, SessionFailed:
		return true
	}
	return false
}

// SessionOp is an operation attempted on an upload session.
type SessionOp string

const (
	OpActivate SessionOp = "activate"
	OpComplete SessionOp = "complete"
	OpCancel   SessionOp = "cancel"
	OpFail     SessionOp = "fail"
	OpExpire   SessionOp = "expire"
)

var sessionTransitions = map[SessionStatus]map[SessionOp]SessionStatus{
	SessionPreparing: {
		OpActivate: SessionActive,
		OpCancel:   SessionCancelled,
		OpFail:     SessionFailed,
		OpExpire:   SessionExpired,
	},
	SessionActive: {
		OpComplete: SessionCompleted,
		OpCancel:   SessionCancelled,
		OpFail:     SessionFailed,
		OpExpire:   SessionExpired,
	},
}

// NextSessionStatus returns the status op leads to from from. Completing a
// completed session yields ErrUploadAlreadyCompleted; every other illegal
// pair yields ErrInvalidSessionState.
func NextSessionStatus(from SessionStatus, op SessionOp) (SessionStatus, error) {
	if to, ok := sessionTransitions[from][op]; ok {
		return to, nil
	}
	if from == SessionCompleted && op == OpComplete {
		return from, common.ErrUploadAlreadyCompleted
	}
	return from, fmt.Errorf("%w: cannot %s a %s session", common.ErrInvalidSessionState, op, from)
}

// UploadSession is a single or multipart upload. Kind-specific fields are
// zero for the other kind.
type UploadSession struct {
	ID            string
	Kind          SessionKind
	AccessType    AccessType
	FileName      string
	ContentType   string
	StorageBucket string
	StorageKey    string
	Status        SessionStatus

	// Single only.
	PresignedURL string

	// Multipart only. TotalParts is nil until the client declares it.
	ProviderUploadID string
	PartSize         int64
	TotalParts       *int

	// Set on completion.
	ETag      string
	SizeBytes int64

	FailureReason string

	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (s *UploadSession) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Transition moves the session along the state table and stamps UpdatedAt.
// It returns the previous status, which repositories use as the expected
// value of the conditional update.
func (s *UploadSession) Transition(op SessionOp, now time.Time) (SessionStatus, error) {
	to, err := NextSessionStatus(s.Status, op)
	if err != nil {
		return s.Status, err
	}
	from := s.Status
	s.Status = to
	s.UpdatedAt = now
	return from, nil
}

// CompletionNotification announces a completed session to the transform pipeline.
func (s *UploadSession) CompletionNotification() Notification {
	return Notification{
		Kind:           OutboxTransformQueue,
		SubjectID:      s.ID,
		IdempotencyKey: fmt.Sprintf("transform:%s:completed", s.ID),
		Payload: TransformRequested{
			SessionID:   s.ID,
			Kind:        s.Kind,
			AccessType:  s.AccessType,
			Bucket:      s.StorageBucket,
			Key:         s.StorageKey,
			FileName:    s.FileName,
			ContentType: s.ContentType,
			SizeBytes:   s.SizeBytes,
			ETag:        s.ETag,
			CompletedAt: s.UpdatedAt,
		},
	}
}

// StorageKeyFor derives the object key of a session from its id:
// uploads/<access>/<id[:2]>/<id><ext>.
func StorageKeyFor(id string, access AccessType, fileName string) string {
	prefix := id
	if len(prefix) > 2 {
		prefix = prefix[:2]
	}
	ext := strings.ToLower(filepath.Ext(fileName))
	return fmt.Sprintf("uploads/%s/%s/%s%s", strings.ToLower(string(access)), prefix, id, ext)
}
