// Package sessions drives upload sessions through their lifecycle: creation,
// activation against object storage, completion, cancellation, failure and
// expiration. Completion is announced through the outbox in the same
// transaction as the state change.
package sessions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/fileflow/internal/common"
	"github.com/dmitrijs2005/fileflow/internal/dbx"
	"github.com/dmitrijs2005/fileflow/internal/logging"
	"github.com/dmitrijs2005/fileflow/internal/server/models"
	"github.com/dmitrijs2005/fileflow/internal/server/outbox"
	"github.com/dmitrijs2005/fileflow/internal/server/parts"
	"github.com/dmitrijs2005/fileflow/internal/server/repositories/repomanager"
)

// ObjectStorage is the object store as seen by upload sessions.
type ObjectStorage interface {
	PresignPut(ctx context.Context, bucket, key, contentType string, ttl time.Duration) (string, error)
	CreateMultipartUpload(ctx context.Context, bucket, key, contentType string) (string, error)
	CompleteMultipartUpload(ctx context.Context, bucket, key, uploadID string, parts []*models.CompletedPart) (string, error)
	AbortMultipartUpload(ctx context.Context, bucket, key, uploadID string) error
	HeadObject(ctx context.Context, bucket, key string) (*models.ObjectInfo, error)
}

type Config struct {
	PublicBucket  string
	PrivateBucket string
	// StorageTimeout bounds each object-storage call.
	StorageTimeout time.Duration
	// DefaultExpiry applies when a session is created without an expiry.
	DefaultExpiry time.Duration
}

// maxPresignTTL is the longest validity S3 accepts for a presigned URL.
const maxPresignTTL = 7 * 24 * time.Hour

type Service struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	storage     ObjectStorage
	config      Config
	log         logging.Logger
	now         func() time.Time
	newID       func() string
}

func NewService(db *sql.DB, rm repomanager.RepositoryManager, storage ObjectStorage, config Config, log logging.Logger) *Service {
	if config.DefaultExpiry <= 0 {
		config.DefaultExpiry = 24 * time.Hour
	}
	return &Service{
		db:          db,
		repomanager: rm,
		storage:     storage,
		config:      config,
		log:         log.With("component", "sessions"),
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

func (s *Service) Get(ctx context.Context, id string) (*models.UploadSession, error) {
	return s.repomanager.Sessions(s.db).Get(ctx, id)
}

func (s *Service) FindExpired(ctx context.Context, now time.Time, limit int) ([]*models.UploadSession, error) {
	return s.repomanager.Sessions(s.db).FindExpired(ctx, now, limit)
}

// CreateSingle registers a single-object upload in PREPARING. Storage is not
// contacted until ActivateSingle.
func (s *Service) CreateSingle(ctx context.Context, fileName, contentType string, access models.AccessType, expiry time.Duration) (*models.UploadSession, error) {
	session, err := s.newSession(models.SessionSingle, fileName, contentType, access, expiry)
	if err != nil {
		return nil, err
	}
	return s.insert(ctx, session)
}

// CreateMultipart registers a multipart upload in PREPARING. totalParts may
// be nil when the client does not know the part count yet.
func (s *Service) CreateMultipart(ctx context.Context, fileName, contentType string, access models.AccessType, partSize int64, totalParts *int, expiry time.Duration) (*models.UploadSession, error) {
	if partSize <= 0 {
		return nil, fmt.Errorf("part size must be positive, got %d", partSize)
	}
	if totalParts != nil {
		if err := parts.ValidatePartNumber(*totalParts); err != nil {
			return nil, err
		}
	}
	session, err := s.newSession(models.SessionMultipart, fileName, contentType, access, expiry)
	if err != nil {
		return nil, err
	}
	session.PartSize = partSize
	session.TotalParts = totalParts
	return s.insert(ctx, session)
}

func (s *Service) newSession(kind models.SessionKind, fileName, contentType string, access models.AccessType, expiry time.Duration) (*models.UploadSession, error) {
	if !access.Valid() {
		return nil, fmt.Errorf("unknown access type %q", access)
	}
	if fileName == "" {
		return nil, errors.New("file name is empty")
	}
	if expiry <= 0 {
		expiry = s.config.DefaultExpiry
	}
	now := s.now()
	id := s.newID()
	return &models.UploadSession{
		ID:          id,
		Kind:        kind,
		AccessType:  access,
		FileName:    fileName,
		ContentType: contentType,
		StorageKey:  models.StorageKeyFor(id, access, fileName),
		Status:      models.SessionPreparing,
		ExpiresAt:   now.Add(expiry),
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (s *Service) insert(ctx context.Context, session *models.UploadSession) (*models.UploadSession, error) {
	if err := s.repomanager.Sessions(s.db).Insert(ctx, session); err != nil {
		return nil, err
	}
	s.log.Info(ctx, "upload session created", "session", session.ID, "kind", session.Kind, "access", session.AccessType)
	return session, nil
}

// DeclareTotalParts records the part count of a multipart session. It may be
// set once; repeating the same value is accepted. The total cannot be below
// the highest part already recorded.
func (s *Service) DeclareTotalParts(ctx context.Context, id string, total int) (*models.UploadSession, error) {
	if err := parts.ValidatePartNumber(total); err != nil {
		return nil, err
	}

	var session *models.UploadSession
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		// Locked so no part above total can be recorded concurrently.
		cur, err := s.repomanager.Sessions(tx).GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if cur.Kind != models.SessionMultipart {
			return fmt.Errorf("%w: session %s is not multipart", common.ErrMultipartNotInitialized, id)
		}
		if cur.Status.IsTerminal() {
			return fmt.Errorf("%w: session %s is %s", common.ErrInvalidSessionState, id, cur.Status)
		}
		session = cur
		if cur.TotalParts != nil {
			if *cur.TotalParts == total {
				return nil
			}
			return fmt.Errorf("%w: session %s already declared %d parts", common.ErrInvalidSessionState, id, *cur.TotalParts)
		}

		recorded, err := s.repomanager.Parts(tx).ListOrdered(ctx, id)
		if err != nil {
			return err
		}
		if n := len(recorded); n > 0 && recorded[n-1].PartNumber > total {
			return fmt.Errorf("%w: session %s already holds part %d, cannot declare %d parts",
				common.ErrInvalidSessionState, id, recorded[n-1].PartNumber, total)
		}

		cur.TotalParts = &total
		cur.UpdatedAt = s.now()
		return s.repomanager.Sessions(tx).Update(ctx, cur, cur.Status)
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// ActivateSingle obtains a presigned PUT URL and moves the session to
// ACTIVE. The session is written only after storage answered, so a timeout
// leaves it PREPARING and the call can be repeated.
func (s *Service) ActivateSingle(ctx context.Context, id string) (*models.UploadSession, error) {
	session, err := s.activatable(ctx, id, models.SessionSingle)
	if err != nil {
		return nil, err
	}

	bucket := s.bucketFor(session.AccessType)
	ttl := session.ExpiresAt.Sub(s.now())
	if ttl > maxPresignTTL {
		ttl = maxPresignTTL
	}

	sctx, cancel := s.storageContext(ctx)
	url, err := s.storage.PresignPut(sctx, bucket, session.StorageKey, session.ContentType, ttl)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("activate session %s: %w", id, err)
	}

	session.StorageBucket = bucket
	session.PresignedURL = url
	from, err := session.Transition(models.OpActivate, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.repomanager.Sessions(s.db).Update(ctx, session, from); err != nil {
		return nil, err
	}
	s.log.Info(ctx, "upload session activated", "session", id, "bucket", bucket)
	return session, nil
}

// ActivateMultipart initiates the multipart upload and moves the session to
// ACTIVE. If another caller activated the session first, the upload
// initiated here is aborted.
func (s *Service) ActivateMultipart(ctx context.Context, id string) (*models.UploadSession, error) {
	session, err := s.activatable(ctx, id, models.SessionMultipart)
	if err != nil {
		return nil, err
	}

	bucket := s.bucketFor(session.AccessType)
	sctx, cancel := s.storageContext(ctx)
	uploadID, err := s.storage.CreateMultipartUpload(sctx, bucket, session.StorageKey, session.ContentType)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("activate session %s: %w", id, err)
	}

	session.StorageBucket = bucket
	session.ProviderUploadID = uploadID
	from, err := session.Transition(models.OpActivate, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.repomanager.Sessions(s.db).Update(ctx, session, from); err != nil {
		s.abort(ctx, session)
		return nil, err
	}
	s.log.Info(ctx, "upload session activated", "session", id, "bucket", bucket, "upload", uploadID)
	return session, nil
}

func (s *Service) activatable(ctx context.Context, id string, kind models.SessionKind) (*models.UploadSession, error) {
	session, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.Kind != kind {
		return nil, fmt.Errorf("%w: session %s is %s, not %s", common.ErrInvalidSessionState, id, session.Kind, kind)
	}
	if _, err := models.NextSessionStatus(session.Status, models.OpActivate); err != nil {
		return nil, err
	}
	if session.IsExpired(s.now()) {
		return nil, fmt.Errorf("%w: session %s", common.ErrSessionExpired, id)
	}
	return session, nil
}

// CompleteSingle confirms the object exists in storage and marks the session
// COMPLETED. A non-empty observedETag must match what storage reports.
func (s *Service) CompleteSingle(ctx context.Context, id, observedETag string) (*models.UploadSession, error) {
	session, err := s.completable(ctx, id, models.SessionSingle)
	if err != nil {
		return nil, err
	}

	sctx, cancel := s.storageContext(ctx)
	info, err := s.storage.HeadObject(sctx, session.StorageBucket, session.StorageKey)
	cancel()
	if err != nil {
		return nil, err
	}
	if observedETag != "" && trimQuotes(observedETag) != info.ETag {
		return nil, fmt.Errorf("%w: client reported %s, storage has %s", common.ErrETagMismatch, observedETag, info.ETag)
	}

	session.ETag = info.ETag
	session.SizeBytes = info.SizeBytes
	if session.ContentType == "" {
		session.ContentType = info.ContentType
	}
	if err := s.commitCompletion(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// CompleteMultipart assembles the recorded parts into the final object. The
// parts must be exactly 1..totalParts; otherwise ErrIncompleteMultipartUpload
// is returned and storage is not called. Without a declared total, the
// recorded parts must be contiguous from 1.
func (s *Service) CompleteMultipart(ctx context.Context, id string) (*models.UploadSession, error) {
	session, err := s.completable(ctx, id, models.SessionMultipart)
	if err != nil {
		return nil, err
	}
	if session.ProviderUploadID == "" {
		return nil, fmt.Errorf("%w: session %s", common.ErrMultipartNotInitialized, id)
	}

	recorded, err := s.repomanager.Parts(s.db).ListOrdered(ctx, id)
	if err != nil {
		return nil, err
	}
	total := len(recorded)
	if session.TotalParts != nil {
		total = *session.TotalParts
	}
	if !parts.Complete(recorded, total) {
		return nil, fmt.Errorf("%w: session %s has %d of %d parts", common.ErrIncompleteMultipartUpload, id, len(recorded), total)
	}

	sctx, cancel := s.storageContext(ctx)
	etag, err := s.storage.CompleteMultipartUpload(sctx, session.StorageBucket, session.StorageKey, session.ProviderUploadID, recorded)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("complete session %s: %w", id, err)
	}

	var size int64
	for _, p := range recorded {
		size += p.SizeBytes
	}
	session.ETag = etag
	session.SizeBytes = size
	if session.TotalParts == nil {
		session.TotalParts = &total
	}
	if err := s.commitCompletion(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *Service) completable(ctx context.Context, id string, kind models.SessionKind) (*models.UploadSession, error) {
	session, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := models.NextSessionStatus(session.Status, models.OpComplete); err != nil {
		return nil, err
	}
	if session.Kind != kind {
		return nil, fmt.Errorf("%w: session %s is %s, not %s", common.ErrInvalidSessionState, id, session.Kind, kind)
	}
	if session.IsExpired(s.now()) {
		return nil, fmt.Errorf("%w: session %s", common.ErrSessionExpired, id)
	}
	return session, nil
}

// commitCompletion writes ACTIVE→COMPLETED, clears recorded parts and
// enqueues the transform notification in one transaction.
func (s *Service) commitCompletion(ctx context.Context, session *models.UploadSession) error {
	now := s.now()
	from, err := session.Transition(models.OpComplete, now)
	if err != nil {
		return err
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Sessions(tx).Update(ctx, session, from); err != nil {
			return err
		}
		if session.Kind == models.SessionMultipart {
			if err := s.repomanager.Parts(tx).DeleteBySession(ctx, session.ID); err != nil {
				return err
			}
		}
		return outbox.Enqueue(ctx, s.repomanager.Outbox(tx), now, session.CompletionNotification())
	})
	if err != nil {
		return err
	}
	s.log.Info(ctx, "upload session completed", "session", session.ID, "size", session.SizeBytes, "etag", session.ETag)
	return nil
}

// Cancel stops a PREPARING or ACTIVE session at the client's request.
func (s *Service) Cancel(ctx context.Context, id string) (*models.UploadSession, error) {
	session, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.terminate(ctx, session, models.OpCancel, s.now()); err != nil {
		return nil, err
	}
	return session, nil
}

// Fail stops a PREPARING or ACTIVE session because of an error on the
// upload path.
func (s *Service) Fail(ctx context.Context, id, reason string) (*models.UploadSession, error) {
	session, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	session.FailureReason = reason
	if err := s.terminate(ctx, session, models.OpFail, s.now()); err != nil {
		return nil, err
	}
	return session, nil
}

// Expire moves a session past its deadline to EXPIRED. Sessions that are
// terminal, not yet due or concurrently moved elsewhere are left alone and
// reported as not expired.
func (s *Service) Expire(ctx context.Context, id string, now time.Time) (bool, error) {
	session, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if session.Status.IsTerminal() || !session.IsExpired(now) {
		return false, nil
	}
	if err := s.terminate(ctx, session, models.OpExpire, now); err != nil {
		if errors.Is(err, common.ErrInvalidSessionState) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// terminate persists a transition into a terminal status, drops recorded
// parts and then aborts the storage-side upload best-effort.
func (s *Service) terminate(ctx context.Context, session *models.UploadSession, op models.SessionOp, now time.Time) error {
	from, err := session.Transition(op, now)
	if err != nil {
		return err
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Sessions(tx).Update(ctx, session, from); err != nil {
			return err
		}
		if session.Kind == models.SessionMultipart {
			return s.repomanager.Parts(tx).DeleteBySession(ctx, session.ID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.abort(ctx, session)
	s.log.Info(ctx, "upload session terminated", "session", session.ID, "status", session.Status, "from", from)
	return nil
}

// abort cancels an initiated multipart upload. Failures are logged only;
// storage lifecycle rules reclaim what is left behind.
func (s *Service) abort(ctx context.Context, session *models.UploadSession) {
	if session.Kind != models.SessionMultipart || session.ProviderUploadID == "" {
		return
	}
	sctx, cancel := s.storageContext(ctx)
	defer cancel()
	if err := s.storage.AbortMultipartUpload(sctx, session.StorageBucket, session.StorageKey, session.ProviderUploadID); err != nil {
		s.log.Warn(ctx, "abort multipart upload failed", "session", session.ID, "upload", session.ProviderUploadID, "error", err)
	}
}

func (s *Service) bucketFor(access models.AccessType) string {
	if access == models.AccessPublic {
		return s.config.PublicBucket
	}
	return s.config.PrivateBucket
}

func (s *Service) storageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.config.StorageTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.config.StorageTimeout)
}

func trimQuotes(etag string) string {
	if len(etag) >= 2 && etag[0] == '"' && etag[len(etag)-1] == '"' {
		return etag[1 : len(etag)-1]
	}
	return etag
}
