// Package common defines sentinel errors shared by the fileflow server
// packages. Callers should use errors.Is to match these values.
package common

import (
	"errors"
	"fmt"
)

var (
	// Lookup misses.
	ErrSessionNotFound     = errors.New("upload session not found")
	ErrDownloadNotFound    = errors.New("external download not found")
	ErrOutboxEntryNotFound = errors.New("outbox entry not found")

	// State machine violations.
	ErrInvalidSessionState    = errors.New("invalid session state")
	ErrUploadAlreadyCompleted = errors.New("upload already completed")
	ErrSessionExpired         = errors.New("session expired")
	ErrOutboxEntryTerminal    = errors.New("outbox entry is terminal")

	// ErrInvalidDownloadState is ErrInvalidSessionState raised by a download task.
	ErrInvalidDownloadState = fmt.Errorf("download: %w", ErrInvalidSessionState)

	// Multipart / part bookkeeping.
	ErrDuplicatePartNumber       = errors.New("duplicate part number")
	ErrPartNumberOutOfRange      = errors.New("part number out of range")
	ErrIncompleteMultipartUpload = errors.New("incomplete multipart upload")
	ErrMultipartNotInitialized   = errors.New("multipart upload not initialized")

	// Object verification on completion.
	ErrUploadedObjectNotFound = errors.New("uploaded object not found")
	ErrETagMismatch           = errors.New("etag mismatch")
)
