package models

import "time"

// CompletedPart records one uploaded part of a multipart session.
// (SessionID, PartNumber) is unique.
type CompletedPart struct {
	SessionID  string
	PartNumber int
	ETag       string
	SizeBytes  int64
	CreatedAt  time.Time
}
