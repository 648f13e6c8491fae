package models

// ObjectInfo is what object storage reports about a stored object.
type ObjectInfo struct {
	ETag        string
	SizeBytes   int64
	ContentType string
}
