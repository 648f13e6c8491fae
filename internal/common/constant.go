package common

// IdempotencyKeyHeader is the header (Kafka or HTTP) carrying an outbox
// entry's idempotency key to downstream consumers.
const IdempotencyKeyHeader = "Idempotency-Key"

// Part numbers accepted by S3-compatible multipart uploads.
const (
	MinPartNumber = 1
	MaxPartNumber = 10000
)
