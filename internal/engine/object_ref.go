package engine

import (
	"fmt"
	"time"
)

// ObjectRef is an opaque handle to a source object. The engine never parses
// the key; it only lists, fetches, and (on terminal failure) dead-letters it.
type ObjectRef struct {
	Bucket       string
	Key          string
	Size         int64
	LastModified time.Time
	ETag         string
	KMSKeyID     string // empty when the object is not encrypted
}

// NewObjectFailureBatch wraps a source-level failure (SourceAccess,
// Decryption) in a single-record Batch so it can flow through the same
// dead-letter path as a batch that failed at the sink, rather than requiring
// a second dead-letter contract for object-level failures.
func NewObjectFailureBatch(ref ObjectRef) *Batch {
	rec := TargetRecord{
		TimeGenerated: time.Now().UTC().Format(time.RFC3339Nano),
		FindingId:     fmt.Sprintf("object:%s/%s", ref.Bucket, ref.Key),
		RawJson:       fmt.Sprintf(`{"bucket":%q,"key":%q,"etag":%q,"size":%d}`, ref.Bucket, ref.Key, ref.ETag, ref.Size),
	}
	return NewBatch([]TargetRecord{rec}, len(rec.RawJson))
}
