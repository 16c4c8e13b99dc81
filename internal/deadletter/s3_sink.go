package deadletter

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/oklog/ulid/v2"
	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"

	"github.com/OluOlus/guardduty-sentinel-integration-sub001/internal/engine"
)

// deadLetterRow is the Parquet row shape for one dead-lettered record: the
// TargetRecord's fields plus the batch-level failure context, flattened so
// every row stands alone for ad hoc querying (Athena/Synapse) without a
// join back to a batch table.
type deadLetterRow struct {
	BatchID       string  `parquet:"batch_id"`
	Attempt       int     `parquet:"attempt"`
	FirstSeen     int64   `parquet:"first_seen,timestamp"`
	ErrorKind     string  `parquet:"error_kind"`
	ErrorMessage  string  `parquet:"error_message"`
	TimeGenerated string  `parquet:"time_generated"`
	FindingId     string  `parquet:"finding_id"`
	AccountId     string  `parquet:"account_id"`
	Region        string  `parquet:"region"`
	Severity      float64 `parquet:"severity"`
	Type          string  `parquet:"type"`
	RawJson       string  `parquet:"raw_json"`
}

// S3Sink writes dead-lettered batches to the configured bucket as
// ZSTD-compressed Parquet, one object per batch, so a columnar query engine
// can analyze delivery failures without replaying the source objects.
type S3Sink struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Sink builds an S3Sink. prefix is prepended to every object key; an
// empty prefix writes directly under the bucket root.
func NewS3Sink(client *s3.Client, bucket, prefix string) *S3Sink {
	return &S3Sink{client: client, bucket: bucket, prefix: prefix}
}

// DeadLetter serializes batch.Records plus failure as one Parquet object
// keyed by a time-sortable ULID, so listing the prefix yields failures in
// roughly chronological order.
func (s *S3Sink) DeadLetter(ctx context.Context, batch *engine.Batch, failure FailureContext) error {
	rows := make([]deadLetterRow, 0, len(batch.Records))
	for _, rec := range batch.Records {
		rows = append(rows, deadLetterRow{
			BatchID:       batch.ID,
			Attempt:       failure.Attempt,
			FirstSeen:     failure.FirstSeen.UnixMilli(),
			ErrorKind:     failure.Kind,
			ErrorMessage:  failure.Message,
			TimeGenerated: rec.TimeGenerated,
			FindingId:     rec.FindingId,
			AccountId:     rec.AccountId,
			Region:        rec.Region,
			Severity:      rec.Severity,
			Type:          rec.Type,
			RawJson:       rec.RawJson,
		})
	}

	data, err := encodeParquet(rows)
	if err != nil {
		return fmt.Errorf("deadletter: encode parquet for batch %s: %w", batch.ID, err)
	}

	key := fmt.Sprintf("%s%s.parquet", s.prefix, ulid.Make().String())
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/x-parquet"),
	})
	if err != nil {
		return fmt.Errorf("deadletter: put %s/%s: %w", s.bucket, key, err)
	}
	return nil
}

func encodeParquet(rows []deadLetterRow) ([]byte, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("no rows to encode")
	}
	var buf bytes.Buffer
	writer := parquet.NewGenericWriter[deadLetterRow](&buf, parquet.Compression(&zstd.Codec{Level: zstd.SpeedDefault}))
	if _, err := writer.Write(rows); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
