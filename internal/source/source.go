// Package source implements the Object Source (C1): listing and fetching
// GuardDuty export objects from S3, transparently decrypting envelope-KMS
// payloads when the bucket is configured with a CMK.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"

	"github.com/OluOlus/guardduty-sentinel-integration-sub001/internal/config"
	"github.com/OluOlus/guardduty-sentinel-integration-sub001/internal/engine"
	engerrors "github.com/OluOlus/guardduty-sentinel-integration-sub001/pkg/errors"
)

// ErrObjectNotFound is returned by Fetch when the object was deleted between
// list and fetch. Per the failure-mode contract this is a successful no-op,
// not a fatal error: callers should treat it as zero findings for that ref.
var ErrObjectNotFound = errors.New("source: object not found")

// Source offers the two operations the pipeline controller's object workers
// need: enumerate objects and open one for streaming.
type Source interface {
	List(ctx context.Context, bucket, prefix string, limit int) ([]engine.ObjectRef, error)
	Fetch(ctx context.Context, ref engine.ObjectRef) (io.ReadCloser, error)
}

// S3Source is the production Source, backed by AWS S3 and, optionally, AWS
// KMS for envelope-encrypted objects.
type S3Source struct {
	s3       *s3.Client
	kms      *kms.Client
	logger   *logrus.Logger
	kmsKeyID string // propagated onto every listed ObjectRef; "" when the bucket is not encrypted
}

// New builds an S3Source from engine configuration. A custom endpoint
// (MinIO/LocalStack) is honored for local development, mirroring how the
// platform's blob storage client supports path-style addressing.
func New(ctx context.Context, cfg config.SourceConfig, logger *logrus.Logger) (*S3Source, error) {
	var awsCfg aws.Config
	var err error

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID, cfg.SecretAccessKey, "",
			)),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	}
	if err != nil {
		return nil, engerrors.Wrap(engerrors.KindConfig, "failed to load AWS config", err)
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	kmsClient := kms.NewFromConfig(awsCfg)

	logger.WithFields(logrus.Fields{
		"bucket": cfg.Bucket,
		"prefix": cfg.Prefix,
		"region": cfg.Region,
	}).Info("object source initialized")

	return &S3Source{s3: s3Client, kms: kmsClient, logger: logger, kmsKeyID: cfg.KMSKeyID}, nil
}

// List enumerates objects under prefix. Order is unspecified; callers treat
// it as arbitrary per the contract.
func (s *S3Source) List(ctx context.Context, bucket, prefix string, limit int) ([]engine.ObjectRef, error) {
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	}
	if limit > 0 {
		input.MaxKeys = aws.Int32(int32(limit))
	}

	var refs []engine.ObjectRef
	paginator := s3.NewListObjectsV2Paginator(s.s3, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, engerrors.Wrap(engerrors.KindSourceAccess, fmt.Sprintf("failed to list %s/%s", bucket, prefix), err)
		}
		for _, obj := range page.Contents {
			refs = append(refs, engine.ObjectRef{
				Bucket:       bucket,
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
				ETag:         aws.ToString(obj.ETag),
				KMSKeyID:     s.kmsKeyID,
			})
		}
		if limit > 0 && len(refs) >= limit {
			refs = refs[:limit]
			break
		}
	}
	return refs, nil
}

// Fetch opens the object for streaming, transparently decrypting it when
// KMSKeyID is set. The returned stream carries the raw gzip bytes; the
// decoder does the decompression.
func (s *S3Source) Fetch(ctx context.Context, ref engine.ObjectRef) (io.ReadCloser, error) {
	out, err := s.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(ref.Bucket),
		Key:    aws.String(ref.Key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, ErrObjectNotFound
		}
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return nil, ErrObjectNotFound
		}
		if isAccessDenied(err) {
			return nil, engerrors.Wrap(engerrors.KindSourceAccess, fmt.Sprintf("access denied fetching %s/%s", ref.Bucket, ref.Key), err)
		}
		return nil, engerrors.Wrap(engerrors.KindTransient, fmt.Sprintf("failed to fetch %s/%s", ref.Bucket, ref.Key), err)
	}

	if ref.KMSKeyID == "" {
		return out.Body, nil
	}

	plain, decErr := DecryptEnvelope(ctx, s.kms, out.Body)
	if decErr != nil {
		out.Body.Close()
		return nil, engerrors.Wrap(engerrors.KindDecryption, fmt.Sprintf("failed to decrypt %s/%s with key %s", ref.Bucket, ref.Key, ref.KMSKeyID), decErr)
	}
	return plain, nil
}

// isAccessDenied is a best-effort classifier over the SDK's generic API
// error shape; S3 does not expose a typed AccessDenied error in v2.
func isAccessDenied(err error) bool {
	var apiErr interface{ ErrorCode() string }
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "AccessDenied" || code == "Forbidden"
	}
	return false
}
