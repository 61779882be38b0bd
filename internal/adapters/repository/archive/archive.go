// Package archive uploads standings snapshots to Amazon S3 as gzipped JSON.
//
// Each board keeps one object, s3://bucket/prefix/{board}/latest.json.gz,
// overwritten on every snapshot.
package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/okian/tempo/internal/adapters/repository"
	"github.com/okian/tempo/pkg/logger"
	"github.com/okian/tempo/pkg/metrics"
)

// ObjectPutter is the subset of *s3.Client the archive uses.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archive writes snapshots to one bucket under a key prefix.
type Archive struct {
	client ObjectPutter
	bucket string
	prefix string
	log    logger.Logger
}

// New loads the default AWS configuration (environment, shared config and
// credentials files) and checks that bucket is reachable.
func New(ctx context.Context, bucket, prefix string) (*Archive, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err != nil {
		return nil, fmt.Errorf("head bucket %s: %w", bucket, err)
	}
	return NewWithClient(client, bucket, prefix), nil
}

// NewWithClient builds an Archive over an existing client.
func NewWithClient(client ObjectPutter, bucket, prefix string) *Archive {
	return &Archive{
		client: client,
		bucket: bucket,
		prefix: prefix,
		log:    logger.Get().Named("archive"),
	}
}

// ObjectKey returns the key a board's snapshot is stored under.
func ObjectKey(prefix, board string) string {
	return path.Join(prefix, board, "latest.json.gz")
}

// Upload stores snap, replacing the previous snapshot of its board.
func (a *Archive) Upload(ctx context.Context, snap *repository.Snapshot) (err error) {
	defer func() { metrics.RecordArchiveUpload(err) }()

	body, err := encode(snap)
	if err != nil {
		return err
	}
	key := ObjectKey(a.prefix, snap.Board)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(a.bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(body),
		ContentType:     aws.String("application/json"),
		ContentEncoding: aws.String("gzip"),
	})
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", a.bucket, key, err)
	}
	return nil
}

// Hook adapts Upload to repository.WithSnapshotHook; failures are logged.
func (a *Archive) Hook() func(ctx context.Context, snap *repository.Snapshot) {
	return func(ctx context.Context, snap *repository.Snapshot) {
		if err := a.Upload(ctx, snap); err != nil {
			a.log.Warn(ctx, "snapshot upload failed",
				logger.String("board", snap.Board),
				logger.Error(err))
		}
	}
}

func encode(snap *repository.Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if err := json.NewEncoder(gw).Encode(snap); err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	if err := gw.Close(); err != nil {
		return nil, fmt.Errorf("close gzip writer: %w", err)
	}
	return buf.Bytes(), nil
}
