package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Client is the subset of *s3.Client used by S3Store.
type S3Client interface {
	s3.ListObjectsV2APIClient
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3StoreConfig configures an S3Store.
type S3StoreConfig struct {
	Client S3Client

	// Bucket must already exist.
	Bucket string

	// KeyPrefix is prepended to every object key, for example "capture/".
	KeyPrefix string
}

// S3Store writes each appended batch as one object:
//
//	<prefix>YYYY/MM/DD/<first timestamp>-<first seq>.xdr.zst
//
// Keys sort in capture order within a prefix, so Iterate returns records in
// order. The object body is an EncodeBatch payload.
type S3Store struct {
	client S3Client
	bucket string
	prefix string
}

// NewS3Store validates cfg. The caller is expected to have verified bucket
// access.
func NewS3Store(cfg S3StoreConfig) (*S3Store, error) {
	if cfg.Client == nil {
		return nil, errors.New("S3 capture store: client is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("S3 capture store: bucket is required")
	}
	return &S3Store{client: cfg.Client, bucket: cfg.Bucket, prefix: cfg.KeyPrefix}, nil
}

func (s *S3Store) Name() string { return "s3" }

// objectKey returns the key for a batch starting with first.
func (s *S3Store) objectKey(first *Record) string {
	day := time.Unix(0, first.Timestamp).UTC().Format("2006/01/02")
	return fmt.Sprintf("%s%s/%020d-%020d.xdr.zst", s.prefix, day, first.Timestamp, first.Seq)
}

func (s *S3Store) Append(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := EncodeBatch(records)
	if err != nil {
		return err
	}

	key := s.objectKey(&records[0])
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/zstd"),
	})
	if err != nil {
		return fmt.Errorf("failed to write capture batch %s to S3: %w", key, err)
	}
	return nil
}

// Iterate lists the batches under the prefix and decodes them in key order.
func (s *S3Store) Iterate(ctx context.Context, fn func(Record) error) error {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to list capture batches: %w", err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if !strings.HasSuffix(key, ".xdr.zst") {
				continue
			}
			records, err := s.readBatch(ctx, key)
			if err != nil {
				return err
			}
			for _, r := range records {
				if err := fn(r); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (s *S3Store) readBatch(ctx context.Context, key string) ([]Record, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read capture batch %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read capture batch %s: %w", key, err)
	}
	records, err := DecodeBatch(data)
	if err != nil {
		return nil, fmt.Errorf("batch %s: %w", key, err)
	}
	return records, nil
}

// Close is a no-op: the S3 client holds no per-store resources.
func (s *S3Store) Close() error { return nil }
