package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	cs "github.com/AnishMulay/chfs/internal/chunk_service"
	"github.com/AnishMulay/chfs/internal/log_service"
	"github.com/AnishMulay/chfs/internal/metrics"
)

const backendName = "s3"

// Config selects an S3 or S3-compatible bucket for chunk data.
type Config struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// S3ChunkService stores each chunk as one object under Prefix.
type S3ChunkService struct {
	client *s3.Client
	bucket string
	prefix string
	ls     log_service.LogService
}

func NewS3ChunkService(ctx context.Context, cfg Config, ls log_service.LogService) (*S3ChunkService, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 chunk service: bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})

	svc := &S3ChunkService{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		ls:     ls,
	}
	if err := svc.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return svc, nil
}

func (s *S3ChunkService) ensureBucket(ctx context.Context) error {
	start := time.Now()
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err == nil {
		metrics.RecordChunkOperation(backendName, "head_bucket", time.Since(start), true)
		return nil
	}

	_, createErr := s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)})
	metrics.RecordChunkOperation(backendName, "create_bucket", time.Since(start), createErr == nil)
	if createErr != nil {
		return fmt.Errorf("bucket %s does not exist and cannot create: %w", s.bucket, createErr)
	}
	s.ls.Info(log_service.LogEvent{
		Message:  "Created S3 bucket",
		Metadata: map[string]any{"bucket": s.bucket},
	})
	return nil
}

func (s *S3ChunkService) key(chunkID string) (string, error) {
	if chunkID == "" || path.Base(chunkID) != chunkID {
		return "", cs.ErrInvalidChunkID
	}
	return path.Join(s.prefix, chunkID+".chunk"), nil
}

func (s *S3ChunkService) WriteChunk(ctx context.Context, chunkID string, data []byte) error {
	key, err := s.key(chunkID)
	if err != nil {
		return err
	}

	start := time.Now()
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	metrics.RecordChunkOperation(backendName, "put_object", time.Since(start), err == nil)
	if err != nil {
		s.ls.Error(log_service.LogEvent{
			Message:  "Failed to put chunk object",
			Metadata: map[string]any{"chunkID": chunkID, "error": err.Error()},
		})
		return fmt.Errorf("%w: put object %s: %v", cs.ErrChunkWriteFailed, key, err)
	}
	return nil
}

func (s *S3ChunkService) ReadChunk(ctx context.Context, chunkID string) ([]byte, error) {
	key, err := s.key(chunkID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		metrics.RecordChunkOperation(backendName, "get_object", time.Since(start), false)
		if isNotFound(err) {
			return nil, cs.ErrChunkNotFound
		}
		return nil, fmt.Errorf("%w: get object %s: %v", cs.ErrChunkReadFailed, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	metrics.RecordChunkOperation(backendName, "get_object", time.Since(start), err == nil)
	if err != nil {
		return nil, fmt.Errorf("%w: read object %s: %v", cs.ErrChunkReadFailed, key, err)
	}
	return data, nil
}

// DeleteChunk is idempotent; S3 does not report missing keys on delete.
func (s *S3ChunkService) DeleteChunk(ctx context.Context, chunkID string) error {
	key, err := s.key(chunkID)
	if err != nil {
		return err
	}

	start := time.Now()
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	metrics.RecordChunkOperation(backendName, "delete_object", time.Since(start), err == nil)
	if err != nil {
		return fmt.Errorf("%w: delete object %s: %v", cs.ErrChunkDeleteFailed, key, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	return errors.As(err, &nf)
}

var _ cs.ChunkService = (*S3ChunkService)(nil)
