package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Options configures the object-storage backend. Any S3-compatible service
// works; deployments typically point this at minio.
type S3Options struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// S3Store persists blobs in an S3-compatible bucket under content keys.
type S3Store struct {
	client *minio.Client
	bucket string
}

// NewS3Store initializes the client and ensures the bucket exists.
func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	if opts.Endpoint == "" {
		return nil, errors.New("storage: s3 endpoint is required")
	}
	if opts.Bucket == "" {
		return nil, errors.New("storage: s3 bucket is required")
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: s3 client: %w", err)
	}
	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("storage: check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("storage: create bucket: %w", err)
		}
	}
	return &S3Store{client: client, bucket: opts.Bucket}, nil
}

// Put uploads the blob unless an object with the same content key exists.
func (s *S3Store) Put(ctx context.Context, data []byte, mime string) (Ref, error) {
	key, hash := ContentKey(data, mime)
	ref := Ref{Key: key, Hash: hash, Bytes: int64(len(data))}

	if ok, err := s.Exists(ctx, key); err != nil {
		return Ref{}, err
	} else if ok {
		return ref, nil
	}

	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: mime,
	})
	if err != nil {
		return Ref{}, fmt.Errorf("storage: put object: %w", err)
	}
	return ref, nil
}

// Get downloads a blob by key.
func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("storage: get object: %w", err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("storage: read object: %w", err)
	}
	return data, nil
}

// Exists reports whether an object is present under the key.
func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" || resp.StatusCode == 404 {
			return false, nil
		}
		return false, fmt.Errorf("storage: stat object: %w", err)
	}
	return true, nil
}

var _ BlobStore = (*S3Store)(nil)
