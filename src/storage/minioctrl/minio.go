// Package minioctrl backs the worker blob store with MinIO/S3. Keys are
// "bucket/object" references; buckets are created on first write.
package minioctrl

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type MinioService struct {
	client *minio.Client

	mu    sync.Mutex
	known map[string]bool
}

func NewMinioService(endpoint, accessKeyID, secretAccessKey string, useSSL bool) (*MinioService, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKeyID, secretAccessKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %v", err)
	}

	return &MinioService{
		client: client,
		known:  make(map[string]bool),
	}, nil
}

func (s *MinioService) ensureBucketExists(ctx context.Context, bucketName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.known[bucketName] {
		return nil
	}

	exists, err := s.client.BucketExists(ctx, bucketName)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %v", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket: %v", err)
		}
	}
	s.known[bucketName] = true
	return nil
}

func (s *MinioService) Put(ctx context.Context, key string, data []byte) error {
	bucketName, objectName, err := splitKey(key)
	if err != nil {
		return err
	}
	if err := s.ensureBucketExists(ctx, bucketName); err != nil {
		return err
	}

	reader := bytes.NewReader(data)
	_, err = s.client.PutObject(ctx, bucketName, objectName, reader, int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return fmt.Errorf("failed to put object: %v", err)
	}
	return nil
}

func (s *MinioService) Get(ctx context.Context, key string) ([]byte, error) {
	bucketName, objectName, err := splitKey(key)
	if err != nil {
		return nil, err
	}

	obj, err := s.client.GetObject(ctx, bucketName, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object: %v", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to read object data: %v", err)
	}
	return data, nil
}

func (s *MinioService) Delete(ctx context.Context, key string) error {
	bucketName, objectName, err := splitKey(key)
	if err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, bucketName, objectName, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete object: %v", err)
	}
	return nil
}

// List returns the keys under prefix, where prefix names at least a
// bucket ("bucket" or "bucket/object-prefix").
func (s *MinioService) List(ctx context.Context, prefix string) ([]string, error) {
	bucketName, objectPrefix, err := splitKey(prefix)
	if err != nil {
		// A bare bucket name lists the whole bucket.
		bucketName, objectPrefix = prefix, ""
		if bucketName == "" {
			return nil, fmt.Errorf("empty list prefix")
		}
	}

	var keys []string
	for info := range s.client.ListObjects(ctx, bucketName, minio.ListObjectsOptions{
		Prefix:    objectPrefix,
		Recursive: true,
	}) {
		if info.Err != nil {
			return nil, fmt.Errorf("failed to list objects: %v", info.Err)
		}
		keys = append(keys, bucketName+"/"+info.Key)
	}
	return keys, nil
}

func (s *MinioService) SignURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	bucketName, objectName, err := splitKey(key)
	if err != nil {
		return "", err
	}

	signed, err := s.client.PresignedGetObject(ctx, bucketName, objectName, expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("failed to presign object: %v", err)
	}
	return signed.String(), nil
}

// splitKey parses a "bucket-name/object-name" reference.
func splitKey(key string) (string, string, error) {
	parts := strings.SplitN(key, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid blob key %q, want bucket/object", key)
	}
	return parts[0], parts[1], nil
}
