// Package files stores knowledge-base attachments in S3-compatible
// object storage.
package files

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Attachment describes one stored object.
type Attachment struct {
	Name         string    `json:"name"`
	Size         int64     `json:"size"`
	ContentType  string    `json:"contentType,omitempty"`
	LastModified time.Time `json:"lastModified"`
}

// Store wraps a single bucket of an S3-compatible endpoint.
type Store struct {
	client *minio.Client
	bucket string
}

// New connects to the object store and ensures the bucket exists.
func New(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Store, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object store: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}

	return &Store{client: client, bucket: bucket}, nil
}

func itemPrefix(itemID string) string {
	return "kb/" + itemID + "/"
}

// Upload stores one attachment under the item's prefix.
func (s *Store) Upload(ctx context.Context, itemID, filename, contentType string, size int64, body io.Reader) (Attachment, error) {
	key := itemPrefix(itemID) + filename
	info, err := s.client.PutObject(ctx, s.bucket, key, body, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return Attachment{}, fmt.Errorf("upload attachment: %w", err)
	}
	return Attachment{
		Name:         filename,
		Size:         info.Size,
		ContentType:  contentType,
		LastModified: time.Now(),
	}, nil
}

// List returns every attachment stored for an item, sorted by name.
func (s *Store) List(ctx context.Context, itemID string) ([]Attachment, error) {
	prefix := itemPrefix(itemID)
	attachments := []Attachment{}
	for object := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix}) {
		if object.Err != nil {
			return nil, fmt.Errorf("list attachments: %w", object.Err)
		}
		attachments = append(attachments, Attachment{
			Name:         object.Key[len(prefix):],
			Size:         object.Size,
			ContentType:  object.ContentType,
			LastModified: object.LastModified,
		})
	}
	sort.Slice(attachments, func(i, j int) bool {
		return attachments[i].Name < attachments[j].Name
	})
	return attachments, nil
}

// PresignedURL returns a time-limited download link for one attachment.
func (s *Store) PresignedURL(ctx context.Context, itemID, filename string, expiry time.Duration) (string, error) {
	key := itemPrefix(itemID) + filename
	params := url.Values{}
	params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", filename))
	signed, err := s.client.PresignedGetObject(ctx, s.bucket, key, expiry, params)
	if err != nil {
		return "", fmt.Errorf("presign attachment: %w", err)
	}
	return signed.String(), nil
}

// Delete removes one attachment.
func (s *Store) Delete(ctx context.Context, itemID, filename string) error {
	key := itemPrefix(itemID) + filename
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete attachment: %w", err)
	}
	return nil
}
