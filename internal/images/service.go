// Package images stores board cover images in an S3-compatible bucket and
// produces the image-metadata tuple boards carry.
package images

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"taskdeck/api/internal/util"
)

// Metadata mirrors the image fields stored on a board.
type Metadata struct {
	ID       string `json:"id"`
	ThumbURL string `json:"thumbUrl"`
	FullURL  string `json:"fullUrl"`
	LinkHTML string `json:"linkHtml"`
	UserName string `json:"userName"`
}

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type Service struct {
	client *minio.Client
	bucket string
}

// New connects to the object store and ensures the cover bucket exists.
func New(ctx context.Context, cfg Config) (*Service, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object store: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}

	return &Service{client: client, bucket: cfg.Bucket}, nil
}

// Upload stores one cover image and returns its metadata with presigned GET
// URLs. The same object backs both URL variants; thumbnailing is left to
// the client.
func (s *Service) Upload(ctx context.Context, reader io.Reader, size int64, contentType, uploaderName string) (Metadata, error) {
	id := util.NewID("img")
	objectName := "covers/" + id

	if _, err := s.client.PutObject(ctx, s.bucket, objectName, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	}); err != nil {
		return Metadata{}, fmt.Errorf("put cover object: %w", err)
	}

	fullURL, err := s.client.PresignedGetObject(ctx, s.bucket, objectName, 7*24*time.Hour, url.Values{})
	if err != nil {
		return Metadata{}, fmt.Errorf("presign cover object: %w", err)
	}

	return Metadata{
		ID:       id,
		ThumbURL: fullURL.String(),
		FullURL:  fullURL.String(),
		LinkHTML: fmt.Sprintf(`<a href=%q>%s</a>`, fullURL.String(), uploaderName),
		UserName: uploaderName,
	}, nil
}

// Delete removes a cover object. Missing objects are not an error.
func (s *Service) Delete(ctx context.Context, imageID string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, "covers/"+imageID, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove cover object: %w", err)
	}
	return nil
}
