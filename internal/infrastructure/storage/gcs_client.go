package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/option"

	"rosterchat/internal/domain/service"
	"rosterchat/pkg/errors"
)

type CloudStorageClient struct {
	client     *storage.Client
	bucketName string
	projectID  string
}

func NewCloudStorageClient(ctx context.Context, bucketName, projectID string, opts ...option.ClientOption) (*CloudStorageClient, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %v", err)
	}

	storageClient := &CloudStorageClient{
		client:     client,
		bucketName: bucketName,
		projectID:  projectID,
	}

	if err := storageClient.setBucketCORS(ctx); err != nil {
		log.Printf("Warning: Failed to set CORS configuration: %v", err)
	}

	return storageClient, nil
}

var _ service.ObjectStore = (*CloudStorageClient)(nil)

func (c *CloudStorageClient) setBucketCORS(ctx context.Context) error {
	bucket := c.client.Bucket(c.bucketName)

	corsConfig := storage.CORS{
		MaxAge:          3600,
		Methods:         []string{"GET", "OPTIONS"},
		Origins:         []string{"*"},
		ResponseHeaders: []string{"Content-Type"},
	}

	bucketAttrs, err := bucket.Attrs(ctx)
	if err != nil {
		return fmt.Errorf("failed to get bucket attributes: %v", err)
	}

	if len(bucketAttrs.CORS) == 0 {
		_, err := bucket.Update(ctx, storage.BucketAttrsToUpdate{
			CORS: []storage.CORS{corsConfig},
		})
		if err != nil {
			return fmt.Errorf("failed to update bucket CORS: %v", err)
		}
	}

	return nil
}

// Upload stores an image under pathHint and returns its public URL. Only
// content sniffed as an image is accepted.
func (c *CloudStorageClient) Upload(ctx context.Context, data []byte, pathHint string) (string, error) {
	contentType, ext, err := DetectImage(data)
	if err != nil {
		return "", err
	}

	filename := objectName(pathHint, ext)

	obj := c.client.Bucket(c.bucketName).Object(filename)
	wc := obj.NewWriter(ctx)
	wc.ContentType = contentType
	wc.CacheControl = "public, max-age=86400"

	if _, err := io.Copy(wc, bytes.NewReader(data)); err != nil {
		wc.Close()
		return "", errors.Upload("Failed to upload image", err)
	}

	if err := wc.Close(); err != nil {
		return "", errors.Upload("Failed to upload image", err)
	}

	if err := obj.ACL().Set(ctx, storage.AllUsers, storage.RoleReader); err != nil {
		return "", errors.Upload("Failed to publish image", err)
	}

	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", c.bucketName, filename), nil
}

func (c *CloudStorageClient) Delete(ctx context.Context, fileURL string) error {
	// Expected URL format: https://storage.googleapis.com/bucket-name/file-path
	const prefix = "https://storage.googleapis.com/"
	if !strings.HasPrefix(fileURL, prefix) {
		return errors.BadRequest("invalid GCS URL format", nil)
	}

	parts := strings.SplitN(fileURL[len(prefix):], "/", 2)
	if len(parts) != 2 || parts[0] != c.bucketName {
		return errors.BadRequest("invalid GCS URL format or bucket mismatch", nil)
	}

	if err := c.client.Bucket(c.bucketName).Object(parts[1]).Delete(ctx); err != nil {
		if err == storage.ErrObjectNotExist {
			return errors.NotFound("Object", err)
		}
		return errors.Upload("Failed to delete object", err)
	}

	return nil
}

func (c *CloudStorageClient) Close() error {
	return c.client.Close()
}

func objectName(pathHint, ext string) string {
	folder := strings.Trim(pathHint, "/")
	if folder == "" {
		folder = "uploads"
	}
	return fmt.Sprintf("public/%s/%s-%s%s", folder, uuid.New().String(), time.Now().Format("20060102150405"), ext)
}
