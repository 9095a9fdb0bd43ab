package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	storageapi "google.golang.org/api/storage/v1"
)

// GCSStorage stores objects in a Google Cloud Storage bucket.
type GCSStorage struct {
	service *storageapi.Service
	bucket  string
}

// NewGCSStorage builds a bucket-backed storage. An empty credentialsPath uses
// the application default credentials.
func NewGCSStorage(ctx context.Context, bucket, credentialsPath string, opts ...option.ClientOption) (*GCSStorage, error) {
	if bucket == "" {
		return nil, errors.New("gcs bucket must not be empty")
	}
	if credentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsPath))
	}
	opts = append(opts, option.WithScopes(storageapi.DevstorageReadWriteScope))

	service, err := storageapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage client: %w", err)
	}
	return &GCSStorage{service: service, bucket: bucket}, nil
}

func (s *GCSStorage) Put(ctx context.Context, name, contentType string, body io.Reader) (string, error) {
	clean, err := cleanPath(name)
	if err != nil {
		return "", err
	}
	obj := &storageapi.Object{Name: clean, ContentType: contentType}
	if _, err := s.service.Objects.Insert(s.bucket, obj).Media(body).Context(ctx).Do(); err != nil {
		return "", fmt.Errorf("upload object %s: %w", clean, err)
	}
	return s.publicURL(clean), nil
}

// Delete removes the object; a missing object is not an error.
func (s *GCSStorage) Delete(ctx context.Context, name string) error {
	clean, err := cleanPath(name)
	if err != nil {
		return err
	}
	err = s.service.Objects.Delete(s.bucket, clean).Context(ctx).Do()
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete object %s: %w", clean, err)
	}
	return nil
}

func (s *GCSStorage) publicURL(name string) string {
	segments := strings.Split(name, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return "https://storage.googleapis.com/" + s.bucket + "/" + strings.Join(segments, "/")
}
