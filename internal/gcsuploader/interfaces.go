package gcsuploader

import (
	"context"

	"github.com/dvloznov/finance-insights/internal/gcs"
)

// Re-export interface from shared package so callers only import this package.
type ObjectStore = gcs.ObjectStore

// GCSStorageService is the concrete implementation of ObjectStore
// that interacts with Google Cloud Storage.
type GCSStorageService struct{}

// NewGCSStorageService creates a new instance of GCSStorageService.
func NewGCSStorageService() *GCSStorageService {
	return &GCSStorageService{}
}

// WriteObject delegates to the package-level WriteObject function.
func (s *GCSStorageService) WriteObject(ctx context.Context, bucketName, objectName, contentType string, data []byte) error {
	return WriteObject(ctx, bucketName, objectName, contentType, data)
}

// FetchFromGCS delegates to the package-level FetchFromGCS function.
func (s *GCSStorageService) FetchFromGCS(ctx context.Context, gcsURI string) ([]byte, error) {
	return FetchFromGCS(ctx, gcsURI)
}

var _ ObjectStore = (*GCSStorageService)(nil)
