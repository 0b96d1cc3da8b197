package gcs

import (
	"context"
	"fmt"
	"path"
	"strings"
)

// ObjectStore provides an interface for cloud storage operations.
// This interface enables mocking and testing of storage functionality.
type ObjectStore interface {
	// WriteObject stores data under the given object name.
	WriteObject(ctx context.Context, bucketName, objectName, contentType string, data []byte) error

	// FetchFromGCS downloads file bytes from the given storage URI.
	FetchFromGCS(ctx context.Context, gcsURI string) ([]byte, error)
}

// URI is a parsed gs:// location. Object may be empty or a prefix.
type URI struct {
	Bucket string
	Object string
}

// ParseURI parses "gs://bucket[/object]".
func ParseURI(uri string) (URI, error) {
	if !strings.HasPrefix(uri, "gs://") {
		return URI{}, fmt.Errorf("invalid GCS URI: %s", uri)
	}

	parts := strings.SplitN(strings.TrimPrefix(uri, "gs://"), "/", 2)
	if parts[0] == "" {
		return URI{}, fmt.Errorf("invalid GCS URI (no bucket): %s", uri)
	}

	u := URI{Bucket: parts[0]}
	if len(parts) == 2 {
		u.Object = strings.Trim(parts[1], "/")
	}
	return u, nil
}

// Join returns a URI with elem appended to the object path.
func (u URI) Join(elem ...string) URI {
	return URI{Bucket: u.Bucket, Object: strings.TrimPrefix(path.Join(append([]string{u.Object}, elem...)...), "/")}
}

func (u URI) String() string {
	if u.Object == "" {
		return "gs://" + u.Bucket
	}
	return "gs://" + u.Bucket + "/" + u.Object
}
