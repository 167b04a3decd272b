package storage

import (
	"context"
	"io"
	"time"
)

const (
	ContentTypeGzip = "application/x-gzip"
)

type BackupItem struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Provider is the object store the dumps are shipped to.
type Provider interface {
	Upload(ctx context.Context, key string, data io.Reader, contentType string) error

	List(ctx context.Context, prefix string) ([]BackupItem, error)

	Delete(ctx context.Context, key string) error
}
