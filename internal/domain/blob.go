package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes an archived object. Path is logical, without any
// bucket or key prefix.
type BlobInfo struct {
	Path         string
	Size         int64
	LastModified time.Time
}

// BlobWriter uploads journal archives to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader reads archives back for verification and listing. Get
// returns ErrNotFound for a missing path.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver copies journal rows older than a cutoff to cold storage and
// marks them archived. It returns the number of rows archived.
type Archiver interface {
	ArchiveJournal(ctx context.Context, before time.Time) (int64, error)
}
