package core

import (
	"context"
	"io"
)

// ObjectClient defines interactions with S3 or any S3-compatible object storage.
type ObjectClient interface {
	UploadFile(ctx context.Context, bucket, key string, data io.Reader, contentType string) (url string, err error)
	DeleteFile(ctx context.Context, bucket, key string) error
	GetFile(ctx context.Context, bucket, key string) ([]byte, error)
}
