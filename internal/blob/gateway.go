// Package blob moves job payloads between clients, workers and an object store
// without routing them through the API process. Clients get presigned,
// direction-scoped URLs; workers read and write objects directly.
package blob

import (
	"context"
	"errors"
	"mime"
	"time"
)

var (
	ErrNotFound   = errors.New("blob: object not found")
	ErrInvalidKey = errors.New("blob: invalid key")
)

type Gateway interface {
	UploadURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	DownloadURL(ctx context.Context, key string, ttl time.Duration, displayName string) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
}

var (
	_ Gateway = (*Emulator)(nil)
	_ Gateway = (*S3Gateway)(nil)
)

func attachment(displayName string) string {
	if displayName == "" {
		return "attachment"
	}
	return mime.FormatMediaType("attachment", map[string]string{"filename": displayName})
}
