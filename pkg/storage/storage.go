// Package storage 提供了与对象存储服务（如 MinIO）交互的功能。
package storage

import (
	"context"
	"io"
)

// ObjectStore 定义了管道读写原始文件字节所需的对象存储能力。
type ObjectStore interface {
	Put(ctx context.Context, objectKey string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, objectKey string) (io.ReadCloser, error)
	Delete(ctx context.Context, objectKey string) error
}
