package blob

import (
	"context"
	"fmt"

	"github.com/bobmcallan/casevault/internal/common"
	"github.com/bobmcallan/casevault/internal/interfaces"
)

// Backend type constants.
const (
	BackendFile = "file"
	BackendS3   = "s3"
)

// NewBlobStore creates a blob store based on the configuration. Supported
// backends: "file" (default), "s3".
func NewBlobStore(ctx context.Context, logger *common.Logger, cfg Config) (interfaces.BlobStore, error) {
	backend := cfg.Backend
	if backend == "" {
		backend = BackendFile
	}

	switch backend {
	case BackendFile:
		return NewFileBlobStore(logger, cfg.File)

	case BackendS3:
		return NewS3BlobStore(ctx, logger, cfg.S3)

	default:
		return nil, fmt.Errorf("unknown storage backend: %s (supported: file, s3)", backend)
	}
}
