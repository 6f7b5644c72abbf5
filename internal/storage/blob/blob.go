// Package blob provides the Blob-Archiver's pluggable object-storage
// backends: a local filesystem store for development/single-node
// deployments and an S3-compatible store for production.
package blob

import (
	"errors"

	"github.com/bobmcallan/casevault/internal/interfaces"
)

// Common errors for blob storage operations.
var (
	ErrBlobNotFound = errors.New("blob not found")
)

// BlobMetadata is an alias of the interfaces contract, kept local so backend
// files don't need to import interfaces for this one type repeatedly.
type BlobMetadata = interfaces.BlobMetadata

// ListOptions configures blob listing behavior.
type ListOptions = interfaces.ListOptions

// ListResult contains the results of a list operation.
type ListResult = interfaces.ListResult

// Store is the interfaces.BlobStore contract; both backends in this package
// implement it.
type Store = interfaces.BlobStore

// Config holds backend-selection configuration, mirroring common.BlobConfig
// so the factory doesn't need to import common (avoiding an import cycle
// with internal/app wiring).
type Config struct {
	Backend string
	File    FileConfig
	S3      S3Config
}

// FileConfig holds file-based blob store configuration.
type FileConfig struct {
	BasePath string
}

// S3Config holds AWS S3 (or S3-compatible) blob store configuration.
type S3Config struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}
