// Package storage keeps uploaded chart images and their thumbnails.
//
// LocalStorage writes to the filesystem for development; R2Storage talks to
// Cloudflare R2 through the S3 API in production. Storage is best-effort from
// the analysis pipeline's point of view: a failed Put never fails an analysis.
package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Storage is an object store keyed by slash-separated paths.
type Storage interface {
	// Put stores data at key. It fails with ErrKeyExists when the key is
	// taken and opts.Overwrite is false.
	Put(ctx context.Context, key string, data io.Reader, opts PutOptions) error

	// Get returns the object body, which the caller must close.
	Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)

	// Delete is idempotent.
	Delete(ctx context.Context, key string) error

	// URL returns a link to the object. A zero expires asks for a permanent
	// public URL where the backend has one.
	URL(ctx context.Context, key string, expires time.Duration) (string, error)

	Exists(ctx context.Context, key string) (bool, error)
}

// =============================================================================
// Data Types
// =============================================================================

// PutOptions configures how an object is stored.
type PutOptions struct {
	// ContentType is detected from the key's extension when empty.
	ContentType string

	// MaxSize in bytes; 0 means no limit.
	MaxSize int64

	Overwrite bool

	// Public sets a public-read ACL on R2. Ignored locally.
	Public bool
}

// ObjectInfo contains metadata about a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
	ETag         string
}

// =============================================================================
// Configuration Types
// =============================================================================

// LocalConfig holds configuration for local filesystem storage.
type LocalConfig struct {
	// BasePath is the root directory, e.g. "./storage".
	BasePath string

	// BaseURL prefixes generated links, e.g. "http://localhost:8080/files".
	BaseURL string
}

// R2Config holds configuration for Cloudflare R2 storage.
type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string

	// PublicURL is the bucket's custom domain. When empty every URL is
	// presigned.
	PublicURL string

	// Region defaults to "auto".
	Region string
}

const (
	ProviderLocal = "local"
	ProviderR2    = "r2"
)

// =============================================================================
// Key Generation Helpers
// =============================================================================

// ChartKey is where an uploaded chart lives:
// charts/{userID}/{chartID}{ext}, with ext derived from contentType.
func ChartKey(userID, chartID uuid.UUID, contentType string) string {
	return fmt.Sprintf("charts/%s/%s%s", userID, chartID, ExtensionForContentType(contentType))
}

// ChartThumbnailKey is the JPEG thumbnail next to the chart with the same ID.
func ChartThumbnailKey(userID, chartID uuid.UUID) string {
	return fmt.Sprintf("charts/%s/%s_thumb.jpg", userID, chartID)
}
