// Package storage resolves gallery assets to time-limited download URLs.
//
// This package defines a Storage interface with implementations for:
// - LocalStorage: files on disk served through signed links, for development
// - R2Storage: Cloudflare R2 (S3-compatible) presigned URLs for production
//
// Uploading originals happens outside this service; the catalog only records
// the storage key of each asset.
package storage

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"
)

// Storage defines the operations needed to hand a client a download link.
type Storage interface {
	// URL returns a link to the object at key that stops working after
	// expires. Returns ErrInvalidKey for malformed keys.
	URL(ctx context.Context, key string, expires time.Duration) (string, error)

	// Exists reports whether an object is stored at key.
	Exists(ctx context.Context, key string) (bool, error)
}

// DefaultURLExpiry is used when a caller passes a zero expiry.
const DefaultURLExpiry = 15 * time.Minute

// LocalConfig holds configuration for local filesystem storage.
type LocalConfig struct {
	// BasePath is the root directory where originals are stored.
	// Example: "./storage" or "/var/lib/proofsheet/files"
	BasePath string

	// BaseURL is the URL prefix the file handler is mounted at.
	// Example: "http://localhost:8080/files"
	BaseURL string

	// SigningKey authenticates generated links.
	SigningKey []byte
}

// R2Config holds configuration for Cloudflare R2 storage.
type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string

	// Region is required by the AWS SDK. R2 accepts "auto".
	Region string
}

const (
	// ProviderLocal identifies the local filesystem storage provider.
	ProviderLocal = "local"

	// ProviderR2 identifies the Cloudflare R2 storage provider.
	ProviderR2 = "r2"
)

// AssetKey builds the conventional storage key for a session's original.
// Format: sessions/{sessionID}/originals/{assetID}{ext}
func AssetKey(sessionID, assetID, filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	return fmt.Sprintf("sessions/%s/originals/%s%s", sessionID, assetID, ext)
}

func validKey(key string) bool {
	if key == "" || strings.HasPrefix(key, "/") {
		return false
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return false
		}
	}
	return true
}
