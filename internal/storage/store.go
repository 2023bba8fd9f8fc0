// Package storage persists byte blobs under hash-derived keys. Identical
// content always maps to the same key, so writers never conflict and re-puts
// are cheap no-ops.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Ref identifies a stored blob.
type Ref struct {
	Key   string
	Hash  string
	Bytes int64
}

// BlobStore is implemented by the filesystem and S3 backends; the two are
// interchangeable.
type BlobStore interface {
	Put(ctx context.Context, data []byte, mime string) (Ref, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// ContentKey derives the storage key for a blob: blobs/<h[:2]>/<hash><ext>.
func ContentKey(data []byte, mime string) (key, hash string) {
	sum := sha256.Sum256(data)
	hash = hex.EncodeToString(sum[:])
	return "blobs/" + hash[:2] + "/" + hash + ExtensionForMIME(mime), hash
}

// ExtensionForMIME maps the content types produced by providers and the
// pipeline onto file extensions.
func ExtensionForMIME(mime string) string {
	switch strings.ToLower(strings.TrimSpace(mime)) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".bin"
	}
}

// MIMEForKey is the inverse mapping used when serving blobs.
func MIMEForKey(key string) string {
	switch {
	case strings.HasSuffix(key, ".png"):
		return "image/png"
	case strings.HasSuffix(key, ".jpg"):
		return "image/jpeg"
	case strings.HasSuffix(key, ".webp"):
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}
