package storage

import (
	"errors"
	"io"
	"os"
	"strings"
)

// ErrInvalidImageType is returned when an upload has an extension outside
// the allowlist. It is a business failure, not an infrastructure one.
var ErrInvalidImageType = errors.New("invalid image type")

var allowedExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
}

func AllowedExt(ext string) bool {
	return allowedExts[strings.ToLower(ext)]
}

// FileStore is the blob-store collaborator. Stored paths are opaque keys
// ("verifications/uuid.jpg"); only the store knows how to turn them into
// something servable.
type FileStore interface {
	Save(filename string, src io.Reader, subfolder string) (string, error)
	Delete(storedPath string) error
	Exists(storedPath string) bool
	Open(storedPath string) (io.ReadCloser, error)
	URL(storedPath string) (string, error)
}

// UploadDir is the local store's base directory. main serves the same
// directory as /uploads, so both sides resolve it here.
func UploadDir() string {
	if dir := os.Getenv("UPLOAD_DIR"); dir != "" {
		return dir
	}
	return "./uploads"
}

// NewFromEnv picks the backend: STORAGE_DRIVER=s3 for the S3-compatible
// store, anything else for local disk.
func NewFromEnv() (FileStore, error) {
	if os.Getenv("STORAGE_DRIVER") == "s3" {
		return NewS3Store()
	}
	return NewLocalStore(UploadDir())
}
