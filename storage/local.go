package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// LocalStore keeps blobs under a base directory that main serves as /uploads.
type LocalStore struct {
	baseDir string
}

func NewLocalStore(baseDir string) (*LocalStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &LocalStore{baseDir: baseDir}, nil
}

func (s *LocalStore) Save(filename string, src io.Reader, subfolder string) (string, error) {
	ext := filepath.Ext(filename)
	if !AllowedExt(ext) {
		return "", ErrInvalidImageType
	}

	if err := os.MkdirAll(filepath.Join(s.baseDir, subfolder), 0o755); err != nil {
		return "", fmt.Errorf("create subfolder: %w", err)
	}

	storedPath := filepath.Join(subfolder, uuid.NewString()+ext)
	dst, err := os.Create(filepath.Join(s.baseDir, storedPath))
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(filepath.Join(s.baseDir, storedPath))
		return "", fmt.Errorf("write file: %w", err)
	}

	return storedPath, nil
}

func (s *LocalStore) Delete(storedPath string) error {
	err := os.Remove(filepath.Join(s.baseDir, storedPath))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *LocalStore) Exists(storedPath string) bool {
	_, err := os.Stat(filepath.Join(s.baseDir, storedPath))
	return err == nil
}

func (s *LocalStore) Open(storedPath string) (io.ReadCloser, error) {
	return os.Open(filepath.Join(s.baseDir, storedPath))
}

func (s *LocalStore) URL(storedPath string) (string, error) {
	return "/uploads/" + filepath.ToSlash(storedPath), nil
}
