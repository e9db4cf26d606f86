package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrBlobNotFound = errors.New("blob not found")
	ErrInvalidName  = errors.New("invalid blob name")
)

// Store defines the interface for blob storage backends.
// Blobs are written once and never modified in place.
type Store interface {
	Prepare(ctx context.Context) error
	Save(ctx context.Context, name string, data io.Reader) (int64, error)
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	Delete(ctx context.Context, name string) error
	Location(name string) string
}

const maxBlobExtLen = 8

var blobExtPattern = regexp.MustCompile(`^\.[a-z0-9]+$`)

// BlobName builds a collision-resistant name of the form
// {unix millis}-{uuid}{ext}. An ext that is not a short alphanumeric
// extension is dropped.
func BlobName(ext string, now time.Time) string {
	ext = strings.ToLower(ext)
	if len(ext) > maxBlobExtLen || !blobExtPattern.MatchString(ext) {
		ext = ""
	}
	return strconv.FormatInt(now.UnixMilli(), 10) + "-" + uuid.NewString() + ext
}

func validName(name string) bool {
	return name != "" && name != "." && name != ".." &&
		!strings.ContainsAny(name, `/\`)
}

// FileSystemStore stores blobs on the local filesystem.
type FileSystemStore struct {
	basePath string
}

// NewFileSystemStore creates a new filesystem storage backend.
func NewFileSystemStore(basePath string) *FileSystemStore {
	return &FileSystemStore{basePath: basePath}
}

// Prepare creates the storage directory if it doesn't exist.
func (fs *FileSystemStore) Prepare(context.Context) error {
	if err := os.MkdirAll(fs.basePath, 0755); err != nil {
		return fmt.Errorf("failed to create storage directory %s: %w", fs.basePath, err)
	}
	return nil
}

// Save writes data to a new file called name and returns the number of bytes written.
func (fs *FileSystemStore) Save(_ context.Context, name string, data io.Reader) (int64, error) {
	if !validName(name) {
		return 0, ErrInvalidName
	}
	filePath := fs.Location(name)

	file, err := os.OpenFile(filePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return 0, fmt.Errorf("failed to create file %s: %w", filePath, err)
	}
	defer file.Close()

	n, err := io.Copy(file, data)
	if err != nil {
		// Clean up partial file on error
		os.Remove(filePath)
		return 0, fmt.Errorf("failed to write file: %w", err)
	}

	return n, nil
}

// Open returns a reader over a stored blob.
func (fs *FileSystemStore) Open(_ context.Context, name string) (io.ReadCloser, error) {
	if !validName(name) {
		return nil, ErrInvalidName
	}
	f, err := os.Open(fs.Location(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return f, nil
}

// Delete removes a stored blob. Missing blobs are not an error.
func (fs *FileSystemStore) Delete(_ context.Context, name string) error {
	if !validName(name) {
		return ErrInvalidName
	}
	filePath := fs.Location(name)
	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file %s: %w", filePath, err)
	}
	return nil
}

// Location returns the path a blob called name lives at.
func (fs *FileSystemStore) Location(name string) string {
	return filepath.Join(fs.basePath, name)
}
