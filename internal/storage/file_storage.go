package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var generatedName = regexp.MustCompile(`^[0-9a-f]{32}-[0-9a-f]{8}\.[^./\\]+$`)

// FileStorage provides methods to manage files in a specific directory.
type FileStorage struct {
	dir string
}

// NewFileStorage creates a new FileStorage instance with the given directory.
func NewFileStorage(dir string) *FileStorage {
	return &FileStorage{dir: filepath.Clean(dir)}
}

// Dir returns the storage directory.
func (s *FileStorage) Dir() string {
	return s.dir
}

// Path joins filename onto the storage directory.
func (s *FileStorage) Path(filename string) string {
	return filepath.Join(s.dir, filename)
}

// NameFor returns a file name derived from key. The stem is deterministic so
// files for one key are easy to find; the suffix keeps concurrent writers
// for the same key on distinct paths.
func (s *FileStorage) NameFor(key, ext string) string {
	sum := sha256.Sum256([]byte(key))
	stem := hex.EncodeToString(sum[:])[:32]
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	if ext == "" {
		ext = "bin"
	}
	return fmt.Sprintf("%s-%s.%s", stem, uuid.NewString()[:8], ext)
}

// Generated reports whether path has the shape of a name from NameFor.
func (s *FileStorage) Generated(path string) bool {
	return generatedName.MatchString(filepath.Base(path))
}

// Owns reports whether path lives inside the storage directory.
func (s *FileStorage) Owns(path string) bool {
	rel, err := filepath.Rel(s.dir, filepath.Clean(path))
	return err == nil && rel != "." && !strings.HasPrefix(rel, "..")
}

// FileExists checks whether a regular file exists at path.
func (s *FileStorage) FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// GetFileSize returns the size of the file in bytes.
func (s *FileStorage) GetFileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Remove deletes path; a missing file is not an error.
func (s *FileStorage) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove file: %w", err)
	}
	return nil
}

// List returns the regular files stored in the directory.
func (s *FileStorage) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir: %w", err)
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			files = append(files, filepath.Join(s.dir, entry.Name()))
		}
	}
	return files, nil
}

// CheckWritable creates the directory if needed and verifies a file can be
// written into it.
func (s *FileStorage) CheckWritable() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	f, err := os.CreateTemp(s.dir, ".writable-*")
	if err != nil {
		return fmt.Errorf("write to dir: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}
