package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

const (
	dirPerm  = 0755
	filePerm = 0644
)

// LocalBackend implements the Backend interface for a local output directory.
// Every write lands in a temp file first and is renamed into place, so a
// reader never sees a partially written component.
type LocalBackend struct {
	basePath string
	logger   zerolog.Logger

	// Generations write many components into the same table directory;
	// remember directories already created to skip repeated MkdirAll calls.
	dirCache map[string]bool
	dirMu    sync.RWMutex
}

// NewLocalBackend creates a local backend rooted at basePath, creating it if needed.
func NewLocalBackend(basePath string, logger zerolog.Logger) (*LocalBackend, error) {
	absPath, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	if err := os.MkdirAll(absPath, dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create base path: %w", err)
	}

	return &LocalBackend{
		basePath: absPath,
		logger:   logger.With().Str("component", "local-storage").Logger(),
		dirCache: make(map[string]bool),
	}, nil
}

func (b *LocalBackend) ensureDir(dir string) error {
	b.dirMu.RLock()
	exists := b.dirCache[dir]
	b.dirMu.RUnlock()
	if exists {
		return nil
	}

	b.dirMu.Lock()
	defer b.dirMu.Unlock()
	if b.dirCache[dir] {
		return nil
	}
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	b.dirCache[dir] = true
	return nil
}

// Write writes data to the specified path with atomic write (write to temp, then rename)
func (b *LocalBackend) Write(ctx context.Context, path string, data []byte) error {
	fullPath, err := b.validatePath(path)
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}
	if err := b.ensureDir(filepath.Dir(fullPath)); err != nil {
		return err
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(fullPath), ".bl-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	_, writeErr := tmpFile.Write(data)
	closeErr := tmpFile.Close()
	if writeErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", writeErr)
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", closeErr)
	}

	if err := b.publish(tmpPath, fullPath); err != nil {
		return err
	}

	b.logger.Debug().
		Str("path", path).
		Int("size", len(data)).
		Msg("Wrote file")

	return nil
}

// WriteReader streams reader into the specified path with the same atomic rename as Write
func (b *LocalBackend) WriteReader(ctx context.Context, path string, reader io.Reader, size int64) error {
	fullPath, err := b.validatePath(path)
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}
	if err := b.ensureDir(filepath.Dir(fullPath)); err != nil {
		return err
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(fullPath), ".bl-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	written, err := io.Copy(tmpFile, reader)
	closeErr := tmpFile.Close()
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write data: %w", err)
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", closeErr)
	}
	if size > 0 && written != size {
		os.Remove(tmpPath)
		return fmt.Errorf("short write: wrote %d of %d bytes", written, size)
	}

	if err := b.publish(tmpPath, fullPath); err != nil {
		return err
	}

	b.logger.Debug().
		Str("path", path).
		Int64("size", written).
		Msg("Wrote file from reader")

	return nil
}

// publish makes a finished temp file world-readable and renames it into place.
// The bulk-load step usually runs as a different user than the loader.
func (b *LocalBackend) publish(tmpPath, fullPath string) error {
	if err := os.Chmod(tmpPath, filePerm); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to set file mode: %w", err)
	}
	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Read reads data from the specified path
func (b *LocalBackend) Read(ctx context.Context, path string) ([]byte, error) {
	fullPath, err := b.validatePath(path)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}

	data, err := os.ReadFile(fullPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	return data, nil
}

// List lists all files under prefix as sorted slash-separated paths relative to the base.
// Temp and other hidden files are skipped.
func (b *LocalBackend) List(ctx context.Context, prefix string) ([]string, error) {
	searchPath, err := b.validatePath(prefix)
	if err != nil {
		return nil, fmt.Errorf("invalid prefix: %w", err)
	}
	results := []string{}

	err = filepath.WalkDir(searchPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}

		relPath, err := filepath.Rel(b.basePath, path)
		if err != nil {
			return err
		}
		results = append(results, filepath.ToSlash(relPath))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}

	sort.Strings(results)
	return results, nil
}

// Delete deletes the object at the specified path
func (b *LocalBackend) Delete(ctx context.Context, path string) error {
	fullPath, err := b.validatePath(path)
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}

	if err := os.Remove(fullPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to delete file: %w", err)
	}

	b.logger.Debug().
		Str("path", path).
		Msg("Deleted file")

	return nil
}

// Exists checks if an object exists at the specified path
func (b *LocalBackend) Exists(ctx context.Context, path string) (bool, error) {
	fullPath, err := b.validatePath(path)
	if err != nil {
		return false, fmt.Errorf("invalid path: %w", err)
	}

	_, err = os.Stat(fullPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check file existence: %w", err)
	}

	return true, nil
}

// Close is a no-op for local storage
func (b *LocalBackend) Close() error {
	return nil
}

// BasePath returns the absolute output root
func (b *LocalBackend) BasePath() string {
	return b.basePath
}

// Type returns the storage type identifier
func (b *LocalBackend) Type() string {
	return "local"
}

// sanitizePath removes any potentially dangerous path components
func sanitizePath(path string) string {
	path = strings.TrimPrefix(path, "/")
	path = strings.ReplaceAll(path, "..", "_")
	path = strings.ReplaceAll(path, "\x00", "")
	return path
}

// validatePath ensures the resolved path stays within the base path
func (b *LocalBackend) validatePath(path string) (string, error) {
	fullPath := filepath.Join(b.basePath, sanitizePath(path))
	absPath, err := filepath.Abs(fullPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}

	relPath, err := filepath.Rel(b.basePath, absPath)
	if err != nil {
		return "", fmt.Errorf("path traversal detected")
	}
	if strings.HasPrefix(relPath, "..") {
		return "", fmt.Errorf("path traversal detected: path escapes base directory")
	}

	return absPath, nil
}
